// Package template resolves {{name(argument)}} placeholders embedded in
// request fields.
package template

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\((.*?)\)\}\}`)

var ErrUnknownTransform = errors.New("unknown transform")

// Transform turns a decoded placeholder argument into replacement text.
type Transform interface {
	Apply(arg string) (string, error)
}

type TransformFunc func(arg string) (string, error)

func (f TransformFunc) Apply(arg string) (string, error) {
	return f(arg)
}

// Logger is the subset of the application logger the substitutor needs.
type Logger interface {
	Warnw(msg string, keysAndValues ...interface{})
}

type Registry struct {
	mu         sync.RWMutex
	transforms map[string]Transform
	log        Logger
}

func NewRegistry(log Logger) *Registry {
	return &Registry{
		transforms: make(map[string]Transform),
		log:        log,
	}
}

func (r *Registry) Register(name string, t Transform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transforms[name] = t
}

func (r *Registry) Lookup(name string) (Transform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transforms[name]
	return t, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transforms))
	for name := range r.transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve runs one transform by name.
func (r *Registry) Resolve(name, rawArg string) (string, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTransform, name)
	}
	arg, err := decodeArg(rawArg)
	if err != nil {
		return "", fmt.Errorf("decode argument of %s: %w", name, err)
	}
	out, err := t.Apply(arg)
	if err != nil {
		return "", fmt.Errorf("transform %s: %w", name, err)
	}
	return out, nil
}

// Substitute replaces every placeholder in s. Failures keep the placeholder
// text and are logged, never returned.
func (r *Registry) Substitute(s string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		m := placeholderRe.FindStringSubmatch(match)
		out, err := r.Resolve(m[1], m[2])
		if err != nil {
			if r.log != nil {
				r.log.Warnw("Placeholder left unresolved",
					"placeholder", match,
					"error", err,
				)
			}
			return match
		}
		return out
	})
}

// decodeArg strips one pair of matching quotes or decodes a base64| tag.
func decodeArg(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if len(arg) >= 2 {
		first, last := arg[0], arg[len(arg)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return arg[1 : len(arg)-1], nil
		}
	}
	if rest, ok := strings.CutPrefix(arg, "base64|"); ok {
		b, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return arg, nil
}
