package template

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/dop251/goja"
	"github.com/ffuf/pencode/pkg/pencode"
	"github.com/google/uuid"
)

// encoderNames are the pencode encoders exposed one-to-one as transforms.
var encoderNames = []string{
	"b64encode", "b64decode",
	"hexencode", "hexdecode",
	"urlencode", "urlencodeall", "urldecode",
	"htmlescape", "htmlunescape",
	"jsonescape", "jsonunescape",
	"unicodeencodeall", "unicodedecode",
	"utf16", "utf16be",
	"md5", "sha1", "sha224", "sha256", "sha384", "sha512",
	"upper", "lower",
}

const scriptTimeout = 2 * time.Second

// Default returns a registry with every builtin transform.
func Default(log Logger) *Registry {
	r := NewRegistry(log)
	RegisterSprig(r)
	RegisterEncoders(r)
	r.Register("chain", TransformFunc(chainTransform))
	r.Register("uuid", TransformFunc(func(string) (string, error) {
		return uuid.NewString(), nil
	}))
	r.Register("js", Script(scriptTimeout))
	return r
}

// RegisterSprig exposes the sprig string helpers whose signatures take at
// most one argument, e.g. {{b64enc(x)}}, {{sha256sum(x)}}, {{randAlphaNum(8)}}.
func RegisterSprig(r *Registry) {
	for name, fn := range sprig.TxtFuncMap() {
		switch f := fn.(type) {
		case func(string) string:
			r.Register(name, TransformFunc(func(arg string) (string, error) {
				return f(arg), nil
			}))
		case func(string) (string, error):
			r.Register(name, TransformFunc(f))
		case func(int) string:
			r.Register(name, TransformFunc(func(arg string) (string, error) {
				n, err := strconv.Atoi(strings.TrimSpace(arg))
				if err != nil {
					return "", fmt.Errorf("%s expects an integer: %w", name, err)
				}
				return f(n), nil
			}))
		case func() string:
			r.Register(name, TransformFunc(func(string) (string, error) {
				return f(), nil
			}))
		}
	}
}

// RegisterEncoders exposes pencode encoders. Names pencode does not know
// are skipped.
func RegisterEncoders(r *Registry) {
	for _, name := range encoderNames {
		if err := pencode.NewChain().Initialize([]string{name}); err != nil {
			continue
		}
		encoder := name
		r.Register(encoder, TransformFunc(func(arg string) (string, error) {
			return encode([]string{encoder}, arg)
		}))
	}
}

// chainTransform applies several encoders in order: {{chain(urlencode b64encode|value)}}.
func chainTransform(arg string) (string, error) {
	spec, value, ok := strings.Cut(arg, "|")
	if !ok {
		return "", fmt.Errorf("chain expects \"encoders|value\"")
	}
	return encode(strings.Fields(spec), value)
}

func encode(encoders []string, value string) (string, error) {
	chain := pencode.NewChain()
	if err := chain.Initialize(encoders); err != nil {
		return "", err
	}
	out, err := chain.Encode([]byte(value))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Script evaluates the argument as JavaScript and returns the completion
// value as a string. Each call gets a fresh runtime.
func Script(timeout time.Duration) Transform {
	return TransformFunc(func(src string) (string, error) {
		vm := goja.New()
		timer := time.AfterFunc(timeout, func() {
			vm.Interrupt("script timeout")
		})
		defer timer.Stop()

		v, err := vm.RunString(src)
		if err != nil {
			return "", err
		}
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return "", nil
		}
		return v.String(), nil
	})
}
