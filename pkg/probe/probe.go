// Package probe replays one descriptor template once per candidate value and
// groups the responses into equivalence classes.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/CodeMonkeyCybersecurity/replayer/pkg/cluster"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/scan"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/CodeMonkeyCybersecurity/replayer/pkg/probe")

type Kind string

const (
	KindNormal Kind = "normal"
	KindJWT    Kind = "jwt"
	KindLFI    Kind = "lfi"
)

const (
	FuzzMarker = "{FUZZ}"
	LFIMarker  = "{LFI}"

	DefaultConcurrency = 10
)

// Engine executes one descriptor. *replay.Engine satisfies it.
type Engine interface {
	Execute(ctx context.Context, d *types.Descriptor) (*types.Response, types.History, error)
}

type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// Pacer delays a candidate before it is sent to host. *ratelimit.Limiter
// satisfies it.
type Pacer interface {
	WaitForHost(ctx context.Context, host string) error
}

// Recorder counts candidates by outcome: ok, error or aborted.
type Recorder interface {
	ObserveCandidate(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCandidate(string) {}

// Outcome describes one finished candidate.
type Outcome struct {
	Value  string `json:"value"`
	Status int    `json:"status"`
	Length int    `json:"length"`
	Error  string `json:"error,omitempty"`

	Truncated bool `json:"truncated,omitempty"`
}

type Options struct {
	Kind  Kind
	Token string // jwt only
	Param string // jwt claim to rewrite
}

type Config struct {
	Concurrency   int
	MaxValues     int
	SnippetLength int
	PayloadDir    string
}

func DefaultConfig() Config {
	return Config{
		Concurrency:   DefaultConcurrency,
		MaxValues:     DefaultMaxValues,
		SnippetLength: cluster.DefaultSnippetLength,
	}
}

type Executor struct {
	engine   Engine
	cfg      Config
	log      Logger
	state    *scan.State
	pacer    Pacer
	metrics  Recorder
	onResult func(Outcome)
}

func NewExecutor(engine Engine, cfg Config, log Logger) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxValues <= 0 {
		cfg.MaxValues = DefaultMaxValues
	}
	if cfg.SnippetLength <= 0 {
		cfg.SnippetLength = cluster.DefaultSnippetLength
	}
	return &Executor{
		engine:  engine,
		cfg:     cfg,
		log:     log,
		metrics: nopRecorder{},
	}
}

// WithState binds the abort signal checked before each candidate. The engine
// should be bound to the same state so hops see it too.
func (x *Executor) WithState(state *scan.State) *Executor {
	c := *x
	c.state = state
	return &c
}

func (x *Executor) WithPacer(p Pacer) *Executor {
	c := *x
	c.pacer = p
	return &c
}

func (x *Executor) WithMetrics(m Recorder) *Executor {
	c := *x
	if m == nil {
		m = nopRecorder{}
	}
	c.metrics = m
	return &c
}

// OnResult registers fn to be called as each candidate finishes. Calls may
// come from several goroutines at once.
func (x *Executor) OnResult(fn func(Outcome)) *Executor {
	c := *x
	c.onResult = fn
	return &c
}

// Probe sends the template once per value. Failed candidates are logged and
// left out. When the abort signal fires, the responses gathered so far are
// returned without error.
func (x *Executor) Probe(ctx context.Context, tmpl string, values ValueSet, opts Options) (map[string]*types.Response, error) {
	render, err := x.renderer(tmpl, values, opts)
	if err != nil {
		return nil, err
	}
	if len(values.Values) == 0 {
		return map[string]*types.Response{}, nil
	}
	// A template that cannot produce a descriptor is the caller's error, not
	// a per-candidate one.
	if _, err := render(values.Values[0]); err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results = make(map[string]*types.Response, len(values.Values))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.cfg.Concurrency)

	for _, value := range values.Values {
		if x.state.Aborted(ctx) {
			break
		}
		value := value
		g.Go(func() error {
			resp, err := x.candidate(gctx, render, value)
			if err != nil {
				return nil
			}
			mu.Lock()
			results[value] = resp
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (x *Executor) candidate(ctx context.Context, render func(string) (*types.Descriptor, error), value string) (*types.Response, error) {
	if x.state.Aborted(ctx) {
		x.metrics.ObserveCandidate("aborted")
		return nil, context.Canceled
	}

	d, err := render(value)
	if err == nil && x.pacer != nil {
		if err := x.pacer.WaitForHost(ctx, hostOf(d.URL)); err != nil {
			x.metrics.ObserveCandidate("aborted")
			return nil, err
		}
	}
	if err == nil {
		var resp *types.Response
		resp, _, err = x.engine.Execute(ctx, d)
		if err == nil {
			x.metrics.ObserveCandidate("ok")
			x.emit(Outcome{Value: value, Status: resp.Status, Length: len(resp.Content), Truncated: resp.Truncated})
			return resp, nil
		}
	}

	if x.state.Aborted(ctx) {
		x.metrics.ObserveCandidate("aborted")
		return nil, err
	}
	x.metrics.ObserveCandidate("error")
	x.log.Warnw("Probe candidate failed",
		"value", value,
		"error", err,
	)
	x.emit(Outcome{Value: value, Error: err.Error()})
	return nil, err
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Host
	}
	return rawURL
}

func (x *Executor) emit(o Outcome) {
	if x.onResult != nil {
		x.onResult(o)
	}
}

// renderer returns the function that turns a candidate into a descriptor.
func (x *Executor) renderer(tmpl string, values ValueSet, opts Options) (func(string) (*types.Descriptor, error), error) {
	switch opts.Kind {
	case KindNormal, "":
		return substitute(tmpl, FuzzMarker, func(v string) (string, error) { return v, nil }), nil
	case KindLFI:
		return substitute(tmpl, LFIMarker, func(v string) (string, error) { return v, nil }), nil
	case KindJWT:
		if opts.Param == "" {
			return nil, fmt.Errorf("%w: jwt probe needs a claim name", ErrInvalidProbe)
		}
		token, err := parseJWT(opts.Token)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProbe, err)
		}
		return substitute(tmpl, FuzzMarker, func(v string) (string, error) {
			return token.with(opts.Param, v, values.Numeric)
		}), nil
	default:
		return nil, fmt.Errorf("%w: unsupported probe type %q", ErrInvalidProbe, opts.Kind)
	}
}

func substitute(tmpl, marker string, mutate func(string) (string, error)) func(string) (*types.Descriptor, error) {
	return func(value string) (*types.Descriptor, error) {
		v, err := mutate(value)
		if err != nil {
			return nil, err
		}
		return types.ParseDescriptor([]byte(strings.ReplaceAll(tmpl, marker, jsonEscape(v))))
	}
}

// jsonEscape escapes s for use inside a JSON string literal.
func jsonEscape(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	out := strings.TrimSuffix(buf.String(), "\n")
	return out[1 : len(out)-1]
}

// Request is the probe tool input.
type Request struct {
	Request string `json:"request"`
	Value   string `json:"value"`
	Type    Kind   `json:"type"`
	Token   string `json:"token,omitempty"`
	Param   string `json:"param,omitempty"`
}

// Values resolves the candidates of req. An lfi probe without a value, or
// with DEFAULT, uses the payload list; with a URL it uses the URL's path
// suffixes.
func (x *Executor) Values(req Request) (ValueSet, error) {
	if req.Type == KindLFI {
		v := strings.TrimSpace(req.Value)
		switch {
		case v == "" || strings.EqualFold(v, "default"):
			payloads, err := LoadPayloads(x.cfg.PayloadDir, string(KindLFI))
			if err != nil {
				return ValueSet{}, err
			}
			return List(payloads, x.cfg.MaxValues), nil
		case strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://"):
			u, err := url.Parse(v)
			if err != nil {
				return ValueSet{}, fmt.Errorf("parse lfi url: %w", err)
			}
			return List(PathCombinations(u.Path), x.cfg.MaxValues), nil
		}
	}
	return ParseValues(req.Value, x.cfg.MaxValues)
}

// Run probes req and returns one formatted line per equivalence class.
// Classes are ordered by the first candidate, in input order, that produced
// them.
func (x *Executor) Run(ctx context.Context, req Request) ([]string, error) {
	ctx, span := tracer.Start(ctx, "probe.Run")
	defer span.End()

	values, err := x.Values(req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("probe.type", string(req.Type)),
		attribute.Int("probe.candidates", len(values.Values)),
	)

	results, err := x.Probe(ctx, req.Request, values, Options{Kind: req.Type, Token: req.Token, Param: req.Param})
	if err != nil {
		return nil, err
	}

	c := cluster.New()
	for _, v := range values.Values {
		if resp, ok := results[v]; ok {
			c.Add(v, resp.Content)
		}
	}
	x.log.Infow("Probe finished",
		"type", req.Type,
		"candidates", len(values.Values),
		"answered", len(results),
		"classes", c.Len(),
	)
	return c.Format(x.cfg.SnippetLength), nil
}
