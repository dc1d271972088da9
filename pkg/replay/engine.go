// Package replay executes request descriptors. It walks redirect chains by
// hand so that every hop, its cookies and its body are observable.
package replay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/CodeMonkeyCybersecurity/replayer/pkg/scan"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/template"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/CodeMonkeyCybersecurity/replayer/pkg/replay")

// Logger is the subset of *logger.Logger the engine writes to.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// ClientSource hands out redirect-free clients per proxy URL.
type ClientSource interface {
	Client(proxyURL string) (*http.Client, error)
}

// Recorder receives request metrics. status is 0 for transport failures.
type Recorder interface {
	ObserveRequest(status int, elapsed time.Duration)
	ObserveChain(hops int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRequest(int, time.Duration) {}
func (nopRecorder) ObserveChain(int)                  {}

type Options struct {
	MaxRedirects int
	TempDir      string
	UserAgent    string
	MaxBodyBytes int64
}

// DefaultOptions mirrors config.Default().Engine.
func DefaultOptions() Options {
	return Options{
		MaxRedirects: 20,
		TempDir:      "",
		MaxBodyBytes: 32 << 20,
	}
}

type Engine struct {
	clients   ClientSource
	templates *template.Registry
	opts      Options
	log       Logger
	state     *scan.State
	metrics   Recorder
}

func New(clients ClientSource, templates *template.Registry, opts Options, log Logger) *Engine {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultOptions().MaxBodyBytes
	}
	return &Engine{
		clients:   clients,
		templates: templates,
		opts:      opts,
		log:       log,
		metrics:   nopRecorder{},
	}
}

// WithState returns a copy of the engine bound to a scan state. The state
// supplies the abort signal and receives explored pages.
func (e *Engine) WithState(state *scan.State) *Engine {
	c := *e
	c.state = state
	return &c
}

func (e *Engine) WithMetrics(m Recorder) *Engine {
	c := *e
	if m == nil {
		m = nopRecorder{}
	}
	c.metrics = m
	return &c
}

func (e *Engine) State() *scan.State {
	return e.state
}

// Execute sends d and follows its redirect chain. The returned response is
// the last hop with the chain's Set-Cookie values folded into one header.
func (e *Engine) Execute(ctx context.Context, d *types.Descriptor) (*types.Response, types.History, error) {
	ctx, span := tracer.Start(ctx, "replay.Execute", trace.WithAttributes(
		attribute.String("http.method", d.Method),
		attribute.String("http.url", d.URL),
	))
	defer span.End()

	d = e.resolve(d)
	out, err := build(d)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}

	client, err := e.clients.Client(d.Proxy)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, fmt.Errorf("client for proxy %q: %w", d.Proxy, err)
	}

	own := d.Header.Get("Cookie")
	jar := &cookieJar{}
	var history types.History

	for redirects := 0; ; redirects++ {
		if e.state.Aborted(ctx) {
			return nil, history, ErrAborted
		}
		if c := jar.header(); c != "" {
			combined := cookieHeader(own, c)
			out.header.Set("Cookie", combined)
			out.snapshot.Header.Set("Cookie", combined)
		}

		resp, setCookies, err := e.send(ctx, client, out)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "transport error")
			return nil, history, err
		}
		jar.absorb(setCookies)
		history = append(history, types.Hop{Request: out.snapshot, Response: resp})

		if bool(d.NoRedirect) || !isRedirect(resp.Status) || redirects >= e.opts.MaxRedirects {
			break
		}
		location := resp.Header.Get("Location")
		if location == "" {
			break
		}
		next, err := resolveLocation(out.url, location)
		if err != nil {
			e.log.Warnw("Unresolvable redirect location",
				"url", out.url,
				"location", location,
				"error", err,
			)
			break
		}
		e.log.Debugw("Following redirect",
			"from", out.url,
			"to", next,
			"status", resp.Status,
		)
		out = out.redirect(next)
	}

	e.metrics.ObserveChain(len(history))
	span.SetAttributes(attribute.Int("replay.hops", len(history)))

	last := history[len(history)-1].Response
	final := *last
	final.Header = last.Header.Clone()
	if sc := jar.setCookie(); sc != "" {
		final.Header.Set("set-cookie", sc)
	}

	if d.NeedExplore {
		e.explore(ctx, history)
	}
	return &final, history, nil
}

// Run is Execute in wire form. It never returns an error; failures land in
// Result.Error.
func (e *Engine) Run(ctx context.Context, d *types.Descriptor) *types.Result {
	resp, history, err := e.Execute(ctx, d)
	if err != nil {
		e.log.Warnw("Request failed",
			"url", d.URL,
			"method", d.Method,
			"error", err,
		)
		return &types.Result{Error: err.Error()}
	}

	res := &types.Result{
		URL:       resp.URL,
		Status:    resp.Status,
		Header:    resp.Header,
		Content:   resp.Content,
		Truncated: resp.Truncated,
	}
	if d.NeedSave && d.SaveName != "" {
		path, err := persist(e.opts.TempDir, d.SaveName, resp.Body)
		if err != nil {
			e.log.Errorw("Failed to save response body", "error", err, "save_name", d.SaveName)
			res.Error = err.Error()
		} else {
			res.SavePath = path
		}
	}
	if !d.NeedReturn {
		res.Content = ""
	}
	if d.History {
		res.History = history
	}
	return res
}

// resolve substitutes placeholders into a copy of d.
func (e *Engine) resolve(d *types.Descriptor) *types.Descriptor {
	c := d.Clone()
	if e.templates == nil {
		return c
	}
	sub := e.templates.Substitute
	c.URL = sub(c.URL)
	for i := range c.Header {
		c.Header[i].Value = sub(c.Header[i].Value)
	}
	for i := range c.Params {
		for j := range c.Params[i].Values {
			c.Params[i].Values[j] = sub(c.Params[i].Values[j])
		}
	}
	c.Raw = sub(c.Raw)
	for i := range c.Files {
		f := &c.Files[i]
		f.Name = sub(f.Name)
		f.Filename = sub(f.Filename)
		f.ContentType = sub(f.ContentType)
		f.Content = sub(f.Content)
	}
	return c
}

// send performs one hop and returns the observed response together with its
// raw Set-Cookie values.
func (e *Engine) send(ctx context.Context, client *http.Client, out *outgoing) (*types.Response, []string, error) {
	u, err := parseTarget(out.url)
	if err != nil {
		return nil, nil, &TransportError{Method: out.method, URL: out.url, Err: err}
	}

	var body io.Reader
	if out.body != nil {
		body = bytes.NewReader(out.body)
	}
	req, err := http.NewRequestWithContext(ctx, out.method, u.Scheme+"://"+u.Host, body)
	if err != nil {
		return nil, nil, &TransportError{Method: out.method, URL: out.url, Err: err}
	}
	req.URL = u
	out.header.Apply(req)
	if !out.header.Has("User-Agent") && e.opts.UserAgent != "" {
		req.Header.Set("User-Agent", e.opts.UserAgent)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		e.metrics.ObserveRequest(0, time.Since(start))
		return nil, nil, &TransportError{Method: out.method, URL: out.url, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, e.opts.MaxBodyBytes+1))
	e.metrics.ObserveRequest(resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, nil, &TransportError{Method: out.method, URL: out.url, Err: fmt.Errorf("read body: %w", err)}
	}
	truncated := int64(len(raw)) > e.opts.MaxBodyBytes
	if truncated {
		raw = raw[:e.opts.MaxBodyBytes]
		e.log.Warnw("Response body truncated",
			"url", out.url,
			"status", resp.StatusCode,
			"limit_bytes", e.opts.MaxBodyBytes,
		)
	}

	decoded, err := decompress(raw, resp.Header.Get("Content-Encoding"))
	if err != nil {
		e.log.Debugw("Keeping encoded body", "url", out.url, "error", err)
		decoded = raw
	}

	snapshot := out.snapshot
	return &types.Response{
		URL:       out.url,
		Status:    resp.StatusCode,
		Header:    types.ResponseHeaderFrom(resp.Header),
		Content:   Scrub(text(decoded, resp.Header.Get("Content-Type"))),
		Truncated: truncated,
		Body:      decoded,
		Request:   &snapshot,
	}, resp.Header.Values("Set-Cookie"), nil
}
