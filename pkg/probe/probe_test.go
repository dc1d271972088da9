package probe

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/CodeMonkeyCybersecurity/replayer/internal/logger"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/scan"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeEngine struct {
	calls int32
	fn    func(d *types.Descriptor) (*types.Response, error)
}

func (f *fakeEngine) Execute(_ context.Context, d *types.Descriptor) (*types.Response, types.History, error) {
	atomic.AddInt32(&f.calls, 1)
	resp, err := f.fn(d)
	if err != nil {
		return nil, nil, err
	}
	return resp, types.History{{Response: resp}}, nil
}

func echoPath(d *types.Descriptor) (*types.Response, error) {
	id := d.URL[strings.LastIndex(d.URL, "/")+1:]
	return &types.Response{URL: d.URL, Status: 200, Content: "<b>Profile " + id + "</b>"}, nil
}

func TestParseValues(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		max     int
		want    []string
		numeric bool
		wantErr error
	}{
		{name: "range", spec: "1-5", want: []string{"1", "2", "3", "4", "5"}, numeric: true},
		{name: "range spaces", spec: " 7 - 8 ", want: []string{"7", "8"}, numeric: true},
		{name: "list trimmed", spec: " a , b ,c", want: []string{"a", "b", "c"}},
		{name: "dashed word is a list", spec: "a-b", want: []string{"a-b"}},
		{name: "list capped", spec: "1,2,3", max: 2, want: []string{"1", "2"}},
		{name: "list repeats dropped", spec: "1, 1,2,1", want: []string{"1", "2"}},
		{name: "cap counts distinct values", spec: "a,a,b,c", max: 2, want: []string{"a", "b"}},
		{name: "reversed", spec: "5-1", wantErr: ErrInvalidRange},
		{name: "empty", spec: "  ", wantErr: ErrNoValues},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseValues(tt.spec, tt.max)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Values)
			assert.Equal(t, tt.numeric, got.Numeric)
		})
	}
}

func TestParseValues_RangeCapped(t *testing.T) {
	got, err := ParseValues("1-100000", 0)
	require.NoError(t, err)
	assert.Len(t, got.Values, DefaultMaxValues)
	assert.Equal(t, "500", got.Values[len(got.Values)-1])
}

func makeJWT(header, payload string) string {
	enc := base64.RawURLEncoding.EncodeToString
	return enc([]byte(header)) + "." + enc([]byte(payload)) + ".c2lnbmF0dXJl"
}

func TestJWT_With(t *testing.T) {
	token := "Bearer " + makeJWT(`{"alg":"HS256","typ":"JWT"}`, `{"sub":"1","name":"alice"}`)
	parsed, err := parseJWT(token)
	require.NoError(t, err)

	out, err := parsed.with("sub", "42", true)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "Bearer "))
	assert.NotContains(t, out, "=")

	parts := strings.Split(strings.TrimPrefix(out, "Bearer "), ".")
	require.Len(t, parts, 3)
	assert.Equal(t, "c2lnbmF0dXJl", parts[2])

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	assert.Equal(t, gjson.Number, gjson.GetBytes(payload, "sub").Type)
	assert.Equal(t, int64(42), gjson.GetBytes(payload, "sub").Int())
	assert.Equal(t, "alice", gjson.GetBytes(payload, "name").String())

	out, err = parsed.with("sub", "bob", false)
	require.NoError(t, err)
	payload, _ = base64.RawURLEncoding.DecodeString(strings.Split(out, ".")[1])
	assert.Equal(t, gjson.String, gjson.GetBytes(payload, "sub").Type)
}

func TestJWT_Parse(t *testing.T) {
	padded := base64.URLEncoding.EncodeToString([]byte(`{"alg":"none"}`)) + "." +
		base64.URLEncoding.EncodeToString([]byte(`{"a":1}`)) + ".sig"
	parsed, err := parseJWT(padded)
	require.NoError(t, err)
	assert.Empty(t, parsed.prefix)
	assert.JSONEq(t, `{"a":1}`, string(parsed.payload))

	_, err = parseJWT("not-a-token")
	assert.Error(t, err)

	_, err = parseJWT(makeJWT(`{}`, `[1]`))
	assert.Error(t, err)
}

func TestJWT_DottedClaim(t *testing.T) {
	parsed, err := parseJWT(makeJWT(`{"alg":"none"}`, `{"user.id":1}`))
	require.NoError(t, err)

	out, err := parsed.with("user.id", "9", true)
	require.NoError(t, err)
	payload, _ := base64.RawURLEncoding.DecodeString(strings.Split(out, ".")[1])
	assert.JSONEq(t, `{"user.id":9}`, string(payload))
}

func TestPathCombinations(t *testing.T) {
	assert.Equal(t, []string{"b.php", "b", "a/b.php", "a/b"}, PathCombinations("/a/b.php"))
	assert.Equal(t, []string{"x"}, PathCombinations("x/"))
	assert.Nil(t, PathCombinations("/"))
}

func TestLoadPayloads(t *testing.T) {
	builtin, err := LoadPayloads("", "LFI")
	require.NoError(t, err)
	assert.Contains(t, builtin, "/etc/passwd")
	assert.Equal(t, DefaultLFIPayloads(), builtin)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lfi.txt"), []byte("one\r\n\ntwo\n"), 0o644))
	custom, err := LoadPayloads(dir, "lfi")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, custom)

	_, err = LoadPayloads(dir, "sqli")
	assert.Error(t, err)
}

func TestProbe_Normal(t *testing.T) {
	engine := &fakeEngine{fn: echoPath}
	x := NewExecutor(engine, DefaultConfig(), logger.Nop())

	values, err := ParseValues("1-3", 0)
	require.NoError(t, err)
	results, err := x.Probe(context.Background(), `{"url":"http://h/u/{FUZZ}"}`, values, Options{})
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, "http://h/u/2", results["2"].URL)
	assert.EqualValues(t, 3, engine.calls)
}

func TestProbe_ValuesAreJSONEscaped(t *testing.T) {
	var got string
	engine := &fakeEngine{fn: func(d *types.Descriptor) (*types.Response, error) {
		got = d.Raw
		return &types.Response{Status: 200}, nil
	}}
	x := NewExecutor(engine, DefaultConfig(), logger.Nop())

	_, err := x.Probe(context.Background(), `{"url":"http://h/","raw":"q={FUZZ}"}`, List([]string{`a"b\c`}, 0), Options{})
	require.NoError(t, err)
	assert.Equal(t, `q=a"b\c`, got)
}

func TestProbe_MalformedTemplate(t *testing.T) {
	x := NewExecutor(&fakeEngine{fn: echoPath}, DefaultConfig(), logger.Nop())

	_, err := x.Probe(context.Background(), `{"url": {FUZZ}}`, List([]string{"x"}, 0), Options{})
	var malformed *types.MalformedDescriptorError
	assert.True(t, errors.As(err, &malformed))

	_, err = x.Probe(context.Background(), `{"url":"http://h/{FUZZ}"}`, List([]string{"x"}, 0), Options{Kind: "xss"})
	assert.Error(t, err)
}

func TestProbe_FailedCandidatesExcluded(t *testing.T) {
	engine := &fakeEngine{fn: func(d *types.Descriptor) (*types.Response, error) {
		if strings.HasSuffix(d.URL, "/2") {
			return nil, errors.New("connection reset")
		}
		return echoPath(d)
	}}

	var (
		mu       sync.Mutex
		outcomes []Outcome
	)
	x := NewExecutor(engine, DefaultConfig(), logger.Nop()).OnResult(func(o Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	})

	results, err := x.Probe(context.Background(), `{"url":"http://h/u/{FUZZ}"}`, List([]string{"1", "2", "3"}, 0), Options{})
	require.NoError(t, err)

	assert.Len(t, results, 2)
	assert.NotContains(t, results, "2")
	assert.Len(t, outcomes, 3)
}

func TestProbe_StopsOnAbort(t *testing.T) {
	flag := &scan.Flag{}
	engine := &fakeEngine{fn: func(d *types.Descriptor) (*types.Response, error) {
		flag.Set()
		return echoPath(d)
	}}
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	x := NewExecutor(engine, cfg, logger.Nop()).WithState(scan.NewState("t", flag, nil))

	values, err := ParseValues("1-50", 0)
	require.NoError(t, err)
	results, err := x.Probe(context.Background(), `{"url":"http://h/u/{FUZZ}"}`, values, Options{})
	require.NoError(t, err)

	assert.Len(t, results, 1)
	assert.EqualValues(t, 1, engine.calls)
}

type countingPacer struct {
	n     int32
	hosts sync.Map
}

func (p *countingPacer) WaitForHost(_ context.Context, host string) error {
	atomic.AddInt32(&p.n, 1)
	p.hosts.Store(host, true)
	return nil
}

type outcomeCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *outcomeCounter) ObserveCandidate(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[outcome]++
}

func TestRun_Normal(t *testing.T) {
	engine := &fakeEngine{fn: func(d *types.Descriptor) (*types.Response, error) {
		if strings.HasSuffix(d.URL, "/4") {
			return &types.Response{Status: 403, Content: "denied"}, nil
		}
		return echoPath(d)
	}}
	pacer := &countingPacer{}
	counter := &outcomeCounter{counts: map[string]int{}}
	x := NewExecutor(engine, DefaultConfig(), logger.Nop()).WithPacer(pacer).WithMetrics(counter)

	lines, err := x.Run(context.Background(), Request{
		Request: `{"url":"http://h/u/{FUZZ}"}`,
		Value:   "1-4",
		Type:    KindNormal,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"payload [1,2,3]: <b>Profile {payload}</b>",
		"payload [4]: denied",
	}, lines)
	assert.EqualValues(t, 4, pacer.n)
	_, paced := pacer.hosts.Load("h")
	assert.True(t, paced)
	assert.Equal(t, 4, counter.counts["ok"])
}

func TestRun_RepeatedValuesSentOnce(t *testing.T) {
	engine := &fakeEngine{fn: echoPath}
	x := NewExecutor(engine, DefaultConfig(), logger.Nop())

	lines, err := x.Run(context.Background(), Request{
		Request: `{"url":"http://h/u/{FUZZ}"}`,
		Value:   "1,1,2",
		Type:    KindNormal,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"payload [1,2]: <b>Profile {payload}</b>"}, lines)
	assert.EqualValues(t, 2, engine.calls)
}

func TestList(t *testing.T) {
	got := List([]string{"x", "y", "x", "z"}, 0)
	assert.Equal(t, []string{"x", "y", "z"}, got.Values)
	assert.False(t, got.Numeric)

	assert.Empty(t, List(nil, 3).Values)
}

func TestRun_JWT(t *testing.T) {
	engine := &fakeEngine{fn: func(d *types.Descriptor) (*types.Response, error) {
		token := strings.TrimPrefix(d.Header.Get("Authorization"), "Bearer ")
		payload, err := base64.RawURLEncoding.DecodeString(strings.Split(token, ".")[1])
		if err != nil {
			return nil, err
		}
		uid := gjson.GetBytes(payload, "uid").Int()
		if uid == 2 {
			return &types.Response{Status: 200, Content: "admin panel"}, nil
		}
		return &types.Response{Status: 200, Content: "hello user " + gjson.GetBytes(payload, "uid").Raw}, nil
	}}
	x := NewExecutor(engine, DefaultConfig(), logger.Nop())

	lines, err := x.Run(context.Background(), Request{
		Request: `{"url":"http://h/me","header":{"Authorization":"{FUZZ}"}}`,
		Value:   "1-3",
		Type:    KindJWT,
		Token:   "Bearer " + makeJWT(`{"alg":"HS256"}`, `{"uid":1}`),
		Param:   "uid",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"payload [1,3]: hello user {payload}",
		"payload [2]: admin panel",
	}, lines)

	_, err = x.Run(context.Background(), Request{Request: `{"url":"http://h/"}`, Value: "1", Type: KindJWT, Token: "bad"})
	assert.Error(t, err)
}

func TestRun_LFIDefaults(t *testing.T) {
	engine := &fakeEngine{fn: func(d *types.Descriptor) (*types.Response, error) {
		return &types.Response{Status: 200, Content: "not found"}, nil
	}}
	x := NewExecutor(engine, DefaultConfig(), logger.Nop())

	lines, err := x.Run(context.Background(), Request{
		Request: `{"url":"http://h/view","params":{"file":"{LFI}"}}`,
		Value:   "DEFAULT",
		Type:    KindLFI,
	})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.EqualValues(t, len(DefaultLFIPayloads()), engine.calls)

	values, err := x.Values(Request{Type: KindLFI, Value: "http://h/static/app.js"})
	require.NoError(t, err)
	assert.Equal(t, []string{"app.js", "app", "static/app.js", "static/app"}, values.Values)
}

func TestProbe_InvalidRequests(t *testing.T) {
	x := NewExecutor(&fakeEngine{fn: echoPath}, DefaultConfig(), logger.Nop())
	values := ValueSet{Values: []string{"1"}}
	tmpl := `{"url":"http://h/u/{FUZZ}"}`

	for name, opts := range map[string]Options{
		"unknown type":  {Kind: "sqli"},
		"jwt no claim":  {Kind: KindJWT, Token: "a.b.c"},
		"jwt bad token": {Kind: KindJWT, Token: "nope", Param: "uid"},
	} {
		_, err := x.Probe(context.Background(), tmpl, values, opts)
		assert.ErrorIs(t, err, ErrInvalidProbe, name)
	}
}
