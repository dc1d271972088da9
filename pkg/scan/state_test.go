package scan

import (
	"context"
	"sync"
	"testing"

	"github.com/CodeMonkeyCybersecurity/replayer/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestFlag(t *testing.T) {
	var f Flag
	ctx := context.Background()

	assert.False(t, f.Aborted(ctx))
	f.Set()
	assert.True(t, f.Aborted(ctx))
	f.Clear()
	assert.False(t, f.Aborted(ctx))
}

func TestState_Aborted(t *testing.T) {
	var nilState *State
	assert.False(t, nilState.Aborted(context.Background()))

	flag := &Flag{}
	s := NewState("t1", AnyOf(nil, flag), nil)
	assert.False(t, s.Aborted(context.Background()))

	flag.Set()
	assert.True(t, s.Aborted(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, NewState("t1", nil, nil).Aborted(ctx))
}

func TestState_MarkExploredConcurrent(t *testing.T) {
	s := NewState("t1", nil, nil)
	sig := PageSignature("t1", "GET", nil, "body")

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.MarkExplored(sig) {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
}

func TestPageSignature(t *testing.T) {
	params := types.Params{{Name: "id", Values: []string{"1"}}}

	a := PageSignature("t1", "GET", params, "body")
	assert.Equal(t, a, PageSignature("t1", "GET", params, "body"))
	assert.NotEqual(t, a, PageSignature("t2", "GET", params, "body"))
	assert.NotEqual(t, a, PageSignature("t1", "POST", params, "body"))
	assert.NotEqual(t, a, PageSignature("t1", "GET", params, "other"))
}

func TestState_Forms(t *testing.T) {
	s := NewState("t1", nil, nil)
	s.AddForms([]Form{
		{Action: "/login", HTML: "<form action=\"/login\"></form>", PageURL: "http://h/"},
		{Action: "/search", HTML: "<form action=\"/search\"></form>", PageURL: "http://h/"},
	})
	s.AddForms([]Form{{Action: "/login", HTML: "v2", PageURL: "http://h/b"}})

	forms := s.Forms()
	assert.Len(t, forms, 2)
	assert.Equal(t, "v2", forms["/login"].HTML)
	assert.Equal(t, []string{"http://h/", "http://h/", "http://h/b"}, s.ExploreURLs())
}
