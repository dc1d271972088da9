// Package scan holds the state an orchestrator owns across calls: the abort
// signal, the pages already explored and the forms found on them.
package scan

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodeMonkeyCybersecurity/replayer/pkg/types"
	"github.com/twmb/murmur3"
)

// AbortSignal is polled before each probe candidate and each redirect hop.
type AbortSignal interface {
	Aborted(ctx context.Context) bool
}

// Flag is an in-process abort signal.
type Flag struct {
	set atomic.Bool
}

func (f *Flag) Set()   { f.set.Store(true) }
func (f *Flag) Clear() { f.set.Store(false) }

func (f *Flag) Aborted(context.Context) bool {
	return f.set.Load()
}

// AnyOf reports aborted when any of the signals does.
func AnyOf(signals ...AbortSignal) AbortSignal {
	return anySignal(signals)
}

type anySignal []AbortSignal

func (a anySignal) Aborted(ctx context.Context) bool {
	for _, s := range a {
		if s != nil && s.Aborted(ctx) {
			return true
		}
	}
	return false
}

type Form struct {
	Action  string `json:"action" db:"action"`
	HTML    string `json:"html" db:"html"`
	PageURL string `json:"page_url" db:"page_url"`
}

// Page is one explored request/response pair.
type Page struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"task_id"`
	Signature uint64          `json:"signature"`
	Request   types.Request   `json:"request"`
	Response  *types.Response `json:"response"`
	Forms     []Form          `json:"forms,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// PageSink receives newly explored pages.
type PageSink interface {
	SavePage(ctx context.Context, page *Page) error
}

type State struct {
	TaskID string
	Abort  AbortSignal
	Sink   PageSink

	mu          sync.Mutex
	explored    map[uint64]struct{}
	forms       map[string]Form
	exploreURLs []string
}

func NewState(taskID string, abort AbortSignal, sink PageSink) *State {
	return &State{
		TaskID:   taskID,
		Abort:    abort,
		Sink:     sink,
		explored: make(map[uint64]struct{}),
		forms:    make(map[string]Form),
	}
}

// Aborted is safe on a nil state.
func (s *State) Aborted(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	if s == nil || s.Abort == nil {
		return false
	}
	return s.Abort.Aborted(ctx)
}

// MarkExplored records sig and reports whether it was new.
func (s *State) MarkExplored(sig uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.explored[sig]; ok {
		return false
	}
	s.explored[sig] = struct{}{}
	return true
}

// AddForms stores forms by action URL. A later form with the same action
// replaces the earlier one.
func (s *State) AddForms(forms []Form) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range forms {
		s.forms[f.Action] = f
		s.exploreURLs = append(s.exploreURLs, f.PageURL)
	}
}

func (s *State) Forms() map[string]Form {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Form, len(s.forms))
	for k, v := range s.forms {
		out[k] = v
	}
	return out
}

func (s *State) ExploreURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.exploreURLs...)
}

// PageSignature identifies a page by what was asked and what came back,
// scoped to a task.
func PageSignature(taskID, method string, params types.Params, content string) uint64 {
	h := murmur3.New64()
	h.Write([]byte(method))
	h.Write([]byte(params.Encode(true)))
	h.Write([]byte(content))
	h.Write([]byte(taskID))
	return h.Sum64()
}

// PageID names a page after its request snapshot.
func PageID(taskID string, req types.Request) string {
	h := murmur3.New64()
	h.Write([]byte(req.Method))
	h.Write([]byte(req.URL))
	h.Write([]byte(req.Params.Encode(true)))
	h.Write([]byte(req.Raw))
	h.Write([]byte(taskID))
	return strconv.FormatUint(h.Sum64(), 16)
}
