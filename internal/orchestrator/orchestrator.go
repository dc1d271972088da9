// Package orchestrator owns the per-task scan state and serves the request,
// probe, diff and abort operations to the CLI, HTTP API and MCP server.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/replayer/internal/abort"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/config"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/database"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/logger"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/diff"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/probe"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/replay"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/scan"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/types"
)

// DefaultTask is used when a caller does not name a task.
const DefaultTask = "default"

// ErrNoStore is returned by Pages when no page store is configured.
var ErrNoStore = errors.New("page store is not configured")

type Orchestrator struct {
	cfg      *config.Config
	logger   *logger.Logger
	clients  *httpclient.Factory
	engine   *replay.Engine
	probeCfg probe.Config
	limiter  *ratelimit.Limiter
	abort    *abort.Controller
	store    *database.Store
	metrics  *telemetry.Metrics

	mu    sync.Mutex
	tasks map[string]*scan.State
}

// Task returns the state of taskID, creating it on first use. Explored pages
// and forms accumulate per task.
func (o *Orchestrator) Task(taskID string) *scan.State {
	if taskID == "" {
		taskID = DefaultTask
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if s, ok := o.tasks[taskID]; ok {
		return s
	}
	var sink scan.PageSink
	if o.store != nil {
		sink = o.store
	}
	s := scan.NewState(taskID, o.abort, sink)
	o.tasks[taskID] = s
	return s
}

func (o *Orchestrator) engineFor(taskID string) *replay.Engine {
	return o.engine.WithState(o.Task(taskID))
}

// Request replays one descriptor. A descriptor that does not parse is
// returned as an error; transport failures land in the result.
func (o *Orchestrator) Request(ctx context.Context, taskID string, descriptor []byte) (*types.Result, error) {
	d, err := types.ParseDescriptor(descriptor)
	if err != nil {
		return nil, err
	}
	return o.engineFor(taskID).Run(ctx, d), nil
}

// Probe runs req and returns one line per equivalence class. onResult, when
// set, sees every finished candidate.
func (o *Orchestrator) Probe(ctx context.Context, taskID string, req probe.Request, onResult func(probe.Outcome)) ([]string, error) {
	start := time.Now()
	x := probe.NewExecutor(o.engineFor(taskID), o.probeCfg, o.logger.WithComponent("probe")).
		WithState(o.Task(taskID)).
		WithPacer(o.limiter).
		WithMetrics(o.metrics).
		OnResult(onResult)

	lines, err := x.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	o.logger.LogDuration(ctx, "orchestrator.Probe", start,
		"task_id", taskID,
		"classes", len(lines),
	)
	return lines, nil
}

// Diff replays a then b and compares their bodies.
func (o *Orchestrator) Diff(ctx context.Context, taskID string, a, b []byte) (*diff.Result, error) {
	da, err := types.ParseDescriptor(a)
	if err != nil {
		return nil, fmt.Errorf("request_a: %w", err)
	}
	db, err := types.ParseDescriptor(b)
	if err != nil {
		return nil, fmt.Errorf("request_b: %w", err)
	}
	return diff.NewComparator(o.engineFor(taskID)).Diff(ctx, da, db), nil
}

// Abort stops running probes and redirect chains, here and in every process
// sharing the Redis flag.
func (o *Orchestrator) Abort(ctx context.Context) error {
	o.logger.Infow("Abort requested", "shared", o.abort.Shared())
	return o.abort.Set(ctx)
}

// Resume clears the abort flag so new work can start.
func (o *Orchestrator) Resume(ctx context.Context) error {
	return o.abort.Clear(ctx)
}

func (o *Orchestrator) Aborted(ctx context.Context) bool {
	return o.abort.Aborted(ctx)
}

func (o *Orchestrator) Pages(ctx context.Context, taskID string, limit int) ([]database.PageRecord, error) {
	if o.store == nil {
		return nil, ErrNoStore
	}
	return o.store.ListPages(ctx, taskID, limit)
}

// Forms returns the forms found so far on pages of taskID, keyed by action.
func (o *Orchestrator) Forms(taskID string) map[string]scan.Form {
	return o.Task(taskID).Forms()
}

// Ping checks the page store when one is configured.
func (o *Orchestrator) Ping(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	return o.store.DB().PingContext(ctx)
}

// PacerStats reports the state of the limiter that paces probe candidates.
func (o *Orchestrator) PacerStats() ratelimit.Stats {
	return o.limiter.GetStats()
}

func (o *Orchestrator) Metrics() *telemetry.Metrics {
	return o.metrics
}

func (o *Orchestrator) Config() *config.Config {
	return o.cfg
}

func (o *Orchestrator) Close() error {
	o.clients.CloseIdleConnections()
	var errs []error
	if err := o.abort.Close(); err != nil {
		errs = append(errs, err)
	}
	if o.store != nil {
		if err := o.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DescriptorJSON accepts a descriptor either as a JSON object or as a JSON
// string holding one, and returns the descriptor text.
func DescriptorJSON(raw json.RawMessage) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, &types.MalformedDescriptorError{Reason: "missing descriptor"}
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, &types.MalformedDescriptorError{Reason: "invalid string", Err: err}
		}
		return []byte(s), nil
	}
	return raw, nil
}
