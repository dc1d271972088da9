package orchestrator

import (
	"context"
	"fmt"

	"github.com/CodeMonkeyCybersecurity/replayer/internal/abort"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/config"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/database"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/logger"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/probe"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/replay"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/scan"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/template"
)

// Factory builds an Orchestrator and its dependencies from configuration.
type Factory struct {
	cfg     *config.Config
	logger  *logger.Logger
	metrics *telemetry.Metrics
}

func NewFactory(cfg *config.Config, log *logger.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: log.WithComponent("orchestrator"),
	}
}

// WithMetrics shares m with the built orchestrator instead of creating a
// private registry.
func (f *Factory) WithMetrics(m *telemetry.Metrics) *Factory {
	f.metrics = m
	return f
}

// Build constructs a fully initialized Orchestrator. Redis and the page store
// are only connected when configured.
func (f *Factory) Build(ctx context.Context) (*Orchestrator, error) {
	if err := f.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	metrics := f.metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}

	clients := f.buildClients()
	engine := f.buildEngine(clients).WithMetrics(metrics)

	ctrl, err := f.buildAbort()
	if err != nil {
		return nil, err
	}
	store, err := f.buildStore()
	if err != nil {
		ctrl.Close()
		return nil, err
	}

	o := &Orchestrator{
		cfg:      f.cfg,
		logger:   f.logger,
		clients:  clients,
		engine:   engine,
		probeCfg: f.buildProbeConfig(),
		limiter:  f.buildRateLimiter(),
		abort:    ctrl,
		store:    store,
		metrics:  metrics,
		tasks:    make(map[string]*scan.State),
	}

	f.logger.WithContext(ctx).Infow("Orchestrator built",
		"shared_abort", ctrl.Shared(),
		"page_store", store != nil,
		"max_redirects", f.cfg.Engine.MaxRedirects,
		"probe_concurrency", f.cfg.Probe.Concurrency,
	)
	return o, nil
}

func (f *Factory) buildClients() *httpclient.Factory {
	return httpclient.NewFactory(httpclient.SecureClientConfig{
		Timeout:            f.cfg.Engine.Timeout,
		EnableSSRF:         f.cfg.Engine.BlockPrivate,
		InsecureSkipVerify: f.cfg.Engine.Insecure,
		TLSFingerprint:     f.cfg.Engine.TLSFingerprint,
	})
}

func (f *Factory) buildEngine(clients *httpclient.Factory) *replay.Engine {
	log := f.logger.WithComponent("replay")
	return replay.New(clients, template.Default(log), replay.Options{
		MaxRedirects: f.cfg.Engine.MaxRedirects,
		TempDir:      f.cfg.Engine.TempDir,
		UserAgent:    f.cfg.Engine.UserAgent,
		MaxBodyBytes: f.cfg.Engine.MaxBodyBytes,
	}, log)
}

func (f *Factory) buildProbeConfig() probe.Config {
	return probe.Config{
		Concurrency:   f.cfg.Probe.Concurrency,
		MaxValues:     f.cfg.Probe.MaxValues,
		SnippetLength: f.cfg.Probe.SnippetLength,
		PayloadDir:    f.cfg.Probe.PayloadDir,
	}
}

// buildRateLimiter creates the limiter that paces probe candidates
func (f *Factory) buildRateLimiter() *ratelimit.Limiter {
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: f.cfg.Probe.RateLimit,
		BurstSize:         f.cfg.Probe.Burst,
		MinDelay:          f.cfg.Probe.MinDelay,
	})
	f.logger.Debugw("Rate limiter initialized",
		"requests_per_second", f.cfg.Probe.RateLimit,
		"burst_size", f.cfg.Probe.Burst,
		"min_delay", f.cfg.Probe.MinDelay,
	)
	return limiter
}

func (f *Factory) buildAbort() (*abort.Controller, error) {
	if f.cfg.Redis.Addr == "" {
		return abort.NewController(nil), nil
	}
	signal, err := abort.NewRedisSignal(f.cfg.Redis, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build shared abort flag: %w", err)
	}
	return abort.NewController(signal), nil
}

func (f *Factory) buildStore() (*database.Store, error) {
	if f.cfg.Database.Driver == "none" || f.cfg.Database.DSN == "" {
		f.logger.Debugw("Page store disabled")
		return nil, nil
	}
	store, err := database.NewStore(f.cfg.Database, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize page store: %w", err)
	}
	return store, nil
}
