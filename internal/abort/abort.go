// Package abort holds the stop switch for running probes. A local flag
// covers one process; Redis shares the switch between processes.
package abort

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CodeMonkeyCybersecurity/replayer/internal/config"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/logger"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/scan"
)

// pollInterval bounds how often Aborted reaches Redis. Workers poll before
// every candidate and every hop.
const pollInterval = 250 * time.Millisecond

type RedisSignal struct {
	client *redis.Client
	key    string
	log    *logger.Logger

	mu        sync.Mutex
	checkedAt time.Time
	cached    bool
}

func NewRedisSignal(cfg config.RedisConfig, log *logger.Logger) (*RedisSignal, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	key := cfg.AbortKey
	if key == "" {
		key = config.Default().Redis.AbortKey
	}
	return &RedisSignal{
		client: client,
		key:    key,
		log:    log.WithComponent("abort"),
	}, nil
}

func (s *RedisSignal) Set(ctx context.Context) error {
	if err := s.client.Set(ctx, s.key, time.Now().UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("set abort flag: %w", err)
	}
	s.remember(true)
	return nil
}

func (s *RedisSignal) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear abort flag: %w", err)
	}
	s.remember(false)
	return nil
}

// Aborted reads the shared flag at most once per pollInterval. A Redis
// failure reads as not aborted so an outage does not stop every probe.
func (s *RedisSignal) Aborted(ctx context.Context) bool {
	s.mu.Lock()
	if time.Since(s.checkedAt) < pollInterval {
		v := s.cached
		s.mu.Unlock()
		return v
	}
	s.mu.Unlock()

	n, err := s.client.Exists(ctx, s.key).Result()
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warnw("Failed to read abort flag", "key", s.key, "error", err)
		}
		return false
	}
	s.remember(n > 0)
	return n > 0
}

func (s *RedisSignal) remember(v bool) {
	s.mu.Lock()
	s.cached = v
	s.checkedAt = time.Now()
	s.mu.Unlock()
}

func (s *RedisSignal) Close() error {
	return s.client.Close()
}

// Controller is the switch the API, MCP server and CLI flip. Without Redis it
// is process local.
type Controller struct {
	local  scan.Flag
	remote *RedisSignal
}

func NewController(remote *RedisSignal) *Controller {
	return &Controller{remote: remote}
}

func (c *Controller) Set(ctx context.Context) error {
	c.local.Set()
	if c.remote != nil {
		return c.remote.Set(ctx)
	}
	return nil
}

func (c *Controller) Clear(ctx context.Context) error {
	c.local.Clear()
	if c.remote != nil {
		return c.remote.Clear(ctx)
	}
	return nil
}

func (c *Controller) Aborted(ctx context.Context) bool {
	if c.local.Aborted(ctx) {
		return true
	}
	return c.remote != nil && c.remote.Aborted(ctx)
}

// Shared reports whether the switch reaches other processes.
func (c *Controller) Shared() bool {
	return c.remote != nil
}

func (c *Controller) Close() error {
	if c.remote != nil {
		return c.remote.Close()
	}
	return nil
}

var _ scan.AbortSignal = (*Controller)(nil)
