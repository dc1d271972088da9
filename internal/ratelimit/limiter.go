// Package ratelimit paces probe candidates so a sweep does not get the
// scanning host banned.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter combines a global token bucket with a minimum gap between two
// candidates sent to the same host.
type Limiter struct {
	limiter           *rate.Limiter
	requestsPerSecond float64
	requestDelay      time.Duration
	burstSize         int
	lastRequestMap    map[string]time.Time
	mu                sync.Mutex
}

// Config mirrors the probe.rate_limit, probe.burst and probe.min_delay keys.
type Config struct {
	// RequestsPerSecond of zero or less disables the global limit.
	RequestsPerSecond float64

	BurstSize int

	// MinDelay is the minimum gap between candidates to the same host
	MinDelay time.Duration
}

// DefaultConfig does not slow a probe down at all.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 0,
		BurstSize:         1,
	}
}

func NewLimiter(config Config) *Limiter {
	limit := rate.Limit(config.RequestsPerSecond)
	if config.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiter:           rate.NewLimiter(limit, burst),
		requestsPerSecond: max(config.RequestsPerSecond, 0),
		requestDelay:      config.MinDelay,
		burstSize:         burst,
		lastRequestMap:    make(map[string]time.Time),
	}
}

// WaitForHost applies the global limit, then holds the candidate until
// MinDelay has passed since the previous one to host.
func (l *Limiter) WaitForHost(ctx context.Context, host string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	if l.requestDelay <= 0 {
		return nil
	}

	// The slot is reserved under the lock so concurrent workers queue up
	// instead of all sleeping for the same gap.
	l.mu.Lock()
	next := time.Now()
	if last, ok := l.lastRequestMap[host]; ok && last.Add(l.requestDelay).After(next) {
		next = last.Add(l.requestDelay)
	}
	l.lastRequestMap[host] = next
	l.mu.Unlock()

	if d := time.Until(next); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// GetStats reports how the limiter is configured and how many hosts it has
// seen. /health exposes it.
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		TrackedHosts:      len(l.lastRequestMap),
		RequestsPerSecond: l.requestsPerSecond,
		BurstSize:         l.burstSize,
		RequestDelay:      l.requestDelay,
	}
}

type Stats struct {
	TrackedHosts      int           `json:"tracked_hosts"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	BurstSize         int           `json:"burst_size"`
	RequestDelay      time.Duration `json:"request_delay"`
}
