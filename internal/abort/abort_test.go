package abort

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/CodeMonkeyCybersecurity/replayer/internal/config"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/logger"
)

func TestController_Local(t *testing.T) {
	ctx := context.Background()
	c := NewController(nil)

	assert.False(t, c.Shared())
	assert.False(t, c.Aborted(ctx))

	require.NoError(t, c.Set(ctx))
	assert.True(t, c.Aborted(ctx))

	require.NoError(t, c.Clear(ctx))
	assert.False(t, c.Aborted(ctx))
	assert.NoError(t, c.Close())
}

func TestNewRedisSignal_Unreachable(t *testing.T) {
	cfg := config.Default().Redis
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 200 * time.Millisecond
	cfg.MaxRetries = -1

	_, err := NewRedisSignal(cfg, logger.Nop())
	assert.Error(t, err)
}

// setupRedis starts a throwaway Redis and returns its address.
func setupRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Redis container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return endpoint
}

func TestRedisSignal_SharedBetweenProcesses(t *testing.T) {
	addr := setupRedis(t)
	ctx := context.Background()

	cfg := config.Default().Redis
	cfg.Addr = addr
	cfg.AbortKey = "replayer:test:abort"

	first, err := NewRedisSignal(cfg, logger.Nop())
	require.NoError(t, err)
	defer first.Close()
	second, err := NewRedisSignal(cfg, logger.Nop())
	require.NoError(t, err)

	a := NewController(first)
	b := NewController(second)
	defer b.Close()
	assert.True(t, a.Shared())

	assert.False(t, b.Aborted(ctx))
	require.NoError(t, a.Set(ctx))

	// b cached "not aborted" a moment ago.
	assert.Eventually(t, func() bool { return b.Aborted(ctx) }, 2*time.Second, 50*time.Millisecond)

	require.NoError(t, b.Clear(ctx))
	assert.Eventually(t, func() bool {
		return !first.Aborted(ctx)
	}, 2*time.Second, 50*time.Millisecond)
}
