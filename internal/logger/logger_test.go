package logger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/replayer/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  config.LoggerConfig
		wantErr bool
	}{
		{
			name:   "valid json config",
			config: config.LoggerConfig{Level: "debug", Format: "json"},
		},
		{
			name:   "valid console config",
			config: config.LoggerConfig{Level: "info", Format: "console"},
		},
		{
			name:    "invalid level",
			config:  config.LoggerConfig{Level: "invalid", Format: "json"},
			wantErr: true,
		},
		{
			name:   "empty config uses defaults",
			config: config.LoggerConfig{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, log)
		})
	}
}

func TestNew_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replayer.log")

	log, err := New(config.LoggerConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{os.DevNull},
		File:        config.FileConfig{Path: path, MaxSizeMB: 1},
	})
	require.NoError(t, err)

	log.Infow("hop recorded", "status", 302)
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hop recorded")
	assert.Contains(t, string(data), `"service":"replayer"`)
}

func TestContextRoundTrip(t *testing.T) {
	log := Nop().WithComponent("engine")
	ctx := WithLogger(context.Background(), log)

	assert.Same(t, log, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestOperationHelpers(t *testing.T) {
	log := Nop()
	ctx, span := log.StartOperation(context.Background(), "replay.Execute", "url", "http://h/")
	require.NotNil(t, span)

	log.LogHTTPRequest(ctx, "GET", "http://h/", 502, time.Millisecond)
	log.LogDuration(ctx, "replay.Execute", time.Now())
	log.LogError(ctx, nil, "noop")
	log.FinishOperation(ctx, span, "replay.Execute", time.Now(), errors.New("boom"))
}
