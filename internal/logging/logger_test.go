package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    Options
		enabled zapcore.Level
		blocked zapcore.Level
	}{
		{name: "production default", opts: Options{}, enabled: zapcore.InfoLevel, blocked: zapcore.DebugLevel},
		{name: "production warn", opts: Options{Level: "warn"}, enabled: zapcore.ErrorLevel, blocked: zapcore.InfoLevel},
		{name: "development debug", opts: Options{Development: true, Level: "debug", Service: "crawl-worker"}, enabled: zapcore.DebugLevel, blocked: zapcore.InvalidLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, err := New(tt.opts)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			if tt.blocked != zapcore.InvalidLevel {
				assert.False(t, logger.Core().Enabled(tt.blocked))
			}
			logger.Debug("logger ready")
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Level: "chatty"})
	require.ErrorContains(t, err, "chatty")
}
