package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log/noop"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{name: "defaults", level: "", format: ""},
		{name: "debug console", level: "debug", format: "console"},
		{name: "warn json", level: "warn", format: "json"},
		{name: "bad level", level: "verbose", wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestNewWithOTEL(t *testing.T) {
	t.Run("nil provider", func(t *testing.T) {
		logger, err := NewWithOTEL("info", "json", nil)
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("with provider", func(t *testing.T) {
		logger, err := NewWithOTEL("info", "json", noop.NewLoggerProvider())
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("bridge smoke test")
	})

	t.Run("bad level", func(t *testing.T) {
		_, err := NewWithOTEL("verbose", "json", nil)
		assert.Error(t, err)
	})
}
