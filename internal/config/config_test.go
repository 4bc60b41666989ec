package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "decay factor zero",
			mutate:  func(c *Config) { c.Memory.DecayFactor = 0 },
			wantErr: ErrInvalidDecayFactor,
		},
		{
			name:    "decay factor one",
			mutate:  func(c *Config) { c.Memory.DecayFactor = 1.0 },
			wantErr: ErrInvalidDecayFactor,
		},
		{
			name: "weights do not sum to one",
			mutate: func(c *Config) {
				c.Memory.RecencyWeight = 0.5
				c.Memory.RelevanceWeight = 0.5
				c.Memory.ImportanceWeight = 0.5
			},
			wantErr: ErrInvalidWeights,
		},
		{
			name: "negative weight",
			mutate: func(c *Config) {
				c.Memory.RecencyWeight = -0.5
				c.Memory.RelevanceWeight = 0.75
				c.Memory.ImportanceWeight = 0.75
			},
			wantErr: ErrInvalidWeights,
		},
		{
			name:    "confidence floor at one",
			mutate:  func(c *Config) { c.Rules.ConfidenceFloor = 1.0 },
			wantErr: ErrInvalidConfidenceFloor,
		},
		{
			name:    "zero embedding dimension",
			mutate:  func(c *Config) { c.Embeddings.Dimension = 0 },
			wantErr: ErrInvalidDimension,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9999
memory:
  decay_factor: 0.95
rules:
  confidence_floor: 0.2
  initial_confidence: 0.7
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 0.95, cfg.Memory.DecayFactor)
	assert.Equal(t, 0.2, cfg.Rules.ConfidenceFloor)

	// Untouched fields keep their defaults.
	assert.Equal(t, 5, cfg.Retrieval.MemoryLimit)
	assert.InDelta(t, 1.0/3.0, cfg.Memory.RecencyWeight, 1e-12)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ADVISORD_SERVER_PORT", "7070")
	t.Setenv("ADVISORD_MEMORY_DECAY_FACTOR", "0.9")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 0.9, cfg.Memory.DecayFactor)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("ADVISORD_MEMORY_DECAY_FACTOR", "1.5")

	_, err := Load("")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDecayFactor)
}
