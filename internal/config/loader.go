package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// maxConfigFileSize caps config file reads.
const maxConfigFileSize = 1024 * 1024

// envPrefix is the prefix for environment variable overrides.
const envPrefix = "ADVISORD_"

// Load loads configuration from the given YAML file (if it exists), then
// applies environment variable overrides.
//
// Precedence (highest to lowest):
//  1. Environment variables (ADVISORD_SERVER_PORT, ADVISORD_MEMORY_DECAY_FACTOR, ...)
//  2. YAML config file
//  3. Defaults
//
// Environment variables map to config keys by stripping the prefix,
// lowercasing, and splitting on the first underscore:
//
//	ADVISORD_SERVER_PORT          -> server.port
//	ADVISORD_MEMORY_DECAY_FACTOR  -> memory.decay_factor
//	ADVISORD_LLM_BASE_URL         -> llm.base_url
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("opening config file: %w", err)
			}
			defer f.Close()

			content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize))
			if err != nil {
				return nil, fmt.Errorf("reading config file: %w", err)
			}

			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// ADVISORD_MEMORY_DECAY_FACTOR -> memory.decay_factor:
		// the first underscore separates section from field, the
		// remaining underscores stay in the field name.
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}
