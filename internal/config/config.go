// Package config provides configuration loading for advisord.
//
// Configuration is loaded from a YAML file with environment variable
// overrides (ADVISORD_* prefix). The resulting Config is constructed once
// at process start and passed by reference into every component
// constructor; business logic never reads ambient global state.
package config

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Sentinel errors for configuration validation.
var (
	// ErrInvalidDecayFactor indicates a decay factor outside (0, 1).
	ErrInvalidDecayFactor = errors.New("decay factor must be strictly between 0 and 1")

	// ErrInvalidWeights indicates score weights that do not sum to 1.
	ErrInvalidWeights = errors.New("score weights must sum to 1")

	// ErrInvalidConfidenceFloor indicates a confidence floor outside [0, 1).
	ErrInvalidConfidenceFloor = errors.New("confidence floor must be in [0, 1)")

	// ErrInvalidDimension indicates a non-positive embedding dimension.
	ErrInvalidDimension = errors.New("embedding dimension must be positive")
)

// weightSumTolerance is the allowed floating-point slack when checking
// that the three score weights sum to 1.
const weightSumTolerance = 1e-9

// Config holds the complete advisord configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	LLM        LLMConfig        `koanf:"llm"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Store      StoreConfig      `koanf:"store"`
	Memory     MemoryConfig     `koanf:"memory"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Rules      RulesConfig      `koanf:"rules"`
	Learning   LearningConfig   `koanf:"learning"`
	Reflection ReflectionConfig `koanf:"reflection"`
	Knowledge  KnowledgeConfig  `koanf:"knowledge"`
	Audit      AuditConfig      `koanf:"audit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`

	// Endpoint is the OTLP gRPC collector endpoint (host:port).
	Endpoint string `koanf:"endpoint"`
	Insecure bool   `koanf:"insecure"`
}

// LLMConfig holds language model client configuration.
type LLMConfig struct {
	// BaseURL is an OpenAI-compatible API endpoint.
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  string `koanf:"api_key"`

	// CallTimeout bounds every individual model call.
	CallTimeout time.Duration `koanf:"call_timeout"`

	// RequestsPerSecond throttles outbound calls. Zero disables throttling.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// EmbeddingsConfig holds embedding service configuration.
type EmbeddingsConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  string `koanf:"api_key"`

	// Dimension is the expected embedding vector size. A mismatch between
	// this value and what the provider returns is a fatal startup error.
	Dimension int `koanf:"dimension"`
}

// StoreConfig holds vector store configuration.
type StoreConfig struct {
	// Path is the directory for persistent storage.
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// MemoryConfig holds memory stream scoring configuration.
type MemoryConfig struct {
	// DecayFactor is the per-hour exponential recency decay base,
	// strictly between 0 and 1.
	DecayFactor float64 `koanf:"decay_factor"`

	// RecencyWeight, RelevanceWeight and ImportanceWeight blend the three
	// score components. They must sum to 1.
	RecencyWeight    float64 `koanf:"recency_weight"`
	RelevanceWeight  float64 `koanf:"relevance_weight"`
	ImportanceWeight float64 `koanf:"importance_weight"`

	// DefaultImportance is used when importance scoring fails; an
	// observation is never dropped because the scorer misbehaved.
	DefaultImportance float64 `koanf:"default_importance"`
}

// RetrievalConfig bounds each source's contribution to a context bundle.
type RetrievalConfig struct {
	MemoryLimit    int `koanf:"memory_limit"`
	CaseLimit      int `koanf:"case_limit"`
	RuleLimit      int `koanf:"rule_limit"`
	KnowledgeLimit int `koanf:"knowledge_limit"`
}

// RulesConfig holds rule store configuration.
type RulesConfig struct {
	// ConfidenceFloor is the minimum confidence a rule can decay to.
	ConfidenceFloor float64 `koanf:"confidence_floor"`

	// RetrievalThreshold excludes rules below it from retrieval.
	RetrievalThreshold float64 `koanf:"retrieval_threshold"`

	// InitialConfidence is assigned to newly created rules.
	InitialConfidence float64 `koanf:"initial_confidence"`
}

// LearningConfig holds learning cycle configuration.
type LearningConfig struct {
	// SatisfactionThreshold is the minimum customer satisfaction for a
	// compliant consultation to be considered rule-worthy.
	SatisfactionThreshold float64 `koanf:"satisfaction_threshold"`

	// StageTimeout bounds each language-model sub-call in the rule
	// judgment pipeline.
	StageTimeout time.Duration `koanf:"stage_timeout"`
}

// ReflectionConfig holds the background reflection worker configuration.
type ReflectionConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`

	// FailureImportanceThreshold selects which recent observations are
	// worth reflecting on.
	FailureImportanceThreshold float64 `koanf:"failure_importance_threshold"`

	// ClusterSize is how many related observations feed one reflection.
	ClusterSize int `koanf:"cluster_size"`
}

// KnowledgeConfig holds static knowledge base configuration.
type KnowledgeConfig struct {
	// FCADir and PensionDir are directories of YAML snippet files.
	FCADir     string `koanf:"fca_dir"`
	PensionDir string `koanf:"pension_dir"`

	// Watch enables hot reindexing when snippet files change.
	Watch bool `koanf:"watch"`
}

// AuditConfig holds the admin audit channel configuration.
type AuditConfig struct {
	Enabled bool   `koanf:"enabled"`
	NATSURL string `koanf:"nats_url"`

	// SubjectPrefix is prepended to every published subject.
	SubjectPrefix string `koanf:"subject_prefix"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8090,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "advisord",
			Endpoint:    "localhost:4317",
			Insecure:    true,
		},
		LLM: LLMConfig{
			BaseURL:           "https://api.openai.com/v1",
			Model:             "gpt-4o",
			CallTimeout:       30 * time.Second,
			RequestsPerSecond: 5,
		},
		Embeddings: EmbeddingsConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
		Store: StoreConfig{
			Path: "~/.local/share/advisord/store",
		},
		Memory: MemoryConfig{
			DecayFactor:       0.99,
			RecencyWeight:     1.0 / 3.0,
			RelevanceWeight:   1.0 / 3.0,
			ImportanceWeight:  1.0 / 3.0,
			DefaultImportance: 0.5,
		},
		Retrieval: RetrievalConfig{
			MemoryLimit:    5,
			CaseLimit:      3,
			RuleLimit:      5,
			KnowledgeLimit: 4,
		},
		Rules: RulesConfig{
			ConfidenceFloor:    0.1,
			RetrievalThreshold: 0.3,
			InitialConfidence:  0.6,
		},
		Learning: LearningConfig{
			SatisfactionThreshold: 4.0,
			StageTimeout:          20 * time.Second,
		},
		Reflection: ReflectionConfig{
			Enabled:                    true,
			Interval:                   1 * time.Hour,
			FailureImportanceThreshold: 0.6,
			ClusterSize:                5,
		},
		Knowledge: KnowledgeConfig{
			FCADir:     "knowledge/fca",
			PensionDir: "knowledge/pension",
			Watch:      true,
		},
		Audit: AuditConfig{
			Enabled:       false,
			NATSURL:       "nats://localhost:4222",
			SubjectPrefix: "advisord.audit",
		},
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Embeddings.Dimension <= 0 {
		return ErrInvalidDimension
	}
	if c.Memory.DecayFactor <= 0 || c.Memory.DecayFactor >= 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidDecayFactor, c.Memory.DecayFactor)
	}
	sum := c.Memory.RecencyWeight + c.Memory.RelevanceWeight + c.Memory.ImportanceWeight
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("%w: got %v", ErrInvalidWeights, sum)
	}
	for _, w := range []float64{c.Memory.RecencyWeight, c.Memory.RelevanceWeight, c.Memory.ImportanceWeight} {
		if w < 0 {
			return fmt.Errorf("%w: negative weight %v", ErrInvalidWeights, w)
		}
	}
	if c.Memory.DefaultImportance < 0 || c.Memory.DefaultImportance > 1 {
		return fmt.Errorf("default importance must be in [0, 1], got %v", c.Memory.DefaultImportance)
	}
	if c.Rules.ConfidenceFloor < 0 || c.Rules.ConfidenceFloor >= 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidConfidenceFloor, c.Rules.ConfidenceFloor)
	}
	if c.Rules.InitialConfidence < c.Rules.ConfidenceFloor || c.Rules.InitialConfidence > 1 {
		return fmt.Errorf("initial confidence must be in [floor, 1], got %v", c.Rules.InitialConfidence)
	}
	if c.Rules.RetrievalThreshold < 0 || c.Rules.RetrievalThreshold > 1 {
		return fmt.Errorf("rule retrieval threshold must be in [0, 1], got %v", c.Rules.RetrievalThreshold)
	}
	if c.Learning.StageTimeout <= 0 {
		return fmt.Errorf("learning stage timeout must be positive, got %v", c.Learning.StageTimeout)
	}
	if c.Reflection.Enabled && c.Reflection.Interval <= 0 {
		return fmt.Errorf("reflection interval must be positive, got %v", c.Reflection.Interval)
	}
	return nil
}
