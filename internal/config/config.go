// Package config defines the value shapes that an external loader populates
// before constructing the ingestion pipeline. Loading configuration from
// disk or environment is an external collaborator's job; this package only
// declares what a loader must produce.
package config

import "time"

// LLMConfig configures the prompted-text-to-JSON client (C2).
type LLMConfig struct {
	Provider string `yaml:"provider"` // "openai" or "anthropic"
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url,omitempty"`
	Rate     RateConfig `yaml:"rate"`
	Retry    RetryConfig `yaml:"retry"`
}

// EmbeddingConfig configures the text-to-vector client (C1).
type EmbeddingConfig struct {
	Provider   string      `yaml:"provider"`
	Model      string      `yaml:"model"`
	APIKey     string      `yaml:"api_key"`
	BaseURL    string      `yaml:"base_url,omitempty"`
	Dimensions int         `yaml:"dimensions"` // must be 768
	BatchSize  int         `yaml:"batch_size"` // default 100, upper bound 100
	Rate       RateConfig  `yaml:"rate"`
	Retry      RetryConfig `yaml:"retry"`
}

// RateConfig is the minimum-inter-call-delay rate limiter policy shared by
// LLMClient and EmbeddingClient.
type RateConfig struct {
	DelaySeconds float64 `yaml:"delay_s"`
}

// RetryConfig is the bounded exponential-backoff policy for transient
// errors.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"` // default 3
	BaseDelay   time.Duration `yaml:"base_delay"`   // default ~2s
}

// MergeConfig holds the similarity-band thresholds. Per the design notes,
// these must be configuration, never hard-coded.
type MergeConfig struct {
	ThresholdHigh float64 `yaml:"threshold_high"` // default 0.85
	ThresholdLow  float64 `yaml:"threshold_low"`  // default 0.40
}

// DBConfig configures the pooled connection to the relational+vector store.
type DBConfig struct {
	DSN         string        `yaml:"dsn"`
	PoolMin     int           `yaml:"pool_min"` // default 1
	PoolMax     int           `yaml:"pool_max"` // default 10
	WaitTimeout time.Duration `yaml:"pool_wait_timeout"`
}

// Mode selects which pipeline granularity a topic is extracted at.
type Mode string

const (
	ModeParagraph Mode = "paragraph"
	ModeFullDoc   Mode = "full_doc"
	ModeBoth      Mode = "both"
)

// ParallelConfig bounds concurrent LLM/embedding calls within a stage.
type ParallelConfig struct {
	LLMConcurrency int `yaml:"llm_concurrency"` // default 4
}

// Config is the root configuration value consumed by the orchestrator and
// its components. Nothing in this package reads it from a file or the
// environment; population is an external collaborator's responsibility.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Merge     MergeConfig     `yaml:"merge"`
	DB        DBConfig        `yaml:"db"`
	Mode      Mode            `yaml:"mode"`
	Parallel  ParallelConfig  `yaml:"parallel"`
}

// Defaults returns a Config with every spec-mandated default applied. A
// loader is expected to start from this and override fields explicitly set
// by the caller.
func Defaults() Config {
	return Config{
		LLM: LLMConfig{
			Rate:  RateConfig{DelaySeconds: 4.5},
			Retry: RetryConfig{MaxAttempts: 3, BaseDelay: 2 * time.Second},
		},
		Embedding: EmbeddingConfig{
			Dimensions: 768,
			BatchSize:  100,
			Rate:       RateConfig{DelaySeconds: 0.1},
			Retry:      RetryConfig{MaxAttempts: 3, BaseDelay: 2 * time.Second},
		},
		Merge: MergeConfig{ThresholdHigh: 0.85, ThresholdLow: 0.40},
		DB:    DBConfig{PoolMin: 1, PoolMax: 10, WaitTimeout: 10 * time.Second},
		Mode:  ModeParagraph,
		Parallel: ParallelConfig{
			LLMConcurrency: 4,
		},
	}
}
