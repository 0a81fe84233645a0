package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds all argent engine configuration. Narrative content (agents,
// triggers, policies) lives in a separate document referenced by
// NarrativePath.
type Config struct {
	// Core settings
	Name          string `yaml:"name"`
	NarrativePath string `yaml:"narrative_path" env:"ARGENT_NARRATIVE"`

	// Durable state
	Store StoreConfig `yaml:"store" envPrefix:"ARGENT_STORE_"`

	// Scheduler + conversation cache backend
	Redis RedisConfig `yaml:"redis" envPrefix:"ARGENT_REDIS_"`

	// Generation and classification
	LLM LLMConfig `yaml:"llm" envPrefix:"ARGENT_LLM_"`

	// Semantic matching for claims and local memory
	Embedding EmbeddingConfig `yaml:"embedding" envPrefix:"ARGENT_EMBEDDING_"`

	// Pipeline tunables
	Engine EngineConfig `yaml:"engine" envPrefix:"ARGENT_ENGINE_"`

	// Context budget
	Context ContextConfig `yaml:"context" envPrefix:"ARGENT_CONTEXT_"`

	// Sweeps and delayed jobs
	Scheduler SchedulerConfig `yaml:"scheduler" envPrefix:"ARGENT_SCHEDULER_"`

	// Outbound routing
	Delivery DeliveryConfig `yaml:"delivery" envPrefix:"ARGENT_DELIVERY_"`

	// Logging
	Logging LoggingConfig `yaml:"logging" envPrefix:"ARGENT_LOG_"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:          "argent",
		NarrativePath: "narrative.yaml",

		Store: StoreConfig{
			Backend: "sqlite",
			Driver:  "sqlite",
			Path:    "data/argent.db",
		},

		Redis: RedisConfig{
			Addr:      "",
			KeyPrefix: "argent",
		},

		LLM: LLMConfig{
			Provider:          "genai",
			Model:             "gemini-2.0-flash",
			ClassifierModel:   "gemini-2.0-flash",
			Timeout:           "45s",
			Temperature:       0.9,
			MaxOutputTokens:   600,
			ClassifierTimeout: "20s",
		},

		Embedding: EmbeddingConfig{
			Provider:            "lexical",
			Model:               "text-embedding-004",
			Dimensions:          256,
			SimilarityThreshold: 0.88,
		},

		Engine: EngineConfig{
			LockWait:           "5s",
			ConflictRetries:    5,
			MaxRegenerations:   2,
			ExternalRetries:    3,
			RetryInitial:       "500ms",
			RetryMax:           "10s",
			RequeueDelay:       "15m",
			ClaimThreshold:     "medium",
			BlockSignificance:  "high",
			ClaimHistoryLimit:  200,
			ConversationWindow: 20,
			MemoryResults:      8,
		},

		Context: ContextConfig{
			TotalBudget:         2800,
			AgentPercent:        20,
			StatePercent:        18,
			ConversationPercent: 28,
			MemoryPercent:       14,
		},

		Scheduler: SchedulerConfig{
			Backend:      "memory",
			PollInterval: "5s",
			SweepEvery:   "1h",
			Concurrency:  8,
			BatchSize:    100,
		},

		Delivery: DeliveryConfig{
			FallbackChannel: "web",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file, then applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies ARGENT_* variables on top of the file values.
// Unset variables leave the file values alone.
func (c *Config) applyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	// Provider-native key names are honored when no explicit key was given.
	if c.LLM.APIKey == "" {
		for _, name := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
			if key := os.Getenv(name); key != "" {
				c.LLM.APIKey = key
				break
			}
		}
	}
	return nil
}

// ValidBackends lists the supported state store backends.
var ValidBackends = []string{"sqlite", "postgres", "memory"}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if !contains(ValidBackends, c.Store.Backend) {
		return fmt.Errorf("invalid store backend: %s (valid: %v)", c.Store.Backend, ValidBackends)
	}
	if c.Store.Backend == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for the postgres backend")
	}
	if c.Store.Backend == "sqlite" && !contains([]string{"sqlite", "sqlite3"}, c.Store.Driver) {
		return fmt.Errorf("invalid sqlite driver: %s (valid: sqlite, sqlite3)", c.Store.Driver)
	}
	if c.Scheduler.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required for the redis scheduler")
	}
	if c.LLM.Provider == "genai" && c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set ARGENT_LLM_API_KEY or GEMINI_API_KEY)")
	}
	if err := c.Context.Validate(); err != nil {
		return err
	}
	if c.Engine.ConflictRetries < 1 {
		return fmt.Errorf("engine.conflict_retries must be at least 1")
	}
	if c.Engine.MaxRegenerations < 0 {
		return fmt.Errorf("engine.max_regenerations must not be negative")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
