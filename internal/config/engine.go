package config

import (
	"fmt"
	"time"
)

// EngineConfig tunes the inbound pipeline and the generation loop.
type EngineConfig struct {
	LockWait          string `yaml:"lock_wait" env:"LOCK_WAIT"`
	ConflictRetries   int    `yaml:"conflict_retries" env:"CONFLICT_RETRIES"`
	MaxRegenerations  int    `yaml:"max_regenerations" env:"MAX_REGENERATIONS"`
	ExternalRetries   int    `yaml:"external_retries" env:"EXTERNAL_RETRIES"`
	RetryInitial      string `yaml:"retry_initial" env:"RETRY_INITIAL"`
	RetryMax          string `yaml:"retry_max" env:"RETRY_MAX"`
	RequeueDelay      string `yaml:"requeue_delay" env:"REQUEUE_DELAY"`
	ClaimThreshold    string `yaml:"claim_threshold" env:"CLAIM_THRESHOLD"`       // minimum significance tracked
	BlockSignificance string `yaml:"block_significance" env:"BLOCK_SIGNIFICANCE"` // minimum significance that blocks delivery
	ClaimHistoryLimit int    `yaml:"claim_history_limit" env:"CLAIM_HISTORY_LIMIT"`

	ConversationWindow int `yaml:"conversation_window" env:"CONVERSATION_WINDOW"`
	MemoryResults      int `yaml:"memory_results" env:"MEMORY_RESULTS"`
}

// ContextConfig sets the context budget and the share of each source.
// Whatever the four shares leave over is reserved for instructions and the
// new message.
type ContextConfig struct {
	TotalBudget         int `yaml:"total_budget" env:"TOTAL_BUDGET"`
	AgentPercent        int `yaml:"agent_percent" env:"AGENT_PERCENT"`
	StatePercent        int `yaml:"state_percent" env:"STATE_PERCENT"`
	ConversationPercent int `yaml:"conversation_percent" env:"CONVERSATION_PERCENT"`
	MemoryPercent       int `yaml:"memory_percent" env:"MEMORY_PERCENT"`
}

// Validate checks the budget shares.
func (c ContextConfig) Validate() error {
	if c.TotalBudget <= 0 {
		return fmt.Errorf("context.total_budget must be positive")
	}
	sum := c.AgentPercent + c.StatePercent + c.ConversationPercent + c.MemoryPercent
	if sum >= 100 {
		return fmt.Errorf("context shares sum to %d%%, leaving nothing for instructions", sum)
	}
	for _, p := range []int{c.AgentPercent, c.StatePercent, c.ConversationPercent, c.MemoryPercent} {
		if p < 0 {
			return fmt.Errorf("context shares must not be negative")
		}
	}
	return nil
}

// SchedulerConfig configures delayed jobs and periodic sweeps.
type SchedulerConfig struct {
	Backend      string `yaml:"backend" env:"BACKEND"` // memory, redis
	PollInterval string `yaml:"poll_interval" env:"POLL_INTERVAL"`
	SweepEvery   string `yaml:"sweep_every" env:"SWEEP_EVERY"`
	Concurrency  int    `yaml:"concurrency" env:"CONCURRENCY"`
	BatchSize    int    `yaml:"batch_size" env:"BATCH_SIZE"`
}

// DeliveryConfig configures outbound routing.
type DeliveryConfig struct {
	FallbackChannel string `yaml:"fallback_channel" env:"FALLBACK_CHANNEL"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format     string          `yaml:"format" env:"FORMAT"` // json, text
	Categories map[string]bool `yaml:"categories"`          // Per-category toggles
}

// GetLockWait returns the bounded wait for a player's serialization slot.
func (c *Config) GetLockWait() time.Duration {
	return parseDuration(c.Engine.LockWait, 5*time.Second)
}

// GetRetryInitial returns the first backoff interval for external calls.
func (c *Config) GetRetryInitial() time.Duration {
	return parseDuration(c.Engine.RetryInitial, 500*time.Millisecond)
}

// GetRetryMax returns the backoff ceiling for external calls.
func (c *Config) GetRetryMax() time.Duration {
	return parseDuration(c.Engine.RetryMax, 10*time.Second)
}

// GetRequeueDelay returns how long an exhausted action waits before retry.
func (c *Config) GetRequeueDelay() time.Duration {
	return parseDuration(c.Engine.RequeueDelay, 15*time.Minute)
}

// GetPollInterval returns how often due jobs are polled.
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Scheduler.PollInterval, 5*time.Second)
}

// GetSweepEvery returns the periodic sweep interval.
func (c *Config) GetSweepEvery() time.Duration {
	return parseDuration(c.Scheduler.SweepEvery, time.Hour)
}
