package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, 2800, cfg.Context.TotalBudget)
	assert.Equal(t, 5*time.Second, cfg.GetLockWait())
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "argent.yaml")
	content := `
store:
  backend: postgres
  dsn: postgres://argent@localhost/argent
context:
  total_budget: 4000
engine:
  lock_wait: 250ms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, 4000, cfg.Context.TotalBudget)
	assert.Equal(t, 250*time.Millisecond, cfg.GetLockWait())
	// untouched sections keep defaults
	assert.Equal(t, 28, cfg.Context.ConversationPercent)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "argent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [unterminated"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestEnvOverrides(t *testing.T) {
	t.Run("prefixed variables win over file", func(t *testing.T) {
		t.Setenv("ARGENT_STORE_BACKEND", "memory")
		t.Setenv("ARGENT_CONTEXT_TOTAL_BUDGET", "1200")
		t.Setenv("ARGENT_REDIS_ADDR", "localhost:6379")

		cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.Store.Backend)
		assert.Equal(t, 1200, cfg.Context.TotalBudget)
		assert.True(t, cfg.Redis.Enabled())
	})

	t.Run("provider key fallback", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "gem-key")

		cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "gem-key", cfg.LLM.APIKey)
	})

	t.Run("explicit key beats provider key", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "gem-key")
		t.Setenv("ARGENT_LLM_API_KEY", "explicit")

		cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "explicit", cfg.LLM.APIKey)
	})

	t.Run("malformed number fails", func(t *testing.T) {
		t.Setenv("ARGENT_CONTEXT_TOTAL_BUDGET", "lots")

		_, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.LLM.APIKey = "k"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults with key", mutate: func(*Config) {}},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "mongo" }, wantErr: "invalid store backend"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Backend = "postgres" }, wantErr: "store.dsn"},
		{name: "bad sqlite driver", mutate: func(c *Config) { c.Store.Driver = "libsql" }, wantErr: "invalid sqlite driver"},
		{name: "redis scheduler without addr", mutate: func(c *Config) { c.Scheduler.Backend = "redis" }, wantErr: "redis.addr"},
		{name: "missing key", mutate: func(c *Config) { c.LLM.APIKey = "" }, wantErr: "API key"},
		{name: "no key needed offline", mutate: func(c *Config) { c.LLM.APIKey = ""; c.LLM.Provider = "none" }},
		{name: "shares leave no room", mutate: func(c *Config) { c.Context.MemoryPercent = 40 }, wantErr: "leaving nothing"},
		{name: "zero conflict retries", mutate: func(c *Config) { c.Engine.ConflictRetries = 0 }, wantErr: "conflict_retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveRoundTripsThroughLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "argent.yaml")
	cfg := DefaultConfig()
	cfg.Engine.MaxRegenerations = 4

	require.NoError(t, cfg.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Engine.MaxRegenerations)
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.RetryMax = "soon"
	cfg.Scheduler.SweepEvery = "-1s"

	assert.Equal(t, 10*time.Second, cfg.GetRetryMax())
	assert.Equal(t, time.Hour, cfg.GetSweepEvery())
}
