package config

// StoreConfig selects and configures the durable state backend.
type StoreConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"` // sqlite, postgres, memory
	Driver  string `yaml:"driver" env:"DRIVER"`   // sqlite (pure Go) or sqlite3 (cgo)
	Path    string `yaml:"path" env:"PATH"`
	DSN     string `yaml:"dsn" env:"DSN"`
}

// RedisConfig configures the Redis connection shared by the scheduler and
// the conversation cache.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}
