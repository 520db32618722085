package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the runtime configuration for one engine instance.
type Config struct {
	// APIAddr is the listen address for the REST API.
	APIAddr string `yaml:"api_addr"`

	// MetricsAddr is the listen address for /metrics and /healthz.
	MetricsAddr string `yaml:"metrics_addr"`

	// DataDir is the directory holding the bbolt database.
	DataDir string `yaml:"data_dir"`

	// DefaultActionTimeout is the timeout in seconds applied to actions
	// that do not carry one.
	DefaultActionTimeout int `yaml:"default_action_timeout"`

	// PeriodicInterval is the base interval in seconds for periodic work
	// (engine heartbeats, registry claims, health polling default).
	PeriodicInterval int `yaml:"periodic_interval"`

	// PeriodicIntervalMax caps jittered periodic intervals.
	PeriodicIntervalMax int `yaml:"periodic_interval_max"`

	// WorkersPerEngine bounds the action worker pool.
	WorkersPerEngine int `yaml:"workers_per_engine"`

	// LockRetention is the number of seconds after which a lock held by
	// an action whose engine stopped heartbeating may be stolen.
	LockRetention int `yaml:"lock_retention"`

	// EngineLifeCheckTimeout is the number of seconds without heartbeat
	// after which an engine is considered dead.
	EngineLifeCheckTimeout int `yaml:"engine_life_check_timeout"`

	// MaxResponseSize bounds list responses from the REST API.
	MaxResponseSize int `yaml:"max_response_size"`

	// MaxUpdateParallel bounds how many NODE_UPDATE children run
	// concurrently during CLUSTER_UPDATE.
	MaxUpdateParallel int `yaml:"max_update_parallel"`

	// LockRetryTimes and LockRetryInterval control lock acquisition
	// retries before giving up or stealing.
	LockRetryTimes    int `yaml:"lock_retry_times"`
	LockRetryInterval int `yaml:"lock_retry_interval"`

	// DispatchInterval is the idle poll interval of the dispatcher in
	// seconds; the dispatcher is also woken explicitly on action events.
	DispatchInterval int `yaml:"dispatch_interval"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		APIAddr:                ":8778",
		MetricsAddr:            ":9090",
		DataDir:                "/var/lib/grove",
		DefaultActionTimeout:   3600,
		PeriodicInterval:       60,
		PeriodicIntervalMax:    120,
		WorkersPerEngine:       16,
		LockRetention:          600,
		EngineLifeCheckTimeout: 120,
		MaxResponseSize:        1000,
		MaxUpdateParallel:      2,
		LockRetryTimes:         3,
		LockRetryInterval:      1,
		DispatchInterval:       1,
		LogLevel:               "info",
	}
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	strVar(&c.APIAddr, "GROVE_API_ADDR")
	strVar(&c.MetricsAddr, "GROVE_METRICS_ADDR")
	strVar(&c.DataDir, "GROVE_DATA_DIR")
	strVar(&c.LogLevel, "GROVE_LOG_LEVEL")
	intVar(&c.DefaultActionTimeout, "GROVE_DEFAULT_ACTION_TIMEOUT")
	intVar(&c.PeriodicInterval, "GROVE_PERIODIC_INTERVAL")
	intVar(&c.PeriodicIntervalMax, "GROVE_PERIODIC_INTERVAL_MAX")
	intVar(&c.WorkersPerEngine, "GROVE_WORKERS_PER_ENGINE")
	intVar(&c.LockRetention, "GROVE_LOCK_RETENTION")
	intVar(&c.EngineLifeCheckTimeout, "GROVE_ENGINE_LIFE_CHECK_TIMEOUT")
	intVar(&c.MaxResponseSize, "GROVE_MAX_RESPONSE_SIZE")
	intVar(&c.MaxUpdateParallel, "GROVE_MAX_UPDATE_PARALLEL")
}

// Validate checks value ranges that would break the engine at runtime.
func (c *Config) Validate() error {
	if c.WorkersPerEngine < 1 {
		return fmt.Errorf("workers_per_engine must be at least 1, got %d", c.WorkersPerEngine)
	}
	if c.DefaultActionTimeout < 1 {
		return fmt.Errorf("default_action_timeout must be positive, got %d", c.DefaultActionTimeout)
	}
	if c.PeriodicInterval < 1 {
		return fmt.Errorf("periodic_interval must be positive, got %d", c.PeriodicInterval)
	}
	if c.PeriodicIntervalMax < c.PeriodicInterval {
		c.PeriodicIntervalMax = 2 * c.PeriodicInterval
	}
	if c.MaxUpdateParallel < 1 {
		return fmt.Errorf("max_update_parallel must be at least 1, got %d", c.MaxUpdateParallel)
	}
	return nil
}

// LockRetentionDuration returns the lock retention window as a Duration.
func (c *Config) LockRetentionDuration() time.Duration {
	return time.Duration(c.LockRetention) * time.Second
}

// EngineLivenessWindow returns the window after which an engine without
// heartbeat is considered dead.
func (c *Config) EngineLivenessWindow() time.Duration {
	return time.Duration(c.EngineLifeCheckTimeout) * time.Second
}

func strVar(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func intVar(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
