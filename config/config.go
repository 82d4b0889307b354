package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Push      PushConfig      `yaml:"push"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// EvaluatorConfig holds the periodic usage evaluation configuration.
// Timezone is the single canonical zone all window arithmetic runs in;
// operator display zones are a rendering concern of the dashboard.
type EvaluatorConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"` // Ignored by YAML parser
	Timezone        string        `yaml:"timezone"`
}

// DispatchConfig holds the command gateway and worker pool configuration.
type DispatchConfig struct {
	GatewayURL          string            `yaml:"gateway_url"`
	Headers             map[string]string `yaml:"headers"`
	TimeoutSeconds      int               `yaml:"timeout_seconds"`
	WorkerPoolSize      int               `yaml:"worker_pool_size"`
	MaxResends          int               `yaml:"max_resends"`
	RetryDelaySeconds   int               `yaml:"retry_delay_seconds"`
	NotifyPoolSize      int               `yaml:"notify_pool_size"`
	DefaultQueueSeconds int               `yaml:"default_queue_seconds"`
}

// PushConfig holds the VAPID keys for operator web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// LogConfig holds the logger configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Evaluator.IntervalSeconds <= 0 {
		cfg.Evaluator.IntervalSeconds = 60
	}
	cfg.Evaluator.Interval = time.Duration(cfg.Evaluator.IntervalSeconds) * time.Second

	if cfg.Evaluator.Timezone == "" {
		cfg.Evaluator.Timezone = "UTC"
	}

	if cfg.Dispatch.TimeoutSeconds <= 0 {
		cfg.Dispatch.TimeoutSeconds = 10
	}
	if cfg.Dispatch.WorkerPoolSize <= 0 {
		cfg.Dispatch.WorkerPoolSize = 1
	}
	if cfg.Dispatch.NotifyPoolSize <= 0 {
		cfg.Dispatch.NotifyPoolSize = 1
	}
	if cfg.Dispatch.MaxResends <= 0 {
		cfg.Dispatch.MaxResends = 3
	}
	if cfg.Dispatch.RetryDelaySeconds <= 0 {
		cfg.Dispatch.RetryDelaySeconds = 15
	}
	if cfg.Dispatch.DefaultQueueSeconds <= 0 {
		cfg.Dispatch.DefaultQueueSeconds = 300
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	return &cfg, nil
}
