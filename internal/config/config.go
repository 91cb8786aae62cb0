package config

import (
	"time"
)

// Config represents the complete application configuration. Values come from
// compiled defaults, then the YAML config file, then FETCHGUARD_* environment
// variables and command-line flags.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Health     HealthConfig     `mapstructure:"health" yaml:"health"`
	Supervisor SupervisorConfig `mapstructure:"supervisor" yaml:"supervisor"`
	Stream     StreamConfig     `mapstructure:"stream" yaml:"stream"`
	Client     ClientConfig     `mapstructure:"client" yaml:"client"`
	Debug      DebugConfig      `mapstructure:"debug" yaml:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`

	// Environment is attached to every structured log record
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the dedicated Prometheus exporter port; /metrics on the main
	// server proxies to it
	Port int `mapstructure:"port" yaml:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// SupervisorConfig tunes the outbound request supervisor.
type SupervisorConfig struct {
	RatePerSecond  int           `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	CacheEnabled   bool          `mapstructure:"cache_enabled" yaml:"cache_enabled"`
	CacheSize      int           `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	LogLimit       int           `mapstructure:"log_limit" yaml:"log_limit"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// StreamConfig tunes the inbound request stream.
type StreamConfig struct {
	IntervalMs int `mapstructure:"interval_ms" yaml:"interval_ms"`
	BatchSize  int `mapstructure:"batch_size" yaml:"batch_size"`
	MaxBuffer  int `mapstructure:"max_buffer" yaml:"max_buffer"`
}

// ClientConfig is used by commands that talk to a running server.
type ClientConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// PprofEnabled mounts chi's profiler under /debug
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled" yaml:"pprof_enabled"`
}
