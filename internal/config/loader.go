// Package config loads fetchguard configuration through viper: compiled
// defaults, an optional YAML file in the XDG config directory, and
// FETCHGUARD_* environment variables (dots become underscores, so
// supervisor.rate_per_second is FETCHGUARD_SUPERVISOR_RATE_PER_SECOND).
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/fetchguard/fetchguard/internal/appid"
	"github.com/fetchguard/fetchguard/internal/reqstream"
	"github.com/fetchguard/fetchguard/internal/supervisor"
)

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// SetDefaults registers every known key with its default. Keys must be known
// to viper for environment variables to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.environment", "production")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)

	v.SetDefault("supervisor.rate_per_second", supervisor.DefaultRatePerSecond)
	v.SetDefault("supervisor.cache_enabled", true)
	v.SetDefault("supervisor.cache_size", supervisor.DefaultCacheSize)
	v.SetDefault("supervisor.cache_ttl", "0s")
	v.SetDefault("supervisor.max_attempts", supervisor.DefaultMaxAttempts)
	v.SetDefault("supervisor.initial_backoff", supervisor.DefaultInitialBackoff.String())
	v.SetDefault("supervisor.max_backoff", supervisor.DefaultMaxBackoff.String())
	v.SetDefault("supervisor.log_limit", supervisor.DefaultLogLimit)
	v.SetDefault("supervisor.timeout", supervisor.DefaultTimeout.String())
	v.SetDefault("supervisor.user_agent", appid.Default().BinaryName)

	v.SetDefault("stream.interval_ms", reqstream.DefaultIntervalMs)
	v.SetDefault("stream.batch_size", reqstream.DefaultBatchSize)
	v.SetDefault("stream.max_buffer", reqstream.DefaultMaxBuffer)

	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.timeout", "10s")

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
}

// BindEnv wires FETCHGUARD_* environment variables into v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(appid.Default().ViperPrefix())
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// ConfigurePaths points v at cfgFile, or at the XDG config directory and
// ./config when cfgFile is empty.
func ConfigurePaths(v *viper.Viper, cfgFile string) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		return
	}

	identity := appid.Default()
	if dir := gfconfig.GetAppConfigDir(identity.ConfigName); dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath("./config")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// ReadFile reads the configured file. A missing file is not an error; found
// reports whether one was read.
func ReadFile(v *viper.Viper) (found bool, err error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("read config file: %w", err)
	}
	return true, nil
}

// Load decodes v into a Config, validates it, and stores it for GetConfig.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// New builds a viper instance with defaults, env binding, and file paths, reads
// the file if present, and loads the result.
func New(cfgFile string) (*Config, *viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	ConfigurePaths(v, cfgFile)
	if _, err := ReadFile(v); err != nil {
		return nil, v, err
	}
	cfg, err := Load(v)
	return cfg, v, err
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		problems = append(problems, fmt.Sprintf("metrics.port %d out of range", c.Metrics.Port))
	}
	if c.Supervisor.RatePerSecond < 1 {
		problems = append(problems, "supervisor.rate_per_second must be at least 1")
	}
	if c.Supervisor.MaxAttempts < 1 {
		problems = append(problems, "supervisor.max_attempts must be at least 1")
	}
	if c.Supervisor.CacheTTL < 0 {
		problems = append(problems, "supervisor.cache_ttl must not be negative")
	}
	if c.Stream.IntervalMs < 1 || c.Stream.BatchSize < 1 || c.Stream.MaxBuffer < 1 {
		problems = append(problems, "stream.interval_ms, stream.batch_size and stream.max_buffer must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SupervisorOptions converts the supervisor section for supervisor.New.
func (c *Config) SupervisorOptions() supervisor.Config {
	s := c.Supervisor
	return supervisor.Config{
		RatePerSecond: s.RatePerSecond,
		CacheEnabled:  s.CacheEnabled,
		CacheSize:     s.CacheSize,
		CacheTTL:      s.CacheTTL,
		Retry: supervisor.RetryPolicy{
			MaxAttempts:    s.MaxAttempts,
			InitialBackoff: s.InitialBackoff,
			MaxBackoff:     s.MaxBackoff,
		},
		LogLimit:  s.LogLimit,
		Timeout:   s.Timeout,
		UserAgent: s.UserAgent,
	}
}

// StreamOptions converts the stream section for reqstream.NewBuffer.
func (c *Config) StreamOptions() reqstream.Config {
	return reqstream.Config{
		IntervalMs: c.Stream.IntervalMs,
		BatchSize:  c.Stream.BatchSize,
		MaxBuffer:  c.Stream.MaxBuffer,
	}
}

// ClientTimeout returns the remote command timeout with a sane floor.
func (c *Config) ClientTimeout() time.Duration {
	if c.Client.Timeout <= 0 {
		return 10 * time.Second
	}
	return c.Client.Timeout
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(appid.Default().ConfigName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}
