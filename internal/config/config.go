package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/authority-monitor/internal/perfbuffer"
	"github.com/sells-group/authority-monitor/internal/timewindow"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = eris.New("config: invalid configuration")

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Monitor     MonitorConfig     `yaml:"monitor" mapstructure:"monitor"`
	Performance PerformanceConfig `yaml:"performance" mapstructure:"performance"`
	History     HistoryConfig     `yaml:"history" mapstructure:"history"`
	Authority   AuthorityConfig   `yaml:"authority" mapstructure:"authority"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig selects the results database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig configures the cache coordinator backend.
type CacheConfig struct {
	Backend              string `yaml:"backend" mapstructure:"backend"`
	RedisAddr            string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword        string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB              int    `yaml:"redis_db" mapstructure:"redis_db"`
	RaceConditionTTLSecs int    `yaml:"race_condition_ttl_secs" mapstructure:"race_condition_ttl_secs"`
	JobLockMinutes       int    `yaml:"job_lock_minutes" mapstructure:"job_lock_minutes"`
	SummaryCacheTTLMins  int    `yaml:"summary_cache_ttl_mins" mapstructure:"summary_cache_ttl_mins"`
}

// MonitorConfig drives the scenario runner and the daily cache boundary.
type MonitorConfig struct {
	ScenariosDir            string `yaml:"scenarios_dir" mapstructure:"scenarios_dir"`
	PreferredTimeZone       string `yaml:"preferred_time_zone" mapstructure:"preferred_time_zone"`
	HourOffsetToExpireCache int    `yaml:"hour_offset_to_expire_cache" mapstructure:"hour_offset_to_expire_cache"`
	Concurrency             int    `yaml:"concurrency" mapstructure:"concurrency"`
	CheckIntervalSecs       int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// PerformanceConfig configures sample collection and aggregation.
type PerformanceConfig struct {
	Enabled              bool     `yaml:"enabled" mapstructure:"enabled"`
	BufferMaxSize        string   `yaml:"buffer_max_size" mapstructure:"buffer_max_size"`
	DatatableWindow      string   `yaml:"datatable_window" mapstructure:"datatable_window"`
	GraphDir             string   `yaml:"graph_dir" mapstructure:"graph_dir"`
	RefreshCurrentBucket []string `yaml:"refresh_current_bucket" mapstructure:"refresh_current_bucket"`
	// FlushIntervalSecs schedules a periodic buffer flush; 0 disables it.
	FlushIntervalSecs int `yaml:"flush_interval_secs" mapstructure:"flush_interval_secs"`
}

// HistoryConfig configures the pass/fail and up/down summaries.
type HistoryConfig struct {
	Window     string `yaml:"window" mapstructure:"window"`
	UpDownDays int    `yaml:"updown_days" mapstructure:"updown_days"`
}

// AuthorityConfig configures the HTTP client for the monitored service.
type AuthorityConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// MonitoringConfig configures alerting on run outcomes.
type MonitoringConfig struct {
	WebhookURL                string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailingAuthorityThreshold float64 `yaml:"failing_authority_threshold" mapstructure:"failing_authority_threshold"`
	CheckIntervalSecs         int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment, then validates it.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AUTHMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "authority-monitor.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.race_condition_ttl_secs", 30)
	v.SetDefault("cache.job_lock_minutes", 120)
	v.SetDefault("cache.summary_cache_ttl_mins", 10)
	v.SetDefault("monitor.scenarios_dir", "scenarios")
	v.SetDefault("monitor.preferred_time_zone", "America/New_York")
	v.SetDefault("monitor.hour_offset_to_expire_cache", 3)
	v.SetDefault("monitor.concurrency", 4)
	v.SetDefault("monitor.check_interval_secs", 3600)
	v.SetDefault("performance.enabled", true)
	v.SetDefault("performance.buffer_max_size", perfbuffer.DefaultMaxSize)
	v.SetDefault("performance.datatable_window", string(timewindow.Month))
	v.SetDefault("performance.graph_dir", "graphs")
	v.SetDefault("performance.refresh_current_bucket", []string{string(timewindow.Day)})
	v.SetDefault("performance.flush_interval_secs", 0)
	v.SetDefault("history.window", string(timewindow.Month))
	v.SetDefault("history.updown_days", 30)
	v.SetDefault("authority.base_url", "http://localhost:3000/authorities")
	v.SetDefault("authority.timeout_secs", 30)
	v.SetDefault("authority.rate_per_sec", 5.0)
	v.SetDefault("authority.max_retries", 3)
	v.SetDefault("monitoring.failing_authority_threshold", 0.25)
	v.SetDefault("monitoring.check_interval_secs", 300)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem at once, wrapped around ErrInvalidConfig.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		problems = append(problems, fmt.Sprintf("cache.backend %q must be memory or redis", c.Cache.Backend))
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		problems = append(problems, "cache.redis_addr is required for the redis backend")
	}
	if c.Monitor.HourOffsetToExpireCache < 0 || c.Monitor.HourOffsetToExpireCache > 23 {
		problems = append(problems, "monitor.hour_offset_to_expire_cache must be between 0 and 23")
	}
	if _, err := time.LoadLocation(c.Monitor.PreferredTimeZone); err != nil {
		problems = append(problems, fmt.Sprintf("monitor.preferred_time_zone %q is not a known zone", c.Monitor.PreferredTimeZone))
	}
	if c.Monitor.Concurrency < 1 || c.Monitor.Concurrency > 64 {
		problems = append(problems, "monitor.concurrency must be between 1 and 64")
	}
	if _, err := perfbuffer.ParseSize(c.Performance.BufferMaxSize); err != nil {
		problems = append(problems, fmt.Sprintf("performance.buffer_max_size %q is not a positive size", c.Performance.BufferMaxSize))
	}
	if _, err := timewindow.Parse(c.Performance.DatatableWindow); err != nil {
		problems = append(problems, fmt.Sprintf("performance.datatable_window %q is not a window", c.Performance.DatatableWindow))
	}
	for _, w := range c.Performance.RefreshCurrentBucket {
		if _, err := timewindow.Parse(w); err != nil {
			problems = append(problems, fmt.Sprintf("performance.refresh_current_bucket %q is not a window", w))
		}
	}
	if c.Performance.FlushIntervalSecs < 0 {
		problems = append(problems, "performance.flush_interval_secs must be >= 0")
	}
	if _, err := timewindow.Parse(c.History.Window); err != nil {
		problems = append(problems, fmt.Sprintf("history.window %q is not a window", c.History.Window))
	}
	if c.History.UpDownDays < 1 {
		problems = append(problems, "history.updown_days must be > 0")
	}
	if t := c.Monitoring.FailingAuthorityThreshold; t < 0 || t > 1 {
		problems = append(problems, "monitoring.failing_authority_threshold must be between 0 and 1")
	}
	if c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}

	if len(problems) > 0 {
		return eris.Wrap(ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Location returns the preferred time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Monitor.PreferredTimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// BufferBytes returns the write buffer ceiling, falling back to the default.
func (c *Config) BufferBytes() int64 {
	n, err := perfbuffer.ParseSize(c.Performance.BufferMaxSize)
	if err != nil {
		n, _ = perfbuffer.ParseSize(perfbuffer.DefaultMaxSize)
	}
	return n
}

// RefreshWindows returns the configured refresh_current_bucket windows.
func (c *Config) RefreshWindows() []timewindow.Window {
	out := make([]timewindow.Window, 0, len(c.Performance.RefreshCurrentBucket))
	for _, s := range c.Performance.RefreshCurrentBucket {
		if w, err := timewindow.Parse(s); err == nil {
			out = append(out, w)
		}
	}
	return out
}

// DatatableWindowValue parses performance.datatable_window.
func (c *Config) DatatableWindowValue() (timewindow.Window, error) {
	w, err := timewindow.Parse(c.Performance.DatatableWindow)
	return w, eris.Wrap(err, "config: performance.datatable_window")
}

// HistoryWindow parses history.window.
func (c *Config) HistoryWindow() (timewindow.Window, error) {
	w, err := timewindow.Parse(c.History.Window)
	return w, eris.Wrap(err, "config: history.window")
}

// FlushInterval returns the periodic flush interval; zero means disabled.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Performance.FlushIntervalSecs) * time.Second
}

// RaceConditionTTL returns the cache race window as a duration.
func (c *Config) RaceConditionTTL() time.Duration {
	return time.Duration(c.Cache.RaceConditionTTLSecs) * time.Second
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
