// Package config loads service settings from flags, environment and an optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/example/latency-dashboard/internal/apperror"
)

const (
	// DefaultMetricType is the category tag used when none is given.
	DefaultMetricType = "learn"
	// DefaultScheduleTime is the local time of day the daily cycle fires.
	DefaultScheduleTime = "02:00"
	// DefaultUpstreamBaseURL points at the conversation/monitor API.
	DefaultUpstreamBaseURL = "https://robot-api.hacknao.edu.vn"
)

// Config is the resolved service configuration.
type Config struct {
	DBHost     string `mapstructure:"db_host"`
	DBPort     int    `mapstructure:"db_port"`
	DBName     string `mapstructure:"db_name"`
	DBUser     string `mapstructure:"db_user"`
	DBPassword string `mapstructure:"db_password"`
	DBSSLMode  string `mapstructure:"db_sslmode"`

	AuthToken    string `mapstructure:"auth_token"`
	MonitorToken string `mapstructure:"monitor_token"`

	MetricType       string        `mapstructure:"metric_type"`
	ScheduleTime     string        `mapstructure:"schedule_time"`
	SchedulerEnabled bool          `mapstructure:"scheduler_enabled"`
	CycleTimeout     time.Duration `mapstructure:"cycle_timeout"`

	UpstreamBaseURL       string        `mapstructure:"upstream_base_url"`
	UpstreamTimeout       time.Duration `mapstructure:"upstream_timeout"`
	UpstreamRetryAttempts int           `mapstructure:"upstream_retry_attempts"`
	FetchConcurrency      int           `mapstructure:"fetch_concurrency"`
	MaxRangeDays          int           `mapstructure:"max_range_days"`

	HTTPAddr       string `mapstructure:"http_addr"`
	GRPCHealthAddr string `mapstructure:"grpc_health_addr"`

	RedisAddr string        `mapstructure:"redis_addr"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`

	OperatorJWTSecret   string `mapstructure:"operator_jwt_secret"`
	OperatorJWTAudience string `mapstructure:"operator_jwt_audience"`

	LogLevel string `mapstructure:"log_level"`
}

// SetDefaults registers every key with its default so viper's AutomaticEnv can resolve it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_name", "latency_metrics")
	v.SetDefault("db_user", "postgres")
	v.SetDefault("db_password", "postgres")
	v.SetDefault("db_sslmode", "disable")
	v.SetDefault("auth_token", "")
	v.SetDefault("monitor_token", "")
	v.SetDefault("metric_type", DefaultMetricType)
	v.SetDefault("schedule_time", DefaultScheduleTime)
	v.SetDefault("scheduler_enabled", true)
	v.SetDefault("cycle_timeout", 2*time.Hour)
	v.SetDefault("upstream_base_url", DefaultUpstreamBaseURL)
	v.SetDefault("upstream_timeout", 15*time.Second)
	v.SetDefault("upstream_retry_attempts", 3)
	v.SetDefault("fetch_concurrency", 10)
	v.SetDefault("max_range_days", 31)
	v.SetDefault("http_addr", ":5001")
	v.SetDefault("grpc_health_addr", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("cache_ttl", 5*time.Minute)
	v.SetDefault("operator_jwt_secret", "")
	v.SetDefault("operator_jwt_audience", "")
	v.SetDefault("log_level", "info")
}

// New returns a viper instance wired to the environment with all defaults applied.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file and decodes everything into a Config.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperror.Wrap(apperror.KindConfig, err, "read config file %q", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperror.Wrap(apperror.KindConfig, err, "decode configuration")
	}
	cfg.MetricType = strings.TrimSpace(cfg.MetricType)
	cfg.AuthToken = strings.TrimSpace(cfg.AuthToken)
	cfg.MonitorToken = strings.TrimSpace(cfg.MonitorToken)
	return &cfg, nil
}

// Validate checks the settings every command needs. Upstream credentials are checked separately.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBHost) == "" {
		return apperror.New(apperror.KindConfig, "DB_HOST is required")
	}
	if c.DBPort <= 0 || c.DBPort > 65535 {
		return apperror.New(apperror.KindConfig, "DB_PORT must be between 1 and 65535, got %d", c.DBPort)
	}
	if strings.TrimSpace(c.DBName) == "" {
		return apperror.New(apperror.KindConfig, "DB_NAME is required")
	}
	if strings.TrimSpace(c.DBUser) == "" {
		return apperror.New(apperror.KindConfig, "DB_USER is required")
	}
	if c.MetricType == "" {
		return apperror.New(apperror.KindConfig, "METRIC_TYPE must not be empty")
	}
	if _, _, err := ParseScheduleTime(c.ScheduleTime); err != nil {
		return err
	}
	if c.UpstreamTimeout <= 0 {
		return apperror.New(apperror.KindConfig, "UPSTREAM_TIMEOUT must be positive")
	}
	if c.UpstreamRetryAttempts < 1 {
		return apperror.New(apperror.KindConfig, "UPSTREAM_RETRY_ATTEMPTS must be at least 1")
	}
	if c.FetchConcurrency < 1 || c.FetchConcurrency > 100 {
		return apperror.New(apperror.KindConfig, "FETCH_CONCURRENCY must be between 1 and 100")
	}
	if c.MaxRangeDays < 1 {
		return apperror.New(apperror.KindConfig, "MAX_RANGE_DAYS must be at least 1")
	}
	if c.CycleTimeout <= 0 {
		return apperror.New(apperror.KindConfig, "CYCLE_TIMEOUT must be positive")
	}
	return nil
}

// RequireUpstream is the credential check that must pass before any fetch is attempted.
func (c *Config) RequireUpstream() error {
	var missing []string
	if c.AuthToken == "" {
		missing = append(missing, "AUTH_TOKEN")
	}
	if c.MonitorToken == "" {
		missing = append(missing, "MONITOR_TOKEN")
	}
	if len(missing) > 0 {
		return apperror.New(apperror.KindConfig, "upstream credentials not configured: %s", strings.Join(missing, ", "))
	}
	return nil
}

// DSN renders the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

// ParseScheduleTime splits an HH:MM string into hour and minute.
func ParseScheduleTime(value string) (hour, minute int, err error) {
	t, parseErr := time.Parse("15:04", strings.TrimSpace(value))
	if parseErr != nil {
		return 0, 0, apperror.New(apperror.KindConfig, "SCHEDULE_TIME must be HH:MM, got %q", value)
	}
	return t.Hour(), t.Minute(), nil
}
