// Package config loads harvester configuration from an optional YAML file
// and HARVEST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/Sternrassler/issue-harvester/pkg/client"
	"github.com/Sternrassler/issue-harvester/pkg/logging"
	"github.com/Sternrassler/issue-harvester/pkg/pagination"
	"github.com/Sternrassler/issue-harvester/pkg/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. HARVEST_API_ENDPOINT.
const EnvPrefix = "HARVEST"

// Config is the complete harvester configuration.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Storage StorageConfig `mapstructure:"storage"`
	Run     RunConfig     `mapstructure:"run"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// APIConfig describes the remote search endpoint.
type APIConfig struct {
	Endpoint       string            `mapstructure:"endpoint" validate:"required,url"`
	FilterParam    string            `mapstructure:"filter_param" validate:"required"`
	FilterTemplate string            `mapstructure:"filter_template"`
	ExtraParams    map[string]string `mapstructure:"extra_params"`
	UserAgent      string            `mapstructure:"user_agent" validate:"required"`
	Timeout        time.Duration     `mapstructure:"timeout" validate:"gt=0"`
	PageSize       int               `mapstructure:"page_size" validate:"min=1,max=100"`

	// RequestsPerSecond caps requests across all collections. Zero disables it.
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	PolitenessDelay   time.Duration `mapstructure:"politeness_delay" validate:"gte=0"`
}

// RetryConfig mirrors client.RetryConfig.
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries" validate:"gte=0"`
	InitialDelay    time.Duration `mapstructure:"initial_delay" validate:"gte=0"`
	ExponentialBase float64       `mapstructure:"exponential_base" validate:"gte=1"`
	MaxDelay        time.Duration `mapstructure:"max_delay" validate:"gte=0"`
	RateLimitDelay  time.Duration `mapstructure:"rate_limit_delay" validate:"gte=0"`
}

// StorageConfig selects the checkpoint and page backends.
type StorageConfig struct {
	CheckpointBackend string `mapstructure:"checkpoint_backend" validate:"oneof=file redis"`
	CheckpointPath    string `mapstructure:"checkpoint_path"`
	PageBackend       string `mapstructure:"page_backend" validate:"oneof=fs sqlite redis"`
	PagesDir          string `mapstructure:"pages_dir"`
	SQLitePath        string `mapstructure:"sqlite_path"`
	RedisAddr         string `mapstructure:"redis_addr"`
	RedisDB           int    `mapstructure:"redis_db" validate:"gte=0"`
	RedisPrefix       string `mapstructure:"redis_prefix"`

	WriteRetries    int           `mapstructure:"write_retries" validate:"gte=0"`
	WriteRetryDelay time.Duration `mapstructure:"write_retry_delay" validate:"gte=0"`
}

// UsesRedis reports whether any backend needs a Redis connection.
func (s StorageConfig) UsesRedis() bool {
	return s.CheckpointBackend == "redis" || s.PageBackend == "redis"
}

// RunConfig selects what a harvest covers.
type RunConfig struct {
	Collections []string `mapstructure:"collections"`
	MaxItems    int      `mapstructure:"max_items" validate:"gte=0"`
	Workers     int      `mapstructure:"workers" validate:"min=1"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Pretty bool   `mapstructure:"pretty"`
}

type MetricsConfig struct {
	// Listen is the address serving /metrics. Empty disables the server.
	Listen string `mapstructure:"listen"`
}

type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Insecure    bool   `mapstructure:"insecure"`
}

func setDefaults(v *viper.Viper) {
	retry := client.DefaultRetryConfig()
	ctrl := pagination.DefaultConfig()

	v.SetDefault("api.endpoint", "")
	v.SetDefault("api.filter_param", "jql")
	v.SetDefault("api.filter_template", "project=%s")
	v.SetDefault("api.extra_params", map[string]string{})
	v.SetDefault("api.user_agent", "issue-harvester/1.0")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.page_size", ctrl.PageSize)
	v.SetDefault("api.requests_per_second", 0.0)
	v.SetDefault("api.politeness_delay", ctrl.PoliteDelay)

	v.SetDefault("retry.max_retries", retry.MaxRetries)
	v.SetDefault("retry.initial_delay", retry.InitialDelay)
	v.SetDefault("retry.exponential_base", retry.ExponentialBase)
	v.SetDefault("retry.max_delay", retry.MaxDelay)
	v.SetDefault("retry.rate_limit_delay", retry.RateLimitDelay)

	v.SetDefault("storage.checkpoint_backend", "file")
	v.SetDefault("storage.checkpoint_path", "data/checkpoints.json")
	v.SetDefault("storage.page_backend", "fs")
	v.SetDefault("storage.pages_dir", "data/raw")
	v.SetDefault("storage.sqlite_path", "data/pages.db")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_prefix", "")
	v.SetDefault("storage.write_retries", ctrl.WriteRetries)
	v.SetDefault("storage.write_retry_delay", ctrl.WriteRetryDelay)

	v.SetDefault("run.collections", []string{})
	v.SetDefault("run.max_items", 0)
	v.SetDefault("run.workers", 1)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)

	v.SetDefault("metrics.listen", "")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", telemetry.DefaultServiceName)
	v.SetDefault("tracing.insecure", true)
}

// Load reads the YAML file at path (optional when empty), overlays HARVEST_*
// environment variables and applies defaults. The result is not validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and backend requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation error: %w", err)
	}

	var errs []error
	if c.Storage.UsesRedis() && c.Storage.RedisAddr == "" {
		errs = append(errs, errors.New("storage.redis_addr is required for redis backends"))
	}
	if c.Storage.CheckpointBackend == "file" && c.Storage.CheckpointPath == "" {
		errs = append(errs, errors.New("storage.checkpoint_path is required for the file backend"))
	}
	switch c.Storage.PageBackend {
	case "fs":
		if c.Storage.PagesDir == "" {
			errs = append(errs, errors.New("storage.pages_dir is required for the fs backend"))
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite backend"))
		}
	}
	if strings.Count(c.API.FilterTemplate, "%s") > 1 {
		errs = append(errs, errors.New("api.filter_template may contain at most one %s"))
	}
	return errors.Join(errs...)
}

// ClientConfig returns the fetch client configuration.
func (c *Config) ClientConfig() client.Config {
	extra := url.Values{}
	for k, v := range c.API.ExtraParams {
		extra.Set(k, v)
	}

	return client.Config{
		Endpoint:    c.API.Endpoint,
		FilterParam: c.API.FilterParam,
		ExtraParams: extra,
		UserAgent:   c.API.UserAgent,
		Timeout:     c.API.Timeout,
		Retry: client.RetryConfig{
			MaxRetries:      c.Retry.MaxRetries,
			InitialDelay:    c.Retry.InitialDelay,
			ExponentialBase: c.Retry.ExponentialBase,
			MaxDelay:        c.Retry.MaxDelay,
			RateLimitDelay:  c.Retry.RateLimitDelay,
		},
	}
}

// ControllerConfig returns the pagination controller configuration.
func (c *Config) ControllerConfig() pagination.Config {
	return pagination.Config{
		PageSize:        c.API.PageSize,
		MaxItems:        c.Run.MaxItems,
		WriteRetries:    c.Storage.WriteRetries,
		WriteRetryDelay: c.Storage.WriteRetryDelay,
		PoliteDelay:     c.API.PolitenessDelay,
	}
}

// LoggerConfig returns the logging setup for the configured level.
func (c *Config) LoggerConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Logging.Level); err == nil {
		cfg.Level = level
	}
	cfg.Pretty = c.Logging.Pretty
	return cfg
}

// TelemetryConfig returns the trace exporter configuration.
func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Endpoint:    c.Tracing.Endpoint,
		ServiceName: c.Tracing.ServiceName,
		Insecure:    c.Tracing.Insecure,
	}
}
