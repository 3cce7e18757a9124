package config

import (
	"errors"
	"log/slog"
	"net/netip"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/backbone/internal/httpserver"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	BalancingRoundRobin    = "round-robin"
	BalancingRandom        = "random"
	BalancingLeastResponse = "least-response"
)

// EnvPrefix is prepended to every environment override, for example
// BACKBONE_WEBHOOK_MAX_RETRIES.
const EnvPrefix = "BACKBONE"

var idPrefixPattern = regexp.MustCompile(`^[a-z0-9]+$`)

type ServerConfig struct {
	Address         string `mapstructure:"address" json:"address"`
	Environment     string `mapstructure:"environment" json:"environment"`
	ReadTimeout     string `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout    string `mapstructure:"write_timeout" json:"write_timeout"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level" json:"level"`
	AddSource bool   `mapstructure:"add_source" json:"add_source"`
}

type RegistryConfig struct {
	Capacity int    `mapstructure:"capacity" json:"capacity"`
	IDPrefix string `mapstructure:"id_prefix" json:"id_prefix"`
}

type HealthCheckConfig struct {
	Interval           string  `mapstructure:"interval" json:"interval"`
	Timeout            string  `mapstructure:"timeout" json:"timeout"`
	ResponseTimeBudget string  `mapstructure:"response_time_budget" json:"response_time_budget"`
	MemoryBudgetMB     float64 `mapstructure:"memory_budget_mb" json:"memory_budget_mb"`
	StartOnBoot        bool    `mapstructure:"start_on_boot" json:"start_on_boot"`
}

type WebhookConfig struct {
	QueueCapacity   int    `mapstructure:"queue_capacity" json:"queue_capacity"`
	ProcessInterval string `mapstructure:"process_interval" json:"process_interval"`
	MaxRetries      int    `mapstructure:"max_retries" json:"max_retries"`
	DeliveryTimeout string `mapstructure:"delivery_timeout" json:"delivery_timeout"`
	HistorySize     int    `mapstructure:"history_size" json:"history_size"`
	Balancing       string `mapstructure:"balancing" json:"balancing"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int    `mapstructure:"failure_threshold" json:"failure_threshold"`
	ResetTimeout     string `mapstructure:"reset_timeout" json:"reset_timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64  `mapstructure:"requests_per_second" json:"requests_per_second"`
	Burst             int      `mapstructure:"burst" json:"burst"`
	MaxClients        int      `mapstructure:"max_clients" json:"max_clients"`
	TrustedProxies    []string `mapstructure:"trusted_proxies" json:"trusted_proxies"`
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size" json:"buffer_size"`
	MaxSources int `mapstructure:"max_sources" json:"max_sources"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server" json:"server"`
	Logging        LoggingConfig        `mapstructure:"logging" json:"logging"`
	Registry       RegistryConfig       `mapstructure:"registry" json:"registry"`
	HealthCheck    HealthCheckConfig    `mapstructure:"health_check" json:"health_check"`
	Webhook        WebhookConfig        `mapstructure:"webhook" json:"webhook"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" json:"circuit_breaker"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit" json:"rate_limit"`
	Metrics        MetricsConfig        `mapstructure:"metrics" json:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":3000")
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.add_source", false)

	v.SetDefault("registry.capacity", 50)
	v.SetDefault("registry.id_prefix", "bb")

	v.SetDefault("health_check.interval", "30s")
	v.SetDefault("health_check.timeout", "5s")
	v.SetDefault("health_check.response_time_budget", "100ms")
	v.SetDefault("health_check.memory_budget_mb", 50)
	v.SetDefault("health_check.start_on_boot", true)

	v.SetDefault("webhook.queue_capacity", 1000)
	v.SetDefault("webhook.process_interval", "1s")
	v.SetDefault("webhook.max_retries", 3)
	v.SetDefault("webhook.delivery_timeout", "10s")
	v.SetDefault("webhook.history_size", 200)
	v.SetDefault("webhook.balancing", BalancingRoundRobin)

	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.reset_timeout", "30s")

	v.SetDefault("rate_limit.requests_per_second", 50)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("rate_limit.max_clients", 10000)
	v.SetDefault("rate_limit.trusted_proxies", []string{})

	v.SetDefault("metrics.buffer_size", 1000)
	v.SetDefault("metrics.max_sources", 100)
}

// Load reads config.yaml from ./config or the working directory, then
// applies environment overrides.
func Load() (*Config, error) {
	return LoadFrom("./config", ".")
}

// LoadFrom is Load with explicit search paths. A missing file is not an
// error; defaults and environment variables still apply.
func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Logging),
		validation.Field(&c.Registry),
		validation.Field(&c.HealthCheck),
		validation.Field(&c.Webhook),
		validation.Field(&c.CircuitBreaker),
		validation.Field(&c.RateLimit),
		validation.Field(&c.Metrics),
	)
}

func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Environment,
			validation.Required,
			validation.In(EnvDev, EnvStaging, EnvProd),
		),
		validation.Field(&s.Address,
			validation.Required,
			validation.By(httpserver.ValidateAddress),
		),
		validation.Field(&s.ReadTimeout, validation.Required, validation.By(validateDuration)),
		validation.Field(&s.WriteTimeout, validation.Required, validation.By(validateDuration)),
		validation.Field(&s.ShutdownTimeout, validation.Required, validation.By(validateDuration)),
	)
}

func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level,
			validation.Required,
			validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
		),
	)
}

func (r RegistryConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&r.IDPrefix, validation.Required, validation.Match(idPrefixPattern)),
	)
}

func (h HealthCheckConfig) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.Interval, validation.Required, validation.By(validateDuration)),
		validation.Field(&h.Timeout, validation.Required, validation.By(validateDuration)),
		validation.Field(&h.ResponseTimeBudget, validation.Required, validation.By(validateDuration)),
		validation.Field(&h.MemoryBudgetMB, validation.Required, validation.Min(float64(1))),
	)
}

func (w WebhookConfig) Validate() error {
	return validation.ValidateStruct(&w,
		validation.Field(&w.QueueCapacity, validation.Required, validation.Min(1)),
		validation.Field(&w.ProcessInterval, validation.Required, validation.By(validateDuration)),
		validation.Field(&w.MaxRetries, validation.Min(0)),
		validation.Field(&w.DeliveryTimeout, validation.Required, validation.By(validateDuration)),
		validation.Field(&w.HistorySize, validation.Required, validation.Min(1)),
		validation.Field(&w.Balancing,
			validation.Required,
			validation.In(BalancingRoundRobin, BalancingRandom, BalancingLeastResponse),
		),
	)
}

func (c CircuitBreakerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.FailureThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.ResetTimeout, validation.Required, validation.By(validateDuration)),
	)
}

func (r RateLimitConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RequestsPerSecond, validation.Required, validation.Min(float64(0.001))),
		validation.Field(&r.Burst, validation.Required, validation.Min(1)),
		validation.Field(&r.MaxClients, validation.Required, validation.Min(1)),
		validation.Field(&r.TrustedProxies, validation.Each(validation.By(validateProxy))),
	)
}

// validateProxy accepts a CIDR range or a bare address.
func validateProxy(value interface{}) error {
	proxy, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if strings.Contains(proxy, "/") {
		if _, err := netip.ParsePrefix(proxy); err != nil {
			return validation.NewError("validation_invalid_cidr", "must be a valid CIDR range")
		}
		return nil
	}

	if _, err := netip.ParseAddr(proxy); err != nil {
		return validation.NewError("validation_invalid_ip", "must be a valid IP address or CIDR range")
	}
	return nil
}

func (m MetricsConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.BufferSize, validation.Required, validation.Min(1)),
		validation.Field(&m.MaxSources, validation.Required, validation.Min(1)),
	)
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	if d <= 0 {
		return validation.NewError("validation_invalid_duration", "must be positive")
	}

	return nil
}

// duration parses a value already accepted by Validate.
func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func (s ServerConfig) ReadTimeoutDuration() time.Duration     { return duration(s.ReadTimeout) }
func (s ServerConfig) WriteTimeoutDuration() time.Duration    { return duration(s.WriteTimeout) }
func (s ServerConfig) ShutdownTimeoutDuration() time.Duration { return duration(s.ShutdownTimeout) }

func (h HealthCheckConfig) IntervalDuration() time.Duration { return duration(h.Interval) }
func (h HealthCheckConfig) TimeoutDuration() time.Duration  { return duration(h.Timeout) }
func (h HealthCheckConfig) ResponseTimeBudgetDuration() time.Duration {
	return duration(h.ResponseTimeBudget)
}

func (w WebhookConfig) ProcessIntervalDuration() time.Duration { return duration(w.ProcessInterval) }
func (w WebhookConfig) DeliveryTimeoutDuration() time.Duration { return duration(w.DeliveryTimeout) }

func (c CircuitBreakerConfig) ResetTimeoutDuration() time.Duration { return duration(c.ResetTimeout) }
