package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the pbxnotify service.
type Config struct {
	Server        ServerConfig       `mapstructure:"server"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Cache         CacheConfig        `mapstructure:"cache"`
	Auth          AuthConfig         `mapstructure:"auth"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Channels      ChannelsConfig     `mapstructure:"channels"`
	Monitoring    MonitoringConfig   `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port      int      `mapstructure:"port"`
	LogLevel  string   `mapstructure:"log_level"`
	LogFormat string   `mapstructure:"log_format"`
	CORS      []string `mapstructure:"cors_origins"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures bearer token validation settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// NotificationConfig tunes the fan-out engine and polling surface.
type NotificationConfig struct {
	SessionTimeout   time.Duration   `mapstructure:"session_timeout"`
	Promotion        PromotionConfig `mapstructure:"promotion"`
	Dispatch         DispatchConfig  `mapstructure:"dispatch"`
	CachePurgeSpec   string          `mapstructure:"cache_purge_schedule"`
	AuditSchedule    string          `mapstructure:"audit_schedule"`
	AuditRetention   int             `mapstructure:"audit_retention_days"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit"`
	HeartbeatRecent  int             `mapstructure:"heartbeat_recent"`
	DefaultPageLimit int             `mapstructure:"default_page_limit"`
}

// PromotionConfig controls the scheduled notification sweep.
type PromotionConfig struct {
	Schedule  string `mapstructure:"schedule"`
	BatchSize int    `mapstructure:"batch_size"`
}

// DispatchConfig controls out-of-band channel delivery retries.
type DispatchConfig struct {
	Schedule    string        `mapstructure:"schedule"`
	BatchSize   int           `mapstructure:"batch_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	Lease       time.Duration `mapstructure:"lease"`
}

// RateLimitConfig bounds polling requests per identity.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// ChannelsConfig groups the out-of-band channel backends.
type ChannelsConfig struct {
	Email EmailConfig `mapstructure:"email"`
	SMS   SMSConfig   `mapstructure:"sms"`
	Push  PushConfig  `mapstructure:"push"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SMSConfig captures outbound SMS settings.
type SMSConfig struct {
	Twilio TwilioConfig `mapstructure:"twilio"`
}

// TwilioConfig configures the Twilio REST client.
type TwilioConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	AccountSID    string        `mapstructure:"account_sid"`
	AuthToken     string        `mapstructure:"auth_token"`
	From          string        `mapstructure:"from"`
	DefaultRegion string        `mapstructure:"default_region"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// PushConfig captures push gateway settings.
type PushConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig configures the push gateway topic.
type KafkaConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Brokers []string      `mapstructure:"brokers"`
	Topic   string        `mapstructure:"topic"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("PBXNOTIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/pbxnotify.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.jwt.issuer", "pbxnotify")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")

	v.SetDefault("notifications.session_timeout", "30m")
	v.SetDefault("notifications.promotion.schedule", "@every 15s")
	v.SetDefault("notifications.promotion.batch_size", 100)
	v.SetDefault("notifications.dispatch.schedule", "@every 30s")
	v.SetDefault("notifications.dispatch.batch_size", 50)
	v.SetDefault("notifications.dispatch.max_attempts", 5)
	v.SetDefault("notifications.dispatch.base_backoff", "30s")
	v.SetDefault("notifications.dispatch.max_backoff", "30m")
	v.SetDefault("notifications.dispatch.lease", "2m")
	v.SetDefault("notifications.cache_purge_schedule", "@hourly")
	v.SetDefault("notifications.audit_schedule", "@daily")
	v.SetDefault("notifications.audit_retention_days", 90)
	v.SetDefault("notifications.rate_limit.enabled", true)
	v.SetDefault("notifications.rate_limit.requests", 120)
	v.SetDefault("notifications.rate_limit.window", "1m")
	v.SetDefault("notifications.heartbeat_recent", 5)
	v.SetDefault("notifications.default_page_limit", 25)

	v.SetDefault("channels.email.smtp.enabled", false)
	v.SetDefault("channels.email.smtp.port", 587)
	v.SetDefault("channels.email.smtp.use_tls", true)
	v.SetDefault("channels.email.smtp.timeout", "10s")
	v.SetDefault("channels.sms.twilio.enabled", false)
	v.SetDefault("channels.sms.twilio.timeout", "10s")
	v.SetDefault("channels.push.kafka.enabled", false)
	v.SetDefault("channels.push.kafka.topic", "pbx.push")
	v.SetDefault("channels.push.kafka.timeout", "10s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
