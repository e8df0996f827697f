package app

import (
	"strings"

	"github.com/charlesng35/pbxnotify/internal/auth"
	"github.com/charlesng35/pbxnotify/internal/cache"
	"github.com/charlesng35/pbxnotify/internal/database"
	"github.com/charlesng35/pbxnotify/pkg/mail"
	"github.com/charlesng35/pbxnotify/pkg/push"
	"github.com/charlesng35/pbxnotify/pkg/sms"
)

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}
}

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// SMTPSettings converts EmailConfig to the mail package representation.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}

// TwilioSettings converts SMSConfig to the sms package representation.
func (c SMSConfig) TwilioSettings() sms.TwilioSettings {
	return sms.TwilioSettings{
		Enabled:       c.Twilio.Enabled,
		AccountSID:    strings.TrimSpace(c.Twilio.AccountSID),
		AuthToken:     c.Twilio.AuthToken,
		From:          strings.TrimSpace(c.Twilio.From),
		DefaultRegion: strings.TrimSpace(c.Twilio.DefaultRegion),
		Timeout:       c.Twilio.Timeout,
	}
}

// KafkaSettings converts PushConfig to the push package representation.
func (c PushConfig) KafkaSettings() push.KafkaSettings {
	return push.KafkaSettings{
		Enabled: c.Kafka.Enabled,
		Brokers: c.Kafka.Brokers,
		Topic:   strings.TrimSpace(c.Kafka.Topic),
		Timeout: c.Kafka.Timeout,
	}
}

// DatabaseClientConfig converts the database section into database.Config,
// picking host credentials for the selected driver.
func (c DatabaseConfig) DatabaseClientConfig() database.Config {
	cfg := database.Config{
		Driver: c.Driver,
		Path:   c.Path,
		DSN:    c.DSN,
	}

	var auth DBAuthConfig
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "postgres", "postgresql":
		auth = c.Postgres
	case "mysql", "mariadb":
		auth = c.MySQL
	default:
		return cfg
	}

	cfg.Host = auth.Host
	cfg.Port = auth.Port
	cfg.User = auth.Username
	cfg.Password = auth.Password
	cfg.Name = auth.Database
	cfg.Options = auth.Options
	return cfg
}
