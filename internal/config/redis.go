package config

import (
	"fmt"
	"net"
	"time"
)

// RedisConfig contains the settings of the Redis shared cache.
type RedisConfig struct {
	// URL takes precedence over Host/Port when set (redis:// or rediss://).
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     string `envconfig:"PORT" default:"6379"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0" validate:"min=0,max=15"`

	TLSEnabled bool `envconfig:"TLS_ENABLED" default:"false"`

	PoolSize     int           `envconfig:"POOL_SIZE" default:"10" validate:"min=1"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`

	// Startup ping with linear backoff.
	PingMaxRetries int           `envconfig:"PING_MAX_RETRIES" default:"5" validate:"min=1"`
	PingBackoff    time.Duration `envconfig:"PING_BACKOFF" default:"2s"`
}

// Address returns host:port, or the URL when one is configured.
func (c *RedisConfig) Address() string {
	if c.URL != "" {
		return c.URL
	}
	return net.JoinHostPort(c.Host, c.Port)
}

// Validate checks if the Redis configuration is valid.
func (c *RedisConfig) Validate(environment string) error {
	if c.URL != "" {
		if _, err := parseAndValidateURL(c.URL, []string{"redis", "rediss"}); err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		return nil
	}

	if err := validateHost(c.Host, "redis"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "redis"); err != nil {
		return err
	}

	if environment == EnvironmentProduction {
		if c.Password == "" {
			return fmt.Errorf("redis password is required in production environment")
		}
		if err := validatePasswordStrength(c.Password, "redis", environment); err != nil {
			return err
		}
		if !c.TLSEnabled {
			return fmt.Errorf("redis TLS must be enabled in production environment")
		}
	}

	return nil
}
