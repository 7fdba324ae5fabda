package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DatabaseConfig contains the settings of the PostgreSQL shared cache.
type DatabaseConfig struct {
	// URL takes precedence over the individual components when set.
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     string `envconfig:"PORT" default:"5432"`
	Name     string `envconfig:"NAME" default:"heimdall"`
	User     string `envconfig:"USER" default:"heimdall"`
	Password string `envconfig:"PASSWORD"`

	SSLMode string `envconfig:"SSL_MODE" default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	MaxConns        int           `envconfig:"MAX_CONNS" default:"5" validate:"min=2"`
	MinConns        int           `envconfig:"MIN_CONNS" default:"1" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME" default:"30m"`
	ConnectTimeout  time.Duration `envconfig:"CONNECT_TIMEOUT" default:"5s"`

	// Startup ping with exponential backoff.
	PingMaxRetries int           `envconfig:"PING_MAX_RETRIES" default:"5" validate:"min=1"`
	PingBackoff    time.Duration `envconfig:"PING_BACKOFF" default:"2s"`
}

// ConnectionString builds a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Validate checks if the database configuration is valid.
func (c *DatabaseConfig) Validate(environment string) error {
	if c.URL != "" {
		parsed, err := parseAndValidateURL(c.URL, []string{"postgres", "postgresql"})
		if err != nil {
			return fmt.Errorf("invalid database URL: %w", err)
		}
		if strings.TrimPrefix(parsed.Path, "/") == "" {
			return fmt.Errorf("invalid database URL: database name is required in URL path")
		}
	} else {
		if err := validateHost(c.Host, "database"); err != nil {
			return err
		}
		if err := validatePort(c.Port, "database"); err != nil {
			return err
		}
		if c.Name == "" || len(c.Name) > 63 {
			return fmt.Errorf("database name must be between 1 and 63 characters")
		}
		if environment == EnvironmentProduction {
			if err := validatePasswordStrength(c.Password, "database", environment); err != nil {
				return err
			}
			if c.SSLMode != "require" && c.SSLMode != "verify-ca" && c.SSLMode != "verify-full" {
				return fmt.Errorf("database SSL mode must be 'require', 'verify-ca', or 'verify-full' in production environment")
			}
		}
	}

	// One connection is pinned by the advisory lock.
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min_conns (%d) cannot be greater than max_conns (%d)", c.MinConns, c.MaxConns)
	}

	return nil
}
