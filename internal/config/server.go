package config

import (
	"encoding/hex"
	"fmt"
	"time"
)

// ServerConfig configures the sidecar evaluation API.
type ServerConfig struct {
	Port              string        `envconfig:"PORT" default:"8080"`
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"5s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"2s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxBodyBytes      int64         `envconfig:"MAX_BODY_BYTES" default:"1048576" validate:"min=1"` // 1MB

	// APIKeyHash is the hex SHA-256 of the key clients send. Empty disables auth.
	APIKeyHash string `envconfig:"API_KEY_HASH"`

	TLSEnabled bool   `envconfig:"TLS_ENABLED" default:"false"`
	TLSCert    string `envconfig:"TLS_CERT_FILE"`
	TLSKey     string `envconfig:"TLS_KEY_FILE"`
}

// Validate performs validation on the ServerConfig.
func (c *ServerConfig) Validate(environment string) error {
	if err := validatePort(c.Port, "server"); err != nil {
		return err
	}

	if err := validateHost(c.Host, "server"); err != nil {
		return err
	}

	if c.APIKeyHash != "" {
		if err := validateSHA256Hash(c.APIKeyHash); err != nil {
			return fmt.Errorf("invalid API key hash: %w", err)
		}
	}

	if environment == EnvironmentProduction && c.APIKeyHash == "" {
		return fmt.Errorf("API key hash is required in production environment")
	}

	if c.TLSEnabled && (c.TLSCert == "" || c.TLSKey == "") {
		return fmt.Errorf("TLS enabled but cert or key file not specified")
	}

	return nil
}

// validateSHA256Hash checks if the hash is a valid SHA-256 hex string (64 hex characters)
func validateSHA256Hash(hash string) error {
	if len(hash) != 64 {
		return fmt.Errorf("SHA-256 hash must be 64 characters, got %d", len(hash))
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("hash must be valid hexadecimal: %w", err)
	}
	return nil
}
