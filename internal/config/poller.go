package config

import "time"

// PollerConfig contains configuration for the definitions poller.
type PollerConfig struct {
	Interval        time.Duration `envconfig:"INTERVAL" default:"30s" validate:"min=1s"`
	ReadyTimeout    time.Duration `envconfig:"READY_TIMEOUT" default:"10s" validate:"gt=0"`
	ShutdownTimeout time.Duration `envconfig:"PROVIDER_SHUTDOWN_TIMEOUT" default:"5s" validate:"gt=0"`
}
