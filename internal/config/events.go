package config

import "time"

// EventsConfig controls "$feature_flag_called" reporting.
type EventsConfig struct {
	Enabled       bool          `envconfig:"ENABLED" default:"false"`
	DedupeSize    int           `envconfig:"DEDUPE_SIZE" default:"50000" validate:"min=1"`
	DedupeTTL     time.Duration `envconfig:"DEDUPE_TTL" default:"1h" validate:"gt=0"`
	ReportPayload bool          `envconfig:"REPORT_PAYLOAD" default:"false"`
}
