package config

import (
	"fmt"
	"time"
)

// RemoteConfig configures where flag definitions come from.
// Exactly one of BaseURL or DefinitionsFile must be set.
type RemoteConfig struct {
	BaseURL string `envconfig:"BASE_URL"`

	// ProjectToken identifies the project on the remote service.
	ProjectToken string `envconfig:"PROJECT_TOKEN"`

	// PersonalAPIKey authorizes access to flag definitions.
	PersonalAPIKey string `envconfig:"PERSONAL_API_KEY"`

	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s" validate:"gt=0"`
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0,max=10"`
	RetryBackoff   time.Duration `envconfig:"RETRY_BACKOFF" default:"500ms" validate:"gt=0"`

	// DefinitionsFile loads definitions from a local JSON document instead.
	DefinitionsFile string `envconfig:"DEFINITIONS_FILE"`

	// WatchFile reloads definitions when DefinitionsFile changes.
	WatchFile bool `envconfig:"WATCH_FILE" default:"true"`
}

// UsesFile reports whether definitions are read from disk.
func (c *RemoteConfig) UsesFile() bool {
	return c.DefinitionsFile != ""
}

// Validate checks RemoteConfig fields for correctness.
func (c *RemoteConfig) Validate() error {
	switch {
	case c.BaseURL == "" && c.DefinitionsFile == "":
		return fmt.Errorf("either remote base URL or definitions file must be set")
	case c.BaseURL != "" && c.DefinitionsFile != "":
		return fmt.Errorf("remote base URL and definitions file are mutually exclusive")
	case c.DefinitionsFile != "":
		return nil
	}

	if _, err := parseAndValidateURL(c.BaseURL, []string{"http", "https"}); err != nil {
		return fmt.Errorf("invalid remote base URL: %w", err)
	}
	if c.PersonalAPIKey == "" {
		return fmt.Errorf("personal API key is required to fetch flag definitions")
	}
	return nil
}
