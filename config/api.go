package config

import (
	"strings"
	"time"
)

// DefaultProjectName is the name given to the project auto-created for an empty organization.
const DefaultProjectName = "Default Project"

// APIConfig contains application API client configuration.
type APIConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"http://localhost:8080/api"`
	Timeout time.Duration `env:"TIMEOUT"  envDefault:"15s"`
	// DefaultProjectName names the project created when an organization has none.
	DefaultProjectName string `env:"DEFAULT_PROJECT_NAME" envDefault:"Default Project"`
	// DevAddr is where the dev-api command serves the in-process application API.
	DevAddr string `env:"DEV_ADDR" envDefault:"127.0.0.1:8080"`
}

// Sanitize applies guardrails to API client configuration values.
func (c *APIConfig) Sanitize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.DefaultProjectName = strings.TrimSpace(c.DefaultProjectName); c.DefaultProjectName == "" {
		c.DefaultProjectName = DefaultProjectName
	}
	if c.DevAddr = strings.TrimSpace(c.DevAddr); c.DevAddr == "" {
		c.DevAddr = "127.0.0.1:8080"
	}
}
