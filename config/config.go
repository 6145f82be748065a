package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - identity.go: Identity adapter selection and provider endpoints
//   - api.go: Application API client
//   - session.go: Refresh and MFA tuning
//   - storage.go: Device state persistence
//   - database.go: Database and Redis connections
//   - proxy.go: Local authenticating proxy
//   - observability.go: Logging and metrics
type AppConfig struct {
	// IsDev controls development mode behavior (text logs, relaxed defaults).
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Identity adapter configuration
	Identity IdentityConfig

	// Application API configuration
	API APIConfig `envPrefix:"API_"`

	// Session lifecycle configuration
	Session SessionConfig `envPrefix:"SESSION_"`

	// Device state storage
	Storage  StorageConfig `envPrefix:"STORAGE_"`
	Postgres DBConfig      `envPrefix:"DB_"`
	Redis    RedisConfig   `envPrefix:"REDIS_"`

	// Local proxy configuration
	Proxy ProxyConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Identity.Sanitize()
	c.API.Sanitize()
	c.Session.Sanitize()
	c.Storage.Sanitize()
	c.Proxy.Sanitize()
	c.Observability.Sanitize()

	// Check NODE_ENV for dev mode
	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// This is called by Sanitize() to ensure IsDev is set correctly.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}
