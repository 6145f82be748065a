package config

import "time"

// SessionConfig tunes refresh behavior and MFA enrollment.
type SessionConfig struct {
	// RefreshMargin is how long before expiry the background refresher renews the token.
	RefreshMargin time.Duration `env:"REFRESH_MARGIN"  envDefault:"5m"`
	// RefreshRetries bounds retries of a refresh that failed with a network error.
	RefreshRetries int `env:"REFRESH_RETRIES" envDefault:"3"`
	// RefreshBackoff is the first retry delay; it doubles on each attempt.
	RefreshBackoff time.Duration `env:"REFRESH_BACKOFF" envDefault:"500ms"`
	// MFAIssuer labels enrolled TOTP factors in authenticator apps.
	MFAIssuer string `env:"MFA_ISSUER" envDefault:"AgentOps Console"`
}

// Sanitize clamps session tuning to safe ranges.
func (c *SessionConfig) Sanitize() {
	if c.RefreshMargin < 0 {
		c.RefreshMargin = 0
	}
	if c.RefreshRetries < 0 {
		c.RefreshRetries = 0
	}
	if c.RefreshRetries > 10 {
		c.RefreshRetries = 10
	}
	if c.RefreshBackoff <= 0 {
		c.RefreshBackoff = 500 * time.Millisecond
	}
	if c.MFAIssuer == "" {
		c.MFAIssuer = "AgentOps Console"
	}
}
