package config

import (
	"fmt"
	"strings"
	"time"
)

// IdentityMode selects the identity adapter behind the session store.
type IdentityMode string

const (
	// IdentityModeProvider talks to the hosted identity provider over its REST API.
	IdentityModeProvider IdentityMode = "provider"
	// IdentityModeLegacy talks to the legacy custom-JWT backend.
	IdentityModeLegacy IdentityMode = "legacy"
	// IdentityModeMock uses the in-process dev provider (for development only).
	IdentityModeMock IdentityMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for IdentityMode.
func (m *IdentityMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "provider", "legacy", "mock":
		*m = IdentityMode(v)
		return nil
	default:
		return fmt.Errorf("invalid IdentityMode: %q (valid options: provider, legacy, mock)", v)
	}
}

// ProviderConfig contains identity-provider endpoints and OAuth client settings.
type ProviderConfig struct {
	BaseURL     string        `env:"BASE_URL"`
	APIKey      string        `env:"API_KEY"`
	RedirectURL string        `env:"REDIRECT_URL"  envDefault:"http://127.0.0.1:8788/auth/callback"`
	Timeout     time.Duration `env:"TIMEOUT"       envDefault:"10s"`

	OAuthClientID     string `env:"OAUTH_CLIENT_ID"`
	OAuthClientSecret string `env:"OAUTH_CLIENT_SECRET"`
	OAuthScope        string `env:"OAUTH_SCOPE"         envDefault:"openid profile email"`
	// OAuthDiscoveryURL, when set, switches OAuth endpoints to OIDC discovery and
	// enables id_token verification.
	OAuthDiscoveryURL string `env:"OAUTH_DISCOVERY_URL"`
}

// LegacyConfig contains the legacy JWT backend settings.
type LegacyConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"http://localhost:8000/api/auth"`
	Timeout time.Duration `env:"TIMEOUT"  envDefault:"10s"`
}

// DevAuthConfig controls the mock/dev identity.
// Used when IDENTITY_MODE=mock for development and testing.
type DevAuthConfig struct {
	Email      string        `env:"EMAIL"       envDefault:"dev@example.com"`
	Password   string        `env:"PASSWORD"    envDefault:"dev-password"`
	SigningKey string        `env:"SIGNING_KEY" envDefault:"dev-signing-key-change-me"`
	TokenTTL   time.Duration `env:"TOKEN_TTL"   envDefault:"1h"`
	// TOTPSecret pre-enrolls a verified TOTP factor for the dev user when set.
	TOTPSecret string `env:"TOTP_SECRET"`
	// Organizations seeds memberships as "id:name:role" entries.
	Organizations []string `env:"ORGANIZATIONS" envDefault:"dev-org:Dev Organization:owner" envSeparator:";"`
}

// IdentityConfig groups all identity-related configuration.
type IdentityConfig struct {
	// Mode determines which identity adapter to use.
	Mode IdentityMode `env:"IDENTITY_MODE" envDefault:"provider"`

	// Provider configuration (used when Mode=provider).
	Provider ProviderConfig `envPrefix:"IDP_"`

	// Legacy configuration (used when Mode=legacy).
	Legacy LegacyConfig `envPrefix:"LEGACY_"`

	// DevAuth configuration (used when Mode=mock).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`
}

// Sanitize trims endpoints and clamps timeouts.
func (c *IdentityConfig) Sanitize() {
	c.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(c.Provider.BaseURL), "/")
	c.Legacy.BaseURL = strings.TrimRight(strings.TrimSpace(c.Legacy.BaseURL), "/")
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 10 * time.Second
	}
	if c.Legacy.Timeout <= 0 {
		c.Legacy.Timeout = 10 * time.Second
	}
	if c.DevAuth.TokenTTL <= 0 {
		c.DevAuth.TokenTTL = time.Hour
	}
}
