package auth

// Package auth contains domain-level types for identity, sessions and MFA.
// It is pure and free of framework/adapter concerns.

import (
	"fmt"
	"strings"
	"time"
)

// AAL is the authenticator assurance level of a session.
type AAL string

const (
	AAL1 AAL = "aal1"
	AAL2 AAL = "aal2"
)

// Rank orders assurance levels; unknown levels rank below aal1.
func (a AAL) Rank() int {
	switch a {
	case AAL1:
		return 1
	case AAL2:
		return 2
	default:
		return 0
	}
}

// AssuranceLevel pairs the level a session holds with the level it must reach.
type AssuranceLevel struct {
	Current AAL `json:"current_level"`
	Next    AAL `json:"next_level"`
}

// StepUpRequired reports whether the session must complete a second factor.
func (l AssuranceLevel) StepUpRequired() bool { return l.Next.Rank() > l.Current.Rank() }

// FactorStatus is the verification status of an MFA factor.
type FactorStatus string

const (
	FactorVerified   FactorStatus = "verified"
	FactorUnverified FactorStatus = "unverified"
)

// FactorTypeTOTP is the only factor type the console enrolls.
const FactorTypeTOTP = "totp"

// Factor is an enrolled second factor.
type Factor struct {
	ID           string       `json:"id"`
	FriendlyName string       `json:"friendly_name,omitempty"`
	Type         string       `json:"factor_type"`
	Status       FactorStatus `json:"status"`
}

// User is the identity behind a session. Owned by the session store; read-only elsewhere.
type User struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	EmailVerified bool           `json:"email_verified"`
	Factors       []Factor       `json:"factors,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// HasVerifiedFactor reports whether the user has at least one verified second factor.
func (u User) HasVerifiedFactor() bool {
	for _, f := range u.Factors {
		if f.Status == FactorVerified {
			return true
		}
	}
	return false
}

// VerifiedFactors returns the subset of factors that completed verification.
func (u User) VerifiedFactors() []Factor {
	var out []Factor
	for _, f := range u.Factors {
		if f.Status == FactorVerified {
			out = append(out, f)
		}
	}
	return out
}

// Session is the token pair issued by the identity provider.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	AAL          AAL       `json:"aal"`
	User         User      `json:"user"`
}

// Expired reports whether the access token is past its expiry at now.
// A zero ExpiresAt is treated as unknown and never expired.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// ExpiresWithin reports whether the access token expires within d of now.
func (s Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !s.ExpiresAt.IsZero() && !now.Add(d).Before(s.ExpiresAt)
}

// Valid reports whether the session carries tokens at all.
func (s Session) Valid() bool { return s.AccessToken != "" }

// State is the session store's lifecycle state.
type State string

const (
	// StateLoading is the state before the persisted session has been restored.
	StateLoading        State = "loading"
	StateAnonymous      State = "anonymous"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateMFARequired    State = "mfa_required"
)

// Enrollment is the material returned when a TOTP factor is enrolled.
type Enrollment struct {
	FactorID string `json:"factor_id"`
	// QRCode is an SVG or data URI rendering of URI, when the provider supplies one.
	QRCode string `json:"qr_code,omitempty"`
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

// SignUpResult is the outcome of a registration. Session is nil when the
// provider requires email confirmation before the first sign-in.
type SignUpResult struct {
	User    User     `json:"user"`
	Session *Session `json:"session,omitempty"`
}

// ConfirmationRequired reports whether the user must confirm their email before signing in.
func (r SignUpResult) ConfirmationRequired() bool { return r.Session == nil }

// OAuthProvider is the closed set of external sign-in providers.
type OAuthProvider string

const (
	OAuthGoogle OAuthProvider = "google"
	OAuthGitHub OAuthProvider = "github"
	OAuthApple  OAuthProvider = "apple"
)

// OAuthProviders lists every supported provider in display order.
var OAuthProviders = []OAuthProvider{OAuthGoogle, OAuthGitHub, OAuthApple}

// Valid reports whether p is a supported provider.
func (p OAuthProvider) Valid() bool {
	switch p {
	case OAuthGoogle, OAuthGitHub, OAuthApple:
		return true
	default:
		return false
	}
}

func (p OAuthProvider) String() string { return string(p) }

// ParseOAuthProvider parses a provider tag case-insensitively.
func ParseOAuthProvider(s string) (OAuthProvider, error) {
	p := OAuthProvider(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown oauth provider %q (expected google, github or apple)", s)
	}
	return p, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *OAuthProvider) UnmarshalText(text []byte) error {
	v, err := ParseOAuthProvider(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// OAuthStart carries what the caller needs to send the user to the provider and
// later complete the exchange. Verifier and Nonce stay on the client.
type OAuthStart struct {
	Provider OAuthProvider
	URL      string
	State    string
	Verifier string
	Nonce    string
}

// OAuthCallback groups the parameters for the authorization-code exchange.
type OAuthCallback struct {
	Provider OAuthProvider
	Code     string
	State    string
	Verifier string
	Nonce    string
}

// EmailLinkKind identifies what a single-use emailed token grants.
type EmailLinkKind string

const (
	EmailLinkMagic    EmailLinkKind = "magiclink"
	EmailLinkRecovery EmailLinkKind = "recovery"
)

// ParseEmailLinkKind parses an email link kind tag.
func ParseEmailLinkKind(s string) (EmailLinkKind, error) {
	switch k := EmailLinkKind(strings.ToLower(strings.TrimSpace(s))); k {
	case EmailLinkMagic, EmailLinkRecovery:
		return k, nil
	default:
		return "", fmt.Errorf("unknown email link kind %q (expected magiclink or recovery)", s)
	}
}
