package ports

// Package ports defines interfaces (hexagonal ports) for identity and tenant behavior.
// Implementations live in internal/adapters; orchestration in internal/session and internal/tenant.

import (
	"context"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
)

// SignUpInput carries the fields for a registration.
type SignUpInput struct {
	Email    string
	Password string
	Metadata map[string]any
	// RedirectURL is where the confirmation email should send the user.
	RedirectURL string
}

// OAuthStartInput carries inputs for initiating an external sign-in.
type OAuthStartInput struct {
	Provider    domainauth.OAuthProvider
	RedirectURL string
}

// PasswordAuthenticator covers the email/password lifecycle.
type PasswordAuthenticator interface {
	SignInWithPassword(ctx context.Context, email, password string) (domainauth.Session, error)
	SignUp(ctx context.Context, in SignUpInput) (domainauth.SignUpResult, error)
	// SignOut revokes the session at the provider. Callers treat failures as best-effort.
	SignOut(ctx context.Context, accessToken string) error
	UpdatePassword(ctx context.Context, accessToken, newPassword string) (domainauth.User, error)
}

// TokenRefresher exchanges a single-use refresh token for a new session.
type TokenRefresher interface {
	RefreshSession(ctx context.Context, refreshToken string) (domainauth.Session, error)
}

// EmailLinkSender delivers and redeems single-use emailed tokens.
type EmailLinkSender interface {
	SendMagicLink(ctx context.Context, email string) error
	SendPasswordRecovery(ctx context.Context, email string) error
	// RedeemEmailLink exchanges an emailed token for a session. A second redemption
	// of the same token fails with a TokenConsumed error.
	RedeemEmailLink(ctx context.Context, kind domainauth.EmailLinkKind, token string) (domainauth.Session, error)
}

// OAuthStarter starts and completes an authorization-code flow with one of the
// closed set of external providers.
type OAuthStarter interface {
	StartOAuth(ctx context.Context, in OAuthStartInput) (domainauth.OAuthStart, error)
	ExchangeOAuth(ctx context.Context, cb domainauth.OAuthCallback) (domainauth.Session, error)
}

// MFAProvider manages TOTP factors and the challenge/verify handshake.
type MFAProvider interface {
	EnrollTOTP(ctx context.Context, accessToken, friendlyName string) (domainauth.Enrollment, error)
	Challenge(ctx context.Context, accessToken, factorID string) (challengeID string, err error)
	// Verify answers a challenge and returns the upgraded (aal2) session.
	Verify(ctx context.Context, accessToken, factorID, challengeID, code string) (domainauth.Session, error)
	Unenroll(ctx context.Context, accessToken, factorID string) error
	ListFactors(ctx context.Context, accessToken string) ([]domainauth.Factor, error)
}

// UserDirectory fetches the user behind an access token.
type UserDirectory interface {
	GetUser(ctx context.Context, accessToken string) (domainauth.User, error)
}

// IdentityProvider is the full surface the session store needs. Adapters that
// cannot offer an operation return an Unsupported error for it.
type IdentityProvider interface {
	PasswordAuthenticator
	TokenRefresher
	EmailLinkSender
	OAuthStarter
	MFAProvider
	UserDirectory
}
