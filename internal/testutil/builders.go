package testutil

import (
	"time"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
)

// SessionBuilder provides a fluent interface for building sessions in tests.
type SessionBuilder struct {
	sess domainauth.Session
}

// NewSession starts an aal1 session for a verified user that expires an hour after TestTime.
func NewSession() *SessionBuilder {
	return &SessionBuilder{sess: domainauth.Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    TestTime().Add(time.Hour),
		AAL:          domainauth.AAL1,
		User: domainauth.User{
			ID:            "user-1",
			Email:         "user@example.com",
			EmailVerified: true,
		},
	}}
}

// WithTokens sets the token pair.
func (b *SessionBuilder) WithTokens(access, refresh string) *SessionBuilder {
	b.sess.AccessToken, b.sess.RefreshToken = access, refresh
	return b
}

// WithAAL sets the assurance level.
func (b *SessionBuilder) WithAAL(aal domainauth.AAL) *SessionBuilder {
	b.sess.AAL = aal
	return b
}

// ExpiringAt sets the expiry.
func (b *SessionBuilder) ExpiringAt(t time.Time) *SessionBuilder {
	b.sess.ExpiresAt = t
	return b
}

// WithUser sets the user id and email.
func (b *SessionBuilder) WithUser(id, email string) *SessionBuilder {
	b.sess.User.ID, b.sess.User.Email = id, email
	return b
}

// WithVerifiedFactor adds a verified TOTP factor to the user.
func (b *SessionBuilder) WithVerifiedFactor(id string) *SessionBuilder {
	b.sess.User.Factors = append(b.sess.User.Factors, domainauth.Factor{
		ID:           id,
		FriendlyName: "authenticator",
		Type:         domainauth.FactorTypeTOTP,
		Status:       domainauth.FactorVerified,
	})
	return b
}

// Build returns the constructed session.
func (b *SessionBuilder) Build() domainauth.Session {
	s := b.sess
	s.User.Factors = append([]domainauth.Factor(nil), b.sess.User.Factors...)
	return s
}
