// Package jwtclaims reads the claims the console needs from provider-issued access tokens.
//
// Tokens are not verified here. The console is a client: it never trusts these
// claims for authorization, it only uses them to schedule refreshes and to learn
// the assurance level the provider stamped on the session.
package jwtclaims

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
)

// Claims is the subset of access-token claims the console reads.
type Claims struct {
	jwtlib.RegisteredClaims
	Email     string         `json:"email,omitempty"`
	AAL       domainauth.AAL `json:"aal,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Role      string         `json:"role,omitempty"`
}

// Parse extracts claims from token without verifying its signature.
func Parse(token string) (Claims, error) {
	var c Claims
	if token == "" {
		return c, fmt.Errorf("parse access token: empty token")
	}
	parser := jwtlib.NewParser()
	if _, _, err := parser.ParseUnverified(token, &c); err != nil {
		return c, fmt.Errorf("parse access token: %w", err)
	}
	return c, nil
}

// ExpiresAt returns the token's exp claim, or the zero time when absent or unparsable.
func ExpiresAt(token string) time.Time {
	c, err := Parse(token)
	if err != nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// AssuranceLevel returns the token's aal claim, defaulting to aal1 for tokens
// that carry none.
func AssuranceLevel(token string) domainauth.AAL {
	c, err := Parse(token)
	if err != nil || c.AAL == "" {
		return domainauth.AAL1
	}
	return c.AAL
}

// Subject returns the sub claim, or "" when the token cannot be parsed.
func Subject(token string) string {
	c, err := Parse(token)
	if err != nil {
		return ""
	}
	return c.Subject
}
