package idp

import (
	"strconv"
	"time"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
	"github.com/target/agentops-console/internal/jwtclaims"
)

// tokenResponse is the body of every endpoint that issues a session.
type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	User         *userWire `json:"user"`
}

type factorWire struct {
	ID           string `json:"id"`
	FriendlyName string `json:"friendly_name"`
	FactorType   string `json:"factor_type"`
	Status       string `json:"status"`
}

type userWire struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
	Factors          []factorWire   `json:"factors"`
}

type enrollResponse struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	TOTP struct {
		QRCode string `json:"qr_code"`
		Secret string `json:"secret"`
		URI    string `json:"uri"`
	} `json:"totp"`
}

type challengeResponse struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

// errorResponse covers the error shapes the provider returns.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Code             any    `json:"code"`
}

func (e errorResponse) code() string {
	if e.ErrorCode != "" {
		return e.ErrorCode
	}
	if s, ok := e.Code.(string); ok {
		if _, err := strconv.Atoi(s); err != nil {
			return s
		}
	}
	return e.Error
}

func (e errorResponse) message() string {
	for _, m := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if m != "" {
			return m
		}
	}
	return ""
}

func (u *userWire) domain() domainauth.User {
	if u == nil {
		return domainauth.User{}
	}
	out := domainauth.User{
		ID:            u.ID,
		Email:         u.Email,
		EmailVerified: u.EmailConfirmedAt != nil,
		Metadata:      u.UserMetadata,
	}
	for _, f := range u.Factors {
		out.Factors = append(out.Factors, f.domain())
	}
	return out
}

func (f factorWire) domain() domainauth.Factor {
	return domainauth.Factor{
		ID:           f.ID,
		FriendlyName: f.FriendlyName,
		Type:         f.FactorType,
		Status:       domainauth.FactorStatus(f.Status),
	}
}

func (t tokenResponse) session(now time.Time) domainauth.Session {
	sess := domainauth.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		AAL:          jwtclaims.AssuranceLevel(t.AccessToken),
		User:         t.User.domain(),
	}
	switch {
	case t.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		sess.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	default:
		sess.ExpiresAt = jwtclaims.ExpiresAt(t.AccessToken)
	}
	return sess
}
