// Package legacyjwt adapts the console's original custom-JWT auth backend to the identity ports.
//
// The backend issues a bearer access token in the response body and may return the refresh
// token only as an httpOnly cookie. The client keeps a cookie jar so the cookie rides along on
// refresh, and mirrors the cookie value into the session so it can be persisted like any other
// refresh token. Features the backend never had (MFA, magic links, OAuth) return Unsupported.
package legacyjwt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
	apperrors "github.com/target/agentops-console/internal/errors"
	"github.com/target/agentops-console/internal/jwtclaims"
	"github.com/target/agentops-console/internal/ports"
)

// RefreshCookie is the name of the httpOnly cookie carrying the refresh token.
const RefreshCookie = "refresh_token"

const maxErrorBody = 64 << 10

var _ ports.IdentityProvider = (*Provider)(nil)

// Config configures the legacy backend client.
type Config struct {
	// BaseURL is the auth API root, e.g. http://localhost:8000/api/auth.
	BaseURL string
	Timeout time.Duration
	// Transport overrides the round tripper of the internal client (tests).
	Transport http.RoundTripper
	Logger    *slog.Logger
	Now       func() time.Time
}

// Provider talks to the legacy auth API.
type Provider struct {
	baseURL *url.URL
	client  *http.Client
	jar     http.CookieJar
	logger  *slog.Logger
	now     func() time.Time
}

// NewProvider creates a legacy backend client with its own cookie jar.
func NewProvider(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("legacy auth base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse legacy auth base URL: %w", err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Provider{
		baseURL: base,
		client:  &http.Client{Jar: jar, Timeout: timeout, Transport: cfg.Transport},
		jar:     jar,
		logger:  logger.With("component", "legacyjwt"),
		now:     now,
	}, nil
}

type userWire struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	EmailVerified bool           `json:"email_verified"`
	IsVerified    bool           `json:"is_verified"`
	Metadata      map[string]any `json:"metadata"`
}

func (u userWire) domain() domainauth.User {
	return domainauth.User{
		ID:            u.ID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified || u.IsVerified,
		Metadata:      u.Metadata,
	}
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         *userWire `json:"user"`
}

// errorResponse accepts both {"detail": "..."} and {"detail": [{"msg": "..."}]}.
type errorResponse struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

func (e errorResponse) message() string {
	if e.Message != "" {
		return e.Message
	}
	var s string
	if json.Unmarshal(e.Detail, &s) == nil {
		return s
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(e.Detail, &items) == nil && len(items) > 0 {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			msgs = append(msgs, it.Msg)
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}

// session builds a domain session, filling gaps from the cookie jar and the token claims.
func (p *Provider) session(out tokenResponse) domainauth.Session {
	sess := domainauth.Session{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		AAL:          jwtclaims.AssuranceLevel(out.AccessToken),
	}
	if sess.RefreshToken == "" {
		sess.RefreshToken = p.refreshCookie()
	}
	if out.ExpiresIn > 0 {
		sess.ExpiresAt = p.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	} else {
		sess.ExpiresAt = jwtclaims.ExpiresAt(out.AccessToken)
	}
	if out.User != nil {
		sess.User = out.User.domain()
	} else if c, err := jwtclaims.Parse(out.AccessToken); err == nil {
		sess.User = domainauth.User{ID: c.Subject, Email: c.Email}
	}
	return sess
}

func (p *Provider) endpoint(path string) *url.URL {
	return p.baseURL.JoinPath(path)
}

func (p *Provider) refreshCookie() string {
	for _, c := range p.jar.Cookies(p.endpoint("/refresh")) {
		if c.Name == RefreshCookie {
			return c.Value
		}
	}
	return ""
}

// seedRefreshCookie puts a persisted refresh token back into the jar after a restart.
func (p *Provider) seedRefreshCookie(token string) {
	u := p.endpoint("/refresh")
	p.jar.SetCookies(u, []*http.Cookie{{Name: RefreshCookie, Value: token, Path: p.baseURL.Path, HttpOnly: true}})
}

func (p *Provider) dropRefreshCookie() {
	u := p.endpoint("/refresh")
	p.jar.SetCookies(u, []*http.Cookie{{Name: RefreshCookie, Path: p.baseURL.Path, MaxAge: -1}})
}

// SignInWithPassword posts credentials to /login.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (domainauth.Session, error) {
	var out tokenResponse
	if err := p.do(ctx, opLogin, http.MethodPost, "/login", "", map[string]string{"email": email, "password": password}, &out); err != nil {
		return domainauth.Session{}, err
	}
	return p.session(out), nil
}

// SignUp posts to /register. A response without an access token means confirmation is pending.
func (p *Provider) SignUp(ctx context.Context, in ports.SignUpInput) (domainauth.SignUpResult, error) {
	body := map[string]any{"email": in.Email, "password": in.Password, "metadata": in.Metadata}
	var raw json.RawMessage
	if err := p.do(ctx, opRegister, http.MethodPost, "/register", "", body, &raw); err != nil {
		return domainauth.SignUpResult{}, err
	}
	var out tokenResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return domainauth.SignUpResult{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "decode register response")
	}
	if out.AccessToken != "" {
		sess := p.session(out)
		return domainauth.SignUpResult{User: sess.User, Session: &sess}, nil
	}
	if out.User != nil {
		return domainauth.SignUpResult{User: out.User.domain()}, nil
	}
	var user userWire
	if err := json.Unmarshal(raw, &user); err != nil {
		return domainauth.SignUpResult{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "decode register response")
	}
	return domainauth.SignUpResult{User: user.domain()}, nil
}

// SignOut posts to /logout and drops the refresh cookie regardless of the outcome.
func (p *Provider) SignOut(ctx context.Context, accessToken string) error {
	defer p.dropRefreshCookie()
	return p.do(ctx, opDefault, http.MethodPost, "/logout", accessToken, nil, nil)
}

// UpdatePassword posts to /change-password.
func (p *Provider) UpdatePassword(ctx context.Context, accessToken, newPassword string) (domainauth.User, error) {
	if err := p.do(ctx, opDefault, http.MethodPost, "/change-password", accessToken, map[string]string{"new_password": newPassword}, nil); err != nil {
		return domainauth.User{}, err
	}
	return p.GetUser(ctx, accessToken)
}

// RefreshSession posts to /refresh. The token travels in the body and, when the backend
// only honours cookies, in the jar.
func (p *Provider) RefreshSession(ctx context.Context, refreshToken string) (domainauth.Session, error) {
	if refreshToken == "" {
		return domainauth.Session{}, apperrors.ExpiredSession("no refresh token")
	}
	if p.refreshCookie() != refreshToken {
		p.seedRefreshCookie(refreshToken)
	}
	var out tokenResponse
	if err := p.do(ctx, opRefresh, http.MethodPost, "/refresh", "", map[string]string{"refresh_token": refreshToken}, &out); err != nil {
		return domainauth.Session{}, err
	}
	return p.session(out), nil
}

// SendMagicLink is not offered by the legacy backend.
func (p *Provider) SendMagicLink(context.Context, string) error {
	return apperrors.Unsupported("magic link sign-in")
}

// SendPasswordRecovery posts to /forgot-password.
func (p *Provider) SendPasswordRecovery(ctx context.Context, email string) error {
	return p.do(ctx, opDefault, http.MethodPost, "/forgot-password", "", map[string]string{"email": email}, nil)
}

// RedeemEmailLink exchanges a recovery token for a short-lived session via /reset-password/verify.
func (p *Provider) RedeemEmailLink(ctx context.Context, kind domainauth.EmailLinkKind, token string) (domainauth.Session, error) {
	if kind != domainauth.EmailLinkRecovery {
		return domainauth.Session{}, apperrors.Unsupported("magic link sign-in")
	}
	var out tokenResponse
	if err := p.do(ctx, opVerify, http.MethodPost, "/reset-password/verify", "", map[string]string{"token": token}, &out); err != nil {
		return domainauth.Session{}, err
	}
	return p.session(out), nil
}

// StartOAuth is not offered by the legacy backend.
func (p *Provider) StartOAuth(context.Context, ports.OAuthStartInput) (domainauth.OAuthStart, error) {
	return domainauth.OAuthStart{}, apperrors.Unsupported("oauth sign-in")
}

// ExchangeOAuth is not offered by the legacy backend.
func (p *Provider) ExchangeOAuth(context.Context, domainauth.OAuthCallback) (domainauth.Session, error) {
	return domainauth.Session{}, apperrors.Unsupported("oauth sign-in")
}

// EnrollTOTP is not offered by the legacy backend.
func (p *Provider) EnrollTOTP(context.Context, string, string) (domainauth.Enrollment, error) {
	return domainauth.Enrollment{}, apperrors.Unsupported("mfa enrollment")
}

// Challenge is not offered by the legacy backend.
func (p *Provider) Challenge(context.Context, string, string) (string, error) {
	return "", apperrors.Unsupported("mfa challenge")
}

// Verify is not offered by the legacy backend.
func (p *Provider) Verify(context.Context, string, string, string, string) (domainauth.Session, error) {
	return domainauth.Session{}, apperrors.Unsupported("mfa verification")
}

// Unenroll is not offered by the legacy backend.
func (p *Provider) Unenroll(context.Context, string, string) error {
	return apperrors.Unsupported("mfa unenrollment")
}

// ListFactors is not offered by the legacy backend.
func (p *Provider) ListFactors(context.Context, string) ([]domainauth.Factor, error) {
	return nil, apperrors.Unsupported("mfa factor listing")
}

// GetUser fetches /me.
func (p *Provider) GetUser(ctx context.Context, accessToken string) (domainauth.User, error) {
	var out userWire
	if err := p.do(ctx, opDefault, http.MethodGet, "/me", accessToken, nil, &out); err != nil {
		return domainauth.User{}, err
	}
	return out.domain(), nil
}

func (p *Provider) do(ctx context.Context, op operation, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode request")
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.endpoint(path).String(), body)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return mapTransport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = json.Unmarshal(raw, &e)
		p.logger.DebugContext(ctx, "legacy auth rejected request", "operation", string(op), "status", resp.StatusCode)
		return mapStatus(op, resp.StatusCode, e.message())
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NetworkFailure(err, string(op)+" returned an unreadable response")
	}
	return nil
}
