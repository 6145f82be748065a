package idp

// Package idp implements ports.IdentityProvider against a hosted identity provider's REST API.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
	apperrors "github.com/target/agentops-console/internal/errors"
	"github.com/target/agentops-console/internal/ports"
)

var _ ports.IdentityProvider = (*Provider)(nil)

const maxErrorBody = 64 << 10

// Config holds configuration for the identity provider client.
type Config struct {
	// BaseURL is the provider's auth API root, e.g. https://auth.example.com/auth/v1.
	BaseURL string
	// APIKey is sent as the apikey header on every call.
	APIKey string
	// RedirectURL receives OAuth callbacks and emailed links.
	RedirectURL string

	OAuthClientID     string
	OAuthClientSecret string
	OAuthScope        string
	// OAuthDiscoveryURL switches OAuth endpoints to OIDC discovery and enables id_token verification.
	OAuthDiscoveryURL string

	// MFAIssuer labels enrolled TOTP factors.
	MFAIssuer string

	HTTPClient *http.Client // Optional, defaults to a client with a 10s timeout
	Logger     *slog.Logger
	Now        func() time.Time
}

// Provider implements ports.IdentityProvider over HTTPS.
type Provider struct {
	baseURL     string
	apiKey      string
	redirectURL string
	mfaIssuer   string
	httpClient  *http.Client
	logger      *slog.Logger
	now         func() time.Time

	oauth *oauth2.Config

	// go-oidc provider and verifier, set only with discovery
	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier
}

// NewProvider creates a new identity provider client. With OAuthDiscoveryURL set it performs
// OIDC discovery once, using ctx.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("identity provider base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse identity provider base URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	issuer := cfg.MFAIssuer
	if issuer == "" {
		issuer = "AgentOps Console"
	}

	p := &Provider{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		redirectURL: cfg.RedirectURL,
		mfaIssuer:   issuer,
		httpClient:  httpClient,
		logger:      logger.With("component", "idp"),
		now:         now,
	}
	if err := p.configureOAuth(ctx, cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// SignInWithPassword exchanges email and password for a session.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (domainauth.Session, error) {
	var out tokenResponse
	in := map[string]string{"email": email, "password": password}
	if err := p.do(ctx, opPassword, request{method: http.MethodPost, path: "/token?grant_type=password", body: in}, &out); err != nil {
		return domainauth.Session{}, err
	}
	return out.session(p.now()), nil
}

// SignUp registers a user. The provider returns a bare user when email confirmation is pending.
func (p *Provider) SignUp(ctx context.Context, in ports.SignUpInput) (domainauth.SignUpResult, error) {
	redirect := in.RedirectURL
	if redirect == "" {
		redirect = p.redirectURL
	}
	body := map[string]any{"email": in.Email, "password": in.Password, "data": in.Metadata}
	path := "/signup"
	if redirect != "" {
		path += "?" + url.Values{"redirect_to": {redirect}}.Encode()
	}

	var raw json.RawMessage
	if err := p.do(ctx, opSignUp, request{method: http.MethodPost, path: path, body: body}, &raw); err != nil {
		return domainauth.SignUpResult{}, err
	}

	var tok tokenResponse
	if err := json.Unmarshal(raw, &tok); err == nil {
		if tok.AccessToken != "" {
			sess := tok.session(p.now())
			return domainauth.SignUpResult{User: sess.User, Session: &sess}, nil
		}
		if tok.User != nil {
			return domainauth.SignUpResult{User: tok.User.domain()}, nil
		}
	}
	var user userWire
	if err := json.Unmarshal(raw, &user); err != nil {
		return domainauth.SignUpResult{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "decode sign-up response")
	}
	return domainauth.SignUpResult{User: user.domain()}, nil
}

// SignOut revokes the session at the provider.
func (p *Provider) SignOut(ctx context.Context, accessToken string) error {
	return p.do(ctx, opDefault, request{method: http.MethodPost, path: "/logout", token: accessToken}, nil)
}

// UpdatePassword changes the signed-in user's password.
func (p *Provider) UpdatePassword(ctx context.Context, accessToken, newPassword string) (domainauth.User, error) {
	var out userWire
	req := request{method: http.MethodPut, path: "/user", token: accessToken, body: map[string]string{"password": newPassword}}
	if err := p.do(ctx, opDefault, req, &out); err != nil {
		return domainauth.User{}, err
	}
	return out.domain(), nil
}

// RefreshSession exchanges a refresh token. Any 4xx is a rejection of the session.
func (p *Provider) RefreshSession(ctx context.Context, refreshToken string) (domainauth.Session, error) {
	var out tokenResponse
	req := request{method: http.MethodPost, path: "/token?grant_type=refresh_token", body: map[string]string{"refresh_token": refreshToken}}
	if err := p.do(ctx, opRefresh, req, &out); err != nil {
		return domainauth.Session{}, err
	}
	return out.session(p.now()), nil
}

// SendMagicLink asks the provider to email a sign-in link.
func (p *Provider) SendMagicLink(ctx context.Context, email string) error {
	return p.do(ctx, opDefault, request{method: http.MethodPost, path: p.withRedirect("/magiclink"), body: map[string]string{"email": email}}, nil)
}

// SendPasswordRecovery asks the provider to email a password-reset link.
func (p *Provider) SendPasswordRecovery(ctx context.Context, email string) error {
	return p.do(ctx, opDefault, request{method: http.MethodPost, path: p.withRedirect("/recover"), body: map[string]string{"email": email}}, nil)
}

// RedeemEmailLink verifies an emailed token. The provider rejects replays, which surface as TokenConsumed.
func (p *Provider) RedeemEmailLink(ctx context.Context, kind domainauth.EmailLinkKind, token string) (domainauth.Session, error) {
	var out tokenResponse
	req := request{method: http.MethodPost, path: "/verify", body: map[string]string{"type": string(kind), "token": token}}
	if err := p.do(ctx, opVerify, req, &out); err != nil {
		return domainauth.Session{}, err
	}
	return out.session(p.now()), nil
}

// GetUser fetches the user behind accessToken.
func (p *Provider) GetUser(ctx context.Context, accessToken string) (domainauth.User, error) {
	var out userWire
	if err := p.do(ctx, opDefault, request{method: http.MethodGet, path: "/user", token: accessToken}, &out); err != nil {
		return domainauth.User{}, err
	}
	return out.domain(), nil
}

func (p *Provider) withRedirect(path string) string {
	if p.redirectURL == "" {
		return path
	}
	return path + "?" + url.Values{"redirect_to": {p.redirectURL}}.Encode()
}

type request struct {
	method string
	path   string
	token  string
	body   any
}

// do issues a JSON request and decodes a 2xx body into out when out is non-nil.
func (p *Provider) do(ctx context.Context, op operation, r request, out any) error {
	var body io.Reader
	if r.body != nil {
		buf, err := json.Marshal(r.body)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode request")
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, p.baseURL+r.path, body)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.apiKey != "" {
		req.Header.Set("apikey", p.apiKey)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return mapTransport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = json.Unmarshal(raw, &e)
		mapped := mapStatus(op, resp.StatusCode, e)
		p.logger.DebugContext(ctx, "identity provider rejected request",
			"operation", string(op),
			"status", resp.StatusCode,
			"error_code", e.code(),
		)
		return mapped
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NetworkFailure(err, string(op)+" returned an unreadable response")
	}
	return nil
}
