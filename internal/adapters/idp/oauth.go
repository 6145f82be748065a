package idp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
	apperrors "github.com/target/agentops-console/internal/errors"
	"github.com/target/agentops-console/internal/jwtclaims"
	"github.com/target/agentops-console/internal/ports"
)

// providerScopes are the upstream scopes requested per external provider.
var providerScopes = map[domainauth.OAuthProvider]string{
	domainauth.OAuthGoogle: "openid email profile",
	domainauth.OAuthGitHub: "read:user user:email",
	domainauth.OAuthApple:  "name email",
}

// configureOAuth builds the oauth2 config, from discovery when configured.
func (p *Provider) configureOAuth(ctx context.Context, cfg Config) error {
	clientID := cfg.OAuthClientID
	if clientID == "" {
		clientID = cfg.APIKey
	}
	p.oauth = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       strings.Fields(cfg.OAuthScope),
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.baseURL + "/authorize",
			TokenURL:  p.baseURL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if cfg.OAuthDiscoveryURL == "" {
		return nil
	}

	// Initialize go-oidc provider and verifier (single discovery fetch)
	dctx := context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	issuer := strings.TrimSuffix(cfg.OAuthDiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(dctx, issuer)
	if err != nil {
		return fmt.Errorf("oidc new provider: %w", err)
	}
	p.oidcProvider = op
	p.verifier = op.Verifier(&gooidc.Config{ClientID: clientID})
	p.oauth.Endpoint = op.Endpoint()
	return nil
}

// StartOAuth builds the authorization URL for one of the closed set of providers using PKCE.
func (p *Provider) StartOAuth(_ context.Context, in ports.OAuthStartInput) (domainauth.OAuthStart, error) {
	if !in.Provider.Valid() {
		return domainauth.OAuthStart{}, apperrors.ValidationField("provider", "unsupported oauth provider")
	}
	redirect := in.RedirectURL
	if redirect == "" {
		redirect = p.oauth.RedirectURL
	}
	if redirect == "" {
		return domainauth.OAuthStart{}, apperrors.ValidationField("redirect_url", "redirect URL is required")
	}

	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()
	nonce := uuid.NewString()

	authURL := p.oauth.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("redirect_uri", redirect),
		oauth2.SetAuthURLParam("provider", in.Provider.String()),
		oauth2.SetAuthURLParam("scopes", providerScopes[in.Provider]),
		oauth2.SetAuthURLParam("nonce", nonce),
	)

	return domainauth.OAuthStart{
		Provider: in.Provider,
		URL:      authURL,
		State:    state,
		Verifier: verifier,
		Nonce:    nonce,
	}, nil
}

// ExchangeOAuth trades the authorization code for a session. With discovery configured the
// returned id_token is verified and its nonce checked.
func (p *Provider) ExchangeOAuth(ctx context.Context, cb domainauth.OAuthCallback) (domainauth.Session, error) {
	if cb.Code == "" {
		return domainauth.Session{}, apperrors.ValidationField("code", "authorization code is required")
	}
	if cb.Verifier == "" {
		return domainauth.Session{}, apperrors.ValidationField("verifier", "code verifier is required")
	}

	xctx := context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := p.oauth.Exchange(xctx, cb.Code, oauth2.VerifierOption(cb.Verifier))
	if err != nil {
		return domainauth.Session{}, mapExchangeError(err)
	}

	sess := domainauth.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		AAL:          jwtclaims.AssuranceLevel(tok.AccessToken),
	}
	if sess.ExpiresAt.IsZero() {
		sess.ExpiresAt = jwtclaims.ExpiresAt(tok.AccessToken)
	}

	if p.verifier == nil {
		user, err := p.GetUser(ctx, tok.AccessToken)
		if err != nil {
			return domainauth.Session{}, err
		}
		sess.User = user
		return sess, nil
	}

	fields, err := p.extractFromIDToken(ctx, tok, cb.Nonce)
	if err != nil {
		return domainauth.Session{}, apperrors.Wrap(err, apperrors.ErrCodeInvalidCredentials, "id_token rejected")
	}
	if fields.email == "" || fields.userID == "" {
		if fillErr := p.fillFromUserInfo(ctx, tok.AccessToken, &fields); fillErr != nil {
			return domainauth.Session{}, apperrors.NetworkFailure(fillErr, "fetch user info")
		}
	}
	sess.User = domainauth.User{ID: fields.userID, Email: fields.email, EmailVerified: fields.emailVerified}
	return sess, nil
}

func mapExchangeError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		return mapStatus(opOAuth, rerr.Response.StatusCode, errorResponse{
			Error:            rerr.ErrorCode,
			ErrorDescription: rerr.ErrorDescription,
		})
	}
	return mapTransport(opOAuth, err)
}

// UserInfo represents the user information from the OIDC userinfo endpoint.
type UserInfo struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

type idFields struct {
	userID        string
	email         string
	emailVerified bool
}

// idTokenClaims is the subset of standard OIDC claims the console reads.
type idTokenClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Nonce         string `json:"nonce"`
}

func (p *Provider) extractFromIDToken(ctx context.Context, tok *oauth2.Token, expectedNonce string) (idFields, error) {
	var f idFields
	rawID, err := getIDTokenFromToken(tok)
	if err != nil {
		return f, err
	}
	idTok, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		return f, fmt.Errorf("verify id_token: %w", err)
	}
	var claims idTokenClaims
	if claimsErr := idTok.Claims(&claims); claimsErr != nil {
		return f, fmt.Errorf("parse id_token claims: %w", claimsErr)
	}
	if expectedNonce != "" && claims.Nonce != expectedNonce {
		return f, errors.New("invalid nonce")
	}
	return mapIDTokenClaims(claims), nil
}

func (p *Provider) fillFromUserInfo(ctx context.Context, accessToken string, f *idFields) error {
	uctx := context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	ui, err := p.oidcProvider.UserInfo(uctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		return fmt.Errorf("fetch user info: %w", err)
	}
	var info UserInfo
	if claimsErr := ui.Claims(&info); claimsErr != nil {
		return fmt.Errorf("decode user info: %w", claimsErr)
	}
	fillFromUserInfoClaims(f, info)
	return nil
}

func mapIDTokenClaims(c idTokenClaims) idFields {
	return idFields{userID: c.Sub, email: c.Email, emailVerified: c.EmailVerified}
}

// fillFromUserInfoClaims fills missing fields without overwriting id_token values.
func fillFromUserInfoClaims(f *idFields, ui UserInfo) {
	if f.userID == "" {
		f.userID = ui.Subject
	}
	if f.email == "" {
		f.email = ui.Email
		f.emailVerified = ui.EmailVerified
	}
}

// getIDTokenFromToken extracts the id_token from oauth2.Token.
func getIDTokenFromToken(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("nil token")
	}
	raw := tok.Extra("id_token")
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", errors.New("missing id_token in token response")
	}
	return s, nil
}
