// Package devauth provides a config-driven, in-process IdentityProvider for local development and tests.
//
// Every token it issues is an HS256 JWT signed with the configured key, so a token minted by one
// console process is accepted by the next one sharing the key. Single-use bookkeeping (rotated refresh
// tokens, redeemed email links, consumed OAuth codes) lives in memory and is per process.
package devauth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
	apperrors "github.com/target/agentops-console/internal/errors"
	"github.com/target/agentops-console/internal/jwtclaims"
	"github.com/target/agentops-console/internal/ports"
)

var _ ports.IdentityProvider = (*Provider)(nil)

const (
	audAccess  = "authenticated"
	audRefresh = "refresh"
	audLink    = "email_link"
	audCode    = "oauth_code"
	issuer     = "devauth"

	linkTTL      = time.Hour
	codeTTL      = 5 * time.Minute
	challengeTTL = 5 * time.Minute
	minPassword  = 6
)

// Config controls the dev identity provider.
// Email, Password and SigningKey are required.
type Config struct {
	Email      string
	Password   string
	SigningKey []byte
	// TokenTTL is the access token lifetime (default 1h).
	TokenTTL time.Duration
	// RefreshTTL is the refresh token lifetime (default 30 days).
	RefreshTTL time.Duration
	// TOTPSecret pre-enrolls a verified factor for the configured user.
	TOTPSecret string
	// Issuer labels TOTP enrollments.
	Issuer string
	// RedirectURL is the base of emailed links and OAuth callbacks.
	RedirectURL string
	// RequireEmailConfirmation withholds the session from SignUp until the emailed link is redeemed.
	RequireEmailConfirmation bool
	Now                      func() time.Time
	Logger                   *slog.Logger
}

// Message is an email the provider would have delivered.
type Message struct {
	To     string
	Kind   domainauth.EmailLinkKind
	Token  string
	Link   string
	SentAt time.Time
}

type factor struct {
	domainauth.Factor
	secret string
}

type user struct {
	id       string
	email    string
	password string
	verified bool
	metadata map[string]any
	factors  []*factor
}

func (u *user) domain() domainauth.User {
	out := domainauth.User{
		ID:            u.id,
		Email:         u.email,
		EmailVerified: u.verified,
	}
	for _, f := range u.factors {
		out.Factors = append(out.Factors, f.Factor)
	}
	if len(u.metadata) > 0 {
		out.Metadata = make(map[string]any, len(u.metadata))
		for k, v := range u.metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func (u *user) factor(id string) (*factor, int) {
	for i, f := range u.factors {
		if f.ID == id {
			return f, i
		}
	}
	return nil, -1
}

type challenge struct {
	userID   string
	factorID string
	expires  time.Time
}

type refreshClaims struct {
	jwtlib.RegisteredClaims
	SessionID string         `json:"session_id"`
	AAL       domainauth.AAL `json:"aal"`
}

type linkClaims struct {
	jwtlib.RegisteredClaims
	Kind domainauth.EmailLinkKind `json:"kind"`
}

type codeClaims struct {
	jwtlib.RegisteredClaims
	Challenge string                   `json:"code_challenge"`
	Provider  domainauth.OAuthProvider `json:"provider"`
}

// Provider implements ports.IdentityProvider for local development.
type Provider struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu         sync.Mutex
	users      map[string]*user
	byEmail    map[string]string
	spent      map[string]struct{} // consumed jti values
	revoked    map[string]struct{} // revoked session ids
	challenges map[string]challenge
	outbox     []Message
}

// NewProvider constructs a dev identity provider from Config.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.Email == "" {
		return nil, fmt.Errorf("dev auth: Email is required")
	}
	if cfg.Password == "" {
		return nil, fmt.Errorf("dev auth: Password is required")
	}
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("dev auth: SigningKey is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "AgentOps Console"
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "http://127.0.0.1:8788/auth/callback"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Provider{
		cfg:        cfg,
		now:        now,
		logger:     logger.With("component", "devauth"),
		users:      make(map[string]*user),
		byEmail:    make(map[string]string),
		spent:      make(map[string]struct{}),
		revoked:    make(map[string]struct{}),
		challenges: make(map[string]challenge),
	}

	seed := &user{
		id:       userID(cfg.Email),
		email:    strings.ToLower(cfg.Email),
		password: cfg.Password,
		verified: true,
	}
	if cfg.TOTPSecret != "" {
		seed.factors = append(seed.factors, &factor{
			Factor: domainauth.Factor{
				ID:           uuid.NewSHA1(uuid.NameSpaceOID, []byte(cfg.TOTPSecret)).String(),
				FriendlyName: "Authenticator",
				Type:         domainauth.FactorTypeTOTP,
				Status:       domainauth.FactorVerified,
			},
			secret: cfg.TOTPSecret,
		})
	}
	p.addUser(seed)
	return p, nil
}

// MustNewProvider is like NewProvider but panics on error.
func MustNewProvider(cfg Config) *Provider {
	p, err := NewProvider(cfg)
	if err != nil {
		panic(err)
	}
	return p
}

// userID derives a stable id so tokens survive across processes sharing the key.
func userID(email string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("devauth:"+strings.ToLower(email))).String()
}

func (p *Provider) addUser(u *user) {
	p.users[u.id] = u
	p.byEmail[u.email] = u.id
}

func (p *Provider) userByEmail(email string) (*user, bool) {
	id, ok := p.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, false
	}
	return p.users[id], true
}

// SignInWithPassword checks the credentials and issues an aal1 session.
func (p *Provider) SignInWithPassword(_ context.Context, email, password string) (domainauth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.userByEmail(email)
	if !ok || subtle.ConstantTimeCompare([]byte(u.password), []byte(password)) != 1 {
		return domainauth.Session{}, apperrors.InvalidCredentials("invalid login credentials")
	}
	if !u.verified {
		return domainauth.Session{}, apperrors.InvalidCredentials("email not confirmed")
	}
	return p.issueSession(u, domainauth.AAL1, "")
}

// SignUp registers a user. With RequireEmailConfirmation set, no session is returned and a
// confirmation link is placed in the outbox.
func (p *Provider) SignUp(_ context.Context, in ports.SignUpInput) (domainauth.SignUpResult, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if !strings.Contains(email, "@") {
		return domainauth.SignUpResult{}, apperrors.ValidationField("email", "a valid email address is required")
	}
	if len(in.Password) < minPassword {
		return domainauth.SignUpResult{}, apperrors.ValidationField("password", "password must be at least 6 characters")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.userByEmail(email); exists {
		return domainauth.SignUpResult{}, apperrors.Conflict("user already registered")
	}
	u := &user{
		id:       userID(email),
		email:    email,
		password: in.Password,
		verified: !p.cfg.RequireEmailConfirmation,
		metadata: in.Metadata,
	}
	p.addUser(u)

	if p.cfg.RequireEmailConfirmation {
		if err := p.sendLink(u, domainauth.EmailLinkMagic); err != nil {
			return domainauth.SignUpResult{}, err
		}
		return domainauth.SignUpResult{User: u.domain()}, nil
	}

	sess, err := p.issueSession(u, domainauth.AAL1, "")
	if err != nil {
		return domainauth.SignUpResult{}, err
	}
	return domainauth.SignUpResult{User: u.domain(), Session: &sess}, nil
}

// SignOut revokes the session behind accessToken.
func (p *Provider) SignOut(_ context.Context, accessToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, claims, err := p.verifyAccess(accessToken)
	if err != nil {
		return err
	}
	p.revoked[claims.SessionID] = struct{}{}
	return nil
}

// UpdatePassword sets a new password. Accounts with a verified factor need an aal2 session.
func (p *Provider) UpdatePassword(_ context.Context, accessToken, newPassword string) (domainauth.User, error) {
	if len(newPassword) < minPassword {
		return domainauth.User{}, apperrors.ValidationField("password", "password must be at least 6 characters")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	u, claims, err := p.verifyAccess(accessToken)
	if err != nil {
		return domainauth.User{}, err
	}
	if u.domain().HasVerifiedFactor() && claims.AAL != domainauth.AAL2 {
		return domainauth.User{}, apperrors.MFARequired("an aal2 session is required to change the password")
	}
	u.password = newPassword
	return u.domain(), nil
}

// RefreshSession rotates a refresh token. Presenting an already rotated token revokes the session.
func (p *Provider) RefreshSession(_ context.Context, refreshToken string) (domainauth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var claims refreshClaims
	if err := p.parse(refreshToken, audRefresh, &claims); err != nil {
		return domainauth.Session{}, apperrors.ExpiredSession("refresh token is invalid or expired")
	}
	if _, gone := p.revoked[claims.SessionID]; gone {
		return domainauth.Session{}, apperrors.ExpiredSession("session has been revoked")
	}
	if _, used := p.spent[claims.ID]; used {
		p.revoked[claims.SessionID] = struct{}{}
		p.logger.Warn("refresh token reuse detected; session revoked", "session_id", claims.SessionID)
		return domainauth.Session{}, apperrors.ExpiredSession("refresh token already used")
	}
	u, ok := p.users[claims.Subject]
	if !ok {
		return domainauth.Session{}, apperrors.ExpiredSession("user no longer exists")
	}
	p.spent[claims.ID] = struct{}{}
	return p.issueSession(u, claims.AAL, claims.SessionID)
}

// SendMagicLink places a magic-link email in the outbox. Unknown addresses are accepted silently.
func (p *Provider) SendMagicLink(_ context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.userByEmail(email)
	if !ok {
		return nil
	}
	return p.sendLink(u, domainauth.EmailLinkMagic)
}

// SendPasswordRecovery places a recovery email in the outbox. Unknown addresses are accepted silently.
func (p *Provider) SendPasswordRecovery(_ context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.userByEmail(email)
	if !ok {
		return nil
	}
	return p.sendLink(u, domainauth.EmailLinkRecovery)
}

// RedeemEmailLink exchanges a single-use emailed token for an aal1 session.
func (p *Provider) RedeemEmailLink(_ context.Context, kind domainauth.EmailLinkKind, token string) (domainauth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var claims linkClaims
	if err := p.parse(token, audLink, &claims); err != nil || claims.Kind != kind {
		return domainauth.Session{}, apperrors.TokenConsumed("email link is invalid or has expired")
	}
	if _, used := p.spent[claims.ID]; used {
		return domainauth.Session{}, apperrors.TokenConsumed("email link has already been used")
	}
	u, ok := p.users[claims.Subject]
	if !ok {
		return domainauth.Session{}, apperrors.TokenConsumed("email link is invalid or has expired")
	}
	p.spent[claims.ID] = struct{}{}
	u.verified = true
	return p.issueSession(u, domainauth.AAL1, "")
}

// StartOAuth short-circuits the provider round trip: the returned URL points straight at the
// redirect target carrying a code bound to the PKCE challenge.
func (p *Provider) StartOAuth(_ context.Context, in ports.OAuthStartInput) (domainauth.OAuthStart, error) {
	if !in.Provider.Valid() {
		return domainauth.OAuthStart{}, apperrors.ValidationField("provider", "unsupported oauth provider")
	}
	redirect := in.RedirectURL
	if redirect == "" {
		redirect = p.cfg.RedirectURL
	}

	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()
	nonce := uuid.NewString()

	p.mu.Lock()
	seed, _ := p.userByEmail(p.cfg.Email)
	code, err := p.sign(&codeClaims{
		RegisteredClaims: p.registered(seed.id, audCode, codeTTL),
		Challenge:        oauth2.S256ChallengeFromVerifier(verifier),
		Provider:         in.Provider,
	})
	p.mu.Unlock()
	if err != nil {
		return domainauth.OAuthStart{}, err
	}

	u, err := url.Parse(redirect)
	if err != nil {
		return domainauth.OAuthStart{}, apperrors.ValidationField("redirect_url", "invalid redirect url")
	}
	q := u.Query()
	q.Set("code", code)
	q.Set("state", state)
	u.RawQuery = q.Encode()

	return domainauth.OAuthStart{
		Provider: in.Provider,
		URL:      u.String(),
		State:    state,
		Verifier: verifier,
		Nonce:    nonce,
	}, nil
}

// ExchangeOAuth redeems a code minted by StartOAuth. The verifier must match the code's challenge.
func (p *Provider) ExchangeOAuth(_ context.Context, cb domainauth.OAuthCallback) (domainauth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var claims codeClaims
	if err := p.parse(cb.Code, audCode, &claims); err != nil {
		return domainauth.Session{}, apperrors.InvalidCredentials("authorization code is invalid or expired")
	}
	if claims.Challenge != oauth2.S256ChallengeFromVerifier(cb.Verifier) {
		return domainauth.Session{}, apperrors.InvalidCredentials("code verifier does not match")
	}
	if _, used := p.spent[claims.ID]; used {
		return domainauth.Session{}, apperrors.InvalidCredentials("authorization code already used")
	}
	u, ok := p.users[claims.Subject]
	if !ok {
		return domainauth.Session{}, apperrors.InvalidCredentials("authorization code is invalid or expired")
	}
	p.spent[claims.ID] = struct{}{}
	return p.issueSession(u, domainauth.AAL1, "")
}

// GetUser returns the user behind accessToken.
func (p *Provider) GetUser(_ context.Context, accessToken string) (domainauth.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, _, err := p.verifyAccess(accessToken)
	if err != nil {
		return domainauth.User{}, err
	}
	return u.domain(), nil
}

// VerifyAccessToken validates an access token and returns its claims.
// The dev application API uses it to authenticate requests.
func (p *Provider) VerifyAccessToken(accessToken string) (jwtclaims.Claims, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, claims, err := p.verifyAccess(accessToken)
	return claims, err
}

// Outbox returns a copy of every email sent so far.
func (p *Provider) Outbox() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.outbox...)
}

// LatestLink returns the most recent link token of kind sent to email.
func (p *Provider) LatestLink(email string, kind domainauth.EmailLinkKind) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for i := len(p.outbox) - 1; i >= 0; i-- {
		if m := p.outbox[i]; m.To == email && m.Kind == kind {
			return m.Token, true
		}
	}
	return "", false
}

// sendLink must be called with p.mu held.
func (p *Provider) sendLink(u *user, kind domainauth.EmailLinkKind) error {
	token, err := p.sign(&linkClaims{
		RegisteredClaims: p.registered(u.id, audLink, linkTTL),
		Kind:             kind,
	})
	if err != nil {
		return err
	}
	link := p.cfg.RedirectURL + "?" + url.Values{"type": {string(kind)}, "token": {token}}.Encode()
	p.outbox = append(p.outbox, Message{To: u.email, Kind: kind, Token: token, Link: link, SentAt: p.now()})
	p.logger.Info("email link issued", "to", u.email, "kind", kind, "link", link)
	return nil
}

// issueSession must be called with p.mu held. An empty sessionID starts a new session.
func (p *Provider) issueSession(u *user, aal domainauth.AAL, sessionID string) (domainauth.Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if aal == "" {
		aal = domainauth.AAL1
	}

	access := jwtclaims.Claims{
		RegisteredClaims: p.registered(u.id, audAccess, p.cfg.TokenTTL),
		Email:            u.email,
		AAL:              aal,
		SessionID:        sessionID,
		Role:             audAccess,
	}
	accessToken, err := p.sign(&access)
	if err != nil {
		return domainauth.Session{}, err
	}
	refreshToken, err := p.sign(&refreshClaims{
		RegisteredClaims: p.registered(u.id, audRefresh, p.cfg.RefreshTTL),
		SessionID:        sessionID,
		AAL:              aal,
	})
	if err != nil {
		return domainauth.Session{}, err
	}

	return domainauth.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    access.ExpiresAt.Time,
		AAL:          aal,
		User:         u.domain(),
	}, nil
}

// verifyAccess must be called with p.mu held.
func (p *Provider) verifyAccess(token string) (*user, jwtclaims.Claims, error) {
	var claims jwtclaims.Claims
	if err := p.parse(token, audAccess, &claims); err != nil {
		return nil, claims, apperrors.ExpiredSession("access token is invalid or expired")
	}
	if _, gone := p.revoked[claims.SessionID]; gone {
		return nil, claims, apperrors.ExpiredSession("session has been revoked")
	}
	u, ok := p.users[claims.Subject]
	if !ok {
		return nil, claims, apperrors.ExpiredSession("user no longer exists")
	}
	return u, claims, nil
}

func (p *Provider) registered(subject, audience string, ttl time.Duration) jwtlib.RegisteredClaims {
	now := p.now()
	return jwtlib.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		Audience:  jwtlib.ClaimStrings{audience},
		ID:        uuid.NewString(),
		IssuedAt:  jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
	}
}

func (p *Provider) sign(claims jwtlib.Claims) (string, error) {
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(p.cfg.SigningKey)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "sign token")
	}
	return tok, nil
}

func (p *Provider) parse(token, audience string, claims jwtlib.Claims) error {
	_, err := jwtlib.ParseWithClaims(token, claims, func(t *jwtlib.Token) (any, error) {
		return p.cfg.SigningKey, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithAudience(audience),
		jwtlib.WithIssuer(issuer),
		jwtlib.WithTimeFunc(p.now),
		jwtlib.WithExpirationRequired(),
	)
	return err
}
