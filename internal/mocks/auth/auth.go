package auth

// Package auth contains simple hand-written test doubles for identity and state ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"fmt"
	"sync"
	"time"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
	domaintenant "github.com/target/agentops-console/internal/domain/tenant"
	apperrors "github.com/target/agentops-console/internal/errors"
	"github.com/target/agentops-console/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.IdentityProvider = (*MockIdentityProvider)(nil)
	_ ports.StateStore       = (*MemoryStateStore)(nil)
	_ ports.RoleMapper       = (*StaticRoleMapper)(nil)
)

// MockIdentityProvider simulates an identity provider. Each operation delegates to its Func
// field when set; otherwise password sign-in and refresh return deterministic sessions and
// everything else is Unsupported.
type MockIdentityProvider struct {
	SignInFunc          func(ctx context.Context, email, password string) (domainauth.Session, error)
	SignUpFunc          func(ctx context.Context, in ports.SignUpInput) (domainauth.SignUpResult, error)
	SignOutFunc         func(ctx context.Context, accessToken string) error
	UpdatePasswordFunc  func(ctx context.Context, accessToken, newPassword string) (domainauth.User, error)
	RefreshFunc         func(ctx context.Context, refreshToken string) (domainauth.Session, error)
	SendMagicLinkFunc   func(ctx context.Context, email string) error
	SendRecoveryFunc    func(ctx context.Context, email string) error
	RedeemEmailLinkFunc func(ctx context.Context, kind domainauth.EmailLinkKind, token string) (domainauth.Session, error)
	StartOAuthFunc      func(ctx context.Context, in ports.OAuthStartInput) (domainauth.OAuthStart, error)
	ExchangeOAuthFunc   func(ctx context.Context, cb domainauth.OAuthCallback) (domainauth.Session, error)
	EnrollTOTPFunc      func(ctx context.Context, accessToken, friendlyName string) (domainauth.Enrollment, error)
	ChallengeFunc       func(ctx context.Context, accessToken, factorID string) (string, error)
	VerifyFunc          func(ctx context.Context, accessToken, factorID, challengeID, code string) (domainauth.Session, error)
	UnenrollFunc        func(ctx context.Context, accessToken, factorID string) error
	ListFactorsFunc     func(ctx context.Context, accessToken string) ([]domainauth.Factor, error)
	GetUserFunc         func(ctx context.Context, accessToken string) (domainauth.User, error)

	// DefaultUser is attached to sessions produced by the default behaviors.
	DefaultUser domainauth.User
	// TokenTTL is the lifetime of default sessions; one hour when zero.
	TokenTTL time.Duration
	// Now stamps default sessions; time.Now when nil.
	Now func() time.Time

	mu     sync.Mutex
	calls  map[string]int
	issued int
}

// NewMockIdentityProvider creates a MockIdentityProvider with a default user.
func NewMockIdentityProvider() *MockIdentityProvider {
	return &MockIdentityProvider{
		DefaultUser: domainauth.User{
			ID:            "mock-user-1",
			Email:         "mock.user@example.com",
			EmailVerified: true,
		},
	}
}

// Calls returns how many times method was invoked.
func (m *MockIdentityProvider) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockIdentityProvider) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
}

// NextSession returns a fresh aal1 session with tokens access-N/refresh-N.
func (m *MockIdentityProvider) NextSession() domainauth.Session {
	m.mu.Lock()
	m.issued++
	n := m.issued
	m.mu.Unlock()

	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	ttl := m.TokenTTL
	if ttl == 0 {
		ttl = time.Hour
	}
	return domainauth.Session{
		AccessToken:  fmt.Sprintf("access-%d", n),
		RefreshToken: fmt.Sprintf("refresh-%d", n),
		ExpiresAt:    now().Add(ttl),
		AAL:          domainauth.AAL1,
		User:         m.DefaultUser,
	}
}

func (m *MockIdentityProvider) SignInWithPassword(ctx context.Context, email, password string) (domainauth.Session, error) {
	m.record("SignInWithPassword")
	if m.SignInFunc != nil {
		return m.SignInFunc(ctx, email, password)
	}
	return m.NextSession(), nil
}

func (m *MockIdentityProvider) SignUp(ctx context.Context, in ports.SignUpInput) (domainauth.SignUpResult, error) {
	m.record("SignUp")
	if m.SignUpFunc != nil {
		return m.SignUpFunc(ctx, in)
	}
	return domainauth.SignUpResult{}, apperrors.Unsupported("sign-up")
}

func (m *MockIdentityProvider) SignOut(ctx context.Context, accessToken string) error {
	m.record("SignOut")
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx, accessToken)
	}
	return nil
}

func (m *MockIdentityProvider) UpdatePassword(ctx context.Context, accessToken, newPassword string) (domainauth.User, error) {
	m.record("UpdatePassword")
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, accessToken, newPassword)
	}
	return domainauth.User{}, apperrors.Unsupported("password update")
}

func (m *MockIdentityProvider) RefreshSession(ctx context.Context, refreshToken string) (domainauth.Session, error) {
	m.record("RefreshSession")
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return m.NextSession(), nil
}

func (m *MockIdentityProvider) SendMagicLink(ctx context.Context, email string) error {
	m.record("SendMagicLink")
	if m.SendMagicLinkFunc != nil {
		return m.SendMagicLinkFunc(ctx, email)
	}
	return apperrors.Unsupported("magic link")
}

func (m *MockIdentityProvider) SendPasswordRecovery(ctx context.Context, email string) error {
	m.record("SendPasswordRecovery")
	if m.SendRecoveryFunc != nil {
		return m.SendRecoveryFunc(ctx, email)
	}
	return apperrors.Unsupported("password recovery")
}

func (m *MockIdentityProvider) RedeemEmailLink(ctx context.Context, kind domainauth.EmailLinkKind, token string) (domainauth.Session, error) {
	m.record("RedeemEmailLink")
	if m.RedeemEmailLinkFunc != nil {
		return m.RedeemEmailLinkFunc(ctx, kind, token)
	}
	return domainauth.Session{}, apperrors.Unsupported("email link redemption")
}

func (m *MockIdentityProvider) StartOAuth(ctx context.Context, in ports.OAuthStartInput) (domainauth.OAuthStart, error) {
	m.record("StartOAuth")
	if m.StartOAuthFunc != nil {
		return m.StartOAuthFunc(ctx, in)
	}
	return domainauth.OAuthStart{}, apperrors.Unsupported("oauth")
}

func (m *MockIdentityProvider) ExchangeOAuth(ctx context.Context, cb domainauth.OAuthCallback) (domainauth.Session, error) {
	m.record("ExchangeOAuth")
	if m.ExchangeOAuthFunc != nil {
		return m.ExchangeOAuthFunc(ctx, cb)
	}
	return domainauth.Session{}, apperrors.Unsupported("oauth")
}

func (m *MockIdentityProvider) EnrollTOTP(ctx context.Context, accessToken, friendlyName string) (domainauth.Enrollment, error) {
	m.record("EnrollTOTP")
	if m.EnrollTOTPFunc != nil {
		return m.EnrollTOTPFunc(ctx, accessToken, friendlyName)
	}
	return domainauth.Enrollment{}, apperrors.Unsupported("mfa")
}

func (m *MockIdentityProvider) Challenge(ctx context.Context, accessToken, factorID string) (string, error) {
	m.record("Challenge")
	if m.ChallengeFunc != nil {
		return m.ChallengeFunc(ctx, accessToken, factorID)
	}
	return "", apperrors.Unsupported("mfa")
}

func (m *MockIdentityProvider) Verify(ctx context.Context, accessToken, factorID, challengeID, code string) (domainauth.Session, error) {
	m.record("Verify")
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, accessToken, factorID, challengeID, code)
	}
	return domainauth.Session{}, apperrors.Unsupported("mfa")
}

func (m *MockIdentityProvider) Unenroll(ctx context.Context, accessToken, factorID string) error {
	m.record("Unenroll")
	if m.UnenrollFunc != nil {
		return m.UnenrollFunc(ctx, accessToken, factorID)
	}
	return apperrors.Unsupported("mfa")
}

func (m *MockIdentityProvider) ListFactors(ctx context.Context, accessToken string) ([]domainauth.Factor, error) {
	m.record("ListFactors")
	if m.ListFactorsFunc != nil {
		return m.ListFactorsFunc(ctx, accessToken)
	}
	return nil, apperrors.Unsupported("mfa")
}

func (m *MockIdentityProvider) GetUser(ctx context.Context, accessToken string) (domainauth.User, error) {
	m.record("GetUser")
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, accessToken)
	}
	return m.DefaultUser, nil
}

// MemoryStateStore is an in-memory device state store for unit tests.
type MemoryStateStore struct {
	// LoadErr, SaveErr and ClearErr, when set, are returned by the matching calls.
	LoadErr  error
	SaveErr  error
	ClearErr error

	mu     sync.Mutex
	state  ports.DeviceState
	writes int
	clears int
}

// NewMemoryStateStore creates a store holding initial.
func NewMemoryStateStore(initial ports.DeviceState) *MemoryStateStore {
	return &MemoryStateStore{state: initial}
}

func (m *MemoryStateStore) Load(_ context.Context) (ports.DeviceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return ports.DeviceState{}, m.LoadErr
	}
	return m.state, nil
}

func (m *MemoryStateStore) SaveTokens(_ context.Context, accessToken, refreshToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.state.AccessToken = accessToken
	m.state.RefreshToken = refreshToken
	m.writes++
	return nil
}

func (m *MemoryStateStore) SaveTenant(_ context.Context, organizationID, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.state.OrganizationID = organizationID
	m.state.ProjectID = projectID
	m.writes++
	return nil
}

func (m *MemoryStateStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ClearErr != nil {
		return m.ClearErr
	}
	m.state = ports.DeviceState{}
	m.clears++
	return nil
}

// State returns the persisted state without going through Load.
func (m *MemoryStateStore) State() ports.DeviceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Writes returns the number of successful SaveTokens and SaveTenant calls.
func (m *MemoryStateStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Clears returns the number of successful Clear calls.
func (m *MemoryStateStore) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

// StaticRoleMapper maps raw roles through a fixed table.
type StaticRoleMapper struct {
	Roles   map[string]domaintenant.Role
	Default domaintenant.Role
}

func (m StaticRoleMapper) Map(raw string) domaintenant.Role {
	if r, ok := m.Roles[raw]; ok {
		return r
	}
	if m.Default != "" {
		return m.Default
	}
	return domaintenant.RoleViewer
}
