package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/agentops-console/internal/adapters/devauth"
	domainauth "github.com/target/agentops-console/internal/domain/auth"
	apperrors "github.com/target/agentops-console/internal/errors"
	mocks "github.com/target/agentops-console/internal/mocks/auth"
	"github.com/target/agentops-console/internal/ports"
	"github.com/target/agentops-console/internal/testutil"
)

func newTestStore(t *testing.T, provider ports.IdentityProvider, state ports.StateStore, clock *testutil.Clock) *Store {
	t.Helper()
	s, err := New(Options{
		Provider:       provider,
		State:          state,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:            clock.Now,
		RefreshRetries: 3,
		RedirectURL:    "http://127.0.0.1:8788/auth/callback",
	})
	require.NoError(t, err)
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

type stateRecorder struct {
	mu     sync.Mutex
	states []domainauth.State
	epochs []uint64
}

func (r *stateRecorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s.State)
	r.epochs = append(r.epochs, s.Epoch)
}

func (r *stateRecorder) snapshot() ([]domainauth.State, []uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domainauth.State(nil), r.states...), append([]uint64(nil), r.epochs...)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{State: mocks.NewMemoryStateStore(ports.DeviceState{})})
	require.Error(t, err)
	_, err = New(Options{Provider: mocks.NewMockIdentityProvider()})
	require.Error(t, err)

	s, err := New(Options{Provider: mocks.NewMockIdentityProvider(), State: mocks.NewMemoryStateStore(ports.DeviceState{})})
	require.NoError(t, err)
	assert.Equal(t, domainauth.StateLoading, s.Snapshot().State)
	assert.Equal(t, 5*time.Minute, s.refreshMargin)
}

func TestSignIn_Authenticated(t *testing.T) {
	clock := testutil.NewClock(testutil.TestTime())
	provider := mocks.NewMockIdentityProvider()
	provider.Now = clock.Now
	state := mocks.NewMemoryStateStore(ports.DeviceState{})
	s := newTestStore(t, provider, state, clock)

	rec := &stateRecorder{}
	unsubscribe := s.Subscribe(rec.record)
	defer unsubscribe()

	snap, err := s.SignIn(context.Background(), "mock.user@example.com", "secret")
	require.NoError(t, err)

	assert.Equal(t, domainauth.StateAuthenticated, snap.State)
	assert.Equal(t, domainauth.AssuranceLevel{Current: domainauth.AAL1, Next: domainauth.AAL1}, snap.Assurance)
	assert.Equal(t, "mock-user-1", snap.User().ID)
	assert.Equal(t, ports.DeviceState{AccessToken: "access-1", RefreshToken: "refresh-1"}, state.State())

	states, epochs := rec.snapshot()
	assert.Equal(t, []domainauth.State{domainauth.StateAuthenticating, domainauth.StateAuthenticated}, states)
	assert.IsIncreasing(t, epochs)
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	clock := testutil.NewClock(testutil.TestTime())
	rejected := apperrors.InvalidCredentials("invalid login credentials")
	provider := &mocks.MockIdentityProvider{
		SignInFunc: func(context.Context, string, string) (domainauth.Session, error) {
			return domainauth.Session{}, rejected
		},
	}
	persisted := ports.DeviceState{OrganizationID: "org-1", ProjectID: "proj-1"}
	state := mocks.NewMemoryStateStore(persisted)
	s := newTestStore(t, provider, state, clock)
	_, err := s.Restore(context.Background())
	require.NoError(t, err)

	snap, err := s.SignIn(context.Background(), "user@example.com", "wrong")
	require.Error(t, err)
	assert.Same(t, rejected, err, "credential errors surface verbatim")
	assert.Equal(t, domainauth.StateAnonymous, snap.State)
	assert.Equal(t, 1, provider.Calls("SignInWithPassword"), "no retry")
	assert.Zero(t, state.Writes())
	assert.Zero(t, state.Clears())
	assert.Equal(t, persisted, state.State())
}

func TestSignIn_RequiresEmailAndPassword(t *testing.T) {
	clock := testutil.NewClock(testutil.TestTime())
	provider := mocks.NewMockIdentityProvider()
	s := newTestStore(t, provider, mocks.NewMemoryStateStore(ports.DeviceState{}), clock)

	_, err := s.SignIn(context.Background(), "  ", "pw")
	assert.True(t, apperrors.IsValidation(err))
	assert.Zero(t, provider.Calls("SignInWithPassword"))
}

func TestSignIn_DiscardedWhenSuperseded(t *testing.T) {
	clock := testutil.NewClock(testutil.TestTime())
	started := make(chan struct{})
	release := make(chan struct{})
	provider := mocks.NewMockIdentityProvider()
	provider.SignInFunc = func(context.Context, string, string) (domainauth.Session, error) {
		close(started)
		<-release
		return testutil.NewSession().Build(), nil
	}
	state := mocks.NewMemoryStateStore(ports.DeviceState{})
	s := newTestStore(t, provider, state, clock)

	type result struct {
		snap Snapshot
		err  error
	}
	done := make(chan result, 1)
	go func() {
		snap, err := s.SignIn(context.Background(), "user@example.com", "pw")
		done <- result{snap, err}
	}()

	<-started
	require.NoError(t, s.Teardown(context.Background(), ReasonSignOut))
	close(release)

	res := <-done
	assert.True(t, apperrors.IsCanceled(res.err))
	assert.Equal(t, domainauth.StateAnonymous, s.Snapshot().State)
	assert.True(t, state.State().Empty())
	assert.Zero(t, state.Writes())
}

func TestSignOut_ClearsPersistedStateAndReloadIsAnonymous(t *testing.T) {
	clock := testutil.NewClock(testutil.TestTime())
	provider := mocks.NewMockIdentityProvider()
	state := mocks.NewMemoryStateStore(ports.DeviceState{})
	s := newTestStore(t, provider, state, clock)
	ctx := context.Background()

	_, err := s.SignIn(ctx, "mock.user@example.com", "secret")
	require.NoError(t, err)
	require.NoError(t, state.SaveTenant(ctx, "org-1", "proj-1"))

	require.NoError(t, s.SignOut(ctx))
	assert.Equal(t, 1, provider.Calls("SignOut"))
	assert.True(t, state.State().Empty(), "all four keys are cleared")
	assert.Equal(t, domainauth.StateAnonymous, s.Snapshot().State)

	reloaded := newTestStore(t, provider, state, clock)
	snap, err := reloaded.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, domainauth.StateAnonymous, snap.State)
	assert.False(t, snap.Session.Valid())
}

func TestSignOut_ProviderFailureStillTearsDown(t *testing.T) {
	clock := testutil.NewClock(testutil.TestTime())
	provider := mocks.NewMockIdentityProvider()
	provider.SignOutFunc = func(context.Context, string) error {
		return apperrors.NetworkFailure(errors.New("connection refused"), "logout")
	}
	state := mocks.NewMemoryStateStore(ports.DeviceState{})
	s := newTestStore(t, provider, state, clock)
	ctx := context.Background()

	_, err := s.SignIn(ctx, "mock.user@example.com", "secret")
	require.NoError(t, err)

	require.NoError(t, s.SignOut(ctx))
	assert.True(t, state.State().Empty())
	assert.Equal(t, domainauth.StateAnonymous, s.Snapshot().State)
}

func TestTeardown_ClearFailureStillAnonymous(t *testing.T) {
	clock := testutil.NewClock(testutil.TestTime())
	state := mocks.NewMemoryStateStore(ports.DeviceState{})
	s := newTestStore(t, mocks.NewMockIdentityProvider(), state, clock)
	ctx := context.Background()

	_, err := s.SignIn(ctx, "mock.user@example.com", "secret")
	require.NoError(t, err)

	state.ClearErr = errors.New("disk full")
	err = s.Teardown(ctx, ReasonSignOut)
	require.Error(t, err)
	assert.Equal(t, domainauth.StateAnonymous, s.Snapshot().State)
}

func TestRestore(t *testing.T) {
	persisted := ports.DeviceState{AccessToken: "old-access", RefreshToken: "old-refresh", OrganizationID: "org-1"}

	tests := []struct {
		name        string
		setup       func(p *mocks.MockIdentityProvider)
		wantState   domainauth.State
		wantErr     func(error) bool
		wantTokens  [2]string
		wantCleared bool
	}{
		{
			name:       "valid tokens",
			setup:      func(*mocks.MockIdentityProvider) {},
			wantState:  domainauth.StateAuthenticated,
			wantTokens: [2]string{"old-access", "old-refresh"},
		},
		{
			name: "expired access token is refreshed",
			setup: func(p *mocks.MockIdentityProvider) {
				p.GetUserFunc = func(_ context.Context, token string) (domainauth.User, error) {
					if token == "old-access" {
						return domainauth.User{}, apperrors.ExpiredSession("jwt expired")
					}
					return p.DefaultUser, nil
				}
			},
			wantState:  domainauth.StateAuthenticated,
			wantTokens: [2]string{"access-1", "refresh-1"},
		},
		{
			name: "rejected refresh tears down",
			setup: func(p *mocks.MockIdentityProvider) {
				p.GetUserFunc = func(context.Context, string) (domainauth.User, error) {
					return domainauth.User{}, apperrors.ExpiredSession("jwt expired")
				}
				p.RefreshFunc = func(context.Context, string) (domainauth.Session, error) {
					return domainauth.Session{}, apperrors.InvalidCredentials("refresh token already used")
				}
			},
			wantState:   domainauth.StateAnonymous,
			wantErr:     apperrors.IsRefreshFailure,
			wantCleared: true,
		},
		{
			name: "unreachable provider keeps tokens",
			setup: func(p *mocks.MockIdentityProvider) {
				p.GetUserFunc = func(context.Context, string) (domainauth.User, error) {
					return domainauth.User{}, apperrors.NetworkFailure(errors.New("dial tcp"), "get user")
				}
			},
			wantState:  domainauth.StateAnonymous,
			wantErr:    apperrors.IsNetworkFailure,
			wantTokens: [2]string{"old-access", "old-refresh"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := testutil.NewClock(testutil.TestTime())
			provider := mocks.NewMockIdentityProvider()
			provider.Now = clock.Now
			tt.setup(provider)
			state := mocks.NewMemoryStateStore(persisted)
			s := newTestStore(t, provider, state, clock)

			snap, err := s.Restore(context.Background())
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, tt.wantErr(err), "unexpected error: %v", err)
				assert.Equal(t, err, snap.Err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantState, snap.State)

			got := state.State()
			if tt.wantCleared {
				assert.True(t, got.Empty())
				return
			}
			assert.Equal(t, tt.wantTokens, [2]string{got.AccessToken, got.RefreshToken})
			assert.Equal(t, "org-1", got.OrganizationID)
		})
	}
}

func TestRestore_UserWithVerifiedFactorNeedsStepUp(t *testing.T) {
	clock := testutil.NewClock(testutil.TestTime())
	provider := mocks.NewMockIdentityProvider()
	provider.DefaultUser = testutil.NewSession().WithVerifiedFactor("f-1").Build().User
	state := mocks.NewMemoryStateStore(ports.DeviceState{AccessToken: "a", RefreshToken: "r"})
	s := newTestStore(t, provider, state, clock)

	snap, err := s.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domainauth.StateMFARequired, snap.State)
	assert.Equal(t, domainauth.AssuranceLevel{Current: domainauth.AAL1, Next: domainauth.AAL2}, s.AssuranceLevel())
}

func TestSignUp(t *testing.T) {
	t.Run("confirmation required", func(t *testing.T) {
		clock := testutil.NewClock(testutil.TestTime())
		provider := mocks.NewMockIdentityProvider()
		provider.SignUpFunc = func(_ context.Context, in ports.SignUpInput) (domainauth.SignUpResult, error) {
			assert.Equal(t, "http://127.0.0.1:8788/auth/callback", in.RedirectURL)
			assert.Equal(t, "Ada", in.Metadata["name"])
			return domainauth.SignUpResult{User: domainauth.User{ID: "new-user", Email: in.Email}}, nil
		}
		state := mocks.NewMemoryStateStore(ports.DeviceState{})
		s := newTestStore(t, provider, state, clock)

		res, err := s.SignUp(context.Background(), "ada@example.com", "pw1234", map[string]any{"name": "Ada"})
		require.NoError(t, err)
		assert.True(t, res.ConfirmationRequired())
		assert.Equal(t, "new-user", res.User.ID)
		assert.Equal(t, domainauth.StateAnonymous, s.Snapshot().State)
		assert.Zero(t, state.Writes())
	})

	t.Run("immediate session", func(t *testing.T) {
		clock := testutil.NewClock(testutil.TestTime())
		provider := mocks.NewMockIdentityProvider()
		provider.SignUpFunc = func(context.Context, ports.SignUpInput) (domainauth.SignUpResult, error) {
			sess := testutil.NewSession().WithTokens("a-new", "r-new").Build()
			user := sess.User
			sess.User = domainauth.User{}
			return domainauth.SignUpResult{User: user, Session: &sess}, nil
		}
		state := mocks.NewMemoryStateStore(ports.DeviceState{})
		s := newTestStore(t, provider, state, clock)

		res, err := s.SignUp(context.Background(), "ada@example.com", "pw1234", nil)
		require.NoError(t, err)
		assert.False(t, res.ConfirmationRequired())
		snap := s.Snapshot()
		assert.Equal(t, domainauth.StateAuthenticated, snap.State)
		assert.Equal(t, "user-1", snap.User().ID)
		assert.Equal(t, "a-new", state.State().AccessToken)
		assert.Zero(t, provider.Calls("GetUser"))
	})
}

func TestOAuthFlow(t *testing.T) {
	clock := testutil.NewClock(testutil.TestTime())
	provider := mocks.NewMockIdentityProvider()
	provider.StartOAuthFunc = func(_ context.Context, in ports.OAuthStartInput) (domainauth.OAuthStart, error) {
		return domainauth.OAuthStart{
			Provider: in.Provider,
			URL:      "https://idp.example.com/authorize?provider=" + in.Provider.String(),
			State:    "st-1",
			Verifier: "verifier-1",
			Nonce:    "nonce-1",
		}, nil
	}
	provider.ExchangeOAuthFunc = func(_ context.Context, cb domainauth.OAuthCallback) (domainauth.Session, error) {
		assert.Equal(t, domainauth.OAuthGitHub, cb.Provider)
		assert.Equal(t, "verifier-1", cb.Verifier)
		assert.Equal(t, "nonce-1", cb.Nonce)
		return testutil.NewSession().Build(), nil
	}
	s := newTestStore(t, provider, mocks.NewMemoryStateStore(ports.DeviceState{}), clock)
	ctx := context.Background()

	_, err := s.StartOAuth(ctx, domainauth.OAuthProvider("myspace"))
	assert.True(t, apperrors.IsValidation(err))

	url, err := s.StartOAuth(ctx, domainauth.OAuthGitHub)
	require.NoError(t, err)
	assert.Contains(t, url, "provider=github")

	_, err = s.CompleteOAuth(ctx, "code-1", "forged")
	assert.True(t, apperrors.IsValidation(err))

	snap, err := s.CompleteOAuth(ctx, "code-1", "st-1")
	require.NoError(t, err)
	assert.Equal(t, domainauth.StateAuthenticated, snap.State)

	_, err = s.CompleteOAuth(ctx, "code-1", "st-1")
	assert.True(t, apperrors.IsValidation(err), "a state completes once")
	assert.Equal(t, 1, provider.Calls("ExchangeOAuth"))
}

func TestOAuthFlow_Expires(t *testing.T) {
	clock := testutil.NewClock(testutil.TestTime())
	provider := mocks.NewMockIdentityProvider()
	provider.StartOAuthFunc = func(_ context.Context, in ports.OAuthStartInput) (domainauth.OAuthStart, error) {
		return domainauth.OAuthStart{Provider: in.Provider, URL: "https://idp.example.com", State: "st-1"}, nil
	}
	s := newTestStore(t, provider, mocks.NewMemoryStateStore(ports.DeviceState{}), clock)

	_, err := s.StartOAuth(context.Background(), domainauth.OAuthGoogle)
	require.NoError(t, err)
	clock.Advance(11 * time.Minute)

	_, err = s.CompleteOAuth(context.Background(), "code", "st-1")
	assert.True(t, apperrors.IsValidation(err))
	assert.Zero(t, provider.Calls("ExchangeOAuth"))
}

func TestUpdatePassword(t *testing.T) {
	clock := testutil.NewClock(testutil.TestTime())
	provider := mocks.NewMockIdentityProvider()
	var usedToken string
	provider.UpdatePasswordFunc = func(_ context.Context, token, _ string) (domainauth.User, error) {
		usedToken = token
		u := provider.DefaultUser
		u.Metadata = map[string]any{"password_changed": true}
		return u, nil
	}
	s := newTestStore(t, provider, mocks.NewMemoryStateStore(ports.DeviceState{}), clock)
	ctx := context.Background()

	err := s.UpdatePassword(ctx, "new-password")
	assert.True(t, apperrors.IsExpiredSession(err), "anonymous callers cannot change a password")

	_, err = s.SignIn(ctx, "mock.user@example.com", "secret")
	require.NoError(t, err)
	require.NoError(t, s.UpdatePassword(ctx, "new-password"))
	assert.Equal(t, "access-1", usedToken)
	assert.Equal(t, true, s.Snapshot().User().Metadata["password_changed"])
}

func TestUpdatePassword_RetriesOnceAfterExpiredSession(t *testing.T) {
	clock := testutil.NewClock(testutil.TestTime())
	provider := mocks.NewMockIdentityProvider()
	var tokens []string
	provider.UpdatePasswordFunc = func(_ context.Context, token, _ string) (domainauth.User, error) {
		tokens = append(tokens, token)
		if token == "access-1" {
			return domainauth.User{}, apperrors.ExpiredSession("jwt expired")
		}
		return provider.DefaultUser, nil
	}
	s := newTestStore(t, provider, mocks.NewMemoryStateStore(ports.DeviceState{}), clock)
	ctx := context.Background()

	_, err := s.SignIn(ctx, "mock.user@example.com", "secret")
	require.NoError(t, err)
	require.NoError(t, s.UpdatePassword(ctx, "new-password"))
	assert.Equal(t, []string{"access-1", "access-2"}, tokens)
	assert.Equal(t, 1, provider.Calls("RefreshSession"))
}

func TestEmailLinks_SingleUse(t *testing.T) {
	clock := testutil.NewClock(testutil.TestTime())
	provider := devauth.MustNewProvider(devauth.Config{
		Email:      "dev@example.com",
		Password:   "dev-password",
		SigningKey: []byte("test-signing-key"),
		Now:        clock.Now,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	state := mocks.NewMemoryStateStore(ports.DeviceState{})
	s := newTestStore(t, provider, state, clock)
	ctx := context.Background()

	require.NoError(t, s.RequestMagicLink(ctx, "dev@example.com"))
	token, ok := provider.LatestLink("dev@example.com", domainauth.EmailLinkMagic)
	require.True(t, ok)

	snap, err := s.RedeemEmailLink(ctx, domainauth.EmailLinkMagic, token)
	require.NoError(t, err)
	assert.Equal(t, domainauth.StateAuthenticated, snap.State)
	assert.Equal(t, "dev@example.com", snap.User().Email)
	persisted := state.State()

	_, err = s.RedeemEmailLink(ctx, domainauth.EmailLinkMagic, token)
	require.Error(t, err)
	assert.True(t, apperrors.IsTokenConsumed(err))
	assert.Equal(t, domainauth.StateAuthenticated, s.Snapshot().State, "failed redemption keeps the prior session")
	assert.Equal(t, persisted, state.State())

	require.NoError(t, s.ResetPassword(ctx, "dev@example.com"))
	_, ok = provider.LatestLink("dev@example.com", domainauth.EmailLinkRecovery)
	assert.True(t, ok)

	assert.True(t, apperrors.IsValidation(s.RequestMagicLink(ctx, "")))
}
