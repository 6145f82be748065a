package session

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/agentops-console/internal/adapters/devauth"
	domainauth "github.com/target/agentops-console/internal/domain/auth"
	apperrors "github.com/target/agentops-console/internal/errors"
	mocks "github.com/target/agentops-console/internal/mocks/auth"
	"github.com/target/agentops-console/internal/ports"
	"github.com/target/agentops-console/internal/testutil"
	"github.com/target/agentops-console/internal/totp"
)

const testTOTPSecret = "JBSWY3DPEHPK3PXP"

func newDevProvider(t *testing.T, clock *testutil.Clock, totpSecret string) *devauth.Provider {
	t.Helper()
	p, err := devauth.NewProvider(devauth.Config{
		Email:      "dev@example.com",
		Password:   "dev-password",
		SigningKey: []byte("test-signing-key"),
		TOTPSecret: totpSecret,
		Now:        clock.Now,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return p
}

func wrongCode(right string) string {
	if right == "000000" {
		return "111111"
	}
	return "000000"
}

func TestVerifyMFA_StepUpFromEnrolledFactor(t *testing.T) {
	clock := testutil.NewClock(testutil.TestTime())
	provider := newDevProvider(t, clock, testTOTPSecret)
	state := mocks.NewMemoryStateStore(ports.DeviceState{})
	s := newTestStore(t, provider, state, clock)
	ctx := context.Background()

	snap, err := s.SignIn(ctx, "dev@example.com", "dev-password")
	require.NoError(t, err)
	assert.Equal(t, domainauth.StateMFARequired, snap.State)
	assert.Equal(t, domainauth.AssuranceLevel{Current: domainauth.AAL1, Next: domainauth.AAL2}, snap.Assurance)

	factors, err := s.ListMFAFactors(ctx)
	require.NoError(t, err)
	require.Len(t, factors, 1)
	factorID := factors[0].ID

	err = s.UnenrollMFA(ctx, factorID)
	assert.True(t, apperrors.IsMFARequired(err), "removing a factor needs aal2")

	code, err := totp.Code(testTOTPSecret, clock.Now())
	require.NoError(t, err)

	tokensBefore := state.State()
	_, err = s.VerifyMFA(ctx, factorID, wrongCode(code))
	require.Error(t, err)
	assert.True(t, apperrors.IsMFAInvalid(err))
	assert.Equal(t, domainauth.StateMFARequired, s.Snapshot().State)
	assert.Equal(t, tokensBefore, state.State(), "a wrong code mutates nothing")

	snap, err = s.VerifyMFA(ctx, factorID, code)
	require.NoError(t, err)
	assert.Equal(t, domainauth.StateAuthenticated, snap.State)
	assert.Equal(t, domainauth.AssuranceLevel{Current: domainauth.AAL2, Next: domainauth.AAL2}, snap.Assurance)
	assert.NotEqual(t, tokensBefore.AccessToken, state.State().AccessToken)
}

func TestEnrollVerifyUnenroll(t *testing.T) {
	clock := testutil.NewClock(testutil.TestTime())
	provider := newDevProvider(t, clock, "")
	s := newTestStore(t, provider, mocks.NewMemoryStateStore(ports.DeviceState{}), clock)
	ctx := context.Background()

	_, err := s.EnrollMFA(ctx, "")
	assert.True(t, apperrors.IsExpiredSession(err))

	snap, err := s.SignIn(ctx, "dev@example.com", "dev-password")
	require.NoError(t, err)
	assert.Equal(t, domainauth.StateAuthenticated, snap.State)

	enrollment, err := s.EnrollMFA(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.FactorID)
	assert.NotEmpty(t, enrollment.Secret)
	assert.Contains(t, enrollment.URI, "otpauth://totp/")

	// An unverified factor does not raise the required level.
	snap = s.Snapshot()
	assert.Equal(t, domainauth.StateAuthenticated, snap.State)
	require.Len(t, snap.User().Factors, 1)
	assert.Equal(t, domainauth.FactorUnverified, snap.User().Factors[0].Status)
	assert.Equal(t, "Authenticator", snap.User().Factors[0].FriendlyName)

	code, err := totp.Code(enrollment.Secret, clock.Now())
	require.NoError(t, err)
	snap, err = s.VerifyMFA(ctx, enrollment.FactorID, code)
	require.NoError(t, err)
	assert.Equal(t, domainauth.AAL2, snap.Assurance.Current)
	assert.True(t, snap.User().HasVerifiedFactor())

	factors, err := s.ListMFAFactors(ctx)
	require.NoError(t, err)
	require.Len(t, factors, 1)
	assert.Equal(t, domainauth.FactorVerified, factors[0].Status)

	require.NoError(t, s.UnenrollMFA(ctx, enrollment.FactorID))
	snap = s.Snapshot()
	assert.Empty(t, snap.User().Factors)
	assert.Equal(t, domainauth.StateAuthenticated, snap.State)
}

func TestVerifyMFA_Validation(t *testing.T) {
	clock := testutil.NewClock(testutil.TestTime())
	s := newTestStore(t, mocks.NewMockIdentityProvider(), mocks.NewMemoryStateStore(ports.DeviceState{}), clock)

	_, err := s.VerifyMFA(context.Background(), "", "123456")
	assert.Equal(t, "factor_id", apperrors.GetField(err))
	_, err = s.VerifyMFA(context.Background(), "f-1", " ")
	assert.Equal(t, "code", apperrors.GetField(err))
	_, err = s.VerifyMFA(context.Background(), "f-1", "123456")
	assert.True(t, apperrors.IsExpiredSession(err))
}

func TestUnenrollMFA_UnsupportedAdapter(t *testing.T) {
	clock := testutil.NewClock(testutil.TestTime())
	provider := mocks.NewMockIdentityProvider()
	s, _ := signedIn(t, provider, clock, testutil.NewSession().Build())

	err := s.UnenrollMFA(context.Background(), "f-1")
	assert.True(t, apperrors.IsUnsupported(err))
	_, err = s.ListMFAFactors(context.Background())
	assert.True(t, apperrors.IsUnsupported(err))
}
