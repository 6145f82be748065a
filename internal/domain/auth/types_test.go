package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssuranceLevel_StepUpRequired(t *testing.T) {
	tests := []struct {
		name  string
		level AssuranceLevel
		want  bool
	}{
		{name: "aal1 only", level: AssuranceLevel{Current: AAL1, Next: AAL1}, want: false},
		{name: "step up pending", level: AssuranceLevel{Current: AAL1, Next: AAL2}, want: true},
		{name: "already aal2", level: AssuranceLevel{Current: AAL2, Next: AAL2}, want: false},
		{name: "unknown current", level: AssuranceLevel{Current: "", Next: AAL1}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.StepUpRequired())
		})
	}
}

func TestUser_VerifiedFactors(t *testing.T) {
	u := User{Factors: []Factor{
		{ID: "f1", Type: FactorTypeTOTP, Status: FactorUnverified},
		{ID: "f2", Type: FactorTypeTOTP, Status: FactorVerified},
	}}
	assert.True(t, u.HasVerifiedFactor())
	assert.Equal(t, []Factor{u.Factors[1]}, u.VerifiedFactors())

	assert.False(t, User{}.HasVerifiedFactor())
	assert.Empty(t, User{}.VerifiedFactors())
}

func TestSession_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := Session{AccessToken: "a", ExpiresAt: now.Add(time.Minute)}

	assert.True(t, s.Valid())
	assert.False(t, s.Expired(now))
	assert.True(t, s.Expired(now.Add(time.Minute)))
	assert.True(t, s.ExpiresWithin(now, 5*time.Minute))
	assert.False(t, s.ExpiresWithin(now, 30*time.Second))

	unknown := Session{AccessToken: "a"}
	assert.False(t, unknown.Expired(now.Add(24*time.Hour)))
	assert.False(t, unknown.ExpiresWithin(now, time.Hour))
	assert.False(t, Session{}.Valid())
}

func TestParseOAuthProvider(t *testing.T) {
	p, err := ParseOAuthProvider(" GitHub ")
	require.NoError(t, err)
	assert.Equal(t, OAuthGitHub, p)

	_, err = ParseOAuthProvider("facebook")
	assert.Error(t, err)

	var q OAuthProvider
	require.NoError(t, q.UnmarshalText([]byte("apple")))
	assert.Equal(t, OAuthApple, q)
	assert.Error(t, q.UnmarshalText([]byte("")))
}

func TestParseEmailLinkKind(t *testing.T) {
	k, err := ParseEmailLinkKind("Recovery")
	require.NoError(t, err)
	assert.Equal(t, EmailLinkRecovery, k)

	_, err = ParseEmailLinkKind("signup")
	assert.Error(t, err)
}

func TestSignUpResult_ConfirmationRequired(t *testing.T) {
	assert.True(t, SignUpResult{User: User{ID: "u1"}}.ConfirmationRequired())
	assert.False(t, SignUpResult{Session: &Session{AccessToken: "a"}}.ConfirmationRequired())
}
