package legacyjwt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
	apperrors "github.com/target/agentops-console/internal/errors"
	"github.com/target/agentops-console/internal/ports"
)

func signedToken(t *testing.T, sub, email string, ttl time.Duration) string {
	t.Helper()
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub":   sub,
		"email": email,
		"exp":   time.Now().Add(ttl).Unix(),
	})
	s, err := tok.SignedString([]byte("legacy-secret"))
	require.NoError(t, err)
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeBackend mimics the legacy API: refresh tokens live only in an httpOnly cookie.
type fakeBackend struct {
	t *testing.T

	mu        sync.Mutex
	refreshes map[string]bool // token -> still valid
	seq       int
}

func (b *fakeBackend) issue(w http.ResponseWriter) {
	b.mu.Lock()
	b.seq++
	rt := "rt-" + string(rune('a'+b.seq))
	b.refreshes[rt] = true
	b.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: RefreshCookie, Value: rt, Path: "/api/auth", HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": signedToken(b.t, "u-1", "ada@example.com", time.Hour),
		"token_type":   "bearer",
	})
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["password"] != "hunter2" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Incorrect email or password"})
			return
		}
		b.issue(w)
	})
	mux.HandleFunc("POST /api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(RefreshCookie)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "missing refresh cookie"})
			return
		}
		b.mu.Lock()
		valid := b.refreshes[c.Value]
		delete(b.refreshes, c.Value)
		b.mu.Unlock()
		if !valid {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "refresh token reused"})
			return
		}
		b.issue(w)
	})
	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Not authenticated"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "u-1", "email": "ada@example.com", "is_verified": true})
	})
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": []map[string]string{{"msg": "password too short"}}})
	})
	mux.HandleFunc("POST /api/auth/reset-password/verify", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "Reset token already used"})
	})
	return mux
}

func newTestProvider(t *testing.T) (*Provider, *fakeBackend, *httptest.Server) {
	t.Helper()
	b := &fakeBackend{t: t, refreshes: map[string]bool{}}
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)
	p, err := NewProvider(Config{BaseURL: srv.URL + "/api/auth/"})
	require.NoError(t, err)
	return p, b, srv
}

func TestSignIn_RefreshTokenFromCookie(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()

	sess, err := p.SignInWithPassword(ctx, "ada@example.com", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.AccessToken)
	assert.Equal(t, "rt-b", sess.RefreshToken)
	assert.Equal(t, "u-1", sess.User.ID)
	assert.Equal(t, "ada@example.com", sess.User.Email)
	assert.Equal(t, domainauth.AAL1, sess.AAL)
	assert.False(t, sess.ExpiresAt.IsZero())

	_, err = p.SignInWithPassword(ctx, "ada@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidCredentials(err))
	assert.Contains(t, err.Error(), "Incorrect email or password")
}

func TestRefreshSession_RotatesAndRejectsReuse(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()

	sess, err := p.SignInWithPassword(ctx, "ada@example.com", "hunter2")
	require.NoError(t, err)

	next, err := p.RefreshSession(ctx, sess.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, sess.RefreshToken, next.RefreshToken)

	_, err = p.RefreshSession(ctx, sess.RefreshToken)
	assert.True(t, apperrors.IsExpiredSession(err), "got %v", err)

	_, err = p.RefreshSession(ctx, "")
	assert.True(t, apperrors.IsExpiredSession(err))
}

func TestRefreshSession_SeedsJarAfterRestart(t *testing.T) {
	p, _, srv := newTestProvider(t)
	ctx := context.Background()

	sess, err := p.SignInWithPassword(ctx, "ada@example.com", "hunter2")
	require.NoError(t, err)

	// A fresh process starts with an empty jar and only the persisted token.
	restarted, err := NewProvider(Config{BaseURL: srv.URL + "/api/auth"})
	require.NoError(t, err)
	next, err := restarted.RefreshSession(ctx, sess.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, next.RefreshToken)
	assert.NotEqual(t, sess.RefreshToken, next.RefreshToken)
}

func TestSignOut_DropsCookie(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()

	sess, err := p.SignInWithPassword(ctx, "ada@example.com", "hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, p.refreshCookie())

	require.NoError(t, p.SignOut(ctx, sess.AccessToken))
	assert.Empty(t, p.refreshCookie())
}

func TestGetUser(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()

	u, err := p.GetUser(ctx, "token")
	require.NoError(t, err)
	assert.True(t, u.EmailVerified)

	_, err = p.GetUser(ctx, "")
	assert.True(t, apperrors.IsExpiredSession(err))
}

func TestErrorShapes(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()

	_, err := p.SignUp(ctx, ports.SignUpInput{Email: "x@example.com", Password: "a"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), "password too short")

	_, err = p.RedeemEmailLink(ctx, domainauth.EmailLinkRecovery, "used")
	assert.True(t, apperrors.IsTokenConsumed(err))
}

func TestUnsupportedOperations(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()

	checks := map[string]error{
		"magic link": p.SendMagicLink(ctx, "a@example.com"),
		"unenroll":   p.Unenroll(ctx, "tok", "f1"),
	}
	_, checks["redeem magic"] = p.RedeemEmailLink(ctx, domainauth.EmailLinkMagic, "t")
	_, checks["oauth"] = p.StartOAuth(ctx, ports.OAuthStartInput{Provider: domainauth.OAuthGoogle})
	_, checks["exchange"] = p.ExchangeOAuth(ctx, domainauth.OAuthCallback{})
	_, checks["enroll"] = p.EnrollTOTP(ctx, "tok", "phone")
	_, checks["challenge"] = p.Challenge(ctx, "tok", "f1")
	_, checks["verify"] = p.Verify(ctx, "tok", "f1", "c1", "123456")
	_, checks["factors"] = p.ListFactors(ctx, "tok")

	for name, err := range checks {
		assert.True(t, apperrors.IsUnsupported(err), name)
	}
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		name   string
		op     operation
		status int
		want   apperrors.ErrorCode
	}{
		{"server error", opDefault, 503, apperrors.ErrCodeNetworkFailure},
		{"rate limit", opLogin, 429, apperrors.ErrCodeNetworkFailure},
		{"refresh rejected", opRefresh, 400, apperrors.ErrCodeExpiredSession},
		{"login forbidden", opLogin, 403, apperrors.ErrCodeInvalidCredentials},
		{"reset token used", opVerify, 410, apperrors.ErrCodeTokenConsumed},
		{"expired bearer", opDefault, 401, apperrors.ErrCodeExpiredSession},
		{"duplicate email", opRegister, 409, apperrors.ErrCodeConflict},
		{"missing", opDefault, 404, apperrors.ErrCodeNotFound},
		{"bad input", opRegister, 422, apperrors.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperrors.GetCode(mapStatus(tt.op, tt.status, "")))
		})
	}
}
