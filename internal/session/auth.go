package session

import (
	"context"
	"strings"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
	apperrors "github.com/target/agentops-console/internal/errors"
	"github.com/target/agentops-console/internal/ports"
)

// Sign-in methods recorded in metrics.
const (
	MethodPassword  = "password"
	MethodSignUp    = "signup"
	MethodMagicLink = "magic_link"
	MethodRecovery  = "recovery"
	MethodOAuth     = "oauth"
	MethodMFA       = "mfa"
)

// begin moves to Authenticating and returns the epoch the attempt started at together with
// the state to fall back to.
func (s *Store) begin() (uint64, domainauth.State) {
	s.mu.Lock()
	prev := s.st
	if prev == domainauth.StateLoading || prev == domainauth.StateAuthenticating {
		prev = stateFor(s.session)
	}
	s.st = domainauth.StateAuthenticating
	s.epoch++
	started := s.epoch
	s.mu.Unlock()
	s.notify()
	return started, prev
}

// abort returns to prev unless a newer mutation has already moved the store on.
// Persisted state is never touched.
func (s *Store) abort(started uint64, prev domainauth.State, err error) {
	s.mu.Lock()
	if s.epoch != started {
		s.mu.Unlock()
		return
	}
	s.st = prev
	s.lastErr = err
	s.epoch++
	s.mu.Unlock()
	s.notify()
}

// establish runs one sign-in attempt. On failure the store returns to its prior state and
// persisted tokens are left alone; a result arriving after a newer mutation is discarded.
// fn may return a nil session when the attempt succeeded without signing anyone in.
func (s *Store) establish(ctx context.Context, method string, fn func(context.Context) (*domainauth.Session, error)) (Snapshot, error) {
	started, prev := s.begin()

	sess, err := fn(ctx)
	if err == nil && sess != nil && sess.User.ID == "" {
		sess.User, err = s.provider.GetUser(ctx, sess.AccessToken)
	}
	s.metrics.ObserveSignIn(method, err)
	if err != nil {
		s.logger.WarnContext(ctx, "sign-in attempt failed", "method", method, "error", err)
		s.abort(started, prev, err)
		return s.Snapshot(), err
	}
	if sess == nil {
		s.abort(started, prev, nil)
		return s.Snapshot(), nil
	}

	s.mu.Lock()
	if s.epoch != started {
		s.mu.Unlock()
		s.logger.InfoContext(ctx, "discarding superseded sign-in", "method", method)
		return s.Snapshot(), apperrors.Canceled("sign-in superseded by a newer session change")
	}
	err = s.setSessionLocked(ctx, *sess)
	if err != nil {
		s.st = prev
		s.lastErr = err
		s.epoch++
	}
	s.mu.Unlock()
	s.notify()
	if err != nil {
		return s.Snapshot(), err
	}

	snap := s.Snapshot()
	s.logger.InfoContext(ctx, "signed in", "method", method, "user_id", snap.Session.User.ID, "state", snap.State)
	return snap, nil
}

func value(sess domainauth.Session, err error) (*domainauth.Session, error) {
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// SignIn authenticates with email and password. Invalid credentials are returned as-is and
// leave both memory and persisted state untouched.
func (s *Store) SignIn(ctx context.Context, email, password string) (Snapshot, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return s.Snapshot(), apperrors.Validation("email and password are required")
	}
	return s.establish(ctx, MethodPassword, func(ctx context.Context) (*domainauth.Session, error) {
		return value(s.provider.SignInWithPassword(ctx, email, password))
	})
}

// SignUp registers a new account. When the provider issues a session immediately the user is
// signed in; otherwise the result carries only the user and the store keeps its prior state.
func (s *Store) SignUp(ctx context.Context, email, password string, metadata map[string]any) (domainauth.SignUpResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domainauth.SignUpResult{}, apperrors.Validation("email and password are required")
	}
	var result domainauth.SignUpResult
	_, err := s.establish(ctx, MethodSignUp, func(ctx context.Context) (*domainauth.Session, error) {
		var err error
		result, err = s.provider.SignUp(ctx, ports.SignUpInput{
			Email:       email,
			Password:    password,
			Metadata:    metadata,
			RedirectURL: s.redirectURL,
		})
		if err != nil || result.Session == nil {
			return nil, err
		}
		sess := *result.Session
		if sess.User.ID == "" {
			sess.User = result.User
		}
		return &sess, nil
	})
	if err == nil && result.ConfirmationRequired() {
		s.logger.InfoContext(ctx, "sign-up awaiting email confirmation", "user_id", result.User.ID)
	}
	return result, err
}

// SignOut revokes the session at the provider on a best-effort basis and always tears down
// local state, clearing all four persisted keys.
func (s *Store) SignOut(ctx context.Context) error {
	snap := s.Snapshot()
	if snap.Session.AccessToken != "" {
		if err := s.provider.SignOut(ctx, snap.Session.AccessToken); err != nil {
			s.logger.WarnContext(ctx, "provider sign-out failed; continuing with local teardown", "error", err)
		}
	}
	return s.Teardown(ctx, ReasonSignOut)
}

// RequestMagicLink emails a single-use sign-in link.
func (s *Store) RequestMagicLink(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperrors.ValidationField("email", "email is required")
	}
	return s.provider.SendMagicLink(ctx, email)
}

// ResetPassword emails a single-use password recovery link.
func (s *Store) ResetPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperrors.ValidationField("email", "email is required")
	}
	return s.provider.SendPasswordRecovery(ctx, email)
}

// RedeemEmailLink exchanges the token from an emailed link for a session. Tokens are single-use;
// a second redemption fails with TokenConsumed.
func (s *Store) RedeemEmailLink(ctx context.Context, kind domainauth.EmailLinkKind, token string) (Snapshot, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return s.Snapshot(), apperrors.ValidationField("token", "token is required")
	}
	method := MethodMagicLink
	if kind == domainauth.EmailLinkRecovery {
		method = MethodRecovery
	}
	return s.establish(ctx, method, func(ctx context.Context) (*domainauth.Session, error) {
		return value(s.provider.RedeemEmailLink(ctx, kind, token))
	})
}

// StartOAuth begins an external sign-in and returns the authorization URL. The PKCE verifier
// and nonce stay in the store until CompleteOAuth consumes them.
func (s *Store) StartOAuth(ctx context.Context, provider domainauth.OAuthProvider) (string, error) {
	if !provider.Valid() {
		return "", apperrors.ValidationField("provider", "unsupported oauth provider")
	}
	start, err := s.provider.StartOAuth(ctx, ports.OAuthStartInput{Provider: provider, RedirectURL: s.redirectURL})
	if err != nil {
		return "", err
	}
	if start.State == "" {
		return "", apperrors.Internal("oauth start returned no state")
	}

	now := s.now()
	s.mu.Lock()
	for k, f := range s.flows {
		if now.Sub(f.created) > oauthFlowTTL {
			delete(s.flows, k)
		}
	}
	s.flows[start.State] = oauthFlow{start: start, created: now}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "oauth flow started", "provider", provider)
	return start.URL, nil
}

// CompleteOAuth finishes the flow identified by state with the authorization code from the
// callback. Each state can be completed once.
func (s *Store) CompleteOAuth(ctx context.Context, code, state string) (Snapshot, error) {
	s.mu.Lock()
	flow, ok := s.flows[state]
	delete(s.flows, state)
	s.mu.Unlock()
	if !ok || s.now().Sub(flow.created) > oauthFlowTTL {
		return s.Snapshot(), apperrors.ValidationField("state", "unknown or expired oauth state")
	}
	if code == "" {
		return s.Snapshot(), apperrors.ValidationField("code", "authorization code is required")
	}
	return s.establish(ctx, MethodOAuth, func(ctx context.Context) (*domainauth.Session, error) {
		return value(s.provider.ExchangeOAuth(ctx, domainauth.OAuthCallback{
			Provider: flow.start.Provider,
			Code:     code,
			State:    state,
			Verifier: flow.start.Verifier,
			Nonce:    flow.start.Nonce,
		}))
	})
}

// UpdatePassword changes the signed-in user's password.
func (s *Store) UpdatePassword(ctx context.Context, newPassword string) error {
	if newPassword == "" {
		return apperrors.ValidationField("password", "new password is required")
	}
	user, err := authorized(ctx, s, true, func(ctx context.Context, token string) (domainauth.User, error) {
		return s.provider.UpdatePassword(ctx, token, newPassword)
	})
	if err != nil {
		return err
	}
	s.updateUser(user)
	return nil
}

// authorized runs fn with the current access token. When requireAAL is set the session must
// be at its required level. An ExpiredSession result is retried once after a refresh.
func authorized[T any](ctx context.Context, s *Store, requireAAL bool, fn func(ctx context.Context, token string) (T, error)) (T, error) {
	var zero T
	snap := s.Snapshot()
	if snap.Session.AccessToken == "" {
		return zero, apperrors.ExpiredSession("not signed in")
	}
	if requireAAL && snap.Assurance.StepUpRequired() {
		return zero, apperrors.MFARequired("verify a second factor first")
	}
	token := snap.Session.AccessToken
	if snap.Session.Expired(s.now()) {
		refreshed, err := s.Refresh(ctx, token)
		if err != nil {
			return zero, err
		}
		token = refreshed.AccessToken
	}
	out, err := fn(ctx, token)
	if !apperrors.IsExpiredSession(err) {
		return out, err
	}
	refreshed, rerr := s.Refresh(ctx, token)
	if rerr != nil {
		return zero, rerr
	}
	return fn(ctx, refreshed.AccessToken)
}

// updateUser replaces the user on the current session when one is present.
func (s *Store) updateUser(user domainauth.User) {
	if user.ID == "" {
		return
	}
	s.mu.Lock()
	if s.session == nil || s.session.User.ID != user.ID {
		s.mu.Unlock()
		return
	}
	sess := *s.session
	sess.User = user
	s.session = &sess
	s.st = stateFor(s.session)
	s.epoch++
	s.mu.Unlock()
	s.notify()
}
