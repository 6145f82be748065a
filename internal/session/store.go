// Package session owns the signed-in session: credentials, assurance level and the lifecycle
// state machine. It is the single writer of the persisted token pair.
//
// Every mutation bumps an epoch. Slow operations capture the epoch they started at and are
// discarded when it has moved on by the time they complete. Consumers observe changes through
// Subscribe rather than reading shared state.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
	apperrors "github.com/target/agentops-console/internal/errors"
	"github.com/target/agentops-console/internal/jwtclaims"
	"github.com/target/agentops-console/internal/observability/metrics"
	"github.com/target/agentops-console/internal/ports"
)

// Teardown reasons recorded in logs and metrics.
const (
	ReasonSignOut       = "sign_out"
	ReasonRefreshFailed = "refresh_failed"
	ReasonRejected      = "session_rejected"
)

const oauthFlowTTL = 10 * time.Minute

// Options configures a Store.
type Options struct {
	Provider ports.IdentityProvider
	State    ports.StateStore
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time

	// RefreshMargin is how long before expiry the background refresher renews the session.
	RefreshMargin time.Duration
	// RefreshRetries bounds the retries of a refresh that failed on the network.
	RefreshRetries int
	// RefreshBackoff is the first retry delay; it doubles on each retry.
	RefreshBackoff time.Duration
	// RedirectURL is where emailed links and OAuth callbacks land.
	RedirectURL string
	// FactorName labels TOTP factors enrolled without a name.
	FactorName string
}

// Snapshot is an immutable view of the store.
type Snapshot struct {
	State     domainauth.State
	Session   domainauth.Session
	Assurance domainauth.AssuranceLevel
	Epoch     uint64
	// Err is the failure that last sent the store to Anonymous, if any.
	Err error
}

// User returns the signed-in user; zero when anonymous.
func (s Snapshot) User() domainauth.User { return s.Session.User }

// Authenticated reports whether the session satisfies its required assurance level.
func (s Snapshot) Authenticated() bool { return s.State == domainauth.StateAuthenticated }

type oauthFlow struct {
	start   domainauth.OAuthStart
	created time.Time
}

// Store is the session store. It is safe for concurrent use.
type Store struct {
	provider ports.IdentityProvider
	state    ports.StateStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	refreshMargin  time.Duration
	refreshRetries int
	refreshBackoff time.Duration
	redirectURL    string
	factorName     string

	// sleep is swapped in tests to skip backoff delays.
	sleep func(ctx context.Context, d time.Duration) error

	refreshes singleflight.Group

	mu      sync.Mutex
	st      domainauth.State
	session *domainauth.Session
	epoch   uint64
	lastErr error
	flows   map[string]oauthFlow

	notifyMu  sync.Mutex
	listeners map[uint64]func(Snapshot)
	nextID    uint64
}

// New creates a store in the Loading state. Call Restore to load the persisted session.
func New(opts Options) (*Store, error) {
	if opts.Provider == nil {
		return nil, errors.New("identity provider is required")
	}
	if opts.State == nil {
		return nil, errors.New("state store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = 5 * time.Minute
	}
	if opts.RefreshRetries < 0 {
		opts.RefreshRetries = 0
	}
	if opts.RefreshBackoff <= 0 {
		opts.RefreshBackoff = 500 * time.Millisecond
	}
	if opts.FactorName == "" {
		opts.FactorName = "Authenticator"
	}
	return &Store{
		provider:       opts.Provider,
		state:          opts.State,
		logger:         logger.With("component", "session"),
		metrics:        opts.Metrics,
		now:            now,
		refreshMargin:  opts.RefreshMargin,
		refreshRetries: opts.RefreshRetries,
		refreshBackoff: opts.RefreshBackoff,
		redirectURL:    opts.RedirectURL,
		factorName:     opts.FactorName,
		sleep:          sleepContext,
		st:             domainauth.StateLoading,
		flows:          make(map[string]oauthFlow),
		listeners:      make(map[uint64]func(Snapshot)),
	}, nil
}

// MustNew is like New but panics on error.
func MustNew(opts Options) *Store {
	s, err := New(opts)
	if err != nil {
		panic(err)
	}
	return s
}

// Snapshot returns the current view.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// AssuranceLevel returns the current and required assurance levels. Current is the level the
// session was issued at; Next is aal2 whenever the user has a verified factor.
func (s *Store) AssuranceLevel() domainauth.AssuranceLevel {
	return s.Snapshot().Assurance
}

// Subscribe registers fn to receive a snapshot after every change, in epoch order.
// fn runs on the mutating goroutine and must not call mutating Store methods synchronously.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.notifyMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.notifyMu.Unlock()
	return func() {
		s.notifyMu.Lock()
		delete(s.listeners, id)
		s.notifyMu.Unlock()
	}
}

// notify delivers the latest snapshot. Deliveries are serialized, so a listener never sees
// an older epoch after a newer one.
func (s *Store) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	snap := s.Snapshot()
	for _, fn := range s.listeners {
		fn(snap)
	}
}

func assurance(sess *domainauth.Session) domainauth.AssuranceLevel {
	if sess == nil {
		return domainauth.AssuranceLevel{}
	}
	current := sess.AAL
	if current == "" {
		current = domainauth.AAL1
	}
	next := current
	if sess.User.HasVerifiedFactor() && domainauth.AAL2.Rank() > current.Rank() {
		next = domainauth.AAL2
	}
	return domainauth.AssuranceLevel{Current: current, Next: next}
}

func stateFor(sess *domainauth.Session) domainauth.State {
	if sess == nil {
		return domainauth.StateAnonymous
	}
	if assurance(sess).StepUpRequired() {
		return domainauth.StateMFARequired
	}
	return domainauth.StateAuthenticated
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{State: s.st, Epoch: s.epoch, Err: s.lastErr}
	if s.session != nil {
		snap.Session = *s.session
		snap.Session.User.Factors = append([]domainauth.Factor(nil), s.session.User.Factors...)
		snap.Assurance = assurance(s.session)
	}
	return snap
}

// setSessionLocked installs sess, persists its tokens and bumps the epoch.
// Must be called with s.mu held.
func (s *Store) setSessionLocked(ctx context.Context, sess domainauth.Session) error {
	if sess.AAL == "" {
		sess.AAL = jwtclaims.AssuranceLevel(sess.AccessToken)
	}
	if sess.ExpiresAt.IsZero() {
		sess.ExpiresAt = jwtclaims.ExpiresAt(sess.AccessToken)
	}
	if err := s.state.SaveTokens(ctx, sess.AccessToken, sess.RefreshToken); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "persist session tokens")
	}
	s.session = &sess
	s.st = stateFor(s.session)
	s.lastErr = nil
	s.epoch++
	return nil
}

// Teardown drops the session and clears all persisted keys in one call. It always leaves the
// store Anonymous; the returned error only reports a failure to clear persisted state.
func (s *Store) Teardown(ctx context.Context, reason string) error {
	return s.teardown(ctx, reason, nil)
}

func (s *Store) teardown(ctx context.Context, reason string, cause error) error {
	s.mu.Lock()
	s.session = nil
	s.st = domainauth.StateAnonymous
	s.lastErr = cause
	s.epoch++
	s.flows = make(map[string]oauthFlow)
	err := s.state.Clear(ctx)
	s.mu.Unlock()

	s.metrics.ObserveTeardown(reason)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to clear persisted session state", "reason", reason, "error", err)
		err = apperrors.Wrap(err, apperrors.ErrCodeInternal, "clear persisted state")
	} else {
		s.logger.InfoContext(ctx, "session torn down", "reason", reason)
	}
	s.notify()
	return err
}

// Restore loads the persisted tokens and arrives at Anonymous, Authenticated or MFARequired.
// An expired access token is refreshed first. A rejected session is torn down. When the
// provider cannot be reached the persisted tokens are kept for the next attempt.
func (s *Store) Restore(ctx context.Context) (Snapshot, error) {
	persisted, err := s.state.Load(ctx)
	if err != nil {
		s.fail(apperrors.Wrap(err, apperrors.ErrCodeInternal, "load persisted state"))
		return s.Snapshot(), s.Snapshot().Err
	}
	if persisted.AccessToken == "" && persisted.RefreshToken == "" {
		s.mu.Lock()
		s.session = nil
		s.st = domainauth.StateAnonymous
		s.epoch++
		s.mu.Unlock()
		s.notify()
		return s.Snapshot(), nil
	}

	sess := domainauth.Session{
		AccessToken:  persisted.AccessToken,
		RefreshToken: persisted.RefreshToken,
		ExpiresAt:    jwtclaims.ExpiresAt(persisted.AccessToken),
		AAL:          jwtclaims.AssuranceLevel(persisted.AccessToken),
	}
	if sess.AccessToken == "" || sess.Expired(s.now()) {
		refreshed, rerr := s.exchange(ctx, sess.RefreshToken, metrics.TriggerRestore)
		if rerr != nil {
			return s.restoreFailed(ctx, rerr)
		}
		sess = refreshed
	}
	if sess.User.ID == "" {
		user, uerr := s.provider.GetUser(ctx, sess.AccessToken)
		if apperrors.IsExpiredSession(uerr) && sess.RefreshToken != "" {
			refreshed, rerr := s.exchange(ctx, sess.RefreshToken, metrics.TriggerRestore)
			if rerr != nil {
				return s.restoreFailed(ctx, rerr)
			}
			sess = refreshed
			if sess.User.ID == "" {
				user, uerr = s.provider.GetUser(ctx, sess.AccessToken)
			} else {
				user, uerr = sess.User, nil
			}
		}
		if uerr != nil {
			return s.restoreFailed(ctx, uerr)
		}
		sess.User = user
	}

	s.mu.Lock()
	err = s.setSessionLocked(ctx, sess)
	s.mu.Unlock()
	if err != nil {
		s.fail(err)
		return s.Snapshot(), err
	}
	s.logger.InfoContext(ctx, "session restored", "user_id", sess.User.ID, "aal", sess.AAL)
	s.notify()
	return s.Snapshot(), nil
}

func (s *Store) restoreFailed(ctx context.Context, err error) (Snapshot, error) {
	if apperrors.IsTransient(err) || apperrors.IsCanceled(err) {
		s.logger.WarnContext(ctx, "session restore deferred; provider unreachable", "error", err)
		s.fail(err)
		return s.Snapshot(), err
	}
	wrapped := apperrors.RefreshFailure(err)
	_ = s.teardown(ctx, ReasonRejected, wrapped)
	return s.Snapshot(), wrapped
}

// fail moves to Anonymous without touching persisted state.
func (s *Store) fail(err error) {
	s.mu.Lock()
	s.session = nil
	s.st = domainauth.StateAnonymous
	s.lastErr = err
	s.epoch++
	s.mu.Unlock()
	s.notify()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
