package session

import (
	"context"
	"time"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
	apperrors "github.com/target/agentops-console/internal/errors"
	"github.com/target/agentops-console/internal/observability/metrics"
)

// Refresh renews the session after failedAccessToken was rejected.
//
// Concurrent callers share one exchange keyed by the refresh token. A caller whose failed token
// is no longer current gets the current session back without a new exchange, so a rotated
// refresh token is never replayed. When the provider rejects the refresh, or network retries
// are exhausted, the session is torn down and a RefreshFailure is returned.
func (s *Store) Refresh(ctx context.Context, failedAccessToken string) (domainauth.Session, error) {
	return s.refresh(ctx, failedAccessToken, metrics.TriggerReactive)
}

func (s *Store) refresh(ctx context.Context, failedAccessToken, trigger string) (domainauth.Session, error) {
	snap := s.Snapshot()
	if snap.Session.RefreshToken == "" {
		return domainauth.Session{}, apperrors.RefreshFailure(apperrors.ExpiredSession("no session to refresh"))
	}
	if failedAccessToken != "" && snap.Session.AccessToken != failedAccessToken {
		s.metrics.ObserveRefresh(trigger, metrics.ResultStale, nil)
		return snap.Session, nil
	}

	refreshToken := snap.Session.RefreshToken
	// The exchange outlives any single caller; the refresh token is consumed either way.
	detached := context.WithoutCancel(ctx)
	ch := s.refreshes.DoChan(refreshToken, func() (any, error) {
		return s.rotate(detached, refreshToken, trigger)
	})
	select {
	case <-ctx.Done():
		return domainauth.Session{}, apperrors.Wrap(ctx.Err(), apperrors.ErrCodeCanceled, "refresh wait canceled")
	case res := <-ch:
		if res.Err != nil {
			return domainauth.Session{}, res.Err
		}
		return res.Val.(domainauth.Session), nil
	}
}

// rotate performs one shared exchange and applies the result.
func (s *Store) rotate(ctx context.Context, refreshToken, trigger string) (domainauth.Session, error) {
	// A caller that read the session before the previous exchange landed joins here late.
	s.mu.Lock()
	current := s.session
	s.mu.Unlock()
	if current == nil {
		return domainauth.Session{}, apperrors.RefreshFailure(apperrors.ExpiredSession("no session to refresh"))
	}
	if current.RefreshToken != refreshToken {
		s.metrics.ObserveRefresh(trigger, metrics.ResultStale, nil)
		return *current, nil
	}

	sess, err := s.exchange(ctx, refreshToken, trigger)
	if err != nil {
		failure := apperrors.RefreshFailure(err)
		s.mu.Lock()
		still := s.session != nil && s.session.RefreshToken == refreshToken
		s.mu.Unlock()
		if still {
			_ = s.teardown(ctx, ReasonRefreshFailed, failure)
		}
		return domainauth.Session{}, failure
	}

	s.mu.Lock()
	if s.session == nil || s.session.RefreshToken != refreshToken {
		s.mu.Unlock()
		return domainauth.Session{}, apperrors.Canceled("session changed while refreshing")
	}
	if sess.User.ID == "" {
		sess.User = s.session.User
	}
	err = s.setSessionLocked(ctx, sess)
	s.mu.Unlock()
	if err != nil {
		return domainauth.Session{}, err
	}
	s.notify()
	s.logger.InfoContext(ctx, "session refreshed", "trigger", trigger, "expires_at", sess.ExpiresAt)
	return s.Snapshot().Session, nil
}

// exchange calls the provider, retrying network failures with exponential backoff.
// Rejections are returned on the first attempt.
func (s *Store) exchange(ctx context.Context, refreshToken, trigger string) (domainauth.Session, error) {
	if refreshToken == "" {
		return domainauth.Session{}, apperrors.ExpiredSession("no refresh token")
	}
	delay := s.refreshBackoff
	for attempt := 0; ; attempt++ {
		sess, err := s.provider.RefreshSession(ctx, refreshToken)
		if err == nil {
			s.metrics.ObserveRefresh(trigger, "", nil)
			return sess, nil
		}
		if !apperrors.IsTransient(err) || attempt >= s.refreshRetries {
			s.metrics.ObserveRefresh(trigger, "", err)
			s.logger.WarnContext(ctx, "session refresh failed", "trigger", trigger, "attempts", attempt+1, "error", err)
			return domainauth.Session{}, err
		}
		s.metrics.ObserveRefreshRetry()
		s.logger.WarnContext(ctx, "session refresh failed; retrying", "trigger", trigger, "attempt", attempt+1, "delay", delay, "error", err)
		if serr := s.sleep(ctx, delay); serr != nil {
			return domainauth.Session{}, apperrors.Wrap(serr, apperrors.ErrCodeCanceled, "refresh retry canceled")
		}
		delay *= 2
	}
}

// RunRefresher renews the session RefreshMargin before it expires until ctx is done.
// Tokens that live shorter than the margin are renewed at half their remaining lifetime.
func (s *Store) RunRefresher(ctx context.Context) error {
	wake := make(chan struct{}, 1)
	unsubscribe := s.Subscribe(func(Snapshot) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	var last time.Time
	for {
		wait, ok := s.nextRefresh(last)
		var timer *time.Timer
		var fire <-chan time.Time
		if ok {
			timer = time.NewTimer(wait)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case <-wake:
			if timer != nil {
				timer.Stop()
			}
		case <-fire:
			last = s.now()
			snap := s.Snapshot()
			if _, err := s.refresh(ctx, snap.Session.AccessToken, metrics.TriggerProactive); err != nil {
				s.logger.WarnContext(ctx, "proactive refresh failed", "error", err)
			}
		}
	}
}

// nextRefresh returns how long to wait before the next proactive refresh, or false when
// there is nothing to refresh. The refresh lands refreshMargin before expiry; a token with less
// than the margin left is refreshed after half its remaining lifetime.
func (s *Store) nextRefresh(last time.Time) (time.Duration, bool) {
	snap := s.Snapshot()
	if snap.Session.RefreshToken == "" || snap.Session.ExpiresAt.IsZero() {
		return 0, false
	}
	now := s.now()
	remaining := snap.Session.ExpiresAt.Sub(now)
	wait := remaining - s.refreshMargin
	if wait <= 0 {
		wait = max(remaining/2, 0)
	}
	if !last.IsZero() && now.Sub(last) < s.refreshBackoff {
		wait = max(wait, s.refreshBackoff)
	}
	return wait, true
}
