package session

import (
	"context"
	"strings"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
	apperrors "github.com/target/agentops-console/internal/errors"
)

// EnrollMFA starts TOTP enrollment and returns the QR code, shared secret and factor id.
// The factor stays unverified, and the required level unchanged, until VerifyMFA succeeds.
func (s *Store) EnrollMFA(ctx context.Context, friendlyName string) (domainauth.Enrollment, error) {
	if strings.TrimSpace(friendlyName) == "" {
		friendlyName = s.factorName
	}
	enrollment, err := authorized(ctx, s, false, func(ctx context.Context, token string) (domainauth.Enrollment, error) {
		return s.provider.EnrollTOTP(ctx, token, friendlyName)
	})
	if err != nil {
		return domainauth.Enrollment{}, err
	}
	s.logger.InfoContext(ctx, "mfa factor enrolled", "factor_id", enrollment.FactorID)
	s.reloadUser(ctx)
	return enrollment, nil
}

// VerifyMFA runs the challenge/verify handshake for factorID and upgrades the session to aal2.
// A wrong code fails with MFAInvalid and leaves the session untouched.
func (s *Store) VerifyMFA(ctx context.Context, factorID, code string) (Snapshot, error) {
	code = strings.TrimSpace(code)
	if factorID == "" {
		return s.Snapshot(), apperrors.ValidationField("factor_id", "factor id is required")
	}
	if code == "" {
		return s.Snapshot(), apperrors.ValidationField("code", "verification code is required")
	}
	userID := s.Snapshot().Session.User.ID

	sess, err := authorized(ctx, s, false, func(ctx context.Context, token string) (domainauth.Session, error) {
		challengeID, err := s.provider.Challenge(ctx, token, factorID)
		if err != nil {
			return domainauth.Session{}, err
		}
		return s.provider.Verify(ctx, token, factorID, challengeID, code)
	})
	if err == nil && sess.User.ID == "" {
		sess.User, err = s.provider.GetUser(ctx, sess.AccessToken)
	}
	s.metrics.ObserveSignIn(MethodMFA, err)
	if err != nil {
		s.logger.WarnContext(ctx, "mfa verification failed", "factor_id", factorID, "error", err)
		return s.Snapshot(), err
	}

	s.mu.Lock()
	if s.session == nil || s.session.User.ID != userID {
		s.mu.Unlock()
		return s.Snapshot(), apperrors.Canceled("mfa verification superseded by a newer session change")
	}
	err = s.setSessionLocked(ctx, sess)
	s.mu.Unlock()
	if err != nil {
		return s.Snapshot(), err
	}
	s.notify()

	snap := s.Snapshot()
	s.logger.InfoContext(ctx, "mfa verified", "factor_id", factorID, "aal", snap.Assurance.Current)
	return snap, nil
}

// UnenrollMFA removes a factor. Removing a verified factor requires an aal2 session.
func (s *Store) UnenrollMFA(ctx context.Context, factorID string) error {
	if factorID == "" {
		return apperrors.ValidationField("factor_id", "factor id is required")
	}
	_, err := authorized(ctx, s, true, func(ctx context.Context, token string) (struct{}, error) {
		return struct{}{}, s.provider.Unenroll(ctx, token, factorID)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "mfa factor removed", "factor_id", factorID)
	s.reloadUser(ctx)
	return nil
}

// ListMFAFactors returns the factors enrolled on the account, verified or not.
func (s *Store) ListMFAFactors(ctx context.Context) ([]domainauth.Factor, error) {
	return authorized(ctx, s, false, func(ctx context.Context, token string) ([]domainauth.Factor, error) {
		return s.provider.ListFactors(ctx, token)
	})
}

// reloadUser refetches the user so factor changes are reflected in the assurance level.
func (s *Store) reloadUser(ctx context.Context) {
	user, err := authorized(ctx, s, false, s.provider.GetUser)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to reload user after factor change", "error", err)
		return
	}
	s.updateUser(user)
}
