package devauth

import (
	"context"

	"github.com/google/uuid"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
	apperrors "github.com/target/agentops-console/internal/errors"
	"github.com/target/agentops-console/internal/totp"
)

// EnrollTOTP creates an unverified TOTP factor. Earlier unverified factors are discarded.
func (p *Provider) EnrollTOTP(_ context.Context, accessToken, friendlyName string) (domainauth.Enrollment, error) {
	if friendlyName == "" {
		friendlyName = "Authenticator"
	}
	secret, err := totp.GenerateSecret()
	if err != nil {
		return domainauth.Enrollment{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "enroll totp factor")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	u, _, err := p.verifyAccess(accessToken)
	if err != nil {
		return domainauth.Enrollment{}, err
	}

	kept := u.factors[:0]
	for _, f := range u.factors {
		if f.Status == domainauth.FactorVerified {
			kept = append(kept, f)
		}
	}
	f := &factor{
		Factor: domainauth.Factor{
			ID:           uuid.NewString(),
			FriendlyName: friendlyName,
			Type:         domainauth.FactorTypeTOTP,
			Status:       domainauth.FactorUnverified,
		},
		secret: secret,
	}
	u.factors = append(kept, f)

	return domainauth.Enrollment{
		FactorID: f.ID,
		Secret:   secret,
		URI:      totp.URI(p.cfg.Issuer, u.email, secret),
	}, nil
}

// Challenge opens a verification window for factorID.
func (p *Provider) Challenge(_ context.Context, accessToken, factorID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, _, err := p.verifyAccess(accessToken)
	if err != nil {
		return "", err
	}
	if f, _ := u.factor(factorID); f == nil {
		return "", apperrors.NotFound("factor not found")
	}

	id := uuid.NewString()
	p.challenges[id] = challenge{userID: u.id, factorID: factorID, expires: p.now().Add(challengeTTL)}
	return id, nil
}

// Verify answers a challenge. On success the factor becomes verified and a new aal2
// session replaces the one behind accessToken.
func (p *Provider) Verify(_ context.Context, accessToken, factorID, challengeID, code string) (domainauth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, claims, err := p.verifyAccess(accessToken)
	if err != nil {
		return domainauth.Session{}, err
	}
	ch, ok := p.challenges[challengeID]
	if !ok || ch.userID != u.id || ch.factorID != factorID || p.now().After(ch.expires) {
		delete(p.challenges, challengeID)
		return domainauth.Session{}, apperrors.MFAInvalid("mfa challenge is invalid or expired")
	}
	f, _ := u.factor(factorID)
	if f == nil {
		return domainauth.Session{}, apperrors.NotFound("factor not found")
	}
	if !totp.Verify(f.secret, code, p.now()) {
		return domainauth.Session{}, apperrors.MFAInvalid("invalid TOTP code")
	}

	delete(p.challenges, challengeID)
	f.Status = domainauth.FactorVerified
	p.revoked[claims.SessionID] = struct{}{}
	return p.issueSession(u, domainauth.AAL2, "")
}

// Unenroll removes a factor. Removing a verified factor needs an aal2 session.
func (p *Provider) Unenroll(_ context.Context, accessToken, factorID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, claims, err := p.verifyAccess(accessToken)
	if err != nil {
		return err
	}
	f, i := u.factor(factorID)
	if f == nil {
		return apperrors.NotFound("factor not found")
	}
	if f.Status == domainauth.FactorVerified && claims.AAL != domainauth.AAL2 {
		return apperrors.MFARequired("an aal2 session is required to remove a verified factor")
	}
	u.factors = append(u.factors[:i], u.factors[i+1:]...)
	return nil
}

// ListFactors returns every factor, verified or not.
func (p *Provider) ListFactors(_ context.Context, accessToken string) ([]domainauth.Factor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, _, err := p.verifyAccess(accessToken)
	if err != nil {
		return nil, err
	}
	return u.domain().Factors, nil
}
