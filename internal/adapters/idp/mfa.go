package idp

import (
	"context"
	"net/http"
	"net/url"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
)

// EnrollTOTP registers a new TOTP factor; it stays unverified until the first successful Verify.
func (p *Provider) EnrollTOTP(ctx context.Context, accessToken, friendlyName string) (domainauth.Enrollment, error) {
	var out enrollResponse
	body := map[string]string{"factor_type": domainauth.FactorTypeTOTP, "issuer": p.mfaIssuer}
	if friendlyName != "" {
		body["friendly_name"] = friendlyName
	}
	if err := p.do(ctx, opDefault, request{method: http.MethodPost, path: "/factors", token: accessToken, body: body}, &out); err != nil {
		return domainauth.Enrollment{}, err
	}
	return domainauth.Enrollment{
		FactorID: out.ID,
		QRCode:   out.TOTP.QRCode,
		Secret:   out.TOTP.Secret,
		URI:      out.TOTP.URI,
	}, nil
}

// Challenge opens a verification window for factorID.
func (p *Provider) Challenge(ctx context.Context, accessToken, factorID string) (string, error) {
	var out challengeResponse
	path := "/factors/" + url.PathEscape(factorID) + "/challenge"
	if err := p.do(ctx, opDefault, request{method: http.MethodPost, path: path, token: accessToken}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Verify answers a challenge and returns the upgraded session.
func (p *Provider) Verify(ctx context.Context, accessToken, factorID, challengeID, code string) (domainauth.Session, error) {
	var out tokenResponse
	path := "/factors/" + url.PathEscape(factorID) + "/verify"
	body := map[string]string{"challenge_id": challengeID, "code": code}
	if err := p.do(ctx, opMFA, request{method: http.MethodPost, path: path, token: accessToken, body: body}, &out); err != nil {
		return domainauth.Session{}, err
	}
	sess := out.session(p.now())
	if sess.User.ID == "" {
		user, err := p.GetUser(ctx, sess.AccessToken)
		if err != nil {
			return domainauth.Session{}, err
		}
		sess.User = user
	}
	return sess, nil
}

// Unenroll deletes a factor.
func (p *Provider) Unenroll(ctx context.Context, accessToken, factorID string) error {
	return p.do(ctx, opDefault, request{method: http.MethodDelete, path: "/factors/" + url.PathEscape(factorID), token: accessToken}, nil)
}

// ListFactors reads the factors from the user record.
func (p *Provider) ListFactors(ctx context.Context, accessToken string) ([]domainauth.Factor, error) {
	user, err := p.GetUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return user.Factors, nil
}
