package idp

import (
	"context"
	"errors"
	"net/http"

	apperrors "github.com/target/agentops-console/internal/errors"
)

// operation tags let the status mapping distinguish endpoints that share a status code.
type operation string

const (
	opPassword operation = "password sign-in"
	opRefresh  operation = "token refresh"
	opSignUp   operation = "sign-up"
	opVerify   operation = "email link verification"
	opMFA      operation = "mfa verification"
	opOAuth    operation = "oauth exchange"
	opDefault  operation = "identity request"
)

// mapStatus converts a non-2xx provider response to the error taxonomy.
func mapStatus(op operation, status int, body errorResponse) error {
	msg := body.message()
	if msg == "" {
		msg = http.StatusText(status)
	}
	code := body.code()

	switch {
	case status >= 500:
		return apperrors.NetworkFailure(errors.New(msg), string(op)+" failed: provider unavailable")
	case status == http.StatusTooManyRequests:
		return apperrors.NetworkFailure(errors.New(msg), string(op)+" rate limited")
	case code == "insufficient_aal":
		return apperrors.MFARequired(msg)
	case op == opRefresh:
		return apperrors.ExpiredSession(msg)
	case op == opPassword, op == opOAuth, code == "invalid_credentials", code == "invalid_grant":
		return apperrors.InvalidCredentials(msg)
	case status == http.StatusUnauthorized, code == "bad_jwt", code == "session_not_found":
		return apperrors.ExpiredSession(msg)
	case op == opMFA, code == "mfa_verification_failed", code == "mfa_challenge_expired":
		return apperrors.MFAInvalid(msg)
	case op == opVerify, code == "otp_expired":
		return apperrors.TokenConsumed(msg)
	case status == http.StatusConflict, code == "user_already_exists", code == "email_exists":
		return apperrors.Conflict(msg)
	case status == http.StatusNotFound:
		return apperrors.NotFound(msg)
	default:
		return apperrors.Validation(msg)
	}
}

// mapTransport converts a failed round trip to the error taxonomy.
func mapTransport(op operation, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, string(op)+" timed out")
	case errors.Is(err, context.Canceled):
		return apperrors.Wrap(err, apperrors.ErrCodeCanceled, string(op)+" canceled")
	default:
		return apperrors.NetworkFailure(err, string(op)+" failed: provider unreachable")
	}
}
