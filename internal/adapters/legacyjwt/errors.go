package legacyjwt

import (
	"context"
	"errors"
	"net/http"

	apperrors "github.com/target/agentops-console/internal/errors"
)

type operation string

const (
	opLogin    operation = "login"
	opRegister operation = "register"
	opRefresh  operation = "refresh"
	opVerify   operation = "reset token verification"
	opDefault  operation = "legacy auth request"
)

func mapStatus(op operation, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status >= 500, status == http.StatusTooManyRequests:
		return apperrors.NetworkFailure(errors.New(msg), string(op)+" failed: backend unavailable")
	case op == opRefresh:
		return apperrors.ExpiredSession(msg)
	case op == opLogin && (status == http.StatusUnauthorized || status == http.StatusBadRequest || status == http.StatusForbidden):
		return apperrors.InvalidCredentials(msg)
	case op == opVerify && status < 500:
		return apperrors.TokenConsumed(msg)
	case status == http.StatusUnauthorized:
		return apperrors.ExpiredSession(msg)
	case status == http.StatusConflict:
		return apperrors.Conflict(msg)
	case status == http.StatusNotFound:
		return apperrors.NotFound(msg)
	default:
		return apperrors.Validation(msg)
	}
}

func mapTransport(op operation, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, string(op)+" timed out")
	case errors.Is(err, context.Canceled):
		return apperrors.Wrap(err, apperrors.ErrCodeCanceled, string(op)+" canceled")
	default:
		return apperrors.NetworkFailure(err, string(op)+" failed: backend unreachable")
	}
}
