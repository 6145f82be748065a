package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of identity or tenant error.
type ErrorCode string

const (
	// ErrCodeInvalidCredentials indicates the provider rejected an email/password or link credential.
	ErrCodeInvalidCredentials ErrorCode = "invalid_credentials"
	// ErrCodeNetworkFailure indicates the provider or API could not be reached or answered with a 5xx.
	ErrCodeNetworkFailure ErrorCode = "network_failure"
	// ErrCodeExpiredSession indicates there is no usable session for the operation.
	ErrCodeExpiredSession ErrorCode = "expired_session"
	// ErrCodeMFARequired indicates the operation needs an aal2 session.
	ErrCodeMFARequired ErrorCode = "mfa_required"
	// ErrCodeMFAInvalid indicates a TOTP code did not match.
	ErrCodeMFAInvalid ErrorCode = "mfa_invalid"
	// ErrCodeRefreshFailure indicates the session could not be refreshed and was torn down.
	ErrCodeRefreshFailure ErrorCode = "refresh_failure"
	// ErrCodeTenantNotFound indicates an organization or project is not visible to the caller.
	ErrCodeTenantNotFound ErrorCode = "tenant_not_found"
	// ErrCodeTokenConsumed indicates a single-use email token was already redeemed or has expired.
	ErrCodeTokenConsumed ErrorCode = "token_consumed"
	// ErrCodeUnsupported indicates the configured identity adapter does not offer the operation.
	ErrCodeUnsupported ErrorCode = "unsupported"
	// ErrCodeNotFound indicates a stored record was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing data (e.g., unique constraint violation).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInternal indicates an unexpected failure.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled or superseded.
	ErrCodeCanceled ErrorCode = "canceled"
)

// AppError represents a structured error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

func newError(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// InvalidCredentials creates a new InvalidCredentials error.
func InvalidCredentials(message string) *AppError {
	return newError(ErrCodeInvalidCredentials, message)
}

// NetworkFailure wraps a transport-level failure.
func NetworkFailure(cause error, message string) *AppError {
	return &AppError{Code: ErrCodeNetworkFailure, Message: message, Cause: cause}
}

// ExpiredSession creates a new ExpiredSession error.
func ExpiredSession(message string) *AppError {
	return newError(ErrCodeExpiredSession, message)
}

// MFARequired creates a new MFARequired error.
func MFARequired(message string) *AppError {
	return newError(ErrCodeMFARequired, message)
}

// MFAInvalid creates a new MFAInvalid error.
func MFAInvalid(message string) *AppError {
	return newError(ErrCodeMFAInvalid, message)
}

// RefreshFailure wraps the reason a refresh could not complete.
func RefreshFailure(cause error) *AppError {
	return &AppError{Code: ErrCodeRefreshFailure, Message: "session refresh failed", Cause: cause}
}

// TenantNotFound creates a new TenantNotFound error.
func TenantNotFound(message string) *AppError {
	return newError(ErrCodeTenantNotFound, message)
}

// TenantNotFoundf creates a new TenantNotFound error with formatted message.
func TenantNotFoundf(format string, args ...any) *AppError {
	return newError(ErrCodeTenantNotFound, fmt.Sprintf(format, args...))
}

// TokenConsumed creates a new TokenConsumed error.
func TokenConsumed(message string) *AppError {
	return newError(ErrCodeTokenConsumed, message)
}

// Unsupported creates a new Unsupported error.
func Unsupported(operation string) *AppError {
	return newError(ErrCodeUnsupported, operation+" is not supported by this identity adapter")
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return newError(ErrCodeNotFound, message)
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return newError(ErrCodeConflict, message)
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return newError(ErrCodeValidation, message)
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
		Field:   field,
	}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return newError(ErrCodeInternal, message)
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return newError(ErrCodeInternal, fmt.Sprintf(format, args...))
}

// Canceled creates a new Canceled error for an operation superseded by a newer one.
func Canceled(message string) *AppError {
	return newError(ErrCodeCanceled, message)
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsAppError reports whether the first AppError in err's chain carries code.
func IsAppError(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsInvalidCredentials checks if an error is an InvalidCredentials error.
func IsInvalidCredentials(err error) bool { return IsAppError(err, ErrCodeInvalidCredentials) }

// IsNetworkFailure checks if an error is a NetworkFailure error.
func IsNetworkFailure(err error) bool { return IsAppError(err, ErrCodeNetworkFailure) }

// IsExpiredSession checks if an error is an ExpiredSession error.
func IsExpiredSession(err error) bool { return IsAppError(err, ErrCodeExpiredSession) }

// IsMFARequired checks if an error is an MFARequired error.
func IsMFARequired(err error) bool { return IsAppError(err, ErrCodeMFARequired) }

// IsMFAInvalid checks if an error is an MFAInvalid error.
func IsMFAInvalid(err error) bool { return IsAppError(err, ErrCodeMFAInvalid) }

// IsRefreshFailure checks if an error is a RefreshFailure error.
func IsRefreshFailure(err error) bool { return IsAppError(err, ErrCodeRefreshFailure) }

// IsTenantNotFound checks if an error is a TenantNotFound error.
func IsTenantNotFound(err error) bool { return IsAppError(err, ErrCodeTenantNotFound) }

// IsTokenConsumed checks if an error is a TokenConsumed error.
func IsTokenConsumed(err error) bool { return IsAppError(err, ErrCodeTokenConsumed) }

// IsUnsupported checks if an error is an Unsupported error.
func IsUnsupported(err error) bool { return IsAppError(err, ErrCodeUnsupported) }

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool { return IsAppError(err, ErrCodeNotFound) }

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool { return IsAppError(err, ErrCodeConflict) }

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool { return IsAppError(err, ErrCodeValidation) }

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool { return IsAppError(err, ErrCodeTimeout) }

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool { return IsAppError(err, ErrCodeCanceled) }

// IsTransient reports whether a retry could plausibly succeed.
// Only network failures and timeouts qualify; credential and MFA errors never do.
func IsTransient(err error) bool {
	switch GetCode(err) {
	case ErrCodeNetworkFailure, ErrCodeTimeout:
		return true
	default:
		return false
	}
}

// GetCode returns the outermost ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
