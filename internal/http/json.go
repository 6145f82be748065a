package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"

	apperrors "github.com/target/agentops-console/internal/errors"
)

const maxRequestBody = 1 << 20

// DecodeJSON decodes the request body into dst. On failure it writes a 400 and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}
	return true
}

// WriteJSON writes v as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// Client disconnects can't be recovered from here.
	_, _ = buf.WriteTo(w)
}

// ErrorParams describes a JSON error response.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

// WriteError writes {"error": ErrCode, "message": Err} with status Code.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	body := map[string]string{"error": p.ErrCode, "message": p.Err.Error()}
	if field := apperrors.GetField(p.Err); field != "" {
		body["field"] = field
	}
	WriteJSON(w, p.Code, body)
}

// WriteAppError writes err using the status and code of its AppError category.
func WriteAppError(w http.ResponseWriter, err error) {
	code := string(apperrors.GetCode(err))
	if code == "" {
		code = string(apperrors.ErrCodeInternal)
	}
	WriteError(w, ErrorParams{Code: StatusFor(err), ErrCode: code, Err: err})
}

// StatusFor maps an error category to an HTTP status.
func StatusFor(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeInvalidCredentials, apperrors.ErrCodeExpiredSession, apperrors.ErrCodeRefreshFailure:
		return http.StatusUnauthorized
	case apperrors.ErrCodeMFARequired:
		return http.StatusForbidden
	case apperrors.ErrCodeTenantNotFound, apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeConflict:
		return http.StatusConflict
	case apperrors.ErrCodeValidation, apperrors.ErrCodeMFAInvalid, apperrors.ErrCodeTokenConsumed:
		return http.StatusBadRequest
	case apperrors.ErrCodeUnsupported:
		return http.StatusNotImplemented
	case apperrors.ErrCodeNetworkFailure:
		return http.StatusBadGateway
	case apperrors.ErrCodeTimeout, apperrors.ErrCodeCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
