package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/target/agentops-console/internal/errors"
	"github.com/target/agentops-console/internal/jwtclaims"
)

// Tenant scoping headers sent by the console's request transport.
const (
	HeaderOrganizationID = "X-Organization-ID"
	HeaderProjectID      = "X-Project-ID"
	HeaderRequestID      = "X-Request-ID"
)

// TokenVerifier validates bearer access tokens.
type TokenVerifier interface {
	VerifyAccessToken(accessToken string) (jwtclaims.Claims, error)
}

// Logging returns a middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, requestID)

			ww := &respWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http",
				slog.String("request_id", requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("organization_id", r.Header.Get(HeaderOrganizationID)),
				slog.String("project_id", r.Header.Get(HeaderProjectID)),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					WriteError(w, ErrorParams{
						Code:    http.StatusInternalServerError,
						ErrCode: string(apperrors.ErrCodeInternal),
						Err:     errors.New("internal server error"),
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequireBearer rejects requests without a valid bearer access token with 401 and stores
// the verified claims in the request context.
func RequireBearer(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="agentops"`)
				WriteAppError(w, apperrors.ExpiredSession("missing bearer token"))
				return
			}
			claims, err := verifier.VerifyAccessToken(token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="agentops", error="invalid_token"`)
				WriteError(w, ErrorParams{
					Code:    http.StatusUnauthorized,
					ErrCode: string(apperrors.ErrCodeExpiredSession),
					Err:     err,
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(SetClaimsInContext(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireOrganization scopes organization routes. The {org} path value must agree with the
// X-Organization-ID header when the caller sends one.
func RequireOrganization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org := r.PathValue("org")
		if header := r.Header.Get(HeaderOrganizationID); header != "" && header != org {
			WriteError(w, ErrorParams{
				Code:    http.StatusBadRequest,
				ErrCode: string(apperrors.ErrCodeValidation),
				Err:     errors.New("X-Organization-ID does not match the organization in the path"),
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(SetOrganizationInContext(r.Context(), org)))
	})
}
