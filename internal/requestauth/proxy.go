package requestauth

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	apperrors "github.com/target/agentops-console/internal/errors"
	httpx "github.com/target/agentops-console/internal/http"
)

// ReverseProxy forwards local requests to target through transport, which supplies the
// credentials. Inbound Authorization headers are dropped; inbound tenant headers are kept so a
// local tool can address another organization explicitly.
func ReverseProxy(target *url.URL, transport http.RoundTripper, logger *slog.Logger) *httputil.ReverseProxy {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "proxy")
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.Out.Host = target.Host
			r.Out.Header.Del("Authorization")
			r.Out.Header.Del("Cookie")
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			status, code := proxyStatus(err)
			logger.WarnContext(r.Context(), "proxy request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
			httpx.WriteError(w, httpx.ErrorParams{Code: status, ErrCode: code, Err: err})
		},
	}
}

func proxyStatus(err error) (int, string) {
	switch code := apperrors.GetCode(err); code {
	case apperrors.ErrCodeRefreshFailure, apperrors.ErrCodeExpiredSession:
		return http.StatusUnauthorized, string(code)
	case apperrors.ErrCodeCanceled:
		return http.StatusServiceUnavailable, string(code)
	default:
		return http.StatusBadGateway, string(apperrors.ErrCodeNetworkFailure)
	}
}
