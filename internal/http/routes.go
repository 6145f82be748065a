package httpx

import (
	"log/slog"
	"net/http"

	"github.com/target/agentops-console/internal/ports"
)

// RouterConfig holds what the dev application API needs.
type RouterConfig struct {
	Verifier  TokenVerifier
	Directory ports.TenantDirectory
	Logger    *slog.Logger
	// Metrics, when set, is served at /metrics without authentication.
	Metrics http.Handler
}

// NewRouter creates the dev application API. Every /api route requires a bearer token.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "devapi")

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	tenants := &TenantHandlers{Directory: cfg.Directory, Logger: logger}
	auth := RequireBearer(cfg.Verifier)
	mux.Handle("GET /api/me", auth(http.HandlerFunc(tenants.Me)))
	mux.Handle("GET /api/organizations", auth(http.HandlerFunc(tenants.ListOrganizations)))
	mux.Handle("GET /api/organizations/{org}/projects", auth(RequireOrganization(http.HandlerFunc(tenants.ListProjects))))
	mux.Handle("POST /api/organizations/{org}/projects", auth(RequireOrganization(http.HandlerFunc(tenants.CreateProject))))

	return Recover(logger)(Logging(logger)(mux))
}
