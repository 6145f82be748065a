package consoleapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/agentops-console/internal/adapters/authroles"
	domaintenant "github.com/target/agentops-console/internal/domain/tenant"
	apperrors "github.com/target/agentops-console/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL + "/api/", HTTPClient: srv.Client(), Roles: authroles.StaticRoleMapper{}})
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{HTTPClient: http.DefaultClient, Roles: authroles.StaticRoleMapper{}})
	assert.Error(t, err)
	_, err = NewClient(Config{BaseURL: "http://x", Roles: authroles.StaticRoleMapper{}})
	assert.Error(t, err)
	_, err = NewClient(Config{BaseURL: "http://x", HTTPClient: http.DefaultClient})
	assert.Error(t, err)
}

func TestListOrganizations(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/organizations", r.URL.Path)
		assert.Empty(t, r.Header.Get(HeaderOrganizationID))
		writeJSON(w, http.StatusOK, []map[string]any{
			{"role": "admin", "organization": map[string]any{"id": "org-1", "name": "Acme"}},
		})
	}))

	orgs, err := c.ListOrganizations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domaintenant.Organization{{ID: "org-1", Name: "Acme", Role: domaintenant.RoleAdmin}}, orgs)
}

func TestProjects_ScopedToOrganization(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/organizations/{org}/projects", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.PathValue("org"), r.Header.Get(HeaderOrganizationID))
		if r.PathValue("org") == "missing" {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "organization not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]any{}})
	})
	mux.HandleFunc("POST /api/organizations/{org}/projects", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		writeJSON(w, http.StatusCreated, map[string]any{"id": "p-new", "name": in["name"], "organization_id": r.PathValue("org")})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	projects, err := c.ListProjects(ctx, "org-1")
	require.NoError(t, err)
	assert.Empty(t, projects)

	p, err := c.CreateProject(ctx, "org-1", "Default Project")
	require.NoError(t, err)
	assert.Equal(t, domaintenant.Project{ID: "p-new", Name: "Default Project", OrganizationID: "org-1"}, p)

	_, err = c.ListProjects(ctx, "missing")
	assert.True(t, apperrors.IsTenantNotFound(err))
	assert.Contains(t, err.Error(), "organization not found")

	_, err = c.ListProjects(ctx, "")
	assert.True(t, apperrors.IsTenantNotFound(err))
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   apperrors.ErrorCode
	}{
		{http.StatusUnauthorized, apperrors.ErrCodeExpiredSession},
		{http.StatusForbidden, apperrors.ErrCodeTenantNotFound},
		{http.StatusNotFound, apperrors.ErrCodeTenantNotFound},
		{http.StatusConflict, apperrors.ErrCodeConflict},
		{http.StatusBadGateway, apperrors.ErrCodeNetworkFailure},
		{http.StatusTooManyRequests, apperrors.ErrCodeNetworkFailure},
		{http.StatusUnprocessableEntity, apperrors.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			_, err := c.ListOrganizations(context.Background())
			assert.Equal(t, tt.want, apperrors.GetCode(err))
		})
	}
}

type failingTransport struct{ err error }

func (f failingTransport) RoundTrip(*http.Request) (*http.Response, error) { return nil, f.err }

func TestTransportErrorsKeepTheirCode(t *testing.T) {
	refreshErr := apperrors.RefreshFailure(apperrors.ExpiredSession("refresh token revoked"))
	c, err := NewClient(Config{
		BaseURL:    "http://api.invalid",
		HTTPClient: &http.Client{Transport: failingTransport{err: refreshErr}},
		Roles:      authroles.StaticRoleMapper{},
	})
	require.NoError(t, err)

	_, err = c.ListOrganizations(context.Background())
	assert.True(t, apperrors.IsRefreshFailure(err), "got %v", err)
}

func TestDo_ReturnsNon2xxVerbatim(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/agents", r.URL.Path)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	resp, err := c.Do(context.Background(), http.MethodGet, "agents", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.Status)
	assert.Equal(t, "short and stout", string(resp.Body))
}
