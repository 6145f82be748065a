package httpx

import (
	"log/slog"
	"net/http"

	domaintenant "github.com/target/agentops-console/internal/domain/tenant"
	apperrors "github.com/target/agentops-console/internal/errors"
	"github.com/target/agentops-console/internal/ports"
)

// TenantHandlers serves memberships and projects from a TenantDirectory.
type TenantHandlers struct {
	Directory ports.TenantDirectory
	Logger    *slog.Logger
}

type organizationDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type membershipDTO struct {
	Organization organizationDTO   `json:"organization"`
	Role         domaintenant.Role `json:"role"`
}

type createProjectRequest struct {
	Name string `json:"name"`
}

// Me echoes the caller's identity and the tenant headers the request carried.
func (h *TenantHandlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		WriteAppError(w, apperrors.ExpiredSession("not authenticated"))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"id":              claims.Subject,
		"email":           claims.Email,
		"aal":             claims.AAL,
		"organization_id": r.Header.Get(HeaderOrganizationID),
		"project_id":      r.Header.Get(HeaderProjectID),
	})
}

// ListOrganizations responds with the caller's memberships in the nested shape.
func (h *TenantHandlers) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.Directory.ListOrganizations(r.Context())
	if err != nil {
		h.fail(w, r, "list organizations", err)
		return
	}
	out := make([]membershipDTO, 0, len(orgs))
	for _, o := range orgs {
		out = append(out, membershipDTO{Organization: organizationDTO{ID: o.ID, Name: o.Name}, Role: o.Role})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"data": out})
}

// ListProjects responds with the projects of the {org} organization.
func (h *TenantHandlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Directory.ListProjects(r.Context(), OrganizationFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "list projects", err)
		return
	}
	if projects == nil {
		projects = []domaintenant.Project{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// CreateProject creates a project in the {org} organization.
func (h *TenantHandlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	p, err := h.Directory.CreateProject(r.Context(), OrganizationFromContext(r.Context()), req.Name)
	if err != nil {
		h.fail(w, r, "create project", err)
		return
	}
	h.Logger.InfoContext(r.Context(), "project created", "organization_id", p.OrganizationID, "project_id", p.ID)
	WriteJSON(w, http.StatusCreated, map[string]any{"project": p})
}

func (h *TenantHandlers) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if StatusFor(err) >= http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), op+" failed", "error", err)
	}
	WriteAppError(w, err)
}
