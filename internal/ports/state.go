package ports

import (
	"context"

	domaintenant "github.com/target/agentops-console/internal/domain/tenant"
)

// DeviceState is the client-local state persisted per device.
// These four keys are the only durable state; Clear removes all of them at once.
type DeviceState struct {
	AccessToken    string `json:"access_token,omitempty"`
	RefreshToken   string `json:"refresh_token,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
}

// Empty reports whether nothing is persisted.
func (s DeviceState) Empty() bool { return s == DeviceState{} }

// StateStore persists DeviceState keyed by device, not by account.
type StateStore interface {
	// Load returns the persisted state, or a zero DeviceState when nothing is stored.
	Load(ctx context.Context) (DeviceState, error)
	SaveTokens(ctx context.Context, accessToken, refreshToken string) error
	SaveTenant(ctx context.Context, organizationID, projectID string) error
	// Clear atomically removes all four keys.
	Clear(ctx context.Context) error
}

// TenantDirectory lists and creates the organizations and projects visible to the caller.
// Calls are authenticated by the transport they are issued through.
type TenantDirectory interface {
	ListOrganizations(ctx context.Context) ([]domaintenant.Organization, error)
	ListProjects(ctx context.Context, organizationID string) ([]domaintenant.Project, error)
	CreateProject(ctx context.Context, organizationID, name string) (domaintenant.Project, error)
}

// RoleMapper maps a provider- or API-specific role string to a tenant role.
type RoleMapper interface {
	Map(raw string) domaintenant.Role
}
