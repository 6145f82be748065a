// Package tenant contains the organization/project types that scope every API call.
package tenant

// Role is the caller's role within an organization.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Organization is a membership visible to the signed-in user.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Project belongs to exactly one organization.
type Project struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	OrganizationID string `json:"organization_id"`
}

// Status describes how far tenant resolution has progressed.
type Status string

const (
	// StatusIdle means no user is bound; nothing has been fetched.
	StatusIdle Status = "idle"
	// StatusLoading means memberships or projects are being fetched.
	StatusLoading Status = "loading"
	// StatusReady means an organization and a project are selected.
	StatusReady Status = "ready"
	// StatusOnboarding means there is nothing to select, or resolution failed.
	StatusOnboarding Status = "onboarding"
)

// Selection is a snapshot of the active tenant.
// Project, when set, always belongs to Organization.
type Selection struct {
	Organization  *Organization
	Project       *Project
	Organizations []Organization
	Projects      []Project
	Status        Status
	// Epoch is the mutation counter the snapshot was produced at.
	Epoch uint64
	// Err holds the failure that sent resolution to onboarding, if any.
	Err error
}

// OrganizationID returns the selected organization id or "".
func (s Selection) OrganizationID() string {
	if s.Organization == nil {
		return ""
	}
	return s.Organization.ID
}

// ProjectID returns the selected project id or "".
func (s Selection) ProjectID() string {
	if s.Project == nil {
		return ""
	}
	return s.Project.ID
}

// Resolved reports whether both an organization and a project are selected.
func (s Selection) Resolved() bool {
	return s.Status == StatusReady && s.Organization != nil && s.Project != nil
}

// FindOrganization returns the membership with id, if present.
func FindOrganization(orgs []Organization, id string) (Organization, bool) {
	for _, o := range orgs {
		if o.ID == id {
			return o, true
		}
	}
	return Organization{}, false
}

// FindProject returns the project with id, if present.
func FindProject(projects []Project, id string) (Project, bool) {
	for _, p := range projects {
		if p.ID == id {
			return p, true
		}
	}
	return Project{}, false
}
