package devauth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	domaintenant "github.com/target/agentops-console/internal/domain/tenant"
	apperrors "github.com/target/agentops-console/internal/errors"
	"github.com/target/agentops-console/internal/ports"
)

var _ ports.TenantDirectory = (*Directory)(nil)

// ParseOrganizations parses "id:name:role" entries. Name defaults to the id and role to member.
func ParseOrganizations(entries []string, roles ports.RoleMapper) ([]domaintenant.Organization, error) {
	out := make([]domaintenant.Organization, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		parts := strings.SplitN(e, ":", 3)
		id := strings.TrimSpace(parts[0])
		if id == "" {
			return nil, fmt.Errorf("dev auth: organization entry %q has no id", e)
		}
		org := domaintenant.Organization{ID: id, Name: id, Role: domaintenant.RoleMember}
		if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
			org.Name = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 && roles != nil {
			org.Role = roles.Map(parts[2])
		}
		out = append(out, org)
	}
	return out, nil
}

// Directory is an in-memory TenantDirectory shared by every dev user.
type Directory struct {
	mu       sync.Mutex
	orgs     []domaintenant.Organization
	projects map[string][]domaintenant.Project
	created  int
}

// NewDirectory seeds a directory with orgs and no projects.
func NewDirectory(orgs []domaintenant.Organization) *Directory {
	return &Directory{
		orgs:     append([]domaintenant.Organization(nil), orgs...),
		projects: make(map[string][]domaintenant.Project),
	}
}

// AddProject seeds a project. The organization must exist.
func (d *Directory) AddProject(p domaintenant.Project) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := domaintenant.FindOrganization(d.orgs, p.OrganizationID); !ok {
		return apperrors.TenantNotFoundf("organization %q not found", p.OrganizationID)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	d.projects[p.OrganizationID] = append(d.projects[p.OrganizationID], p)
	return nil
}

// CreatedCount reports how many projects CreateProject has made.
func (d *Directory) CreatedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created
}

func (d *Directory) ListOrganizations(_ context.Context) ([]domaintenant.Organization, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domaintenant.Organization(nil), d.orgs...), nil
}

func (d *Directory) ListProjects(_ context.Context, organizationID string) ([]domaintenant.Project, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := domaintenant.FindOrganization(d.orgs, organizationID); !ok {
		return nil, apperrors.TenantNotFoundf("organization %q not found", organizationID)
	}
	return append([]domaintenant.Project(nil), d.projects[organizationID]...), nil
}

func (d *Directory) CreateProject(_ context.Context, organizationID, name string) (domaintenant.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domaintenant.Project{}, apperrors.ValidationField("name", "project name is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := domaintenant.FindOrganization(d.orgs, organizationID); !ok {
		return domaintenant.Project{}, apperrors.TenantNotFoundf("organization %q not found", organizationID)
	}
	for _, p := range d.projects[organizationID] {
		if strings.EqualFold(p.Name, name) {
			return domaintenant.Project{}, apperrors.Conflict("a project with this name already exists")
		}
	}
	p := domaintenant.Project{ID: uuid.NewString(), Name: name, OrganizationID: organizationID}
	d.projects[organizationID] = append(d.projects[organizationID], p)
	d.created++
	return p, nil
}
