package consoleapi

import (
	"fmt"
	"strconv"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	domaintenant "github.com/target/agentops-console/internal/domain/tenant"
	"github.com/target/agentops-console/internal/ports"
)

// The API has returned memberships nested ({"organization": {...}, "role": ...}) and flat
// ({"organization_id": ..., "organization_name": ...}), bare or wrapped in an envelope.
// These expressions fold every shape into one before anything downstream sees it.
const (
	organizationsExpr = `(data || organizations || memberships || @)[].{` +
		`id: organization.id || organization_id || org_id || id, ` +
		`name: organization.name || organization_name || org_name || name, ` +
		`role: role || membership.role || organization.role}`

	projectsExpr = `(data || projects || @)[].{` +
		`id: id || project_id, ` +
		`name: name || project_name, ` +
		`organization_id: organization_id || organization.id || org_id}`

	projectExpr = `(data || project || @).{` +
		`id: id || project_id, ` +
		`name: name || project_name, ` +
		`organization_id: organization_id || organization.id || org_id}`
)

func init() {
	for _, expr := range []string{organizationsExpr, projectsExpr, projectExpr} {
		if _, err := jmespath.Compile(expr); err != nil {
			panic(fmt.Sprintf("consoleapi: invalid normalization expression %q: %v", expr, err))
		}
	}
}

// normalizeOrganizations converts a decoded memberships payload into organizations.
// Entries without an id are dropped.
func normalizeOrganizations(payload any, roles ports.RoleMapper) ([]domaintenant.Organization, error) {
	rows, err := searchRows(organizationsExpr, payload)
	if err != nil {
		return nil, err
	}
	out := make([]domaintenant.Organization, 0, len(rows))
	for _, row := range rows {
		id := scalar(row["id"])
		if id == "" {
			continue
		}
		out = append(out, domaintenant.Organization{
			ID:   id,
			Name: scalar(row["name"]),
			Role: roles.Map(scalar(row["role"])),
		})
	}
	return out, nil
}

// normalizeProjects converts a decoded projects payload. Projects that name a different
// organization are dropped; a missing organization id is filled from the request.
func normalizeProjects(payload any, organizationID string) ([]domaintenant.Project, error) {
	rows, err := searchRows(projectsExpr, payload)
	if err != nil {
		return nil, err
	}
	out := make([]domaintenant.Project, 0, len(rows))
	for _, row := range rows {
		p, ok := projectFromRow(row, organizationID)
		if !ok {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func normalizeProject(payload any, organizationID string) (domaintenant.Project, error) {
	res, err := jmespath.Search(projectExpr, payload)
	if err != nil {
		return domaintenant.Project{}, fmt.Errorf("normalize project: %w", err)
	}
	row, _ := res.(map[string]any)
	p, ok := projectFromRow(row, organizationID)
	if !ok {
		return domaintenant.Project{}, fmt.Errorf("normalize project: response carries no project id")
	}
	return p, nil
}

func projectFromRow(row map[string]any, organizationID string) (domaintenant.Project, bool) {
	id := scalar(row["id"])
	if id == "" {
		return domaintenant.Project{}, false
	}
	org := scalar(row["organization_id"])
	if org == "" {
		org = organizationID
	}
	if org != organizationID {
		return domaintenant.Project{}, false
	}
	return domaintenant.Project{ID: id, Name: scalar(row["name"]), OrganizationID: org}, true
}

func searchRows(expr string, payload any) ([]map[string]any, error) {
	res, err := jmespath.Search(expr, payload)
	if err != nil {
		return nil, fmt.Errorf("normalize response: %w", err)
	}
	list, _ := res.([]any)
	rows := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			rows = append(rows, m)
		}
	}
	return rows, nil
}

// scalar renders ids that may arrive as strings or JSON numbers.
func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
