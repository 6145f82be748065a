package consoleapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/agentops-console/internal/adapters/authroles"
	domaintenant "github.com/target/agentops-console/internal/domain/tenant"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestNormalizeOrganizations_Shapes(t *testing.T) {
	want := []domaintenant.Organization{
		{ID: "org-1", Name: "Acme", Role: domaintenant.RoleOwner},
		{ID: "org-2", Name: "Globex", Role: domaintenant.RoleMember},
	}

	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "nested memberships",
			raw: `[{"id":"m-1","role":"owner","organization":{"id":"org-1","name":"Acme"}},
			       {"id":"m-2","role":"user","organization":{"id":"org-2","name":"Globex"}}]`,
		},
		{
			name: "flat memberships",
			raw: `[{"id":"m-1","organization_id":"org-1","organization_name":"Acme","role":"org_owner"},
			       {"id":"m-2","organization_id":"org-2","organization_name":"Globex","role":"member"}]`,
		},
		{
			name: "bare organizations",
			raw:  `[{"id":"org-1","name":"Acme","role":"OWNER"},{"id":"org-2","name":"Globex","role":"editor"}]`,
		},
		{
			name: "data envelope",
			raw:  `{"data":[{"organization":{"id":"org-1","name":"Acme"},"role":"owner"},{"organization_id":"org-2","organization_name":"Globex","role":"member"}]}`,
		},
		{
			name: "memberships envelope",
			raw:  `{"memberships":[{"organization":{"id":"org-1","name":"Acme","role":"owner"}},{"org_id":"org-2","org_name":"Globex","membership":{"role":"member"}}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeOrganizations(decode(t, tt.raw), authroles.StaticRoleMapper{})
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestNormalizeOrganizations_NumericIDsAndGaps(t *testing.T) {
	got, err := normalizeOrganizations(decode(t, `[{"organization_id":42,"organization_name":"Numbers"},{"name":"no id"}]`), authroles.StaticRoleMapper{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "42", got[0].ID)
	assert.Equal(t, domaintenant.RoleViewer, got[0].Role)

	got, err = normalizeOrganizations(decode(t, `{"data":[]}`), authroles.StaticRoleMapper{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNormalizeProjects(t *testing.T) {
	raw := `{"projects":[
		{"id":"p-1","name":"One","organization_id":"org-1"},
		{"project_id":"p-2","project_name":"Two"},
		{"id":"p-x","name":"Foreign","organization":{"id":"org-9"}}
	]}`
	got, err := normalizeProjects(decode(t, raw), "org-1")
	require.NoError(t, err)
	assert.Equal(t, []domaintenant.Project{
		{ID: "p-1", Name: "One", OrganizationID: "org-1"},
		{ID: "p-2", Name: "Two", OrganizationID: "org-1"},
	}, got)
}

func TestNormalizeProject(t *testing.T) {
	p, err := normalizeProject(decode(t, `{"project":{"id":"p-3","name":"Default Project"}}`), "org-1")
	require.NoError(t, err)
	assert.Equal(t, domaintenant.Project{ID: "p-3", Name: "Default Project", OrganizationID: "org-1"}, p)

	_, err = normalizeProject(decode(t, `{"ok":true}`), "org-1")
	assert.Error(t, err)
}
