package authroles

import (
	"strings"

	domaintenant "github.com/target/agentops-console/internal/domain/tenant"
	"github.com/target/agentops-console/internal/ports"
)

var _ ports.RoleMapper = StaticRoleMapper{}

var defaultAliases = map[string]domaintenant.Role{
	"owner":         domaintenant.RoleOwner,
	"org_owner":     domaintenant.RoleOwner,
	"admin":         domaintenant.RoleAdmin,
	"administrator": domaintenant.RoleAdmin,
	"org_admin":     domaintenant.RoleAdmin,
	"member":        domaintenant.RoleMember,
	"user":          domaintenant.RoleMember,
	"editor":        domaintenant.RoleMember,
	"viewer":        domaintenant.RoleViewer,
	"read_only":     domaintenant.RoleViewer,
	"readonly":      domaintenant.RoleViewer,
	"guest":         domaintenant.RoleViewer,
}

// StaticRoleMapper maps membership role strings by a fixed alias table.
// Unknown or empty roles map to viewer.
type StaticRoleMapper struct {
	// Overrides take precedence over the built-in aliases. Keys are matched case-insensitively.
	Overrides map[string]domaintenant.Role
}

func (m StaticRoleMapper) Map(raw string) domaintenant.Role {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	for k, v := range m.Overrides {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	if role, ok := defaultAliases[key]; ok {
		return role
	}
	return domaintenant.RoleViewer
}
