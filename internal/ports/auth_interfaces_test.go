package ports_test

import (
	"testing"

	"github.com/target/agentops-console/internal/adapters/consoleapi"
	"github.com/target/agentops-console/internal/adapters/devauth"
	"github.com/target/agentops-console/internal/adapters/filestore"
	"github.com/target/agentops-console/internal/adapters/idp"
	"github.com/target/agentops-console/internal/adapters/legacyjwt"
	"github.com/target/agentops-console/internal/adapters/postgres"
	"github.com/target/agentops-console/internal/adapters/redis"
	"github.com/target/agentops-console/internal/adapters/sealed"
	mocks "github.com/target/agentops-console/internal/mocks/auth"
	"github.com/target/agentops-console/internal/ports"
)

// This test only verifies that adapters and mocks conform to the ports at compile time.
func TestImplementationsSatisfyPorts(t *testing.T) {
	t.Helper()

	var _ ports.IdentityProvider = (*mocks.MockIdentityProvider)(nil)
	var _ ports.IdentityProvider = (*devauth.Provider)(nil)
	var _ ports.IdentityProvider = (*idp.Provider)(nil)
	var _ ports.IdentityProvider = (*legacyjwt.Provider)(nil)
	var _ ports.StateStore = (*mocks.MemoryStateStore)(nil)
	var _ ports.StateStore = (*filestore.Store)(nil)
	var _ ports.StateStore = (*redis.StateStore)(nil)
	var _ ports.StateStore = (*postgres.StateStore)(nil)
	var _ ports.StateStore = (*sealed.StateStore)(nil)
	var _ ports.TenantDirectory = (*consoleapi.Client)(nil)
	var _ ports.TenantDirectory = (*devauth.Directory)(nil)
	var _ ports.RoleMapper = (*mocks.StaticRoleMapper)(nil)
}
