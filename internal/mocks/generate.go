// Package mocks provides mock implementations for testing the console's tenant and state ports.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the port interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	dir := mocks.NewMockTenantDirectory(ctrl)
//	dir.EXPECT().ListOrganizations(gomock.Any()).Return(orgs, nil)
//
// Hand-written doubles for the identity provider live in internal/mocks/auth.
package mocks

// Generate mock for TenantDirectory interface from internal/ports package.
// This creates MockTenantDirectory with methods for all TenantDirectory interface methods:
// ListOrganizations, ListProjects, CreateProject
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=tenant_directory_mock.go github.com/target/agentops-console/internal/ports TenantDirectory

// Generate mock for StateStore interface from internal/ports package.
// This creates MockStateStore with methods for all StateStore interface methods:
// Load, SaveTokens, SaveTenant, Clear
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=state_store_mock.go github.com/target/agentops-console/internal/ports StateStore
