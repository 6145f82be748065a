package httpx

import (
	"context"

	"github.com/target/agentops-console/internal/jwtclaims"
)

type claimsKey struct{}

type organizationKey struct{}

// SetClaimsInContext returns a child context carrying the verified access token claims.
func SetClaimsInContext(ctx context.Context, claims jwtclaims.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims set by RequireBearer.
func ClaimsFromContext(ctx context.Context) (jwtclaims.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(jwtclaims.Claims)
	return c, ok
}

// SetOrganizationInContext records the organization the request is scoped to.
func SetOrganizationInContext(ctx context.Context, organizationID string) context.Context {
	if organizationID == "" {
		return ctx
	}
	return context.WithValue(ctx, organizationKey{}, organizationID)
}

// OrganizationFromContext returns the organization set by RequireOrganization, or "".
func OrganizationFromContext(ctx context.Context) string {
	id, _ := ctx.Value(organizationKey{}).(string)
	return id
}
