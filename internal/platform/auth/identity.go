package auth

import (
	"context"
	"slices"
	"strings"
)

const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity is the verified staff principal of a request. Roles are lower case.
type Identity struct {
	UID       string
	Email     string
	Issuer    string
	Roles     []string
	TenantIDs []string
}

func (i *Identity) HasRole(role string) bool {
	role = normaliseRole(role)
	return i != nil && role != "" && slices.Contains(i.Roles, role)
}

// MemberOf reports whether the token lists tenantID among the principal's tenants.
func (i *Identity) MemberOf(tenantID string) bool {
	tenantID = strings.TrimSpace(tenantID)
	return i != nil && tenantID != "" && slices.Contains(i.TenantIDs, tenantID)
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
