package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

var (
	// ErrUnauthenticated indicates no verified identity is attached to the context.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrForbidden indicates the identity may not act on the requested tenant.
	ErrForbidden = errors.New("auth: forbidden")
)

// TenantGuard authorises staff against a tenant: admins may act on every tenant, staff only on the
// tenants listed in their token.
type TenantGuard struct {
	adminRole string
	staffRole string
}

// NewTenantGuard constructs a guard using the default admin and staff roles.
func NewTenantGuard() *TenantGuard {
	return &TenantGuard{adminRole: RoleAdmin, staffRole: RoleStaff}
}

// AuthorizeTenant implements the services access guard contract using the identity stored in ctx.
func (g *TenantGuard) AuthorizeTenant(ctx context.Context, tenantID string) error {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ErrForbidden
	}
	if identity.HasRole(g.adminRole) {
		return nil
	}
	if identity.HasRole(g.staffRole) && identity.MemberOf(tenantID) {
		return nil
	}
	return ErrForbidden
}

// RequireTenantAccess rejects requests whose tenant URL parameter the identity may not act on.
// It must run after Authenticator.RequireAuth.
func (g *TenantGuard) RequireTenantAccess(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := g.AuthorizeTenant(r.Context(), chi.URLParam(r, param))
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, ErrUnauthenticated):
				deny(w, r, http.StatusUnauthorized, "unauthenticated", "authentication required")
			default:
				deny(w, r, http.StatusForbidden, "forbidden", "identity may not access this tenant")
			}
		})
	}
}
