package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tableorder/api/internal/platform/httpx"
)

var (
	ErrTokenExpired = errors.New("auth: token expired")
	ErrTokenInvalid = errors.New("auth: token invalid")
	// ErrVerifierUnavailable means verification could not run, for example the key set is unreachable.
	ErrVerifierUnavailable = errors.New("auth: verifier unavailable")
)

// VerifiedToken is what a TokenVerifier hands back for a valid token.
type VerifiedToken struct {
	Subject string
	Issuer  string
	Claims  map[string]any
}

// TokenVerifier verifies staff bearer tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (VerifiedToken, error)
}

// Authenticator turns bearer tokens into an Identity on the request context.
type Authenticator struct {
	verifier     TokenVerifier
	roleClaim    string
	tenantClaim  string
	emailClaim   string
	fallbackRole string
	timeout      time.Duration
}

// Option configures NewAuthenticator.
type Option func(*Authenticator)

func claimOption(set func(*Authenticator, string)) func(string) Option {
	return func(claim string) Option {
		return func(a *Authenticator) {
			if claim = strings.TrimSpace(claim); claim != "" {
				set(a, claim)
			}
		}
	}
}

var (
	// WithRoleClaim names the claim carrying roles. Default "role".
	WithRoleClaim = claimOption(func(a *Authenticator, c string) { a.roleClaim = c })
	// WithTenantClaim names the claim listing the principal's tenants. Default "tenants".
	WithTenantClaim = claimOption(func(a *Authenticator, c string) { a.tenantClaim = c })
	// WithEmailClaim names the claim carrying the email. Default "email".
	WithEmailClaim = claimOption(func(a *Authenticator, c string) { a.emailClaim = c })
)

// WithFallbackRole is granted to tokens without a role claim.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) { a.fallbackRole = normaliseRole(role) }
}

// WithVerificationTimeout bounds each Verify call. Default 5s.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:    verifier,
		roleClaim:   "role",
		tenantClaim: "tenants",
		emailClaim:  "email",
		timeout:     5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAuth rejects requests without a valid bearer token holding one of roles. No roles means
// any role is accepted, but the identity must still carry one.
func (a *Authenticator) RequireAuth(roles ...string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(roles))
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			allowed = append(allowed, role)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				deny(w, r, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				deny(w, r, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
			token, err := a.verifier.Verify(ctx, raw)
			cancel()
			if err != nil {
				denyVerification(w, r, err)
				return
			}

			identity := a.identity(token)
			switch {
			case len(identity.Roles) == 0:
				deny(w, r, http.StatusUnauthorized, "missing_role", "no roles associated with identity")
				return
			case len(allowed) > 0 && !identityHasAny(identity, allowed):
				deny(w, r, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) identity(token VerifiedToken) *Identity {
	claims := claimSet(token.Claims)
	id := &Identity{
		UID:       token.Subject,
		Issuer:    token.Issuer,
		Email:     claims.text(a.emailClaim),
		Roles:     claims.list(a.roleClaim, normaliseRole),
		TenantIDs: claims.list(a.tenantClaim, strings.TrimSpace),
	}
	if id.Email == "" {
		id.Email = claims.text("email")
	}
	if len(id.Roles) == 0 && a.fallbackRole != "" {
		id.Roles = []string{a.fallbackRole}
	}
	return id
}

func identityHasAny(id *Identity, roles []string) bool {
	for _, role := range roles {
		if id.HasRole(role) {
			return true
		}
	}
	return false
}

// claimSet reads typed values out of decoded JWT claims.
type claimSet map[string]any

func (c claimSet) text(key string) string {
	s, _ := c[key].(string)
	return strings.TrimSpace(s)
}

// list accepts a string, a list of strings, or a map of name to true. Values are normalised,
// deduplicated and emptied ones dropped.
func (c claimSet) list(key string, normalise func(string) string) []string {
	var raw []string
	switch v := c[key].(type) {
	case string:
		raw = []string{v}
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case map[string]any:
		for name, enabled := range v {
			if on, _ := enabled.(bool); on {
				raw = append(raw, name)
			}
		}
	}

	var out []string
	seen := make(map[string]bool, len(raw))
	for _, s := range raw {
		s = normalise(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func deny(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

func denyVerification(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		deny(w, r, http.StatusUnauthorized, "token_expired", "token expired")
	case errors.Is(err, ErrVerifierUnavailable):
		deny(w, r, http.StatusServiceUnavailable, "verification_unavailable", "token verification unavailable")
	default:
		deny(w, r, http.StatusUnauthorized, "invalid_token", "token verification failed")
	}
}
