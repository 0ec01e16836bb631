package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tableorder/api/internal/platform/httpx"
)

const (
	apiPrefix             = "/api/v1"
	defaultRequestTimeout = 30 * time.Second
)

// RouteRegistrar attaches one route group.
type RouteRegistrar func(r chi.Router)

// Option configures NewRouter.
type Option func(*routerSettings)

type routerSettings struct {
	timeout time.Duration
	chain   []func(http.Handler) http.Handler
	health  *HealthHandlers
	public  RouteRegistrar
	staff   RouteRegistrar
}

// WithMiddlewares runs mw after the request id, real ip and timeout middleware.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(s *routerSettings) {
		for _, m := range mw {
			if m != nil {
				s.chain = append(s.chain, m)
			}
		}
	}
}

// WithRequestTimeout replaces the 30s request deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *routerSettings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithHealthHandlers serves /healthz and /readyz from h.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(s *routerSettings) { s.health = h }
}

// WithPublicRoutes mounts the customer endpoints under /api/v1/public.
func WithPublicRoutes(reg RouteRegistrar) Option {
	return func(s *routerSettings) { s.public = reg }
}

// WithStaffRoutes mounts the staff endpoints under /api/v1/tenants.
func WithStaffRoutes(reg RouteRegistrar) Option {
	return func(s *routerSettings) { s.staff = reg }
}

// NewRouter builds the HTTP surface. Route groups without a registrar answer 501.
func NewRouter(opts ...Option) chi.Router {
	s := routerSettings{timeout: defaultRequestTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.health == nil {
		s.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(s.timeout))
	r.Use(s.chain...)
	r.NotFound(routeNotFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", s.health.Healthz)
	r.Get("/readyz", s.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		api.Route("/public", mountOrStub(s.public, "public"))
		api.Route("/tenants", mountOrStub(s.staff, "staff"))
	})
	return r
}

func mountOrStub(reg RouteRegistrar, group string) func(chi.Router) {
	if reg != nil {
		return reg
	}
	stub := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", group+" routes are not enabled", http.StatusNotImplemented))
	}
	return func(g chi.Router) {
		g.HandleFunc("/", stub)
		g.HandleFunc("/*", stub)
		g.NotFound(stub)
		g.MethodNotAllowed(stub)
	}
}

func routeNotFound(w http.ResponseWriter, req *http.Request) {
	httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
}

func methodNotAllowed(w http.ResponseWriter, req *http.Request) {
	httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
}
