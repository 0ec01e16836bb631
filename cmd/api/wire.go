package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/tableorder/api/internal/handlers"
	"github.com/tableorder/api/internal/platform/auth"
	"github.com/tableorder/api/internal/platform/config"
	"github.com/tableorder/api/internal/platform/idempotency"
	"github.com/tableorder/api/internal/platform/observability"
	"github.com/tableorder/api/internal/platform/secrets"
	"github.com/tableorder/api/internal/services"
)

// newHandler assembles the services over the opened storage and events and returns the router.
func newHandler(ctx context.Context, cfg config.Config, build services.BuildInfo, store *storage, evts *events, fetcher *secrets.Fetcher, logger *zap.Logger) (http.Handler, error) {
	authenticator, err := newAuthenticator(ctx, cfg, logger.Named("auth"))
	if err != nil {
		return nil, fmt.Errorf("init staff authentication: %w", err)
	}
	guard := auth.NewTenantGuard()
	orderLog := observability.EventLogger(logger.Named("orders"))
	limits := cfg.Ordering

	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{Catalog: store.Catalog})
	if err != nil {
		return nil, fmt.Errorf("init catalog service: %w", err)
	}
	pricing, err := services.NewPricingService(services.PricingServiceDeps{
		Catalog:     store.Catalog,
		MaxLines:    limits.MaxLines,
		MaxQuantity: limits.MaxQuantity,
	})
	if err != nil {
		return nil, fmt.Errorf("init pricing service: %w", err)
	}
	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:               store.Orders,
		Catalog:              store.Catalog,
		Clock:                time.Now,
		Events:               evts.Publisher,
		Guard:                guard,
		Logger:               orderLog,
		MaxSequenceAttempts:  limits.MaxSequenceAttempts,
		MaxLines:             limits.MaxLines,
		MaxQuantity:          limits.MaxQuantity,
		MaxCustomerNameRunes: limits.MaxCustomerNameRunes,
		MaxCommentRunes:      limits.MaxCommentRunes,
	})
	if err != nil {
		return nil, fmt.Errorf("init order service: %w", err)
	}
	queries, err := services.NewOrderQueryService(services.OrderQueryServiceDeps{
		Orders:       store.Orders,
		Catalog:      store.Catalog,
		Guard:        guard,
		Logger:       orderLog,
		DefaultLimit: limits.DefaultListLimit,
		MaxLimit:     limits.MaxListLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("init order query service: %w", err)
	}

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(build)}
	if system, err := newSystemService(store, evts, fetcher, build); err != nil {
		logger.Warn("readiness checks disabled", zap.Error(err))
	} else {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(system))
	}

	submitOnce := idempotency.Middleware(store.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
		idempotency.WithScope(func(r *http.Request) string {
			return "tenant:" + strings.TrimSpace(chi.URLParam(r, "tenantId"))
		}),
	)
	public := handlers.NewPublicHandlers(catalog, pricing, orders, queries,
		handlers.WithOrderSubmissionMiddleware(submitOnce),
	)
	staff := handlers.NewStaffHandlers(authenticator, guard, orders, queries,
		handlers.WithListLimits(limits.DefaultListLimit, limits.MaxListLimit),
	)

	httpLogger := logger.Named("http")
	project := traceProjectID(cfg)
	return handlers.NewRouter(
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(project),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(project),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithPublicRoutes(public.Routes),
		handlers.WithStaffRoutes(staff.Routes),
	), nil
}

func newAuthenticator(ctx context.Context, cfg config.Config, logger *zap.Logger) (*auth.Authenticator, error) {
	opts := []auth.Option{
		auth.WithRoleClaim(cfg.Security.RoleClaim),
		auth.WithTenantClaim(cfg.Security.TenantClaim),
	}

	var verifier auth.TokenVerifier
	switch cfg.Security.Provider {
	case config.AuthProviderJWT:
		oidc := cfg.Security.OIDC
		cache := auth.NewJWKSCache(oidc.JWKSURL, auth.WithJWKSLogger(logger))
		metrics := observability.NewAuthMetrics(otel.Meter("github.com/tableorder/api/auth"), logger)
		jwtVerifier, err := auth.NewJWTVerifier(cache, oidc.Audience, oidc.Issuers, auth.WithJWTMetrics(metrics))
		if err != nil {
			return nil, err
		}
		logger.Info("staff tokens verified against jwks", zap.String("jwksUrl", oidc.JWKSURL))
		verifier = jwtVerifier
	default:
		firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			return nil, err
		}
		verifier = firebaseVerifier
	}
	return auth.NewAuthenticator(verifier, opts...), nil
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
