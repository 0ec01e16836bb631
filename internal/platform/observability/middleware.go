package observability

import (
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tableorder/api/internal/platform/auth"
	"github.com/tableorder/api/internal/platform/httpx"
	"github.com/tableorder/api/internal/platform/requestctx"
)

// InjectLoggerMiddleware puts logger on every request context.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// RequestLoggerMiddleware derives a request logger (request id, method, trace) for downstream code and
// writes one start and one completion entry per request. The completion entry carries the matched
// route pattern and the tenant taken from the URL, which are only known once routing has run.
func RequestLoggerMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			info, _ := requestctx.Trace(ctx)

			fields := []zap.Field{
				zap.String("request_id", middleware.GetReqID(ctx)),
				zap.String("method", SanitizeMethod(r.Method)),
				zap.String("trace_id", info.TraceID),
			}
			if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
				fields = append(fields, zap.String("user_id", SanitizeUserID(identity.UID)))
			}
			if projectID != "" && info.TraceID != "" {
				fields = append(fields, zap.String("logging.googleapis.com/trace", "projects/"+projectID+"/traces/"+info.TraceID))
			}
			if ip := remoteHost(r); ip != "" {
				fields = append(fields, zap.String("remote_ip", ip))
			}
			logger := requestctx.Logger(ctx).With(fields...)
			r = r.WithContext(requestctx.WithLogger(ctx, logger))

			sw := &statusWriter{ResponseWriter: w}
			started := time.Now()
			logger.Info("request started", zap.String("path", SanitizeRoute(r.URL.Path)))

			panicked := true
			defer func() {
				status := sw.status()
				if panicked && status < http.StatusInternalServerError {
					status = http.StatusInternalServerError
				}
				route, tenantID := routeDetails(r)

				span := trace.SpanFromContext(r.Context())
				span.SetAttributes(
					semconv.HTTPResponseStatusCode(status),
					semconv.HTTPRoute(route),
				)
				if tenantID != "" {
					span.SetAttributes(attribute.String("tableorder.tenant_id", tenantID))
				}
				if status >= http.StatusInternalServerError {
					span.SetStatus(codes.Error, http.StatusText(status))
				}

				done := []zap.Field{
					zap.String("route", route),
					zap.Int("status", status),
					zap.Duration("latency", time.Since(started)),
					zap.Int64("bytes", sw.bytes),
				}
				if tenantID != "" {
					done = append(done, zap.String("tenant_id", tenantID))
				}
				if ce := logger.Check(completionLevel(status), "request completed"); ce != nil {
					ce.Write(done...)
				}
			}()

			next.ServeHTTP(sw, r)
			panicked = false
		})
	}
}

// RecoveryMiddleware turns a handler panic into a logged stack trace and a generic JSON 500.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger := requestctx.Logger(r.Context())
				if logger == requestctx.NoopLogger() {
					logger = fallback
				}
				logger.Error("panic recovered", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				httpx.WriteError(r.Context(), w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func completionLevel(status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func routeDetails(r *http.Request) (route, tenantID string) {
	route = pathOrRoot(r)
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			route = pattern
		}
		tenantID = SanitizeTenantID(rctx.URLParam("tenantId"))
	}
	return SanitizeRoute(route), tenantID
}

func remoteHost(r *http.Request) string {
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return clip(addr, 64)
}

type statusWriter struct {
	http.ResponseWriter
	code  int
	bytes int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}
