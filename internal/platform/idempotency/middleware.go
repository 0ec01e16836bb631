package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tableorder/api/internal/platform/httpx"
)

const (
	defaultHeader = "Idempotency-Key"
	replayHeader  = "X-Idempotent-Replay"
	maxKeyLength  = 255
)

type settings struct {
	header string
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
	scope  func(*http.Request) string
}

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*settings)

// WithHeader names the request header holding the key.
func WithHeader(name string) MiddlewareOption {
	return func(s *settings) {
		if name = strings.TrimSpace(name); name != "" {
			s.header = name
		}
	}
}

// WithTTL sets how long answered requests stay replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) MiddlewareOption {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithScope partitions keys, typically by tenant, so two tenants can never collide on a key.
// Without it every key shares one global scope.
func WithScope(scope func(*http.Request) string) MiddlewareOption {
	return func(s *settings) {
		if scope != nil {
			s.scope = scope
		}
	}
}

// Middleware makes a handler safe to retry. Requests without the key header pass straight through.
// With a key, the first request runs and its answer is stored; a retry with the same body gets that
// answer again with X-Idempotent-Replay: true, a retry with a different body gets 409, and a retry
// while the first is still running gets 409 as well. Server errors and conflicts are not stored, so
// the client may retry them with the same key.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	s := settings{
		header: defaultHeader,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: zap.NewNop(),
		scope:  func(*http.Request) string { return "global" },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(s.header))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, err := bufferBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}

			scope := s.scope(r)
			storeKey := scope + "|" + key
			fingerprint := digest([]byte(r.Method), []byte(r.URL.Path), []byte(r.URL.RawQuery), body)
			logger := s.logger.With(zap.String("idempotency_scope", scope))

			claim, err := store.Claim(ctx, storeKey, fingerprint, s.now().UTC(), s.ttl)
			switch {
			case errors.Is(err, ErrKeyReused):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
				return
			case err != nil:
				logger.Error("idempotency claim failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unable to process idempotency key", http.StatusInternalServerError))
				return
			}

			switch claim.Outcome {
			case OutcomeReplay:
				replay(w, claim.Response)
				return
			case OutcomeInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
				return
			}

			// A cancelled client should not lose the record of an order that was created.
			persistCtx := context.WithoutCancel(ctx)
			resp := serveBuffered(next, r, func() {
				logger.Warn("handler panicked; idempotency claim released")
				abandon(persistCtx, store, storeKey, logger)
			})
			if storable(resp.Status) {
				if err := store.Complete(persistCtx, storeKey, fingerprint, resp, s.now().UTC(), s.ttl); err != nil {
					logger.Error("idempotency complete failed", zap.Int("status", resp.Status), zap.Error(err))
					abandon(persistCtx, store, storeKey, logger)
				}
			} else {
				abandon(persistCtx, store, storeKey, logger)
			}
			write(w, resp)
		})
	}
}

// serveBuffered runs next into a buffer. When next panics, release runs before the panic continues
// to the recovery middleware.
func serveBuffered(next http.Handler, r *http.Request, release func()) Response {
	finished := false
	defer func() {
		if !finished {
			release()
		}
	}()
	buf := &bufferedWriter{header: make(http.Header)}
	next.ServeHTTP(buf, r)
	finished = true
	return buf.response()
}

func storable(status int) bool {
	return status < http.StatusInternalServerError && status != http.StatusConflict
}

func abandon(ctx context.Context, store Store, key string, logger *zap.Logger) {
	if err := store.Abandon(ctx, key); err != nil {
		logger.Warn("idempotency abandon failed", zap.Error(err))
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func replay(w http.ResponseWriter, resp Response) {
	w.Header().Set(replayHeader, "true")
	write(w, resp)
}

func write(w http.ResponseWriter, resp Response) {
	for name, values := range resp.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

// bufferedWriter holds the handler's answer until it has been stored.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) response() Response {
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	return Response{Status: status, Header: b.header, Body: b.body.Bytes()}
}
