package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tableorder/api/internal/platform/httpx"
	"github.com/tableorder/api/internal/platform/observability"
	"github.com/tableorder/api/internal/platform/requestctx"
	"github.com/tableorder/api/internal/services"
)

const maxRequestBodySize = 64 * 1024

// tenantScope records the {tenantId} URL parameter on the request context for event logging.
func tenantScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(chi.URLParam(r, "tenantId"))
		next.ServeHTTP(w, r.WithContext(requestctx.WithTenant(r.Context(), tenantID)))
	})
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// decodeJSONBody reads a single JSON document into dst, rejecting unknown fields and oversized bodies.
func decodeJSONBody(r *http.Request, dst any) error {
	return decodeBody(r, dst, true)
}

// decodeCartBody is decodeJSONBody for customer carts. Fields the server does not read, such as
// client computed prices or totals, are dropped instead of failing the request.
func decodeCartBody(r *http.Request, dst any) error {
	return decodeBody(r, dst, false)
}

func decodeBody(r *http.Request, dst any, strict bool) error {
	limited := io.LimitReader(r.Body, maxRequestBodySize+1)
	defer r.Body.Close()

	payload, err := io.ReadAll(limited)
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(payload) > maxRequestBodySize {
		return errors.New("request body too large")
	}
	if len(payload) == 0 {
		return errors.New("request body required")
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	if strict {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if decoder.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func writeInvalidRequest(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}

// writeServiceError maps service sentinels onto the public error codes. notFoundCode names the
// resource the endpoint looks up.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error, notFoundCode string) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrPricingInvalidInput),
		errors.Is(err, services.ErrCatalogInvalidInput):
		writeInvalidRequest(ctx, w, err.Error())
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "access to tenant denied", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrPricingNotFound),
		errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError(notFoundCode, err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderConflict), errors.Is(err, services.ErrSequenceExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order could not be stored; retry the request", http.StatusConflict))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		observability.FromContext(ctx).Error("unhandled service error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}
