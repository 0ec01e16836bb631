package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tableorder/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc123"})
	rr := httptest.NewRecorder()

	WriteError(ctx, rr, NewError("order_not_found", "order 7\nnot found", http.StatusNotFound))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "order_not_found" || body["message"] != "order 7 not found" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["status"] != float64(http.StatusNotFound) || body["trace_id"] != "abc123" {
		t.Fatalf("unexpected body %v", body)
	}
	if _, ok := body["request_id"]; ok {
		t.Fatalf("expected request_id to be omitted without chi request id")
	}
}

func TestNewErrorDefaultsToInternal(t *testing.T) {
	e := NewError("internal_error", "boom", 0)
	if e.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", e.Status)
	}
	if e.Error() != "internal_error: boom" {
		t.Fatalf("unexpected error string %q", e.Error())
	}
}
