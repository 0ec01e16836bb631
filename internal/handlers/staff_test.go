package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/tableorder/api/internal/domain"
	"github.com/tableorder/api/internal/platform/auth"
	"github.com/tableorder/api/internal/platform/pagination"
	"github.com/tableorder/api/internal/services"
)

type staffTokenVerifier struct {
	tokens map[string]auth.VerifiedToken
}

func (v *staffTokenVerifier) Verify(_ context.Context, raw string) (auth.VerifiedToken, error) {
	token, ok := v.tokens[raw]
	if !ok {
		return auth.VerifiedToken{}, fmt.Errorf("unknown token")
	}
	return token, nil
}

func newStaffRouter(orders services.OrderService, queries services.OrderQueryService) chi.Router {
	verifier := &staffTokenVerifier{tokens: map[string]auth.VerifiedToken{
		"cook-a": {Subject: "uid-cook", Claims: map[string]any{"role": "staff", "tenants": []any{"t1"}}},
		"owner":  {Subject: "uid-owner", Claims: map[string]any{"role": "admin"}},
		"guest":  {Subject: "uid-guest", Claims: map[string]any{"role": "customer"}},
	}}
	h := NewStaffHandlers(auth.NewAuthenticator(verifier), auth.NewTenantGuard(), orders, queries)
	router := chi.NewRouter()
	router.Route("/tenants", h.Routes)
	return router
}

func staffRequest(method, path, token, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestStaffHandlers_AccessControl(t *testing.T) {
	queries := &stubOrderQueryService{
		listFn: func(context.Context, services.OrderListFilter) (domain.CursorPage[services.OrderView], error) {
			return domain.CursorPage[services.OrderView]{}, nil
		},
	}
	router := newStaffRouter(nil, queries)

	cases := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"no token", "/tenants/t1/orders", "", http.StatusUnauthorized},
		{"wrong role", "/tenants/t1/orders", "guest", http.StatusForbidden},
		{"other tenant", "/tenants/t2/orders", "cook-a", http.StatusForbidden},
		{"own tenant", "/tenants/t1/orders", "cook-a", http.StatusOK},
		{"admin any tenant", "/tenants/t2/orders", "owner", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, staffRequest(http.MethodGet, tc.path, tc.token, ""))
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d (%s)", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestStaffHandlers_ListOrdersParsesFilter(t *testing.T) {
	orderTime := time.Date(2024, 5, 1, 18, 30, 0, 0, time.UTC)
	var captured services.OrderListFilter
	queries := &stubOrderQueryService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.OrderView], error) {
			captured = filter
			return domain.CursorPage[services.OrderView]{
				Items: []services.OrderView{{
					Order: services.Order{
						ID:          "ord_1",
						OrderNumber: 3,
						Status:      domain.OrderStatusPending,
						Currency:    "EUR",
						TotalPrice:  900,
						OrderTime:   orderTime,
					},
					Consistent: true,
				}},
				NextPageToken: "next-cursor",
			}, nil
		},
	}
	router := newStaffRouter(nil, queries)
	token, err := pagination.EncodeTimeCursor(orderTime, "o-2")
	if err != nil {
		t.Fatalf("encode cursor: %v", err)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodGet, "/tenants/t1/orders?status=pending&limit=20&pageToken="+token, "cook-a", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if captured.TenantID != "t1" || captured.Limit != 20 || captured.PageToken != token {
		t.Fatalf("unexpected filter: %+v", captured)
	}
	if captured.Status == nil || *captured.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status filter, got %v", captured.Status)
	}

	var resp staffOrderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].OrderNumber != 3 || resp.NextPageToken != "next-cursor" {
		t.Fatalf("unexpected list response: %+v", resp)
	}

	for _, query := range []string{"status=ready", "limit=abc", "limit=-1", "pageToken=not-a-cursor"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, staffRequest(http.MethodGet, "/tenants/t1/orders?"+query, "cook-a", ""))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rr.Code)
		}
	}
}

func TestStaffHandlers_GetOrderNotFound(t *testing.T) {
	queries := &stubOrderQueryService{
		getByIDFn: func(_ context.Context, _, orderID string) (services.OrderView, error) {
			return services.OrderView{}, fmt.Errorf("%w: order %s", services.ErrOrderNotFound, orderID)
		},
	}
	router := newStaffRouter(nil, queries)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodGet, "/tenants/t1/orders/ord_missing", "cook-a", ""))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "order_not_found" {
		t.Fatalf("expected order_not_found, got %s", code)
	}
}

func TestStaffHandlers_UpdateStatus(t *testing.T) {
	now := time.Date(2024, 5, 1, 19, 0, 0, 0, time.UTC)
	var captured services.UpdateOrderStatusCommand
	orders := &stubOrderService{
		updateFn: func(_ context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
			captured = cmd
			if cmd.TargetStatus == "Completed" {
				return services.Order{}, fmt.Errorf("%w: cannot transition from Pending to Completed", services.ErrOrderInvalidTransition)
			}
			total := int64(1100)
			if cmd.TargetStatus == "Cancelled" {
				total = 1
			}
			return services.Order{
				ID:          cmd.OrderID,
				TenantID:    cmd.TenantID,
				OrderNumber: 4,
				Status:      domain.OrderStatusMaking,
				Details: []domain.OrderDetail{{
					ID: "det-1", DishID: "d1", DishName: "Soup", BasePrice: 500, Quantity: 2,
					Selections: []domain.OrderDetailSelection{{ValueID: "v1", ExtraPrice: 50}},
				}},
				TotalPrice: total,
				StatusHistory: []domain.StatusChange{
					{From: domain.OrderStatusPending, To: domain.OrderStatusMaking, ActorID: cmd.ActorID, At: now},
				},
			}, nil
		},
	}
	router := newStaffRouter(orders, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodPut, "/tenants/t1/orders/ord_4/status", "cook-a", `{"status":"Making"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if captured.TenantID != "t1" || captured.OrderID != "ord_4" || captured.ActorID != "uid-cook" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	var resp staffOrderPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "Making" || len(resp.StatusHistory) != 1 || resp.StatusHistory[0].ActorID != "uid-cook" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.Lines) != 1 || resp.Lines[0].UnitPrice != 550 || resp.Lines[0].LineTotal != 1100 {
		t.Fatalf("unexpected line prices: %+v", resp.Lines)
	}
	if !resp.Consistent {
		t.Fatalf("expected matching total to be consistent")
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodPut, "/tenants/t1/orders/ord_4/status", "cook-a", `{"status":"Cancelled"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	resp = staffOrderPayload{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Consistent || resp.Total != 1 {
		t.Fatalf("expected stored total 1 to be flagged inconsistent, got %+v", resp)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodPut, "/tenants/t1/orders/ord_4/status", "cook-a", `{"status":"Completed"}`))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %s", code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodPut, "/tenants/t1/orders/ord_4/status", "cook-a", `{}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing status, got %d", rr.Code)
	}
}
