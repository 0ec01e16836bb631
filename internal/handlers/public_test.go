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
	"github.com/tableorder/api/internal/platform/idempotency"
	"github.com/tableorder/api/internal/repositories/memory"
	"github.com/tableorder/api/internal/services"
)

type stubCatalogService struct {
	getTableFn func(ctx context.Context, tenantID, tableID string) (services.Table, error)
	getMenuFn  func(ctx context.Context, tenantID string) (services.MenuView, error)
}

func (s *stubCatalogService) GetTable(ctx context.Context, tenantID, tableID string) (services.Table, error) {
	return s.getTableFn(ctx, tenantID, tableID)
}

func (s *stubCatalogService) GetMenu(ctx context.Context, tenantID string) (services.MenuView, error) {
	return s.getMenuFn(ctx, tenantID)
}

type stubPricingService struct {
	calculateFn func(ctx context.Context, cmd services.CalculatePriceCommand) (services.PriceQuote, error)
}

func (s *stubPricingService) CalculatePrice(ctx context.Context, cmd services.CalculatePriceCommand) (services.PriceQuote, error) {
	return s.calculateFn(ctx, cmd)
}

type stubOrderService struct {
	createFn func(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error)
	updateFn func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
	return s.createFn(ctx, cmd)
}

func (s *stubOrderService) UpdateOrderStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	return s.updateFn(ctx, cmd)
}

type stubOrderQueryService struct {
	getFn     func(ctx context.Context, tenantID string, orderNumber int64) (services.OrderView, error)
	getByIDFn func(ctx context.Context, tenantID, orderID string) (services.OrderView, error)
	listFn    func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.OrderView], error)
}

func (s *stubOrderQueryService) GetOrder(ctx context.Context, tenantID string, orderNumber int64) (services.OrderView, error) {
	return s.getFn(ctx, tenantID, orderNumber)
}

func (s *stubOrderQueryService) GetOrderByID(ctx context.Context, tenantID, orderID string) (services.OrderView, error) {
	return s.getByIDFn(ctx, tenantID, orderID)
}

func (s *stubOrderQueryService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.OrderView], error) {
	return s.listFn(ctx, filter)
}

func newPublicRouter(h *PublicHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/public", h.Routes)
	return router
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body %q: %v", rr.Body.String(), err)
	}
	return body.Error
}

func TestPublicHandlers_GetTable(t *testing.T) {
	catalog := &stubCatalogService{
		getTableFn: func(_ context.Context, tenantID, tableID string) (services.Table, error) {
			if tenantID != "t1" || tableID != "tbl-3" {
				return services.Table{}, fmt.Errorf("%w: table %s", services.ErrCatalogNotFound, tableID)
			}
			return services.Table{ID: tableID, TenantID: tenantID, Number: "3", Capacity: 4}, nil
		},
	}
	router := newPublicRouter(NewPublicHandlers(catalog, nil, nil, nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/tenants/t1/tables/tbl-3", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var table tablePayload
	if err := json.Unmarshal(rr.Body.Bytes(), &table); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if table.Number != "3" || table.Capacity != 4 {
		t.Fatalf("unexpected table payload: %+v", table)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/tenants/t2/tables/tbl-3", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign table, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "table_not_found" {
		t.Fatalf("expected table_not_found, got %s", code)
	}
}

func TestPublicHandlers_GetMenu(t *testing.T) {
	store := cartStore()
	store.PutCategory(domain.Category{ID: "mains", TenantID: "t1", Name: "Mains"})
	store.PutDish(domain.Dish{ID: "d2", TenantID: "t1", CategoryID: "mains", Name: "Gnocchi", BasePrice: 900})
	store.PutOptionValue(domain.OptionValue{ID: "v-hot", TenantID: "t1", OptionID: "spice", OptionName: "Spice", Name: "Hot", ExtraPrice: 50})
	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{Catalog: store})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	router := newPublicRouter(NewPublicHandlers(catalog, nil, nil, nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/tenants/t1/menu", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var menu menuPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &menu); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if menu.TenantName != "Trattoria" || menu.Currency != "EUR" {
		t.Fatalf("unexpected tenant: %+v", menu)
	}

	dishes := map[string]menuDishPayload{}
	for _, category := range menu.Categories {
		for _, dish := range category.Dishes {
			dishes[dish.ID] = dish
		}
	}
	pasta := dishes["d1"]
	if len(pasta.Options) != 1 || pasta.Options[0].ID != "size" || len(pasta.Options[0].Values) != 1 || pasta.Options[0].Values[0].ExtraPrice != 150 {
		t.Fatalf("expected only the allowed size option on d1, got %+v", pasta.Options)
	}
	if gnocchi := dishes["d2"]; gnocchi.BasePrice != 900 || len(gnocchi.Options) != 0 {
		t.Fatalf("expected d2 without options, got %+v", gnocchi)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/tenants/t9/menu", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown tenant, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "tenant_not_found" {
		t.Fatalf("expected tenant_not_found, got %s", code)
	}
}

func TestPublicHandlers_QuotePrice(t *testing.T) {
	var captured services.CalculatePriceCommand
	pricing := &stubPricingService{
		calculateFn: func(_ context.Context, cmd services.CalculatePriceCommand) (services.PriceQuote, error) {
			captured = cmd
			return services.PriceQuote{
				Currency: "EUR",
				Total:    2300,
				Lines: []services.LinePrice{{
					DishID:    "d1",
					DishName:  "Pizza",
					BasePrice: 1000,
					Quantity:  2,
					Selections: []domain.OrderDetailSelection{
						{ValueID: "v-large", OptionID: "size", OptionName: "Size", ValueName: "Large", ExtraPrice: 150},
					},
					UnitPrice: 1150,
					LineTotal: 2300,
				}},
			}, nil
		},
	}
	router := newPublicRouter(NewPublicHandlers(nil, pricing, nil, nil))

	body := `{"lines":[{"dish_id":" d1 ","quantity":2,"selected_value_ids":["v-large"]}]}`
	req := httptest.NewRequest(http.MethodPost, "/public/tenants/t1/price-quotes", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if captured.TenantID != "t1" || len(captured.Lines) != 1 || captured.Lines[0].DishID != "d1" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	var resp priceQuoteResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2300 || resp.Currency != "EUR" {
		t.Fatalf("unexpected quote: %+v", resp)
	}
	if len(resp.Lines) != 1 || resp.Lines[0].UnitPrice != 1150 || resp.Lines[0].Selections[0].ValueName != "Large" {
		t.Fatalf("unexpected quote lines: %+v", resp.Lines)
	}
}

// cartStore holds one tenant whose authoritative prices differ from anything a client would send.
func cartStore() *memory.Store {
	store := memory.New()
	store.PutTenant(domain.Tenant{ID: "t1", Name: "Trattoria", Currency: "EUR"})
	store.PutTable(domain.Table{ID: "tbl-1", TenantID: "t1", Number: "T1", Capacity: 2})
	store.PutDish(domain.Dish{ID: "d1", TenantID: "t1", Name: "Pasta", BasePrice: 1000, AllowedOptionIDs: []string{"size"}})
	store.PutOptionValue(domain.OptionValue{ID: "v-large", TenantID: "t1", OptionID: "size", OptionName: "Size", Name: "Large", ExtraPrice: 150})
	return store
}

func TestPublicHandlers_QuotePriceIgnoresClientPrices(t *testing.T) {
	pricing, err := services.NewPricingService(services.PricingServiceDeps{Catalog: cartStore()})
	if err != nil {
		t.Fatalf("NewPricingService: %v", err)
	}
	router := newPublicRouter(NewPublicHandlers(nil, pricing, nil, nil))

	body := `{"total":1,"lines":[{"dish_id":"d1","quantity":2,"selected_value_ids":["v-large"],"unit_price":1,"price":1}]}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/public/tenants/t1/price-quotes", bytes.NewBufferString(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp priceQuoteResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2300 || len(resp.Lines) != 1 || resp.Lines[0].UnitPrice != 1150 {
		t.Fatalf("expected catalog priced quote, got %+v", resp)
	}
}

func TestPublicHandlers_CreateOrderIgnoresClientPrices(t *testing.T) {
	store := cartStore()
	orders, err := services.NewOrderService(services.OrderServiceDeps{Orders: store, Catalog: store})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	router := newPublicRouter(NewPublicHandlers(nil, nil, orders, nil))

	body := `{"table_id":"tbl-1","customer_name":"Ana","total":1,"lines":[{"dish_id":"d1","quantity":2,"selected_value_ids":["v-large"],"price":1}]}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/public/tenants/t1/orders", bytes.NewBufferString(body)))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp createOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2300 || resp.OrderNumber != 1 {
		t.Fatalf("expected total 2300 for order 1, got %+v", resp)
	}
	stored, err := store.FindByNumber(context.Background(), "t1", 1)
	if err != nil {
		t.Fatalf("FindByNumber: %v", err)
	}
	if stored.TotalPrice != 2300 {
		t.Fatalf("expected stored total 2300, got %d", stored.TotalPrice)
	}
}

func TestPublicHandlers_CreateOrderErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid", fmt.Errorf("%w: customer name is required", services.ErrOrderInvalidInput), http.StatusBadRequest, "invalid_request"},
		{"not found", fmt.Errorf("%w: dish d9", services.ErrOrderNotFound), http.StatusNotFound, "resource_not_found"},
		{"conflict", fmt.Errorf("%w: busy", services.ErrOrderConflict), http.StatusConflict, "order_conflict"},
		{"exhausted", fmt.Errorf("%w: busy", services.ErrSequenceExhausted), http.StatusConflict, "order_conflict"},
		{"internal", fmt.Errorf("firestore: boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := &stubOrderService{
				createFn: func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error) {
					return services.CreateOrderResult{}, tc.err
				},
			}
			router := newPublicRouter(NewPublicHandlers(nil, nil, orders, nil))

			body := `{"table_id":"tbl-1","customer_name":"Ana","lines":[{"dish_id":"d1","quantity":1}]}`
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/public/tenants/t1/orders", bytes.NewBufferString(body)))

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			if code := decodeErrorCode(t, rr); code != tc.wantCode {
				t.Fatalf("expected %s, got %s", tc.wantCode, code)
			}
		})
	}
}

func TestPublicHandlers_CreateOrderIdempotentReplay(t *testing.T) {
	orderTime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	orders := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
			calls++
			if cmd.Comment == nil || *cmd.Comment != "no onions" {
				t.Fatalf("expected comment to be forwarded, got %v", cmd.Comment)
			}
			return services.CreateOrderResult{
				OrderID:     "ord_1",
				OrderNumber: int64(calls),
				Total:       1000,
				Currency:    "EUR",
				Status:      domain.OrderStatusPending,
				OrderTime:   orderTime,
			}, nil
		},
	}
	mw := idempotency.Middleware(idempotency.NewMemoryStore(),
		idempotency.WithScope(func(r *http.Request) string { return "tenant:" + chi.URLParam(r, "tenantId") }),
	)
	router := newPublicRouter(NewPublicHandlers(nil, nil, orders, nil, WithOrderSubmissionMiddleware(mw)))

	body := `{"table_id":"tbl-1","customer_name":"Ana","comment":"no onions","lines":[{"dish_id":"d1","quantity":1}]}`
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/public/tenants/t1/orders", bytes.NewBufferString(body))
		req.Header.Set("Idempotency-Key", "submit-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	second := send()

	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", first.Code, second.Code)
	}
	if calls != 1 {
		t.Fatalf("expected one order to be created, got %d", calls)
	}
	if second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("expected replay header on retry")
	}
	var resp createOrderResponse
	if err := json.Unmarshal(second.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OrderNumber != 1 || resp.Status != "Pending" || resp.OrderTime != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected replayed response: %+v", resp)
	}
}

func TestPublicHandlers_GetOrder(t *testing.T) {
	comment := "extra napkins"
	queries := &stubOrderQueryService{
		getFn: func(_ context.Context, tenantID string, number int64) (services.OrderView, error) {
			if number != 7 {
				return services.OrderView{}, fmt.Errorf("%w: order %d", services.ErrOrderNotFound, number)
			}
			return services.OrderView{
				TenantName: "Trattoria",
				Order: services.Order{
					ID:           "ord_7",
					TenantID:     tenantID,
					OrderNumber:  7,
					TableNumber:  "12",
					CustomerName: "Ana",
					Comment:      &comment,
					Status:       domain.OrderStatusMaking,
					Currency:     "EUR",
					TotalPrice:   2300,
				},
				Lines: []services.OrderLineView{{
					Detail:    domain.OrderDetail{ID: "det-1", DishID: "d1", DishName: "Pizza", BasePrice: 1000, Quantity: 2},
					UnitPrice: 1150,
					LineTotal: 2300,
				}},
				Consistent: true,
			}, nil
		},
	}
	router := newPublicRouter(NewPublicHandlers(nil, nil, nil, queries))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/tenants/t1/orders/7", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp customerOrderPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TenantName != "Trattoria" || resp.Status != "Making" || resp.TableNumber != "12" {
		t.Fatalf("unexpected customer view: %+v", resp)
	}
	if len(resp.Lines) != 1 || resp.Lines[0].LineTotal != 2300 || resp.Lines[0].DishName != "Pizza" {
		t.Fatalf("unexpected lines: %+v", resp.Lines)
	}

	for path, want := range map[string]int{
		"/public/tenants/t1/orders/8":   http.StatusNotFound,
		"/public/tenants/t1/orders/abc": http.StatusBadRequest,
		"/public/tenants/t1/orders/0":   http.StatusBadRequest,
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != want {
			t.Fatalf("%s: expected %d, got %d", path, want, rr.Code)
		}
	}
}
