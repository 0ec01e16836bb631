package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/tableorder/api/internal/domain"
	"github.com/tableorder/api/internal/platform/httpx"
	"github.com/tableorder/api/internal/services"
)

// PublicHandlers serves the unauthenticated customer ordering flow: menu and table lookup, price
// quotes, order submission and status polling.
type PublicHandlers struct {
	catalog    services.CatalogService
	pricing    services.PricingService
	orders     services.OrderService
	queries    services.OrderQueryService
	submission []func(http.Handler) http.Handler
}

// PublicOption customises PublicHandlers.
type PublicOption func(*PublicHandlers)

// WithOrderSubmissionMiddleware wraps only the order submission endpoint, e.g. with idempotency.
func WithOrderSubmissionMiddleware(mw ...func(http.Handler) http.Handler) PublicOption {
	return func(h *PublicHandlers) {
		h.submission = append(h.submission, mw...)
	}
}

// NewPublicHandlers constructs the customer facing handlers.
func NewPublicHandlers(catalog services.CatalogService, pricing services.PricingService, orders services.OrderService, queries services.OrderQueryService, opts ...PublicOption) *PublicHandlers {
	h := &PublicHandlers{
		catalog: catalog,
		pricing: pricing,
		orders:  orders,
		queries: queries,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /public endpoints.
func (h *PublicHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/tenants/{tenantId}", func(tenant chi.Router) {
		tenant.Use(tenantScope)
		tenant.Get("/menu", h.getMenu)
		tenant.Get("/tables/{tableId}", h.getTable)
		tenant.Post("/price-quotes", h.quotePrice)
		tenant.With(h.submission...).Post("/orders", h.createOrder)
		tenant.Get("/orders/{orderNumber}", h.getOrder)
	})
}

type cartLineRequest struct {
	DishID           string   `json:"dish_id"`
	Quantity         int      `json:"quantity"`
	SelectedValueIDs []string `json:"selected_value_ids"`
}

type priceQuoteRequest struct {
	Lines []cartLineRequest `json:"lines"`
}

type createOrderRequest struct {
	TableID      string            `json:"table_id"`
	CustomerName string            `json:"customer_name"`
	Comment      *string           `json:"comment"`
	Lines        []cartLineRequest `json:"lines"`
}

type tablePayload struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Number   string `json:"number"`
	Capacity int    `json:"capacity"`
}

type menuValuePayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ExtraPrice int64  `json:"extra_price"`
}

type menuOptionPayload struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Values []menuValuePayload `json:"values"`
}

type menuDishPayload struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	BasePrice   int64               `json:"base_price"`
	Options     []menuOptionPayload `json:"options"`
}

type menuCategoryPayload struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Dishes []menuDishPayload `json:"dishes"`
}

type menuPayload struct {
	TenantID   string                `json:"tenant_id"`
	TenantName string                `json:"tenant_name"`
	Currency   string                `json:"currency"`
	Categories []menuCategoryPayload `json:"categories"`
}

type selectionPayload struct {
	ValueID    string `json:"value_id"`
	OptionID   string `json:"option_id,omitempty"`
	OptionName string `json:"option_name,omitempty"`
	ValueName  string `json:"value_name,omitempty"`
	ExtraPrice int64  `json:"extra_price"`
}

type quoteLinePayload struct {
	DishID     string             `json:"dish_id"`
	DishName   string             `json:"dish_name"`
	BasePrice  int64              `json:"base_price"`
	Quantity   int                `json:"quantity"`
	Selections []selectionPayload `json:"selections"`
	UnitPrice  int64              `json:"unit_price"`
	LineTotal  int64              `json:"line_total"`
}

type priceQuoteResponse struct {
	Currency string             `json:"currency"`
	Total    int64              `json:"total"`
	Lines    []quoteLinePayload `json:"lines"`
}

type createOrderResponse struct {
	OrderID     string `json:"order_id"`
	OrderNumber int64  `json:"order_number"`
	Total       int64  `json:"total"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	OrderTime   string `json:"order_time"`
}

type orderLinePayload struct {
	ID         string             `json:"id"`
	DishID     string             `json:"dish_id"`
	DishName   string             `json:"dish_name"`
	BasePrice  int64              `json:"base_price"`
	Quantity   int                `json:"quantity"`
	Selections []selectionPayload `json:"selections"`
	UnitPrice  int64              `json:"unit_price"`
	LineTotal  int64              `json:"line_total"`
}

type customerOrderPayload struct {
	OrderNumber  int64              `json:"order_number"`
	TenantName   string             `json:"tenant_name"`
	TableNumber  string             `json:"table_number"`
	CustomerName string             `json:"customer_name"`
	Comment      *string            `json:"comment,omitempty"`
	Status       string             `json:"status"`
	Currency     string             `json:"currency"`
	Total        int64              `json:"total"`
	OrderTime    string             `json:"order_time"`
	Lines        []orderLinePayload `json:"lines"`
}

func (h *PublicHandlers) getMenu(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	menu, err := h.catalog.GetMenu(ctx, chi.URLParam(r, "tenantId"))
	if err != nil {
		writeServiceError(ctx, w, err, "tenant_not_found")
		return
	}

	writeJSONResponse(w, http.StatusOK, buildMenuPayload(menu))
}

func (h *PublicHandlers) getTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	table, err := h.catalog.GetTable(ctx, chi.URLParam(r, "tenantId"), chi.URLParam(r, "tableId"))
	if err != nil {
		writeServiceError(ctx, w, err, "table_not_found")
		return
	}

	writeJSONResponse(w, http.StatusOK, tablePayload{
		ID:       table.ID,
		TenantID: table.TenantID,
		Number:   table.Number,
		Capacity: table.Capacity,
	})
}

func (h *PublicHandlers) quotePrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_service_unavailable", "pricing service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req priceQuoteRequest
	if err := decodeCartBody(r, &req); err != nil {
		writeInvalidRequest(ctx, w, err.Error())
		return
	}

	quote, err := h.pricing.CalculatePrice(ctx, services.CalculatePriceCommand{
		TenantID: chi.URLParam(r, "tenantId"),
		Lines:    toCartLines(req.Lines),
	})
	if err != nil {
		writeServiceError(ctx, w, err, "menu_item_not_found")
		return
	}

	writeJSONResponse(w, http.StatusOK, buildQuotePayload(quote))
}

func (h *PublicHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if err := decodeCartBody(r, &req); err != nil {
		writeInvalidRequest(ctx, w, err.Error())
		return
	}

	result, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		TenantID:     chi.URLParam(r, "tenantId"),
		TableID:      req.TableID,
		CustomerName: req.CustomerName,
		Comment:      req.Comment,
		Lines:        toCartLines(req.Lines),
	})
	if err != nil {
		writeServiceError(ctx, w, err, "resource_not_found")
		return
	}

	writeJSONResponse(w, http.StatusCreated, createOrderResponse{
		OrderID:     result.OrderID,
		OrderNumber: result.OrderNumber,
		Total:       result.Total,
		Currency:    result.Currency,
		Status:      string(result.Status),
		OrderTime:   formatTime(result.OrderTime),
	})
}

func (h *PublicHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.queries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	raw := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	number, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || number <= 0 {
		writeInvalidRequest(ctx, w, "order number must be a positive integer")
		return
	}

	view, err := h.queries.GetOrder(ctx, chi.URLParam(r, "tenantId"), number)
	if err != nil {
		writeServiceError(ctx, w, err, "order_not_found")
		return
	}

	order := view.Order
	writeJSONResponse(w, http.StatusOK, customerOrderPayload{
		OrderNumber:  order.OrderNumber,
		TenantName:   view.TenantName,
		TableNumber:  order.TableNumber,
		CustomerName: order.CustomerName,
		Comment:      order.Comment,
		Status:       string(order.Status),
		Currency:     order.Currency,
		Total:        order.TotalPrice,
		OrderTime:    formatTime(order.OrderTime),
		Lines:        buildOrderLines(view.Lines),
	})
}

func toCartLines(lines []cartLineRequest) []services.CartLine {
	if len(lines) == 0 {
		return nil
	}
	out := make([]services.CartLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, services.CartLine{
			DishID:           strings.TrimSpace(line.DishID),
			Quantity:         line.Quantity,
			SelectedValueIDs: line.SelectedValueIDs,
		})
	}
	return out
}

func buildMenuPayload(menu services.MenuView) menuPayload {
	categories := make([]menuCategoryPayload, 0, len(menu.Categories))
	for _, category := range menu.Categories {
		dishes := make([]menuDishPayload, 0, len(category.Dishes))
		for _, entry := range category.Dishes {
			options := make([]menuOptionPayload, 0, len(entry.Options))
			for _, option := range entry.Options {
				values := make([]menuValuePayload, 0, len(option.Values))
				for _, value := range option.Values {
					values = append(values, menuValuePayload{ID: value.ID, Name: value.Name, ExtraPrice: value.ExtraPrice})
				}
				options = append(options, menuOptionPayload{ID: option.ID, Name: option.Name, Values: values})
			}
			dishes = append(dishes, menuDishPayload{
				ID:          entry.Dish.ID,
				Name:        entry.Dish.Name,
				Description: entry.Dish.Description,
				BasePrice:   entry.Dish.BasePrice,
				Options:     options,
			})
		}
		categories = append(categories, menuCategoryPayload{ID: category.ID, Name: category.Name, Dishes: dishes})
	}
	return menuPayload{
		TenantID:   menu.Tenant.ID,
		TenantName: menu.Tenant.Name,
		Currency:   menu.Tenant.Currency,
		Categories: categories,
	}
}

func buildQuotePayload(quote services.PriceQuote) priceQuoteResponse {
	lines := make([]quoteLinePayload, 0, len(quote.Lines))
	for _, line := range quote.Lines {
		lines = append(lines, quoteLinePayload{
			DishID:     line.DishID,
			DishName:   line.DishName,
			BasePrice:  line.BasePrice,
			Quantity:   line.Quantity,
			Selections: buildSelections(line.Selections),
			UnitPrice:  line.UnitPrice,
			LineTotal:  line.LineTotal,
		})
	}
	return priceQuoteResponse{
		Currency: quote.Currency,
		Total:    quote.Total,
		Lines:    lines,
	}
}

func buildOrderLines(lines []services.OrderLineView) []orderLinePayload {
	out := make([]orderLinePayload, 0, len(lines))
	for _, line := range lines {
		out = append(out, orderLinePayload{
			ID:         line.Detail.ID,
			DishID:     line.Detail.DishID,
			DishName:   line.Detail.DishName,
			BasePrice:  line.Detail.BasePrice,
			Quantity:   line.Detail.Quantity,
			Selections: buildSelections(line.Detail.Selections),
			UnitPrice:  line.UnitPrice,
			LineTotal:  line.LineTotal,
		})
	}
	return out
}

func buildSelections(selections []domain.OrderDetailSelection) []selectionPayload {
	out := make([]selectionPayload, 0, len(selections))
	for _, sel := range selections {
		out = append(out, selectionPayload{
			ValueID:    sel.ValueID,
			OptionID:   sel.OptionID,
			OptionName: sel.OptionName,
			ValueName:  sel.ValueName,
			ExtraPrice: sel.ExtraPrice,
		})
	}
	return out
}
