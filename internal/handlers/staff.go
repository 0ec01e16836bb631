package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/tableorder/api/internal/domain"
	"github.com/tableorder/api/internal/platform/auth"
	"github.com/tableorder/api/internal/platform/httpx"
	"github.com/tableorder/api/internal/platform/pagination"
	"github.com/tableorder/api/internal/services"
)

const maxStatusBodySize = 4 * 1024

// StaffHandlers serves the authenticated kitchen and floor staff endpoints under /tenants.
type StaffHandlers struct {
	authn   *auth.Authenticator
	guard   *auth.TenantGuard
	orders  services.OrderService
	queries services.OrderQueryService
	paging  pagination.Options
}

// StaffOption customises StaffHandlers.
type StaffOption func(*StaffHandlers)

// WithListLimits sets the default and maximum page size of order listings.
func WithListLimits(defaultLimit, maxLimit int) StaffOption {
	return func(h *StaffHandlers) {
		h.paging = pagination.Options{DefaultPageSize: defaultLimit, MaxPageSize: maxLimit}
	}
}

// NewStaffHandlers constructs staff handlers. authn and guard may be nil in tests; the services
// still consult their own access guard.
func NewStaffHandlers(authn *auth.Authenticator, guard *auth.TenantGuard, orders services.OrderService, queries services.OrderQueryService, opts ...StaffOption) *StaffHandlers {
	h := &StaffHandlers{
		authn:   authn,
		guard:   guard,
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

// Routes registers the /tenants endpoints.
func (h *StaffHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Route("/{tenantId}/orders", func(orders chi.Router) {
		orders.Use(tenantScope)
		if h.guard != nil {
			orders.Use(h.guard.RequireTenantAccess("tenantId"))
		}
		orders.Get("/", h.listOrders)
		orders.Get("/{orderId}", h.getOrder)
		orders.Put("/{orderId}/status", h.updateStatus)
	})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type statusChangePayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	ActorID string `json:"actor_id,omitempty"`
	At      string `json:"at"`
}

type staffOrderPayload struct {
	ID            string                `json:"id"`
	OrderNumber   int64                 `json:"order_number"`
	TenantName    string                `json:"tenant_name,omitempty"`
	TableID       string                `json:"table_id"`
	TableNumber   string                `json:"table_number"`
	CustomerName  string                `json:"customer_name"`
	Comment       *string               `json:"comment,omitempty"`
	Status        string                `json:"status"`
	Currency      string                `json:"currency"`
	Total         int64                 `json:"total"`
	Consistent    bool                  `json:"consistent"`
	OrderTime     string                `json:"order_time"`
	UpdatedAt     string                `json:"updated_at,omitempty"`
	Lines         []orderLinePayload    `json:"lines"`
	StatusHistory []statusChangePayload `json:"status_history"`
}

type staffOrderListResponse struct {
	Items         []staffOrderPayload `json:"items"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

func (h *StaffHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.queries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.FromRequest(r, h.paging)
	if err != nil {
		writeInvalidRequest(ctx, w, err.Error())
		return
	}
	filter := services.OrderListFilter{
		TenantID:  chi.URLParam(r, "tenantId"),
		Limit:     params.PageSize,
		PageToken: params.PageToken,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			writeInvalidRequest(ctx, w, "status must be one of Pending, Making, Completed, Cancelled")
			return
		}
		filter.Status = &status
	}

	page, err := h.queries.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err, "order_not_found")
		return
	}

	items := make([]staffOrderPayload, 0, len(page.Items))
	for _, view := range page.Items {
		items = append(items, buildStaffOrder(view))
	}
	writeJSONResponse(w, http.StatusOK, staffOrderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *StaffHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.queries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	view, err := h.queries.GetOrderByID(ctx, chi.URLParam(r, "tenantId"), chi.URLParam(r, "orderId"))
	if err != nil {
		writeServiceError(ctx, w, err, "order_not_found")
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStaffOrder(view))
}

func (h *StaffHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxStatusBodySize)
	var req updateStatusRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeInvalidRequest(ctx, w, err.Error())
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		writeInvalidRequest(ctx, w, "status is required")
		return
	}

	var actorID string
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		actorID = identity.UID
	}

	order, err := h.orders.UpdateOrderStatus(ctx, services.UpdateOrderStatusCommand{
		TenantID:     chi.URLParam(r, "tenantId"),
		OrderID:      chi.URLParam(r, "orderId"),
		TargetStatus: req.Status,
		ActorID:      actorID,
	})
	if err != nil {
		writeServiceError(ctx, w, err, "order_not_found")
		return
	}

	writeJSONResponse(w, http.StatusOK, buildStaffOrder(services.NewOrderView(order, "")))
}

func buildStaffOrder(view services.OrderView) staffOrderPayload {
	order := view.Order
	history := make([]statusChangePayload, 0, len(order.StatusHistory))
	for _, change := range order.StatusHistory {
		history = append(history, statusChangePayload{
			From:    string(change.From),
			To:      string(change.To),
			ActorID: change.ActorID,
			At:      formatTime(change.At),
		})
	}
	return staffOrderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		TenantName:    view.TenantName,
		TableID:       order.TableID,
		TableNumber:   order.TableNumber,
		CustomerName:  order.CustomerName,
		Comment:       order.Comment,
		Status:        string(order.Status),
		Currency:      order.Currency,
		Total:         order.TotalPrice,
		Consistent:    view.Consistent,
		OrderTime:     formatTime(order.OrderTime),
		UpdatedAt:     formatTime(order.UpdatedAt),
		Lines:         buildOrderLines(view.Lines),
		StatusHistory: history,
	}
}
