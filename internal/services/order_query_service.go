package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	domain "github.com/tableorder/api/internal/domain"
	"github.com/tableorder/api/internal/platform/pagination"
	"github.com/tableorder/api/internal/repositories"
)

const (
	defaultOrderListLimit = 50
	maxOrderListLimit     = 200
)

// OrderQueryServiceDeps bundles collaborators for the read-only order projections.
type OrderQueryServiceDeps struct {
	Orders       repositories.OrderStore
	Catalog      repositories.CatalogReader
	Guard        AccessGuard
	Logger       func(ctx context.Context, event string, fields map[string]any)
	DefaultLimit int
	MaxLimit     int
}

type orderQueryService struct {
	orders       repositories.OrderStore
	catalog      repositories.CatalogReader
	guard        AccessGuard
	logger       func(context.Context, string, map[string]any)
	defaultLimit int
	maxLimit     int
}

var _ OrderQueryService = (*orderQueryService)(nil)

// NewOrderQueryService constructs the staff and customer order read paths.
func NewOrderQueryService(deps OrderQueryServiceDeps) (OrderQueryService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order query service: order store is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order query service: catalog reader is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	maxLimit := deps.MaxLimit
	if maxLimit <= 0 {
		maxLimit = maxOrderListLimit
	}
	defaultLimit := deps.DefaultLimit
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = min(defaultOrderListLimit, maxLimit)
	}
	return &orderQueryService{
		orders:       deps.Orders,
		catalog:      deps.Catalog,
		guard:        deps.Guard,
		logger:       logger,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}, nil
}

func (s *orderQueryService) GetOrder(ctx context.Context, tenantID string, orderNumber int64) (OrderView, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return OrderView{}, fmt.Errorf("%w: tenant id is required", ErrOrderInvalidInput)
	}
	if orderNumber <= 0 {
		return OrderView{}, fmt.Errorf("%w: order number must be positive", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, tenantID, orderNumber)
	if err != nil {
		return OrderView{}, mapQueryError(err, "order #"+strconv.FormatInt(orderNumber, 10))
	}
	return s.viewWithTenant(ctx, order)
}

func (s *orderQueryService) GetOrderByID(ctx context.Context, tenantID, orderID string) (OrderView, error) {
	tenantID = strings.TrimSpace(tenantID)
	orderID = strings.TrimSpace(orderID)
	if tenantID == "" || orderID == "" {
		return OrderView{}, fmt.Errorf("%w: tenant id and order id are required", ErrOrderInvalidInput)
	}
	if err := authorizeTenant(ctx, s.guard, tenantID); err != nil {
		return OrderView{}, err
	}
	order, err := s.orders.FindByID(ctx, tenantID, orderID)
	if err != nil {
		return OrderView{}, mapQueryError(err, "order "+orderID)
	}
	return s.viewWithTenant(ctx, order)
}

func (s *orderQueryService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[OrderView], error) {
	filter.TenantID = strings.TrimSpace(filter.TenantID)
	if filter.TenantID == "" {
		return domain.CursorPage[OrderView]{}, fmt.Errorf("%w: tenant id is required", ErrOrderInvalidInput)
	}
	if err := authorizeTenant(ctx, s.guard, filter.TenantID); err != nil {
		return domain.CursorPage[OrderView]{}, err
	}
	switch {
	case filter.Limit < 0:
		return domain.CursorPage[OrderView]{}, fmt.Errorf("%w: limit must not be negative", ErrOrderInvalidInput)
	case filter.Limit == 0:
		filter.Limit = s.defaultLimit
	case filter.Limit > s.maxLimit:
		filter.Limit = s.maxLimit
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[OrderView]{}, mapQueryError(err, "orders")
	}

	views := make([]OrderView, 0, len(page.Items))
	for _, order := range page.Items {
		views = append(views, s.view(ctx, order, ""))
	}
	return domain.CursorPage[OrderView]{Items: views, NextPageToken: page.NextPageToken}, nil
}

func (s *orderQueryService) viewWithTenant(ctx context.Context, order domain.Order) (OrderView, error) {
	tenant, err := s.catalog.GetTenant(ctx, order.TenantID)
	if err != nil {
		return OrderView{}, mapQueryError(err, "tenant "+order.TenantID)
	}
	return s.view(ctx, order, tenant.Name), nil
}

func (s *orderQueryService) view(ctx context.Context, order domain.Order, tenantName string) OrderView {
	view := NewOrderView(order, tenantName)
	if !view.Consistent {
		recomputed, _ := order.RecomputeTotal()
		s.logger(ctx, "order.total.mismatch", map[string]any{
			"tenantId":   order.TenantID,
			"orderId":    order.ID,
			"stored":     order.TotalPrice,
			"recomputed": recomputed,
		})
	}
	return view
}

// NewOrderView derives line prices from the stored snapshots and checks them against the stored total.
func NewOrderView(order domain.Order, tenantName string) OrderView {
	lines := make([]OrderLineView, 0, len(order.Details))
	for _, detail := range order.Details {
		unit, _ := detail.UnitPrice()
		lineTotal, _ := detail.LineTotal()
		lines = append(lines, OrderLineView{Detail: detail, UnitPrice: unit, LineTotal: lineTotal})
	}
	recomputed, ok := order.RecomputeTotal()
	return OrderView{
		Order:      order,
		TenantName: tenantName,
		Lines:      lines,
		Consistent: ok && recomputed == order.TotalPrice,
	}
}

func mapQueryError(err error, subject string) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrOrderNotFound, subject)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	return err
}
