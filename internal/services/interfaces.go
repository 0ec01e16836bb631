package services

import (
	"context"
	"fmt"
	"time"

	domain "github.com/tableorder/api/internal/domain"
	"github.com/tableorder/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderDetail        = domain.OrderDetail
	OrderStatus        = domain.OrderStatus
	PriceQuote         = domain.PriceQuote
	LinePrice          = domain.LinePrice
	Table              = domain.Table
	Tenant             = domain.Tenant
	Dish               = domain.Dish
	OptionValue        = domain.OptionValue
	SystemHealthReport = domain.SystemHealthReport
)

// PricingService prices cart lines against the authoritative tenant catalog without persisting anything.
type PricingService interface {
	CalculatePrice(ctx context.Context, cmd CalculatePriceCommand) (PriceQuote, error)
}

// OrderService creates orders and drives their status lifecycle.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
}

// OrderQueryService serves read-only order projections for staff and customers.
type OrderQueryService interface {
	GetOrder(ctx context.Context, tenantID string, orderNumber int64) (OrderView, error)
	GetOrderByID(ctx context.Context, tenantID, orderID string) (OrderView, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[OrderView], error)
}

// CatalogService exposes the public catalog lookups customers need before ordering.
type CatalogService interface {
	GetTable(ctx context.Context, tenantID, tableID string) (Table, error)
	GetMenu(ctx context.Context, tenantID string) (MenuView, error)
}

// SystemService reports service health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CartLine is one requested line of a cart. Prices are never part of the request.
type CartLine struct {
	DishID           string
	Quantity         int
	SelectedValueIDs []string
}

// CalculatePriceCommand prices lines for a tenant.
type CalculatePriceCommand struct {
	TenantID string
	Lines    []CartLine
}

// CreateOrderCommand carries the customer submission for a table.
type CreateOrderCommand struct {
	TenantID     string
	TableID      string
	CustomerName string
	Comment      *string
	Lines        []CartLine
}

// CreateOrderResult is returned once the order is durably stored.
type CreateOrderResult struct {
	OrderID     string
	OrderNumber int64
	Total       int64
	Currency    string
	Status      OrderStatus
	OrderTime   time.Time
}

// UpdateOrderStatusCommand requests a status transition for an order the caller was authorised for.
type UpdateOrderStatusCommand struct {
	TenantID     string
	OrderID      string
	TargetStatus string
	ActorID      string
}

// OrderListFilter narrows staff order listings.
type OrderListFilter = repositories.OrderListFilter

// OrderView is the read projection shared by the staff and customer views.
type OrderView struct {
	Order      Order
	TenantName string
	Lines      []OrderLineView
	// Consistent is false when the stored total differs from the total recomputed from line snapshots.
	Consistent bool
}

// OrderLineView pairs a stored line with its derived prices.
type OrderLineView struct {
	Detail    OrderDetail
	UnitPrice int64
	LineTotal int64
}

// MenuView is the customer menu: categories by name, dishes by name, and for each dish only the
// options it allows with their values by name.
type MenuView struct {
	Tenant     Tenant
	Categories []MenuCategory
}

// MenuCategory groups dishes. Dishes whose category is not stored are grouped under their raw
// category id with an empty name.
type MenuCategory struct {
	ID     string
	Name   string
	Dishes []MenuDish
}

// MenuDish is a dish with its selectable options.
type MenuDish struct {
	Dish    Dish
	Options []MenuOption
}

// MenuOption is one customisation option of a dish and its selectable values.
type MenuOption struct {
	ID     string
	Name   string
	Values []OptionValue
}

// AccessGuard authorizes the acting principal carried in ctx against a tenant. Staff operations
// consult it when configured; customer reads never do.
type AccessGuard interface {
	AuthorizeTenant(ctx context.Context, tenantID string) error
}

func authorizeTenant(ctx context.Context, guard AccessGuard, tenantID string) error {
	if guard == nil {
		return nil
	}
	if err := guard.AuthorizeTenant(ctx, tenantID); err != nil {
		return fmt.Errorf("%w: %w", ErrOrderForbidden, err)
	}
	return nil
}
