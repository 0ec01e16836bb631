package repositories

import (
	"context"

	domain "github.com/tableorder/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CatalogReader resolves tenant-scoped catalog data. Every lookup carries the tenant id and never
// returns entities belonging to another tenant.
type CatalogReader interface {
	GetTenant(ctx context.Context, tenantID string) (domain.Tenant, error)
	GetTable(ctx context.Context, tenantID, tableID string) (domain.Table, error)
	// GetDishes returns the dishes found for the ids. Unknown ids are absent from the map.
	GetDishes(ctx context.Context, tenantID string, dishIDs []string) (map[string]domain.Dish, error)
	// GetOptionValues returns the option values found for the ids. Unknown ids are absent from the map.
	GetOptionValues(ctx context.Context, tenantID string, valueIDs []string) (map[string]domain.OptionValue, error)
	// GetMenu returns every category, dish and option value of the tenant. An unknown tenant is not found.
	GetMenu(ctx context.Context, tenantID string) (domain.Menu, error)
}

// OrderTx is the write side of an order transaction. Reservation and insert performed through the
// same OrderTx commit or roll back together.
type OrderTx interface {
	// NextOrderNumber reserves the next number for the tenant the transaction was opened for.
	// It may be called at most once per transaction.
	NextOrderNumber(ctx context.Context) (int64, error)
	InsertOrder(ctx context.Context, order domain.Order) error
}

// OrderStore persists orders and their line items.
type OrderStore interface {
	// RunOrderTx executes fn in a transaction serialised per tenant. Transactions for different
	// tenants never wait on each other. A non-nil error from fn rolls back every write.
	RunOrderTx(ctx context.Context, tenantID string, fn func(ctx context.Context, tx OrderTx) error) error
	FindByID(ctx context.Context, tenantID, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, tenantID string, orderNumber int64) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// UpdateStatus atomically loads the order, applies mutate and persists the result. Errors returned
	// by mutate are passed through unchanged and nothing is written.
	UpdateStatus(ctx context.Context, tenantID, orderID string, mutate func(order *domain.Order) error) (domain.Order, error)
}

// OrderListFilter narrows staff order listings.
type OrderListFilter struct {
	TenantID  string
	Status    *domain.OrderStatus
	Limit     int
	PageToken string
}

// HealthRepository aggregates dependency health information.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
