// Package memory provides an in-process catalog reader and order store. State lives for the
// lifetime of the process.
package memory

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"

	domain "github.com/tableorder/api/internal/domain"
	"github.com/tableorder/api/internal/platform/pagination"
	"github.com/tableorder/api/internal/repositories"
)

// Store implements repositories.CatalogReader and repositories.OrderStore.
type Store struct {
	mu      sync.Mutex
	tenants map[string]*tenantState
}

type tenantState struct {
	// mu serialises order transactions and status writes of one tenant; readers share it.
	mu sync.RWMutex

	tenant     domain.Tenant
	tables     map[string]domain.Table
	categories map[string]domain.Category
	dishes     map[string]domain.Dish
	values     map[string]domain.OptionValue
	counter    int64
	orders     map[string]domain.Order
	byNumber   map[int64]string
}

var (
	_ repositories.CatalogReader = (*Store)(nil)
	_ repositories.OrderStore    = (*Store)(nil)
)

// New constructs an empty store.
func New() *Store {
	return &Store{tenants: make(map[string]*tenantState)}
}

// PutTenant registers or replaces a tenant.
func (s *Store) PutTenant(tenant domain.Tenant) {
	state := s.state(tenant.ID, true)
	state.mu.Lock()
	defer state.mu.Unlock()
	state.tenant = tenant
}

// PutTable registers or replaces a table of an existing tenant.
func (s *Store) PutTable(table domain.Table) {
	state := s.state(table.TenantID, true)
	state.mu.Lock()
	defer state.mu.Unlock()
	state.tables[table.ID] = table
}

// PutCategory registers or replaces a menu category.
func (s *Store) PutCategory(category domain.Category) {
	state := s.state(category.TenantID, true)
	state.mu.Lock()
	defer state.mu.Unlock()
	state.categories[category.ID] = category
}

// PutDish registers or replaces a dish.
func (s *Store) PutDish(dish domain.Dish) {
	state := s.state(dish.TenantID, true)
	state.mu.Lock()
	defer state.mu.Unlock()
	dish.AllowedOptionIDs = slices.Clone(dish.AllowedOptionIDs)
	state.dishes[dish.ID] = dish
}

// PutOptionValue registers or replaces an option value.
func (s *Store) PutOptionValue(value domain.OptionValue) {
	state := s.state(value.TenantID, true)
	state.mu.Lock()
	defer state.mu.Unlock()
	state.values[value.ID] = value
}

func (s *Store) state(tenantID string, create bool) *tenantState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.tenants[tenantID]
	if !ok && create {
		state = &tenantState{
			tenant:     domain.Tenant{ID: tenantID},
			tables:     make(map[string]domain.Table),
			categories: make(map[string]domain.Category),
			dishes:     make(map[string]domain.Dish),
			values:     make(map[string]domain.OptionValue),
			orders:     make(map[string]domain.Order),
			byNumber:   make(map[int64]string),
		}
		s.tenants[tenantID] = state
	}
	return state
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (domain.Tenant, error) {
	state := s.state(tenantID, false)
	if state == nil {
		return domain.Tenant{}, notFound("get tenant", "tenant %s", tenantID)
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.tenant, nil
}

func (s *Store) GetTable(ctx context.Context, tenantID, tableID string) (domain.Table, error) {
	state := s.state(tenantID, false)
	if state == nil {
		return domain.Table{}, notFound("get table", "tenant %s", tenantID)
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	table, ok := state.tables[tableID]
	if !ok {
		return domain.Table{}, notFound("get table", "table %s", tableID)
	}
	return table, nil
}

func (s *Store) GetDishes(ctx context.Context, tenantID string, dishIDs []string) (map[string]domain.Dish, error) {
	result := make(map[string]domain.Dish, len(dishIDs))
	state := s.state(tenantID, false)
	if state == nil {
		return result, nil
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	for _, id := range dishIDs {
		if dish, ok := state.dishes[id]; ok {
			dish.AllowedOptionIDs = slices.Clone(dish.AllowedOptionIDs)
			result[id] = dish
		}
	}
	return result, nil
}

func (s *Store) GetOptionValues(ctx context.Context, tenantID string, valueIDs []string) (map[string]domain.OptionValue, error) {
	result := make(map[string]domain.OptionValue, len(valueIDs))
	state := s.state(tenantID, false)
	if state == nil {
		return result, nil
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	for _, id := range valueIDs {
		if value, ok := state.values[id]; ok {
			result[id] = value
		}
	}
	return result, nil
}

// GetMenu returns the tenant catalog in id order.
func (s *Store) GetMenu(ctx context.Context, tenantID string) (domain.Menu, error) {
	state := s.state(tenantID, false)
	if state == nil {
		return domain.Menu{}, notFound("get menu", "tenant %s", tenantID)
	}
	state.mu.RLock()
	defer state.mu.RUnlock()

	menu := domain.Menu{Tenant: state.tenant}
	for _, id := range slices.Sorted(maps.Keys(state.categories)) {
		menu.Categories = append(menu.Categories, state.categories[id])
	}
	for _, id := range slices.Sorted(maps.Keys(state.dishes)) {
		dish := state.dishes[id]
		dish.AllowedOptionIDs = slices.Clone(dish.AllowedOptionIDs)
		menu.Dishes = append(menu.Dishes, dish)
	}
	for _, id := range slices.Sorted(maps.Keys(state.values)) {
		menu.Values = append(menu.Values, state.values[id])
	}
	return menu, nil
}

// RunOrderTx holds the tenant write lock for the duration of fn. Staged writes become visible only
// when fn returns nil.
func (s *Store) RunOrderTx(ctx context.Context, tenantID string, fn func(ctx context.Context, tx repositories.OrderTx) error) error {
	if strings.TrimSpace(tenantID) == "" {
		return invalid("run order tx", "tenant id is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	state := s.state(tenantID, true)
	state.mu.Lock()
	defer state.mu.Unlock()

	tx := &orderTx{state: state, tenantID: tenantID}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if tx.reserved {
		state.counter = tx.number
	}
	for _, order := range tx.staged {
		state.orders[order.ID] = order
		state.byNumber[order.OrderNumber] = order.ID
	}
	return nil
}

type orderTx struct {
	state    *tenantState
	tenantID string
	reserved bool
	number   int64
	staged   []domain.Order
}

func (tx *orderTx) NextOrderNumber(ctx context.Context) (int64, error) {
	if tx.reserved {
		return 0, repositories.NewSequenceError("memory next order number", repositories.SequenceErrorInvalidInput,
			"order number already reserved in this transaction", nil)
	}
	if tx.state.counter == math.MaxInt64 {
		return 0, repositories.NewSequenceError("memory next order number", repositories.SequenceErrorExhausted,
			fmt.Sprintf("counter for tenant %s exhausted", tx.tenantID), nil)
	}
	tx.reserved = true
	tx.number = tx.state.counter + 1
	return tx.number, nil
}

func (tx *orderTx) InsertOrder(ctx context.Context, order domain.Order) error {
	if order.TenantID != tx.tenantID {
		return invalid("insert order", "order tenant %s does not match transaction tenant %s", order.TenantID, tx.tenantID)
	}
	if _, exists := tx.state.orders[order.ID]; exists {
		return conflict("insert order", "order %s already exists", order.ID)
	}
	if _, exists := tx.state.byNumber[order.OrderNumber]; exists {
		return conflict("insert order", "order number %d already assigned", order.OrderNumber)
	}
	for _, staged := range tx.staged {
		if staged.ID == order.ID || staged.OrderNumber == order.OrderNumber {
			return conflict("insert order", "order %s staged twice", order.ID)
		}
	}
	tx.staged = append(tx.staged, cloneOrder(order))
	return nil
}

func (s *Store) FindByID(ctx context.Context, tenantID, orderID string) (domain.Order, error) {
	state := s.state(tenantID, false)
	if state == nil {
		return domain.Order{}, notFound("find order", "order %s", orderID)
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	order, ok := state.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("find order", "order %s", orderID)
	}
	return cloneOrder(order), nil
}

func (s *Store) FindByNumber(ctx context.Context, tenantID string, orderNumber int64) (domain.Order, error) {
	state := s.state(tenantID, false)
	if state == nil {
		return domain.Order{}, notFound("find order by number", "order #%d", orderNumber)
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	id, ok := state.byNumber[orderNumber]
	if !ok {
		return domain.Order{}, notFound("find order by number", "order #%d", orderNumber)
	}
	return cloneOrder(state.orders[id]), nil
}

func (s *Store) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	afterTime, afterID, hasCursor, err := pagination.DecodeTimeCursor(filter.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	state := s.state(filter.TenantID, false)
	if state == nil {
		return domain.CursorPage[domain.Order]{}, nil
	}

	state.mu.RLock()
	orders := make([]domain.Order, 0, len(state.orders))
	for _, order := range state.orders {
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		orders = append(orders, cloneOrder(order))
	}
	state.mu.RUnlock()

	slices.SortFunc(orders, func(a, b domain.Order) int {
		if c := b.OrderTime.Compare(a.OrderTime); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	if hasCursor {
		start := len(orders)
		for i, order := range orders {
			if order.OrderTime.Before(afterTime) || (order.OrderTime.Equal(afterTime) && order.ID < afterID) {
				start = i
				break
			}
		}
		orders = orders[start:]
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	page := domain.CursorPage[domain.Order]{}
	if len(orders) > limit {
		orders = orders[:limit]
		last := orders[len(orders)-1]
		page.NextPageToken, err = pagination.EncodeTimeCursor(last.OrderTime, last.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}
	page.Items = orders
	return page, nil
}

func (s *Store) UpdateStatus(ctx context.Context, tenantID, orderID string, mutate func(order *domain.Order) error) (domain.Order, error) {
	state := s.state(tenantID, false)
	if state == nil {
		return domain.Order{}, notFound("update order status", "order %s", orderID)
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	current, ok := state.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("update order status", "order %s", orderID)
	}
	working := cloneOrder(current)
	if err := mutate(&working); err != nil {
		return domain.Order{}, err
	}
	// Only status fields are writable here.
	current.Status = working.Status
	current.StatusHistory = slices.Clone(working.StatusHistory)
	current.UpdatedAt = working.UpdatedAt
	state.orders[orderID] = current
	return cloneOrder(current), nil
}

func cloneOrder(order domain.Order) domain.Order {
	if order.Comment != nil {
		comment := *order.Comment
		order.Comment = &comment
	}
	details := make([]domain.OrderDetail, len(order.Details))
	for i, detail := range order.Details {
		detail.Selections = slices.Clone(detail.Selections)
		details[i] = detail
	}
	order.Details = details
	order.StatusHistory = slices.Clone(order.StatusHistory)
	return order
}
