package domain

import (
	"strings"
	"time"
)

// CursorPage represents a page of items with an optional continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Tenant is one restaurant account; every other entity is scoped to exactly one tenant.
type Tenant struct {
	ID       string
	Name     string
	Currency string
}

// Table identifies where an order originates within a tenant.
type Table struct {
	ID       string
	TenantID string
	Number   string
	Capacity int
}

// Dish is a menu item. AllowedOptionIDs gates which customisation options may be selected for it.
type Dish struct {
	ID               string
	TenantID         string
	CategoryID       string
	Name             string
	Description      string
	BasePrice        int64
	AllowedOptionIDs []string
}

// AllowsOption reports whether the dish accepts values of the given customisation option.
func (d Dish) AllowsOption(optionID string) bool {
	for _, id := range d.AllowedOptionIDs {
		if id == optionID {
			return true
		}
	}
	return false
}

// OptionValue is a selectable value of a customisation option with an additive price delta.
type OptionValue struct {
	ID         string
	TenantID   string
	OptionID   string
	OptionName string
	Name       string
	ExtraPrice int64
}

// Category groups dishes on the menu.
type Category struct {
	ID       string
	TenantID string
	Name     string
}

// Menu is the complete stored catalog of one tenant, as read for browsing.
type Menu struct {
	Tenant     Tenant
	Categories []Category
	Dishes     []Dish
	Values     []OptionValue
}

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	// OrderStatusPending is the initial state of every new order.
	OrderStatusPending OrderStatus = "Pending"
	// OrderStatusMaking indicates the kitchen accepted the order.
	OrderStatusMaking OrderStatus = "Making"
	// OrderStatusCompleted is terminal.
	OrderStatusCompleted OrderStatus = "Completed"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "Cancelled"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusMaking,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

// ParseOrderStatus resolves a status name case-insensitively.
func ParseOrderStatus(value string) (OrderStatus, bool) {
	value = strings.TrimSpace(value)
	for _, status := range orderStatuses {
		if strings.EqualFold(value, string(status)) {
			return status, true
		}
	}
	return "", false
}

// Terminal reports whether the status accepts no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// Order is one customer transaction at one table.
type Order struct {
	ID            string
	TenantID      string
	TableID       string
	TableNumber   string
	OrderNumber   int64
	CustomerName  string
	Comment       *string
	Status        OrderStatus
	Currency      string
	TotalPrice    int64
	Details       []OrderDetail
	StatusHistory []StatusChange
	OrderTime     time.Time
	UpdatedAt     time.Time
}

// OrderDetail is a line item. Dish name and prices are snapshots taken when the order was created.
type OrderDetail struct {
	ID         string
	DishID     string
	DishName   string
	BasePrice  int64
	Quantity   int
	Selections []OrderDetailSelection
}

// OrderDetailSelection references one selected option value of a line.
type OrderDetailSelection struct {
	ValueID    string
	OptionID   string
	OptionName string
	ValueName  string
	ExtraPrice int64
}

// StatusChange records an accepted status transition.
type StatusChange struct {
	From    OrderStatus
	To      OrderStatus
	ActorID string
	At      time.Time
}

// UnitPrice returns base price plus all selected extras. ok is false on overflow.
func (d OrderDetail) UnitPrice() (int64, bool) {
	unit := d.BasePrice
	for _, sel := range d.Selections {
		var ok bool
		unit, ok = AddMinor(unit, sel.ExtraPrice)
		if !ok {
			return 0, false
		}
	}
	return unit, true
}

// LineTotal returns unit price times quantity. ok is false on overflow.
func (d OrderDetail) LineTotal() (int64, bool) {
	unit, ok := d.UnitPrice()
	if !ok {
		return 0, false
	}
	return MulMinor(unit, d.Quantity)
}

// RecomputeTotal derives the order total from its line snapshots.
func (o Order) RecomputeTotal() (int64, bool) {
	var total int64
	for _, detail := range o.Details {
		line, ok := detail.LineTotal()
		if !ok {
			return 0, false
		}
		total, ok = AddMinor(total, line)
		if !ok {
			return 0, false
		}
	}
	return total, true
}
