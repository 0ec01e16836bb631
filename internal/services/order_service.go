package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/tableorder/api/internal/domain"
	"github.com/tableorder/api/internal/platform/textutil"
	"github.com/tableorder/api/internal/repositories"
)

// Order event types published after commit.
const (
	OrderEventCreated       = "order.created"
	OrderEventStatusChanged = "order.status.changed"
)

const (
	orderIDPrefix  = "ord_"
	detailIDPrefix = "odl_"

	defaultMaxCustomerNameRunes = 80
	defaultMaxCommentRunes      = 500
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order or a referenced tenant entity could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the requested status edge is not allowed.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates concurrent writers prevented the operation from completing.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderForbidden indicates the acting principal may not operate on the tenant.
	ErrOrderForbidden = errors.New("order: forbidden")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending: {domain.OrderStatusMaking, domain.OrderStatusCancelled},
	domain.OrderStatusMaking:  {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string    `json:"type"`
	TenantID       string    `json:"tenantId"`
	OrderID        string    `json:"orderId"`
	OrderNumber    int64     `json:"orderNumber"`
	TableID        string    `json:"tableId,omitempty"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	CurrentStatus  string    `json:"currentStatus"`
	ActorID        string    `json:"actorId,omitempty"`
	Total          int64     `json:"total"`
	Currency       string    `json:"currency"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders               repositories.OrderStore
	Catalog              repositories.CatalogReader
	Clock                func() time.Time
	IDGenerator          func() string
	Events               OrderEventPublisher
	Guard                AccessGuard
	Logger               func(ctx context.Context, event string, fields map[string]any)
	MaxSequenceAttempts  int
	MaxLines             int
	MaxQuantity          int
	MaxCustomerNameRunes int
	MaxCommentRunes      int
}

type orderService struct {
	orders          repositories.OrderStore
	catalog         repositories.CatalogReader
	pricing         *pricingService
	sequencer       *orderSequencer
	clock           func() time.Time
	newID           func() string
	events          OrderEventPublisher
	guard           AccessGuard
	logger          func(context.Context, string, map[string]any)
	maxNameRunes    int
	maxCommentRunes int
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order store is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog reader is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	maxName := deps.MaxCustomerNameRunes
	if maxName <= 0 {
		maxName = defaultMaxCustomerNameRunes
	}
	maxComment := deps.MaxCommentRunes
	if maxComment <= 0 {
		maxComment = defaultMaxCommentRunes
	}

	return &orderService{
		orders:  deps.Orders,
		catalog: deps.Catalog,
		pricing: newPricingService(PricingServiceDeps{
			Catalog:     deps.Catalog,
			MaxLines:    deps.MaxLines,
			MaxQuantity: deps.MaxQuantity,
		}),
		sequencer: newOrderSequencer(deps.Orders, deps.MaxSequenceAttempts, logger),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:           idGen,
		events:          deps.Events,
		guard:           deps.Guard,
		logger:          logger,
		maxNameRunes:    maxName,
		maxCommentRunes: maxComment,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	if tenantID == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: tenant id is required", ErrOrderInvalidInput)
	}
	tableID := strings.TrimSpace(cmd.TableID)
	if tableID == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: table id is required", ErrOrderInvalidInput)
	}
	customerName := textutil.PlainText(cmd.CustomerName)
	if customerName == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: customer name is required", ErrOrderInvalidInput)
	}
	if textutil.RuneLen(customerName) > s.maxNameRunes {
		return CreateOrderResult{}, fmt.Errorf("%w: customer name must be at most %d characters", ErrOrderInvalidInput, s.maxNameRunes)
	}
	var comment *string
	if cmd.Comment != nil {
		if cleaned := textutil.PlainText(*cmd.Comment); cleaned != "" {
			if textutil.RuneLen(cleaned) > s.maxCommentRunes {
				return CreateOrderResult{}, fmt.Errorf("%w: comment must be at most %d characters", ErrOrderInvalidInput, s.maxCommentRunes)
			}
			comment = &cleaned
		}
	}
	if len(cmd.Lines) == 0 {
		return CreateOrderResult{}, fmt.Errorf("%w: order must contain at least one line", ErrOrderInvalidInput)
	}

	tenant, err := s.catalog.GetTenant(ctx, tenantID)
	if err != nil {
		return CreateOrderResult{}, mapRepositoryError(err, "tenant "+tenantID)
	}
	table, err := s.catalog.GetTable(ctx, tenantID, tableID)
	if err != nil {
		return CreateOrderResult{}, mapRepositoryError(err, "table "+tableID)
	}

	quote, err := s.pricing.quote(ctx, tenant, cmd.Lines)
	if err != nil {
		return CreateOrderResult{}, mapPricingError(err)
	}

	now := s.now()
	orderID := s.nextOrderID()
	details := s.buildDetails(quote.Lines)

	order, err := s.sequencer.CreateNumbered(ctx, tenantID, func(number int64) (domain.Order, error) {
		return domain.Order{
			ID:           orderID,
			TenantID:     tenantID,
			TableID:      table.ID,
			TableNumber:  table.Number,
			OrderNumber:  number,
			CustomerName: customerName,
			Comment:      comment,
			Status:       domain.OrderStatusPending,
			Currency:     quote.Currency,
			TotalPrice:   quote.Total,
			Details:      details,
			OrderTime:    now,
			UpdatedAt:    now,
		}, nil
	})
	if err != nil {
		var seqErr *repositories.SequenceError
		if errors.Is(err, ErrSequenceExhausted) || (errors.As(err, &seqErr) && seqErr.Code == repositories.SequenceErrorExhausted) {
			return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
		return CreateOrderResult{}, mapRepositoryError(err, "order "+orderID)
	}

	s.logger(ctx, OrderEventCreated, map[string]any{
		"tenantId":    tenantID,
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"lines":       len(order.Details),
		"total":       order.TotalPrice,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          OrderEventCreated,
		TenantID:      tenantID,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		TableID:       order.TableID,
		CurrentStatus: string(order.Status),
		Total:         order.TotalPrice,
		Currency:      order.Currency,
		OccurredAt:    now,
	})

	return CreateOrderResult{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Total:       order.TotalPrice,
		Currency:    order.Currency,
		Status:      order.Status,
		OrderTime:   order.OrderTime,
	}, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	if tenantID == "" {
		return Order{}, fmt.Errorf("%w: tenant id is required", ErrOrderInvalidInput)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, ok := domain.ParseOrderStatus(cmd.TargetStatus)
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}
	if err := authorizeTenant(ctx, s.guard, tenantID); err != nil {
		return Order{}, err
	}
	actor := strings.TrimSpace(cmd.ActorID)

	now := s.now()
	var previous domain.OrderStatus
	updated, err := s.orders.UpdateStatus(ctx, tenantID, orderID, func(order *domain.Order) error {
		previous = order.Status
		return applyStatusTransition(order, target, actor, now)
	})
	if err != nil {
		if errors.Is(err, ErrOrderInvalidTransition) {
			return Order{}, err
		}
		return Order{}, mapRepositoryError(err, "order "+orderID)
	}

	s.logger(ctx, OrderEventStatusChanged, map[string]any{
		"tenantId": tenantID,
		"orderId":  updated.ID,
		"from":     string(previous),
		"to":       string(updated.Status),
		"actor":    actor,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           OrderEventStatusChanged,
		TenantID:       tenantID,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		TableID:        updated.TableID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(updated.Status),
		ActorID:        actor,
		Total:          updated.TotalPrice,
		Currency:       updated.Currency,
		OccurredAt:     now,
	})

	return updated, nil
}

// applyStatusTransition moves order to target when the edge is allowed and records the change.
func applyStatusTransition(order *domain.Order, target domain.OrderStatus, actor string, now time.Time) error {
	current := order.Status
	if !canTransition(current, target) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrOrderInvalidTransition, current, target)
	}
	order.Status = target
	order.UpdatedAt = now
	order.StatusHistory = append(slices.Clone(order.StatusHistory), domain.StatusChange{
		From:    current,
		To:      target,
		ActorID: actor,
		At:      now,
	})
	return nil
}

func canTransition(current, target domain.OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func (s *orderService) buildDetails(lines []LinePrice) []domain.OrderDetail {
	details := make([]domain.OrderDetail, 0, len(lines))
	for _, line := range lines {
		details = append(details, domain.OrderDetail{
			ID:         detailIDPrefix + s.newID(),
			DishID:     line.DishID,
			DishName:   line.DishName,
			BasePrice:  line.BasePrice,
			Quantity:   line.Quantity,
			Selections: slices.Clone(line.Selections),
		})
	}
	return details
}

// mapRepositoryError names only the subject in not found and conflict errors, so storage details
// never reach a response body.
func mapRepositoryError(err error, subject string) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrOrderNotFound, subject)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s", ErrOrderConflict, subject)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func mapPricingError(err error) error {
	switch {
	case errors.Is(err, ErrPricingInvalidInput):
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	case errors.Is(err, ErrPricingNotFound):
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	default:
		return err
	}
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}
