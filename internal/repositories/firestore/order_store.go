package firestore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/tableorder/api/internal/domain"
	pfirestore "github.com/tableorder/api/internal/platform/firestore"
	"github.com/tableorder/api/internal/platform/pagination"
	"github.com/tableorder/api/internal/repositories"
)

// OrderStore implements repositories.OrderStore. Order numbers come from the per-tenant counter
// document tenants/{id}/counters/orders, read and written in the same transaction that creates the
// order, so concurrent creations for one tenant contend only on that document.
type OrderStore struct {
	provider  *pfirestore.Provider
	orders    *pfirestore.TenantCollection[orderDocument]
	numbers   *pfirestore.TenantCollection[orderNumberDocument]
	counters  *pfirestore.TenantCollection[counterDocument]
	txOptions []pfirestore.TxOption
	clock     func() time.Time
}

var _ repositories.OrderStore = (*OrderStore)(nil)

// OrderStoreOption customises the order store.
type OrderStoreOption func(*OrderStore)

// WithTxOptions overrides the Firestore transaction options used for order writes.
func WithTxOptions(opts ...pfirestore.TxOption) OrderStoreOption {
	return func(s *OrderStore) {
		s.txOptions = append(s.txOptions, opts...)
	}
}

// WithClock overrides the clock used for counter timestamps.
func WithClock(clock func() time.Time) OrderStoreOption {
	return func(s *OrderStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewOrderStore constructs a Firestore-backed order store.
func NewOrderStore(provider *pfirestore.Provider, opts ...OrderStoreOption) (*OrderStore, error) {
	if provider == nil {
		return nil, errors.New("order store requires firestore provider")
	}
	store := &OrderStore{
		provider: provider,
		orders:   pfirestore.NewTenantCollection[orderDocument](provider, ordersCollection, nil),
		numbers:  pfirestore.NewTenantCollection[orderNumberDocument](provider, orderNumbersCollection, nil),
		counters: pfirestore.NewTenantCollection[counterDocument](provider, countersCollection, nil),
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *OrderStore) RunOrderTx(ctx context.Context, tenantID string, fn func(context.Context, repositories.OrderTx) error) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return pfirestore.WrapError("orders.tx", pfirestore.ErrTenantRequired)
	}
	counterRef, err := s.counters.DocumentRef(ctx, tenantID, orderCounterID)
	if err != nil {
		return err
	}

	var fnErr error
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		otx := &orderTx{store: s, tx: tx, tenantID: tenantID, counterRef: counterRef}
		if err := fn(ctx, otx); err != nil {
			fnErr = err
			return err
		}
		fnErr = nil
		return otx.commit(ctx, s.clock().UTC())
	}, s.txOptions...)
	if err != nil {
		if fnErr != nil {
			return fnErr
		}
		return err
	}
	return nil
}

// orderTx defers every write until fn has finished, because Firestore transactions require all
// reads to precede writes.
type orderTx struct {
	store      *OrderStore
	tx         *firestore.Transaction
	tenantID   string
	counterRef *firestore.DocumentRef

	reserved bool
	created  bool
	number   int64
	pending  []domain.Order
}

func (t *orderTx) NextOrderNumber(ctx context.Context) (int64, error) {
	if t.reserved {
		return 0, repositories.NewSequenceError("firestore next order number", repositories.SequenceErrorInvalidInput,
			"order number already reserved in this transaction", nil)
	}
	var current int64
	snapshot, err := t.tx.Get(t.counterRef)
	switch {
	case err == nil:
		var doc counterDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return 0, fmt.Errorf("firestore counters decode %s: %w", t.tenantID, err)
		}
		current = doc.CurrentValue
	case pfirestore.IsNotFound(err):
		t.created = true
	default:
		return 0, err
	}
	if current == math.MaxInt64 {
		return 0, repositories.NewSequenceError("firestore next order number", repositories.SequenceErrorExhausted,
			fmt.Sprintf("counter for tenant %s exhausted", t.tenantID), nil)
	}
	t.reserved = true
	t.number = current + 1
	return t.number, nil
}

func (t *orderTx) InsertOrder(ctx context.Context, order domain.Order) error {
	if order.TenantID != t.tenantID {
		return fmt.Errorf("firestore insert order: order tenant %s does not match transaction tenant %s", order.TenantID, t.tenantID)
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("firestore insert order: order id is required")
	}
	t.pending = append(t.pending, order)
	return nil
}

func (t *orderTx) commit(ctx context.Context, now time.Time) error {
	if t.reserved {
		doc := counterDocument{CurrentValue: t.number, UpdatedAt: now}
		var err error
		if t.created {
			err = t.tx.Create(t.counterRef, doc)
		} else {
			err = t.tx.Set(t.counterRef, doc)
		}
		if err != nil {
			return err
		}
	}
	for _, order := range t.pending {
		orderRef, err := t.store.orders.DocumentRef(ctx, t.tenantID, order.ID)
		if err != nil {
			return err
		}
		numberRef, err := t.store.numbers.DocumentRef(ctx, t.tenantID, strconv.FormatInt(order.OrderNumber, 10))
		if err != nil {
			return err
		}
		if err := t.tx.Create(orderRef, encodeOrder(order)); err != nil {
			return err
		}
		// The index document makes a duplicate number fail the whole transaction.
		if err := t.tx.Create(numberRef, orderNumberDocument{OrderID: order.ID, CreatedAt: now}); err != nil {
			return err
		}
	}
	return nil
}

func (s *OrderStore) FindByID(ctx context.Context, tenantID, orderID string) (domain.Order, error) {
	doc, err := s.orders.Get(ctx, tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(tenantID, doc.ID, doc.Data), nil
}

func (s *OrderStore) FindByNumber(ctx context.Context, tenantID string, orderNumber int64) (domain.Order, error) {
	index, err := s.numbers.Get(ctx, tenantID, strconv.FormatInt(orderNumber, 10))
	if err != nil {
		return domain.Order{}, err
	}
	return s.FindByID(ctx, tenantID, index.Data.OrderID)
}

func (s *OrderStore) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	afterTime, afterID, hasCursor, err := pagination.DecodeTimeCursor(filter.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}

	docs, err := s.orders.Query(ctx, filter.TenantID, func(q firestore.Query) firestore.Query {
		if filter.Status != nil {
			q = q.Where("status", "==", string(*filter.Status))
		}
		q = q.OrderBy("orderTime", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if hasCursor {
			q = q.StartAfter(afterTime, afterID)
		}
		return q.Limit(limit + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	if len(docs) > limit {
		docs = docs[:limit]
		last := docs[len(docs)-1]
		page.NextPageToken, err = pagination.EncodeTimeCursor(last.Data.OrderTime, last.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}
	page.Items = make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		page.Items = append(page.Items, decodeOrder(filter.TenantID, doc.ID, doc.Data))
	}
	return page, nil
}

func (s *OrderStore) UpdateStatus(ctx context.Context, tenantID, orderID string, mutate func(*domain.Order) error) (domain.Order, error) {
	ref, err := s.orders.DocumentRef(ctx, tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	var (
		updated   domain.Order
		mutateErr error
	)
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		mutateErr = nil
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := s.orders.Decode(snapshot)
		if err != nil {
			return err
		}
		order := decodeOrder(tenantID, doc.ID, doc.Data)
		if err := mutate(&order); err != nil {
			mutateErr = err
			return err
		}
		updated = order
		return tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(order.Status)},
			{Path: "statusHistory", Value: encodeStatusHistory(order.StatusHistory)},
			{Path: "updatedAt", Value: order.UpdatedAt.UTC()},
		})
	}, s.txOptions...)
	if mutateErr != nil {
		return domain.Order{}, mutateErr
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update_status", err)
	}
	return updated, nil
}
