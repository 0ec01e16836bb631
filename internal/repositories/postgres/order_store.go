package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/tableorder/api/internal/domain"
	"github.com/tableorder/api/internal/platform/pagination"
	ppostgres "github.com/tableorder/api/internal/platform/postgres"
	"github.com/tableorder/api/internal/repositories"
)

const codeNumericOutOfRange = "22003"

const orderColumns = `tenant_id, id, order_number, table_id, table_number, customer_name, comment, status,
	currency, total_price, order_time, updated_at`

// OrderStore implements repositories.OrderStore. Order numbers come from the tenant's order_counters
// row, upserted inside the order transaction; the row lock it takes serialises creations of one
// tenant until commit and leaves other tenants untouched.
type OrderStore struct {
	pool    *pgxpool.Pool
	txOpts  pgx.TxOptions
	timeout time.Duration
}

var _ repositories.OrderStore = (*OrderStore)(nil)

// OrderStoreOption customises the order store.
type OrderStoreOption func(*OrderStore)

// WithTxTimeout bounds each order transaction.
func WithTxTimeout(timeout time.Duration) OrderStoreOption {
	return func(s *OrderStore) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewOrderStore constructs a pgx-backed order store.
func NewOrderStore(pool *pgxpool.Pool, opts ...OrderStoreOption) (*OrderStore, error) {
	if pool == nil {
		return nil, errors.New("order store requires postgres pool")
	}
	store := &OrderStore{
		pool:    pool,
		txOpts:  pgx.TxOptions{IsoLevel: pgx.ReadCommitted},
		timeout: 10 * time.Second,
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
		return repositories.NewSequenceError("postgres order tx", repositories.SequenceErrorInvalidInput, "tenant id is required", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, s.txOpts)
	if err != nil {
		return ppostgres.WrapError("orders.tx.begin", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := fn(ctx, &orderTx{tx: tx, tenantID: tenantID}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return ppostgres.WrapError("orders.tx.commit", err)
	}
	return nil
}

type orderTx struct {
	tx       pgx.Tx
	tenantID string
	reserved bool
}

func (t *orderTx) NextOrderNumber(ctx context.Context) (int64, error) {
	if t.reserved {
		return 0, repositories.NewSequenceError("postgres next order number", repositories.SequenceErrorInvalidInput,
			"order number already reserved in this transaction", nil)
	}
	var number int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO order_counters (tenant_id, current_value, updated_at) VALUES ($1, 1, NOW())
		ON CONFLICT (tenant_id) DO UPDATE
			SET current_value = order_counters.current_value + 1, updated_at = NOW()
		RETURNING current_value`, t.tenantID).Scan(&number)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeNumericOutOfRange {
			seqErr := repositories.NewSequenceError("postgres next order number", repositories.SequenceErrorExhausted,
				fmt.Sprintf("counter for tenant %s exhausted", t.tenantID), err)
			seqErr.TenantID = t.tenantID
			return 0, seqErr
		}
		wrapped := ppostgres.WrapError("orders.counter", err)
		var repoErr repositories.RepositoryError
		if errors.As(wrapped, &repoErr) && repoErr.IsConflict() {
			return 0, repositories.NewSequenceError("postgres next order number", repositories.SequenceErrorContention,
				"counter row contended", wrapped)
		}
		return 0, wrapped
	}
	t.reserved = true
	return number, nil
}

func (t *orderTx) InsertOrder(ctx context.Context, order domain.Order) error {
	if order.TenantID != t.tenantID {
		return fmt.Errorf("postgres insert order: order tenant %s does not match transaction tenant %s", order.TenantID, t.tenantID)
	}
	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		order.TenantID, order.ID, order.OrderNumber, order.TableID, order.TableNumber, order.CustomerName,
		order.Comment, string(order.Status), order.Currency, order.TotalPrice, order.OrderTime.UTC(), order.UpdatedAt.UTC())
	for i, detail := range order.Details {
		batch.Queue(`INSERT INTO order_details (tenant_id, order_id, id, position, dish_id, dish_name, base_price, quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			order.TenantID, order.ID, detail.ID, i, detail.DishID, detail.DishName, detail.BasePrice, detail.Quantity)
		for j, sel := range detail.Selections {
			batch.Queue(`INSERT INTO order_detail_selections
				(tenant_id, order_id, detail_id, position, value_id, option_id, option_name, value_name, extra_price)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				order.TenantID, order.ID, detail.ID, j, sel.ValueID, sel.OptionID, sel.OptionName, sel.ValueName, sel.ExtraPrice)
		}
	}
	queueHistory(batch, order, 0)
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return ppostgres.WrapError("orders.insert", err)
	}
	return nil
}

func queueHistory(batch *pgx.Batch, order domain.Order, from int) {
	for i := from; i < len(order.StatusHistory); i++ {
		change := order.StatusHistory[i]
		batch.Queue(`INSERT INTO order_status_history (tenant_id, order_id, position, from_status, to_status, actor_id, changed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			order.TenantID, order.ID, i, string(change.From), string(change.To), change.ActorID, change.At.UTC())
	}
}

func (s *OrderStore) FindByID(ctx context.Context, tenantID, orderID string) (domain.Order, error) {
	return s.findOne(ctx, s.pool, "orders.find", `WHERE tenant_id = $1 AND id = $2`, tenantID, orderID)
}

func (s *OrderStore) FindByNumber(ctx context.Context, tenantID string, orderNumber int64) (domain.Order, error) {
	return s.findOne(ctx, s.pool, "orders.find_by_number", `WHERE tenant_id = $1 AND order_number = $2`, tenantID, orderNumber)
}

func (s *OrderStore) findOne(ctx context.Context, q querier, op, where string, args ...any) (domain.Order, error) {
	rows, err := q.Query(ctx, `SELECT `+orderColumns+` FROM orders `+where, args...)
	if err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}
	order, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}
	loaded, err := loadChildren(ctx, q, order.TenantID, []domain.Order{order})
	if err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}
	return loaded[0], nil
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

	var (
		sb   strings.Builder
		args = []any{filter.TenantID}
	)
	sb.WriteString(`SELECT ` + orderColumns + ` FROM orders WHERE tenant_id = $1`)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}
	if hasCursor {
		args = append(args, afterTime, afterID)
		fmt.Fprintf(&sb, " AND (order_time, id) < ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, limit+1)
	fmt.Fprintf(&sb, " ORDER BY order_time DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, ppostgres.WrapError("orders.list", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, ppostgres.WrapError("orders.list", err)
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
	if len(orders) > 0 {
		orders, err = loadChildren(ctx, s.pool, filter.TenantID, orders)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, ppostgres.WrapError("orders.list", err)
		}
	}
	page.Items = orders
	return page, nil
}

// UpdateStatus locks the order row, applies mutate and writes the status guarded by the status it
// read, so a concurrent writer can never be overwritten silently.
func (s *OrderStore) UpdateStatus(ctx context.Context, tenantID, orderID string, mutate func(order *domain.Order) error) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, s.txOpts)
	if err != nil {
		return domain.Order{}, ppostgres.WrapError("orders.update_status", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	current, err := s.findOne(ctx, tx, "orders.update_status", `WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	working := current
	working.StatusHistory = append([]domain.StatusChange(nil), current.StatusHistory...)
	if err := mutate(&working); err != nil {
		return domain.Order{}, err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE orders SET status = $1, updated_at = $2 WHERE tenant_id = $3 AND id = $4 AND status = $5`,
		string(working.Status), working.UpdatedAt.UTC(), tenantID, orderID, string(current.Status))
	if err != nil {
		return domain.Order{}, ppostgres.WrapError("orders.update_status", err)
	}
	if tag.RowsAffected() != 1 {
		return domain.Order{}, ppostgres.Conflict("orders.update_status", "order %s changed concurrently", orderID)
	}
	batch := &pgx.Batch{}
	queueHistory(batch, working, len(current.StatusHistory))
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return domain.Order{}, ppostgres.WrapError("orders.update_status.history", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, ppostgres.WrapError("orders.update_status.commit", err)
	}

	current.Status = working.Status
	current.StatusHistory = working.StatusHistory
	current.UpdatedAt = working.UpdatedAt
	return current, nil
}

func scanOrder(row pgx.CollectableRow) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	err := row.Scan(&order.TenantID, &order.ID, &order.OrderNumber, &order.TableID, &order.TableNumber,
		&order.CustomerName, &order.Comment, &status, &order.Currency, &order.TotalPrice, &order.OrderTime, &order.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.OrderTime = order.OrderTime.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

// loadChildren attaches details, selections and status history to orders of one tenant.
func loadChildren(ctx context.Context, q querier, tenantID string, orders []domain.Order) ([]domain.Order, error) {
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, order := range orders {
		ids[i] = order.ID
		index[order.ID] = i
	}

	rows, err := q.Query(ctx, `
		SELECT order_id, id, dish_id, dish_name, base_price, quantity
		  FROM order_details WHERE tenant_id = $1 AND order_id = ANY($2)
		 ORDER BY order_id, position`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	detailIndex := map[string][2]int{}
	var orderID string
	var detail domain.OrderDetail
	_, err = pgx.ForEachRow(rows, []any{&orderID, &detail.ID, &detail.DishID, &detail.DishName, &detail.BasePrice, &detail.Quantity}, func() error {
		i := index[orderID]
		detailIndex[orderID+"/"+detail.ID] = [2]int{i, len(orders[i].Details)}
		orders[i].Details = append(orders[i].Details, detail)
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `
		SELECT order_id, detail_id, value_id, option_id, option_name, value_name, extra_price
		  FROM order_detail_selections WHERE tenant_id = $1 AND order_id = ANY($2)
		 ORDER BY order_id, detail_id, position`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	var detailID string
	var sel domain.OrderDetailSelection
	_, err = pgx.ForEachRow(rows, []any{&orderID, &detailID, &sel.ValueID, &sel.OptionID, &sel.OptionName, &sel.ValueName, &sel.ExtraPrice}, func() error {
		pos, ok := detailIndex[orderID+"/"+detailID]
		if !ok {
			return fmt.Errorf("selection references unknown detail %s of order %s", detailID, orderID)
		}
		d := &orders[pos[0]].Details[pos[1]]
		d.Selections = append(d.Selections, sel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `
		SELECT order_id, from_status, to_status, actor_id, changed_at
		  FROM order_status_history WHERE tenant_id = $1 AND order_id = ANY($2)
		 ORDER BY order_id, position`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	var from, to string
	var change domain.StatusChange
	_, err = pgx.ForEachRow(rows, []any{&orderID, &from, &to, &change.ActorID, &change.At}, func() error {
		change.From = domain.OrderStatus(from)
		change.To = domain.OrderStatus(to)
		change.At = change.At.UTC()
		i := index[orderID]
		orders[i].StatusHistory = append(orders[i].StatusHistory, change)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}
