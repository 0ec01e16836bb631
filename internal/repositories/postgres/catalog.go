// Package postgres implements the catalog reader and order store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/tableorder/api/internal/domain"
	ppostgres "github.com/tableorder/api/internal/platform/postgres"
	"github.com/tableorder/api/internal/repositories"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	dishColumns        = `SELECT tenant_id, id, category_id, name, description, base_price, allowed_option_ids`
	optionValueColumns = `SELECT tenant_id, id, option_id, option_name, name, extra_price`
)

func scanDish(row pgx.CollectableRow) (domain.Dish, error) {
	var dish domain.Dish
	err := row.Scan(&dish.TenantID, &dish.ID, &dish.CategoryID, &dish.Name, &dish.Description, &dish.BasePrice, &dish.AllowedOptionIDs)
	return dish, err
}

func scanOptionValue(row pgx.CollectableRow) (domain.OptionValue, error) {
	var value domain.OptionValue
	err := row.Scan(&value.TenantID, &value.ID, &value.OptionID, &value.OptionName, &value.Name, &value.ExtraPrice)
	return value, err
}

// CatalogReader implements repositories.CatalogReader over the catalog tables.
type CatalogReader struct {
	pool *pgxpool.Pool
}

var _ repositories.CatalogReader = (*CatalogReader)(nil)

// NewCatalogReader constructs a catalog reader backed by pool.
func NewCatalogReader(pool *pgxpool.Pool) (*CatalogReader, error) {
	if pool == nil {
		return nil, errors.New("catalog reader requires postgres pool")
	}
	return &CatalogReader{pool: pool}, nil
}

func (r *CatalogReader) GetTenant(ctx context.Context, tenantID string) (domain.Tenant, error) {
	var tenant domain.Tenant
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, currency FROM tenants WHERE id = $1`,
		strings.TrimSpace(tenantID),
	).Scan(&tenant.ID, &tenant.Name, &tenant.Currency)
	if err != nil {
		return domain.Tenant{}, ppostgres.WrapError("catalog.tenant", err)
	}
	return tenant, nil
}

func (r *CatalogReader) GetTable(ctx context.Context, tenantID, tableID string) (domain.Table, error) {
	var table domain.Table
	err := r.pool.QueryRow(ctx,
		`SELECT tenant_id, id, number, capacity FROM restaurant_tables WHERE tenant_id = $1 AND id = $2`,
		strings.TrimSpace(tenantID), strings.TrimSpace(tableID),
	).Scan(&table.TenantID, &table.ID, &table.Number, &table.Capacity)
	if err != nil {
		return domain.Table{}, ppostgres.WrapError("catalog.table", err)
	}
	return table, nil
}

func (r *CatalogReader) GetDishes(ctx context.Context, tenantID string, dishIDs []string) (map[string]domain.Dish, error) {
	result := make(map[string]domain.Dish, len(dishIDs))
	if len(dishIDs) == 0 {
		return result, nil
	}
	rows, err := r.pool.Query(ctx,
		dishColumns+` FROM dishes WHERE tenant_id = $1 AND id = ANY($2)`,
		tenantID, dishIDs,
	)
	if err != nil {
		return nil, ppostgres.WrapError("catalog.dishes", err)
	}
	dishes, err := pgx.CollectRows(rows, scanDish)
	if err != nil {
		return nil, ppostgres.WrapError("catalog.dishes", err)
	}
	for _, dish := range dishes {
		result[dish.ID] = dish
	}
	return result, nil
}

func (r *CatalogReader) GetOptionValues(ctx context.Context, tenantID string, valueIDs []string) (map[string]domain.OptionValue, error) {
	result := make(map[string]domain.OptionValue, len(valueIDs))
	if len(valueIDs) == 0 {
		return result, nil
	}
	rows, err := r.pool.Query(ctx,
		optionValueColumns+` FROM option_values WHERE tenant_id = $1 AND id = ANY($2)`,
		tenantID, valueIDs,
	)
	if err != nil {
		return nil, ppostgres.WrapError("catalog.values", err)
	}
	values, err := pgx.CollectRows(rows, scanOptionValue)
	if err != nil {
		return nil, ppostgres.WrapError("catalog.values", err)
	}
	for _, value := range values {
		result[value.ID] = value
	}
	return result, nil
}

// GetMenu reads the tenant and its catalog within one read-only snapshot.
func (r *CatalogReader) GetMenu(ctx context.Context, tenantID string) (domain.Menu, error) {
	tenantID = strings.TrimSpace(tenantID)
	var menu domain.Menu
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT id, name, currency FROM tenants WHERE id = $1`, tenantID,
		).Scan(&menu.Tenant.ID, &menu.Tenant.Name, &menu.Tenant.Currency)
		if err != nil {
			return ppostgres.WrapError("catalog.menu_tenant", err)
		}

		rows, err := tx.Query(ctx, `SELECT id, tenant_id, name FROM dish_categories WHERE tenant_id = $1 ORDER BY id`, tenantID)
		if err != nil {
			return ppostgres.WrapError("catalog.menu_categories", err)
		}
		menu.Categories, err = pgx.CollectRows(rows, pgx.RowToStructByPos[domain.Category])
		if err != nil {
			return ppostgres.WrapError("catalog.menu_categories", err)
		}

		rows, err = tx.Query(ctx, dishColumns+` FROM dishes WHERE tenant_id = $1 ORDER BY id`, tenantID)
		if err != nil {
			return ppostgres.WrapError("catalog.menu_dishes", err)
		}
		if menu.Dishes, err = pgx.CollectRows(rows, scanDish); err != nil {
			return ppostgres.WrapError("catalog.menu_dishes", err)
		}

		rows, err = tx.Query(ctx, optionValueColumns+` FROM option_values WHERE tenant_id = $1 ORDER BY id`, tenantID)
		if err != nil {
			return ppostgres.WrapError("catalog.menu_values", err)
		}
		if menu.Values, err = pgx.CollectRows(rows, scanOptionValue); err != nil {
			return ppostgres.WrapError("catalog.menu_values", err)
		}
		return nil
	})
	if err != nil {
		return domain.Menu{}, err
	}
	return menu, nil
}

// SeedCategories upserts menu categories of an existing tenant.
func (r *CatalogReader) SeedCategories(ctx context.Context, tenantID string, categories []domain.Category) error {
	batch := &pgx.Batch{}
	for _, category := range categories {
		batch.Queue(`INSERT INTO dish_categories (tenant_id, id, name) VALUES ($1, $2, $3)
			ON CONFLICT (tenant_id, id) DO UPDATE SET name = EXCLUDED.name`,
			tenantID, category.ID, category.Name)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return ppostgres.WrapError("catalog.seed_categories", err)
	}
	return nil
}

// SeedTenant upserts a tenant together with its tables, dishes and option values in one transaction.
func (r *CatalogReader) SeedTenant(ctx context.Context, tenant domain.Tenant, tables []domain.Table, dishes []domain.Dish, values []domain.OptionValue) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`INSERT INTO tenants (id, name, currency) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, currency = EXCLUDED.currency`,
			tenant.ID, tenant.Name, tenant.Currency)
		for _, table := range tables {
			batch.Queue(`INSERT INTO restaurant_tables (tenant_id, id, number, capacity) VALUES ($1, $2, $3, $4)
				ON CONFLICT (tenant_id, id) DO UPDATE SET number = EXCLUDED.number, capacity = EXCLUDED.capacity`,
				tenant.ID, table.ID, table.Number, table.Capacity)
		}
		for _, dish := range dishes {
			allowed := dish.AllowedOptionIDs
			if allowed == nil {
				allowed = []string{}
			}
			batch.Queue(`INSERT INTO dishes (tenant_id, id, category_id, name, description, base_price, allowed_option_ids)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (tenant_id, id) DO UPDATE SET category_id = EXCLUDED.category_id, name = EXCLUDED.name,
					description = EXCLUDED.description, base_price = EXCLUDED.base_price,
					allowed_option_ids = EXCLUDED.allowed_option_ids`,
				tenant.ID, dish.ID, dish.CategoryID, dish.Name, dish.Description, dish.BasePrice, allowed)
		}
		for _, value := range values {
			batch.Queue(`INSERT INTO option_values (tenant_id, id, option_id, option_name, name, extra_price)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (tenant_id, id) DO UPDATE SET option_id = EXCLUDED.option_id,
					option_name = EXCLUDED.option_name, name = EXCLUDED.name, extra_price = EXCLUDED.extra_price`,
				tenant.ID, value.ID, value.OptionID, value.OptionName, value.Name, value.ExtraPrice)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return ppostgres.WrapError("catalog.seed", err)
		}
		return nil
	})
}
