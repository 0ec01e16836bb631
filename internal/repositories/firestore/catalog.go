// Package firestore stores the tenant catalog and orders in Cloud Firestore. Every collection is
// nested under tenants/{tenantId}.
package firestore

import (
	"context"
	"errors"
	"slices"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/tableorder/api/internal/domain"
	pfirestore "github.com/tableorder/api/internal/platform/firestore"
	"github.com/tableorder/api/internal/repositories"
)

// CatalogReader implements repositories.CatalogReader on Firestore.
type CatalogReader struct {
	provider   *pfirestore.Provider
	tables     *pfirestore.TenantCollection[tableDocument]
	categories *pfirestore.TenantCollection[categoryDocument]
	dishes     *pfirestore.TenantCollection[dishDocument]
	values     *pfirestore.TenantCollection[optionValueDocument]
}

var _ repositories.CatalogReader = (*CatalogReader)(nil)

// NewCatalogReader constructs a Firestore-backed catalog reader.
func NewCatalogReader(provider *pfirestore.Provider) (*CatalogReader, error) {
	if provider == nil {
		return nil, errors.New("catalog reader requires firestore provider")
	}
	return &CatalogReader{
		provider:   provider,
		tables:     pfirestore.NewTenantCollection[tableDocument](provider, tablesCollection, nil),
		categories: pfirestore.NewTenantCollection[categoryDocument](provider, categoriesCollection, nil),
		dishes:     pfirestore.NewTenantCollection[dishDocument](provider, dishesCollection, nil),
		values:     pfirestore.NewTenantCollection[optionValueDocument](provider, optionValuesCollection, nil),
	}, nil
}

func (r *CatalogReader) GetTenant(ctx context.Context, tenantID string) (domain.Tenant, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return domain.Tenant{}, pfirestore.WrapError("tenants.get", pfirestore.ErrTenantRequired)
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Tenant{}, err
	}
	snapshot, err := client.Collection(pfirestore.TenantsCollection).Doc(tenantID).Get(ctx)
	if err != nil {
		return domain.Tenant{}, pfirestore.WrapError("tenants.get", err)
	}
	var doc tenantDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return domain.Tenant{}, pfirestore.WrapError("tenants.decode", err)
	}
	return domain.Tenant{ID: tenantID, Name: doc.Name, Currency: doc.Currency}, nil
}

func (r *CatalogReader) GetTable(ctx context.Context, tenantID, tableID string) (domain.Table, error) {
	doc, err := r.tables.Get(ctx, tenantID, tableID)
	if err != nil {
		return domain.Table{}, err
	}
	return domain.Table{
		ID:       doc.ID,
		TenantID: tenantID,
		Number:   doc.Data.Number,
		Capacity: doc.Data.Capacity,
	}, nil
}

func (r *CatalogReader) GetDishes(ctx context.Context, tenantID string, dishIDs []string) (map[string]domain.Dish, error) {
	docs, err := r.dishes.GetAll(ctx, tenantID, dishIDs)
	if err != nil {
		return nil, err
	}
	result := make(map[string]domain.Dish, len(docs))
	for id, doc := range docs {
		result[id] = dishFromDocument(tenantID, doc)
	}
	return result, nil
}

func (r *CatalogReader) GetOptionValues(ctx context.Context, tenantID string, valueIDs []string) (map[string]domain.OptionValue, error) {
	docs, err := r.values.GetAll(ctx, tenantID, valueIDs)
	if err != nil {
		return nil, err
	}
	result := make(map[string]domain.OptionValue, len(docs))
	for id, doc := range docs {
		result[id] = optionValueFromDocument(tenantID, doc)
	}
	return result, nil
}

// GetMenu reads the tenant document and every catalog document beneath it, ordered by document id.
func (r *CatalogReader) GetMenu(ctx context.Context, tenantID string) (domain.Menu, error) {
	tenant, err := r.GetTenant(ctx, tenantID)
	if err != nil {
		return domain.Menu{}, err
	}
	byID := func(q firestore.Query) firestore.Query { return q.OrderBy(firestore.DocumentID, firestore.Asc) }

	categories, err := r.categories.Query(ctx, tenant.ID, byID)
	if err != nil {
		return domain.Menu{}, err
	}
	dishes, err := r.dishes.Query(ctx, tenant.ID, byID)
	if err != nil {
		return domain.Menu{}, err
	}
	values, err := r.values.Query(ctx, tenant.ID, byID)
	if err != nil {
		return domain.Menu{}, err
	}

	menu := domain.Menu{Tenant: tenant}
	for _, doc := range categories {
		menu.Categories = append(menu.Categories, domain.Category{ID: doc.ID, TenantID: tenant.ID, Name: doc.Data.Name})
	}
	for _, doc := range dishes {
		menu.Dishes = append(menu.Dishes, dishFromDocument(tenant.ID, doc))
	}
	for _, doc := range values {
		menu.Values = append(menu.Values, optionValueFromDocument(tenant.ID, doc))
	}
	return menu, nil
}

func dishFromDocument(tenantID string, doc pfirestore.Document[dishDocument]) domain.Dish {
	return domain.Dish{
		ID:               doc.ID,
		TenantID:         tenantID,
		CategoryID:       doc.Data.CategoryID,
		Name:             doc.Data.Name,
		Description:      doc.Data.Description,
		BasePrice:        doc.Data.BasePrice,
		AllowedOptionIDs: slices.Clone(doc.Data.AllowedOptionIDs),
	}
}

func optionValueFromDocument(tenantID string, doc pfirestore.Document[optionValueDocument]) domain.OptionValue {
	return domain.OptionValue{
		ID:         doc.ID,
		TenantID:   tenantID,
		OptionID:   doc.Data.OptionID,
		OptionName: doc.Data.OptionName,
		Name:       doc.Data.Name,
		ExtraPrice: doc.Data.ExtraPrice,
	}
}

// SeedCategories writes menu category documents of an existing tenant.
func (r *CatalogReader) SeedCategories(ctx context.Context, tenantID string, categories []domain.Category) error {
	for _, category := range categories {
		if err := r.categories.Set(ctx, tenantID, category.ID, categoryDocument{Name: category.Name}); err != nil {
			return err
		}
	}
	return nil
}

// SeedTenant writes catalog documents for a tenant. It backs the seed command and integration tests;
// catalog authoring itself happens outside this service.
func (r *CatalogReader) SeedTenant(ctx context.Context, tenant domain.Tenant, tables []domain.Table, dishes []domain.Dish, values []domain.OptionValue) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	tenantRef := client.Collection(pfirestore.TenantsCollection).Doc(tenant.ID)
	if _, err := tenantRef.Set(ctx, tenantDocument{Name: tenant.Name, Currency: tenant.Currency}); err != nil {
		return pfirestore.WrapError("tenants.set", err)
	}
	for _, table := range tables {
		if err := r.tables.Set(ctx, tenant.ID, table.ID, tableDocument{Number: table.Number, Capacity: table.Capacity}); err != nil {
			return err
		}
	}
	for _, dish := range dishes {
		if err := r.dishes.Set(ctx, tenant.ID, dish.ID, dishDocument{
			CategoryID:       dish.CategoryID,
			Name:             dish.Name,
			Description:      dish.Description,
			BasePrice:        dish.BasePrice,
			AllowedOptionIDs: dish.AllowedOptionIDs,
		}); err != nil {
			return err
		}
	}
	for _, value := range values {
		if err := r.values.Set(ctx, tenant.ID, value.ID, optionValueDocument{
			OptionID:   value.OptionID,
			OptionName: value.OptionName,
			Name:       value.Name,
			ExtraPrice: value.ExtraPrice,
		}); err != nil {
			return err
		}
	}
	return nil
}
