package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	domain "github.com/tableorder/api/internal/domain"
	"github.com/tableorder/api/internal/repositories"
)

// ErrCatalogNotFound indicates the requested catalog entity does not exist for the tenant.
var ErrCatalogNotFound = errors.New("catalog: not found")

// ErrCatalogInvalidInput signals malformed lookup arguments.
var ErrCatalogInvalidInput = errors.New("catalog: invalid input")

// CatalogServiceDeps bundles collaborators for public catalog lookups.
type CatalogServiceDeps struct {
	Catalog repositories.CatalogReader
}

type catalogService struct {
	catalog repositories.CatalogReader
}

// NewCatalogService constructs the public catalog service.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog reader is required")
	}
	return &catalogService{catalog: deps.Catalog}, nil
}

func (s *catalogService) GetTable(ctx context.Context, tenantID, tableID string) (Table, error) {
	tenantID = strings.TrimSpace(tenantID)
	tableID = strings.TrimSpace(tableID)
	if tenantID == "" || tableID == "" {
		return Table{}, fmt.Errorf("%w: tenant id and table id are required", ErrCatalogInvalidInput)
	}
	table, err := s.catalog.GetTable(ctx, tenantID, tableID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Table{}, fmt.Errorf("%w: table %s", ErrCatalogNotFound, tableID)
		}
		return Table{}, err
	}
	return table, nil
}

func (s *catalogService) GetMenu(ctx context.Context, tenantID string) (MenuView, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return MenuView{}, fmt.Errorf("%w: tenant id is required", ErrCatalogInvalidInput)
	}
	menu, err := s.catalog.GetMenu(ctx, tenantID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return MenuView{}, fmt.Errorf("%w: tenant %s", ErrCatalogNotFound, tenantID)
		}
		return MenuView{}, err
	}
	return buildMenuView(menu), nil
}

func buildMenuView(menu domain.Menu) MenuView {
	optionsByID := make(map[string]*MenuOption)
	for _, value := range menu.Values {
		option, ok := optionsByID[value.OptionID]
		if !ok {
			option = &MenuOption{ID: value.OptionID, Name: value.OptionName}
			optionsByID[value.OptionID] = option
		}
		option.Values = append(option.Values, value)
	}
	for _, option := range optionsByID {
		slices.SortStableFunc(option.Values, func(a, b OptionValue) int {
			return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
		})
	}

	categories := make(map[string]*MenuCategory, len(menu.Categories))
	for _, category := range menu.Categories {
		categories[category.ID] = &MenuCategory{ID: category.ID, Name: category.Name}
	}
	for _, dish := range menu.Dishes {
		category, ok := categories[dish.CategoryID]
		if !ok {
			category = &MenuCategory{ID: dish.CategoryID}
			categories[dish.CategoryID] = category
		}
		entry := MenuDish{Dish: dish}
		for _, optionID := range dish.AllowedOptionIDs {
			// Options without stored values have nothing to select.
			if option, ok := optionsByID[optionID]; ok {
				entry.Options = append(entry.Options, *option)
			}
		}
		category.Dishes = append(category.Dishes, entry)
	}

	view := MenuView{Tenant: menu.Tenant, Categories: make([]MenuCategory, 0, len(categories))}
	for _, category := range categories {
		slices.SortStableFunc(category.Dishes, func(a, b MenuDish) int {
			return cmp.Or(cmp.Compare(a.Dish.Name, b.Dish.Name), cmp.Compare(a.Dish.ID, b.Dish.ID))
		})
		view.Categories = append(view.Categories, *category)
	}
	slices.SortFunc(view.Categories, func(a, b MenuCategory) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return view
}
