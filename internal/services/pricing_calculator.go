package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	domain "github.com/tableorder/api/internal/domain"
	"github.com/tableorder/api/internal/repositories"
)

var (
	// ErrPricingInvalidInput indicates the cart lines are malformed.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingNotFound indicates a referenced dish or option value does not exist for the tenant.
	ErrPricingNotFound = errors.New("pricing: not found")
)

const (
	defaultMaxOrderLines = 50
	defaultMaxQuantity   = 99
)

// CatalogSnapshot is the authoritative catalog data needed to price a set of lines.
type CatalogSnapshot struct {
	Currency string
	Dishes   map[string]domain.Dish
	Values   map[string]domain.OptionValue
}

// PriceLines computes per-line and total prices from authoritative catalog data. It performs no I/O
// and returns identical results for identical inputs.
func PriceLines(lines []CartLine, catalog CatalogSnapshot) (PriceQuote, error) {
	if len(lines) == 0 {
		return PriceQuote{}, fmt.Errorf("%w: at least one line is required", ErrPricingInvalidInput)
	}

	quote := PriceQuote{
		Currency: catalog.Currency,
		Lines:    make([]LinePrice, 0, len(lines)),
	}
	for i, line := range lines {
		priced, err := priceLine(i, line, catalog)
		if err != nil {
			return PriceQuote{}, err
		}
		total, ok := domain.AddMinor(quote.Total, priced.LineTotal)
		if !ok {
			return PriceQuote{}, fmt.Errorf("%w: order total overflows", ErrPricingInvalidInput)
		}
		quote.Total = total
		quote.Lines = append(quote.Lines, priced)
	}
	return quote, nil
}

func priceLine(index int, line CartLine, catalog CatalogSnapshot) (LinePrice, error) {
	dishID := strings.TrimSpace(line.DishID)
	if dishID == "" {
		return LinePrice{}, fmt.Errorf("%w: lines[%d].dish_id is required", ErrPricingInvalidInput, index)
	}
	if line.Quantity <= 0 {
		return LinePrice{}, fmt.Errorf("%w: lines[%d].quantity must be a positive integer", ErrPricingInvalidInput, index)
	}

	dish, ok := catalog.Dishes[dishID]
	if !ok {
		return LinePrice{}, fmt.Errorf("%w: dish %s", ErrPricingNotFound, dishID)
	}
	if dish.BasePrice < 0 {
		return LinePrice{}, fmt.Errorf("pricing: dish %s has negative base price", dishID)
	}

	valueIDs := make([]string, 0, len(line.SelectedValueIDs))
	selections := make([]domain.OrderDetailSelection, 0, len(line.SelectedValueIDs))
	unit := dish.BasePrice
	for _, raw := range line.SelectedValueIDs {
		valueID := strings.TrimSpace(raw)
		if valueID == "" {
			return LinePrice{}, fmt.Errorf("%w: lines[%d] contains an empty option value id", ErrPricingInvalidInput, index)
		}
		if slices.Contains(valueIDs, valueID) {
			return LinePrice{}, fmt.Errorf("%w: lines[%d] selects option value %s more than once", ErrPricingInvalidInput, index, valueID)
		}
		value, ok := catalog.Values[valueID]
		if !ok {
			return LinePrice{}, fmt.Errorf("%w: option value %s", ErrPricingNotFound, valueID)
		}
		if !dish.AllowsOption(value.OptionID) {
			return LinePrice{}, fmt.Errorf("%w: option %s is not available for dish %s", ErrPricingInvalidInput, value.OptionID, dishID)
		}
		if value.ExtraPrice < 0 {
			return LinePrice{}, fmt.Errorf("pricing: option value %s has negative extra price", valueID)
		}
		unit, ok = domain.AddMinor(unit, value.ExtraPrice)
		if !ok {
			return LinePrice{}, fmt.Errorf("%w: lines[%d] unit price overflows", ErrPricingInvalidInput, index)
		}
		valueIDs = append(valueIDs, valueID)
		selections = append(selections, domain.OrderDetailSelection{
			ValueID:    value.ID,
			OptionID:   value.OptionID,
			OptionName: value.OptionName,
			ValueName:  value.Name,
			ExtraPrice: value.ExtraPrice,
		})
	}

	lineTotal, ok := domain.MulMinor(unit, line.Quantity)
	if !ok {
		return LinePrice{}, fmt.Errorf("%w: lines[%d] total overflows", ErrPricingInvalidInput, index)
	}

	return LinePrice{
		DishID:           dish.ID,
		DishName:         dish.Name,
		BasePrice:        dish.BasePrice,
		Quantity:         line.Quantity,
		SelectedValueIDs: valueIDs,
		Selections:       selections,
		UnitPrice:        unit,
		LineTotal:        lineTotal,
	}, nil
}

// PricingServiceDeps bundles collaborators for the catalog-backed pricing service.
type PricingServiceDeps struct {
	Catalog     repositories.CatalogReader
	MaxLines    int
	MaxQuantity int
}

type pricingService struct {
	catalog     repositories.CatalogReader
	maxLines    int
	maxQuantity int
}

var _ PricingService = (*pricingService)(nil)

// NewPricingService constructs a PricingService reading authoritative prices from the catalog.
func NewPricingService(deps PricingServiceDeps) (PricingService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("pricing service: catalog reader is required")
	}
	return newPricingService(deps), nil
}

func newPricingService(deps PricingServiceDeps) *pricingService {
	maxLines := deps.MaxLines
	if maxLines <= 0 {
		maxLines = defaultMaxOrderLines
	}
	maxQuantity := deps.MaxQuantity
	if maxQuantity <= 0 {
		maxQuantity = defaultMaxQuantity
	}
	return &pricingService{
		catalog:     deps.Catalog,
		maxLines:    maxLines,
		maxQuantity: maxQuantity,
	}
}

func (s *pricingService) CalculatePrice(ctx context.Context, cmd CalculatePriceCommand) (PriceQuote, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	if tenantID == "" {
		return PriceQuote{}, fmt.Errorf("%w: tenant id is required", ErrPricingInvalidInput)
	}
	tenant, err := s.catalog.GetTenant(ctx, tenantID)
	if err != nil {
		return PriceQuote{}, mapPricingRepositoryError(err, "tenant "+tenantID)
	}
	return s.quote(ctx, tenant, cmd.Lines)
}

// quote validates limits, loads the catalog snapshot for the referenced ids and prices the lines.
func (s *pricingService) quote(ctx context.Context, tenant domain.Tenant, lines []CartLine) (PriceQuote, error) {
	if len(lines) == 0 {
		return PriceQuote{}, fmt.Errorf("%w: at least one line is required", ErrPricingInvalidInput)
	}
	if len(lines) > s.maxLines {
		return PriceQuote{}, fmt.Errorf("%w: at most %d lines are allowed", ErrPricingInvalidInput, s.maxLines)
	}
	for i, line := range lines {
		if line.Quantity > s.maxQuantity {
			return PriceQuote{}, fmt.Errorf("%w: lines[%d].quantity must not exceed %d", ErrPricingInvalidInput, i, s.maxQuantity)
		}
	}

	dishIDs, valueIDs := referencedIDs(lines)
	dishes, err := s.catalog.GetDishes(ctx, tenant.ID, dishIDs)
	if err != nil {
		return PriceQuote{}, mapPricingRepositoryError(err, "dishes")
	}
	values := map[string]domain.OptionValue{}
	if len(valueIDs) > 0 {
		values, err = s.catalog.GetOptionValues(ctx, tenant.ID, valueIDs)
		if err != nil {
			return PriceQuote{}, mapPricingRepositoryError(err, "option values")
		}
	}

	return PriceLines(lines, CatalogSnapshot{
		Currency: tenant.Currency,
		Dishes:   dishes,
		Values:   values,
	})
}

// referencedIDs returns the distinct, non-empty dish and value ids in first-seen order.
func referencedIDs(lines []CartLine) ([]string, []string) {
	dishIDs := make([]string, 0, len(lines))
	var valueIDs []string
	for _, line := range lines {
		if id := strings.TrimSpace(line.DishID); id != "" && !slices.Contains(dishIDs, id) {
			dishIDs = append(dishIDs, id)
		}
		for _, raw := range line.SelectedValueIDs {
			if id := strings.TrimSpace(raw); id != "" && !slices.Contains(valueIDs, id) {
				valueIDs = append(valueIDs, id)
			}
		}
	}
	return dishIDs, valueIDs
}

func mapPricingRepositoryError(err error, subject string) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrPricingNotFound, subject)
		case repoErr.IsUnavailable():
			return fmt.Errorf("pricing: catalog unavailable: %w", err)
		}
	}
	return fmt.Errorf("pricing: load %s: %w", subject, err)
}
