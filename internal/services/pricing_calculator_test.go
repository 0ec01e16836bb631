package services

import (
	"context"
	"errors"
	"math"
	"testing"

	domain "github.com/tableorder/api/internal/domain"
)

func testSnapshot() CatalogSnapshot {
	return CatalogSnapshot{
		Currency: "USD",
		Dishes: map[string]domain.Dish{
			"pasta": {ID: "pasta", Name: "Pasta", BasePrice: 1000, AllowedOptionIDs: []string{"size"}},
			"salad": {ID: "salad", Name: "Salad", BasePrice: 500},
		},
		Values: map[string]domain.OptionValue{
			"size-large": {ID: "size-large", OptionID: "size", OptionName: "Size", Name: "Large", ExtraPrice: 250},
			"spice-hot":  {ID: "spice-hot", OptionID: "spice", Name: "Hot", ExtraPrice: 50},
		},
	}
}

func TestPriceLinesScenario(t *testing.T) {
	quote, err := PriceLines([]CartLine{
		{DishID: "pasta", Quantity: 3, SelectedValueIDs: []string{"size-large"}},
		{DishID: "salad", Quantity: 1},
	}, testSnapshot())
	if err != nil {
		t.Fatalf("PriceLines: %v", err)
	}
	if len(quote.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(quote.Lines))
	}
	if quote.Lines[0].UnitPrice != 1250 || quote.Lines[0].LineTotal != 3750 {
		t.Fatalf("unexpected first line: %+v", quote.Lines[0])
	}
	if quote.Lines[1].UnitPrice != 500 || quote.Lines[1].LineTotal != 500 {
		t.Fatalf("unexpected second line: %+v", quote.Lines[1])
	}
	if quote.Total != 4250 {
		t.Fatalf("expected total 4250, got %d", quote.Total)
	}
	if quote.Currency != "USD" {
		t.Fatalf("expected currency USD, got %s", quote.Currency)
	}
	if sel := quote.Lines[0].Selections; len(sel) != 1 || sel[0].ValueName != "Large" || sel[0].OptionName != "Size" {
		t.Fatalf("unexpected selections: %+v", sel)
	}
}

func TestPriceLinesIsDeterministic(t *testing.T) {
	lines := []CartLine{{DishID: "pasta", Quantity: 2, SelectedValueIDs: []string{"size-large"}}}
	first, err := PriceLines(lines, testSnapshot())
	if err != nil {
		t.Fatalf("PriceLines: %v", err)
	}
	second, err := PriceLines(lines, testSnapshot())
	if err != nil {
		t.Fatalf("PriceLines: %v", err)
	}
	if first.Total != second.Total || first.Lines[0].LineTotal != second.Lines[0].LineTotal {
		t.Fatalf("expected identical quotes, got %+v and %+v", first, second)
	}
}

func TestPriceLinesErrors(t *testing.T) {
	tests := []struct {
		name  string
		lines []CartLine
		want  error
	}{
		{name: "empty", lines: nil, want: ErrPricingInvalidInput},
		{name: "unknown dish", lines: []CartLine{{DishID: "salad", Quantity: 1}, {DishID: "ghost", Quantity: 1}}, want: ErrPricingNotFound},
		{name: "unknown value", lines: []CartLine{{DishID: "pasta", Quantity: 1, SelectedValueIDs: []string{"ghost"}}}, want: ErrPricingNotFound},
		{name: "zero quantity", lines: []CartLine{{DishID: "pasta", Quantity: 0}}, want: ErrPricingInvalidInput},
		{name: "negative quantity", lines: []CartLine{{DishID: "pasta", Quantity: -2}}, want: ErrPricingInvalidInput},
		{name: "option not allowed", lines: []CartLine{{DishID: "pasta", Quantity: 1, SelectedValueIDs: []string{"spice-hot"}}}, want: ErrPricingInvalidInput},
		{name: "duplicate value", lines: []CartLine{{DishID: "pasta", Quantity: 1, SelectedValueIDs: []string{"size-large", "size-large"}}}, want: ErrPricingInvalidInput},
		{name: "blank dish", lines: []CartLine{{DishID: " ", Quantity: 1}}, want: ErrPricingInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			quote, err := PriceLines(tc.lines, testSnapshot())
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if quote.Total != 0 || len(quote.Lines) != 0 {
				t.Fatalf("expected no partial quote, got %+v", quote)
			}
		})
	}
}

func TestPriceLinesOverflow(t *testing.T) {
	snapshot := CatalogSnapshot{Dishes: map[string]domain.Dish{
		"gold": {ID: "gold", BasePrice: math.MaxInt64 / 2},
	}}
	_, err := PriceLines([]CartLine{{DishID: "gold", Quantity: 3}}, snapshot)
	if !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected overflow to be invalid input, got %v", err)
	}
}

func TestPricingServiceUsesTenantCatalog(t *testing.T) {
	svc, err := NewPricingService(PricingServiceDeps{Catalog: seededStore()})
	if err != nil {
		t.Fatalf("NewPricingService: %v", err)
	}

	quoteA, err := svc.CalculatePrice(context.Background(), CalculatePriceCommand{
		TenantID: "tenant-a",
		Lines:    []CartLine{{DishID: "pasta", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CalculatePrice tenant-a: %v", err)
	}
	quoteB, err := svc.CalculatePrice(context.Background(), CalculatePriceCommand{
		TenantID: "tenant-b",
		Lines:    []CartLine{{DishID: "pasta", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CalculatePrice tenant-b: %v", err)
	}
	if quoteA.Total != 1000 || quoteA.Currency != "USD" {
		t.Fatalf("unexpected tenant-a quote: %+v", quoteA)
	}
	if quoteB.Total != 1200 || quoteB.Currency != "EUR" {
		t.Fatalf("unexpected tenant-b quote: %+v", quoteB)
	}

	_, err = svc.CalculatePrice(context.Background(), CalculatePriceCommand{
		TenantID: "tenant-b",
		Lines:    []CartLine{{DishID: "salad", Quantity: 1}},
	})
	if !errors.Is(err, ErrPricingNotFound) {
		t.Fatalf("expected dish from another tenant to be not found, got %v", err)
	}
}

func TestPricingServiceLimits(t *testing.T) {
	svc, err := NewPricingService(PricingServiceDeps{Catalog: seededStore(), MaxLines: 1, MaxQuantity: 5})
	if err != nil {
		t.Fatalf("NewPricingService: %v", err)
	}
	_, err = svc.CalculatePrice(context.Background(), CalculatePriceCommand{
		TenantID: "tenant-a",
		Lines:    []CartLine{{DishID: "pasta", Quantity: 1}, {DishID: "salad", Quantity: 1}},
	})
	if !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected too many lines to be invalid, got %v", err)
	}
	_, err = svc.CalculatePrice(context.Background(), CalculatePriceCommand{
		TenantID: "tenant-a",
		Lines:    []CartLine{{DishID: "pasta", Quantity: 6}},
	})
	if !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected quantity above max to be invalid, got %v", err)
	}
}

func TestPricingServiceUnknownTenant(t *testing.T) {
	svc, err := NewPricingService(PricingServiceDeps{Catalog: seededStore()})
	if err != nil {
		t.Fatalf("NewPricingService: %v", err)
	}
	_, err = svc.CalculatePrice(context.Background(), CalculatePriceCommand{
		TenantID: "nobody",
		Lines:    []CartLine{{DishID: "pasta", Quantity: 1}},
	})
	if !errors.Is(err, ErrPricingNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
