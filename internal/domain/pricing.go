package domain

import "math"

// Amounts are integer minor units of the tenant currency.

// PriceQuote captures the computed price of a set of cart lines.
type PriceQuote struct {
	Currency string
	Lines    []LinePrice
	Total    int64
}

// LinePrice stores the priced outcome of a single cart line.
type LinePrice struct {
	DishID           string
	DishName         string
	BasePrice        int64
	Quantity         int
	SelectedValueIDs []string
	Selections       []OrderDetailSelection
	UnitPrice        int64
	LineTotal        int64
}

// AddMinor adds two non-negative amounts, reporting false on overflow.
func AddMinor(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

// MulMinor multiplies a non-negative amount by a positive quantity, reporting false on overflow.
func MulMinor(amount int64, quantity int) (int64, bool) {
	if amount < 0 || quantity <= 0 {
		return 0, false
	}
	if amount != 0 && int64(quantity) > math.MaxInt64/amount {
		return 0, false
	}
	return amount * int64(quantity), true
}
