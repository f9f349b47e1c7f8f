package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crm_backend/platform/apperr"
)

func item(price string, qty int) LineItem {
	return LineItem{ProductID: uuid.New(), Name: "item", Quantity: qty, UnitPrice: decimal.RequireFromString(price)}
}

func TestComputeTotals(t *testing.T) {
	tests := []struct {
		name     string
		items    []LineItem
		tax      string
		shipping string
		grand    string
	}{
		{name: "above threshold ships free", items: []LineItem{item("150.00", 1)}, tax: "15", shipping: "0", grand: "165"},
		{name: "below threshold pays fee", items: []LineItem{item("50.00", 1)}, tax: "5", shipping: "10", grand: "65"},
		{name: "threshold itself pays fee", items: []LineItem{item("100.00", 1)}, tax: "10", shipping: "10", grand: "120"},
		{name: "multiple lines", items: []LineItem{item("60.00", 1), item("50.00", 1)}, tax: "11", shipping: "0", grand: "121"},
		{name: "quantity multiplies", items: []LineItem{item("25.00", 3)}, tax: "7.5", shipping: "10", grand: "92.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			totals, err := ComputeTotals(tt.items, DefaultPricingPolicy())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !totals.TaxAmount.Equal(decimal.RequireFromString(tt.tax)) {
				t.Errorf("tax: expected %s, got %s", tt.tax, totals.TaxAmount)
			}
			if !totals.ShippingAmount.Equal(decimal.RequireFromString(tt.shipping)) {
				t.Errorf("shipping: expected %s, got %s", tt.shipping, totals.ShippingAmount)
			}
			if !totals.GrandTotal.Equal(decimal.RequireFromString(tt.grand)) {
				t.Errorf("grand total: expected %s, got %s", tt.grand, totals.GrandTotal)
			}
		})
	}
}

func TestComputeTotalsGrandTotalIsSumOfParts(t *testing.T) {
	totals, err := ComputeTotals([]LineItem{item("19.99", 3), item("0.01", 7)}, DefaultPricingPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sum := totals.ItemsTotal.Add(totals.TaxAmount).Add(totals.ShippingAmount)
	if !totals.GrandTotal.Equal(sum) {
		t.Fatalf("grand total %s does not equal %s", totals.GrandTotal, sum)
	}
}

func TestComputeTotalsRoundsHalfUp(t *testing.T) {
	totals, err := ComputeTotals([]LineItem{item("0.125", 1)}, DefaultPricingPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !totals.ItemsTotal.Equal(decimal.RequireFromString("0.13")) {
		t.Fatalf("expected items total 0.13, got %s", totals.ItemsTotal)
	}
	if !totals.TaxAmount.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("expected tax 0.01, got %s", totals.TaxAmount)
	}
}

func TestComputeTotalsRejectsEmptyOrder(t *testing.T) {
	_, err := ComputeTotals(nil, DefaultPricingPolicy())
	if !apperr.HasCode(err, CodeInvalidOrder) {
		t.Fatalf("expected invalid order error, got %v", err)
	}
}

func TestComputeTotalsRejectsZeroQuantity(t *testing.T) {
	_, err := ComputeTotals([]LineItem{item("5.00", 0)}, DefaultPricingPolicy())
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCentsRoundTrip(t *testing.T) {
	if ToCents(decimal.RequireFromString("12.345")) != 1235 {
		t.Fatal("expected 12.345 to round to 1235 cents")
	}
	if !FromCents(1999).Equal(decimal.RequireFromString("19.99")) {
		t.Fatal("expected 1999 cents to be 19.99")
	}
}
