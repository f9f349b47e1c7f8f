// Package domain holds the order pricing policy and fulfillment rules.
// It has no storage or transport dependencies.
package domain

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PricingPolicy is the configured tax and shipping policy applied to every order.
type PricingPolicy struct {
	TaxRate           decimal.Decimal
	ShippingThreshold decimal.Decimal
	ShippingFee       decimal.Decimal
}

// DefaultPricingPolicy is 10% tax with a flat 10.00 fee up to and including 100.00.
func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		TaxRate:           decimal.RequireFromString("0.10"),
		ShippingThreshold: decimal.NewFromInt(100),
		ShippingFee:       decimal.NewFromInt(10),
	}
}

// LineItem is one priced product line of an order.
type LineItem struct {
	ProductID uuid.UUID
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	ImageURL  *string
}

// Total returns unit price times quantity, unrounded.
func (li LineItem) Total() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Totals are the monetary amounts of an order, each rounded to cents.
type Totals struct {
	ItemsTotal     decimal.Decimal
	TaxAmount      decimal.Decimal
	ShippingAmount decimal.Decimal
	GrandTotal     decimal.Decimal
}

// ComputeTotals prices items under policy.
// Amounts are rounded half away from zero to two decimals. Shipping is waived
// only when the items total is strictly greater than the threshold.
func ComputeTotals(items []LineItem, policy PricingPolicy) (Totals, error) {
	if len(items) == 0 {
		return Totals{}, InvalidOrder("no order items")
	}

	sum := decimal.Zero
	for i, item := range items {
		if item.Quantity < 1 {
			return Totals{}, InvalidOrder(fmt.Sprintf("item %d: quantity must be at least 1", i+1))
		}
		if item.UnitPrice.IsNegative() {
			return Totals{}, InvalidOrder(fmt.Sprintf("item %d: unit price must not be negative", i+1))
		}
		sum = sum.Add(item.Total())
	}

	itemsTotal := sum.Round(2)
	tax := itemsTotal.Mul(policy.TaxRate).Round(2)
	shipping := policy.ShippingFee.Round(2)
	if itemsTotal.GreaterThan(policy.ShippingThreshold) {
		shipping = decimal.Zero
	}

	return Totals{
		ItemsTotal:     itemsTotal,
		TaxAmount:      tax,
		ShippingAmount: shipping,
		GrandTotal:     itemsTotal.Add(tax).Add(shipping),
	}, nil
}

// ToCents converts a two-decimal amount to integer cents.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

// FromCents converts integer cents to a decimal amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
