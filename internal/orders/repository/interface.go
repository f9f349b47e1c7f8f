package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"crm_backend/internal/orders/domain"
)

// Order is the persisted order with its items.
type Order struct {
	ID               uuid.UUID
	CustomerID       uuid.UUID
	ContactEmail     *string
	ShipAddress      string
	ShipCity         string
	ShipPostalCode   string
	ShipCountry      string
	PaymentMethod    string
	PaymentState     domain.PaymentState
	PaymentResult    []byte
	PaidAt           *time.Time
	FulfillmentState domain.FulfillmentState
	DeliveredAt      *time.Time
	CancelledAt      *time.Time
	ItemsTotalCents  int64
	TaxCents         int64
	ShippingCents    int64
	GrandTotalCents  int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Items            []OrderItem
}

// OrderItem is one line of an order as it was sold.
type OrderItem struct {
	ID             uuid.UUID
	ProductID      uuid.UUID
	Name           string
	Quantity       int
	UnitPriceCents int64
	ImageURL       *string
}

// ProductSnapshot is the catalog state an order is priced and validated against.
type ProductSnapshot struct {
	ID         uuid.UUID
	Name       string
	PriceCents int64
	ImageURL   *string
	StockLevel int
}

// CreateOrderParams contains the priced order to persist.
type CreateOrderParams struct {
	CustomerID      uuid.UUID
	ContactEmail    *string
	ShipAddress     string
	ShipCity        string
	ShipPostalCode  string
	ShipCountry     string
	PaymentMethod   string
	Items           []domain.LineItem
	ItemsTotalCents int64
	TaxCents        int64
	ShippingCents   int64
	GrandTotalCents int64
}

// MarkPaidParams contains the payment provider result for an order.
type MarkPaidParams struct {
	ID            uuid.UUID
	PaymentResult []byte
	PaidAt        time.Time
}

// ListParams defines filters for listing orders.
type ListParams struct {
	CustomerID       *uuid.UUID
	FulfillmentState string
	Offset           int
	Limit            int
}

// Repository defines order storage operations.
type Repository interface {
	// GetProductsForItems returns the catalog rows for ids. Missing ids are absent from the map.
	GetProductsForItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ProductSnapshot, error)
	// CreateWithStock inserts the order and decrements stock for every item in one transaction.
	CreateWithStock(ctx context.Context, params CreateOrderParams) (Order, error)
	// Cancel moves a pending or processing order to cancelled and restores its stock in one
	// transaction. restored is false when the order was already cancelled.
	Cancel(ctx context.Context, id uuid.UUID, at time.Time) (order Order, restored bool, err error)
	// UpdateFulfillment moves the order to target when its current state is one of from.
	UpdateFulfillment(ctx context.Context, id uuid.UUID, target domain.FulfillmentState, from []domain.FulfillmentState, at time.Time) (Order, error)
	// MarkPaid records payment once. Paying a paid order returns it unchanged.
	MarkPaid(ctx context.Context, params MarkPaidParams) (Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (Order, error)
	List(ctx context.Context, params ListParams) ([]Order, int, error)
}
