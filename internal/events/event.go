// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"crm_backend/platform/events"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Orders Domain Events
// =============================================================================

// OrderPlacedItem is a line of a placed order as carried on the event.
type OrderPlacedItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// OrderPlaced is published after an order and its stock decrements are committed.
type OrderPlaced struct {
	BaseEvent
	OrderID        uuid.UUID         `json:"orderId"`
	CustomerID     uuid.UUID         `json:"customerId"`
	ContactEmail   string            `json:"contactEmail,omitempty"`
	Items          []OrderPlacedItem `json:"items"`
	ItemsTotal     decimal.Decimal   `json:"itemsTotal"`
	TaxAmount      decimal.Decimal   `json:"taxAmount"`
	ShippingAmount decimal.Decimal   `json:"shippingAmount"`
	GrandTotal     decimal.Decimal   `json:"grandTotal"`
}

func (e OrderPlaced) EventName() string { return "orders.order.placed" }

// OrderCancelled is published when a cancellation restores stock.
type OrderCancelled struct {
	BaseEvent
	OrderID    uuid.UUID `json:"orderId"`
	CustomerID uuid.UUID `json:"customerId"`
}

func (e OrderCancelled) EventName() string { return "orders.order.cancelled" }

// OrderDelivered is published when an order is marked delivered.
type OrderDelivered struct {
	BaseEvent
	OrderID     uuid.UUID `json:"orderId"`
	CustomerID  uuid.UUID `json:"customerId"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

func (e OrderDelivered) EventName() string { return "orders.order.delivered" }

// =============================================================================
// Calls Domain Events
// =============================================================================

// CallInitiated is published once the calling provider has accepted a call.
type CallInitiated struct {
	BaseEvent
	LeadID uuid.UUID `json:"leadId"`
	CallID string    `json:"callId"`
}

func (e CallInitiated) EventName() string { return "calls.call.initiated" }

// CallStatusChanged is published when a provider event or expiry moves a lead's status.
type CallStatusChanged struct {
	BaseEvent
	LeadID         uuid.UUID `json:"leadId"`
	CallID         string    `json:"callId"`
	EventKind      string    `json:"eventKind"`
	PreviousStatus string    `json:"previousStatus"`
	Status         string    `json:"status"`
}

func (e CallStatusChanged) EventName() string { return "calls.call.status_changed" }
