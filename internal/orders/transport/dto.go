package transport

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderItemRequest struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1,max=1000"`
}

type ShippingAddress struct {
	Address    string `json:"address" validate:"required,max=300"`
	City       string `json:"city" validate:"required,max=100"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,max=100"`
}

// CreateOrderRequest carries product references and quantities only.
// Names and prices are taken from the catalog.
type CreateOrderRequest struct {
	Items           []OrderItemRequest `json:"orderItems" validate:"dive"`
	ShippingAddress ShippingAddress    `json:"shippingAddress"`
	PaymentMethod   string             `json:"paymentMethod" validate:"required,max=50"`
	ContactEmail    string             `json:"contactEmail,omitempty" validate:"omitempty,email,max=254"`
}

type Payer struct {
	EmailAddress string `json:"email_address" validate:"omitempty,email"`
}

// PayOrderRequest is the payment provider capture result.
type PayOrderRequest struct {
	ID         string `json:"id" validate:"required,max=100"`
	Status     string `json:"status" validate:"required,max=50"`
	UpdateTime string `json:"update_time" validate:"omitempty,max=50"`
	Payer      Payer  `json:"payer"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending processing shipped delivered cancelled"`
}

type ListOrdersRequest struct {
	Status   string `form:"status" validate:"omitempty,oneof=pending processing shipped delivered cancelled"`
	Page     int    `form:"page" validate:"omitempty,min=1"`
	PageSize int    `form:"pageSize" validate:"omitempty,min=1,max=100"`
}

type OrderItemResponse struct {
	ProductID uuid.UUID       `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	ImageURL  *string         `json:"imageUrl,omitempty"`
}

type OrderResponse struct {
	ID               uuid.UUID           `json:"id"`
	CustomerID       uuid.UUID           `json:"customerId"`
	ContactEmail     *string             `json:"contactEmail,omitempty"`
	Items            []OrderItemResponse `json:"orderItems"`
	ShippingAddress  ShippingAddress     `json:"shippingAddress"`
	PaymentMethod    string              `json:"paymentMethod"`
	PaymentState     string              `json:"paymentState"`
	PaymentResult    json.RawMessage     `json:"paymentResult,omitempty"`
	IsPaid           bool                `json:"isPaid"`
	PaidAt           *time.Time          `json:"paidAt,omitempty"`
	FulfillmentState string              `json:"status"`
	IsDelivered      bool                `json:"isDelivered"`
	DeliveredAt      *time.Time          `json:"deliveredAt,omitempty"`
	CancelledAt      *time.Time          `json:"cancelledAt,omitempty"`
	ItemsTotal       decimal.Decimal     `json:"itemsPrice"`
	TaxAmount        decimal.Decimal     `json:"taxPrice"`
	ShippingAmount   decimal.Decimal     `json:"shippingPrice"`
	GrandTotal       decimal.Decimal     `json:"totalAmount"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

type OrderListResponse struct {
	Items      []OrderResponse `json:"items"`
	Total      int             `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"pageSize"`
	TotalPages int             `json:"totalPages"`
}
