package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"crm_backend/internal/events"
	"crm_backend/internal/orders/domain"
	"crm_backend/internal/orders/repository"
	"crm_backend/internal/orders/transport"
	"crm_backend/platform/apperr"
	"crm_backend/platform/logger"
)

// Actor is the authenticated caller of an order operation.
type Actor struct {
	UserID  uuid.UUID
	Email   string
	IsAdmin bool
}

// Service is the order finalizer: pricing, stock reservation and fulfillment.
type Service struct {
	repo   repository.Repository
	bus    events.Bus
	policy domain.PricingPolicy
	log    *logger.Logger
	now    func() time.Time
}

// New creates a new orders service.
func New(repo repository.Repository, bus events.Bus, policy domain.PricingPolicy, log *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		bus:    bus,
		policy: policy,
		log:    log,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// FinalizeOrder validates products and stock, prices the order and persists it
// together with the stock decrements.
func (s *Service) FinalizeOrder(ctx context.Context, actor Actor, req transport.CreateOrderRequest) (transport.OrderResponse, error) {
	if len(req.Items) == 0 {
		return transport.OrderResponse{}, domain.InvalidOrder("no order items")
	}

	ids := make([]uuid.UUID, 0, len(req.Items))
	requested := make(map[uuid.UUID]int, len(req.Items))
	for _, item := range req.Items {
		if _, seen := requested[item.ProductID]; !seen {
			ids = append(ids, item.ProductID)
		}
		requested[item.ProductID] += item.Quantity
	}

	products, err := s.repo.GetProductsForItems(ctx, ids)
	if err != nil {
		return transport.OrderResponse{}, err
	}

	for _, id := range ids {
		product, ok := products[id]
		if !ok {
			return transport.OrderResponse{}, domain.ProductNotFound(id)
		}
		if product.StockLevel < requested[id] {
			return transport.OrderResponse{}, domain.InsufficientStock(domain.StockShortage{
				ProductID: id, Name: product.Name, Requested: requested[id], Available: product.StockLevel,
			})
		}
	}

	lines := make([]domain.LineItem, 0, len(req.Items))
	for _, item := range req.Items {
		product := products[item.ProductID]
		lines = append(lines, domain.LineItem{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  item.Quantity,
			UnitPrice: domain.FromCents(product.PriceCents),
			ImageURL:  product.ImageURL,
		})
	}

	totals, err := domain.ComputeTotals(lines, s.policy)
	if err != nil {
		return transport.OrderResponse{}, err
	}

	contactEmail := strings.TrimSpace(req.ContactEmail)
	if contactEmail == "" {
		contactEmail = actor.Email
	}

	order, err := s.repo.CreateWithStock(ctx, repository.CreateOrderParams{
		CustomerID:      actor.UserID,
		ContactEmail:    optionalString(contactEmail),
		ShipAddress:     strings.TrimSpace(req.ShippingAddress.Address),
		ShipCity:        strings.TrimSpace(req.ShippingAddress.City),
		ShipPostalCode:  strings.TrimSpace(req.ShippingAddress.PostalCode),
		ShipCountry:     strings.TrimSpace(req.ShippingAddress.Country),
		PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
		Items:           lines,
		ItemsTotalCents: domain.ToCents(totals.ItemsTotal),
		TaxCents:        domain.ToCents(totals.TaxAmount),
		ShippingCents:   domain.ToCents(totals.ShippingAmount),
		GrandTotalCents: domain.ToCents(totals.GrandTotal),
	})
	if err != nil {
		return transport.OrderResponse{}, err
	}

	s.log.Info("order created", "id", order.ID, "customerId", order.CustomerID, "grandTotal", totals.GrandTotal.StringFixed(2))
	s.bus.Publish(ctx, orderPlacedEvent(order))
	return toOrderResponse(order), nil
}

// CancelOrder cancels a pending or processing order and restores its stock.
// Cancelling an already cancelled order is a no-op.
func (s *Service) CancelOrder(ctx context.Context, id uuid.UUID) (transport.OrderResponse, error) {
	order, restored, err := s.repo.Cancel(ctx, id, s.now())
	if err != nil {
		return transport.OrderResponse{}, err
	}

	if restored {
		s.log.Info("order cancelled", "id", id)
		s.bus.Publish(ctx, events.OrderCancelled{
			BaseEvent:  events.NewBaseEvent(),
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
		})
	}
	return toOrderResponse(order), nil
}

// MarkDelivered moves an order to delivered and stamps the delivery time.
func (s *Service) MarkDelivered(ctx context.Context, id uuid.UUID) (transport.OrderResponse, error) {
	return s.moveTo(ctx, id, domain.FulfillmentDelivered)
}

// UpdateStatus applies an administrative status change through the same rules
// as the dedicated cancel and deliver operations.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (transport.OrderResponse, error) {
	target, ok := domain.ParseFulfillmentState(status)
	if !ok {
		return transport.OrderResponse{}, apperr.Validation("invalid status")
	}

	switch target {
	case domain.FulfillmentCancelled:
		return s.CancelOrder(ctx, id)
	case domain.FulfillmentDelivered:
		return s.MarkDelivered(ctx, id)
	default:
		return s.moveTo(ctx, id, target)
	}
}

func (s *Service) moveTo(ctx context.Context, id uuid.UUID, target domain.FulfillmentState) (transport.OrderResponse, error) {
	at := s.now()
	order, err := s.repo.UpdateFulfillment(ctx, id, target, domain.SourcesFor(target), at)
	if err != nil {
		return transport.OrderResponse{}, err
	}

	s.log.Info("order status updated", "id", id, "status", target)
	if target == domain.FulfillmentDelivered && order.DeliveredAt != nil && order.DeliveredAt.Equal(at) {
		s.bus.Publish(ctx, events.OrderDelivered{
			BaseEvent:   events.NewBaseEvent(),
			OrderID:     order.ID,
			CustomerID:  order.CustomerID,
			DeliveredAt: at,
		})
	}
	return toOrderResponse(order), nil
}

// MarkPaid records a payment capture. Only the owner or an admin may pay an order.
func (s *Service) MarkPaid(ctx context.Context, actor Actor, id uuid.UUID, req transport.PayOrderRequest) (transport.OrderResponse, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return transport.OrderResponse{}, err
	}
	if err := authorize(actor, existing); err != nil {
		return transport.OrderResponse{}, err
	}

	result, err := json.Marshal(map[string]string{
		"id":            req.ID,
		"status":        req.Status,
		"update_time":   req.UpdateTime,
		"email_address": req.Payer.EmailAddress,
	})
	if err != nil {
		return transport.OrderResponse{}, fmt.Errorf("encode payment result: %w", err)
	}

	order, err := s.repo.MarkPaid(ctx, repository.MarkPaidParams{ID: id, PaymentResult: result, PaidAt: s.now()})
	if err != nil {
		return transport.OrderResponse{}, err
	}

	s.log.Info("order paid", "id", id, "paymentId", req.ID)
	return toOrderResponse(order), nil
}

// GetOrder returns one order visible to actor.
func (s *Service) GetOrder(ctx context.Context, actor Actor, id uuid.UUID) (transport.OrderResponse, error) {
	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return transport.OrderResponse{}, err
	}
	if err := authorize(actor, order); err != nil {
		return transport.OrderResponse{}, err
	}
	return toOrderResponse(order), nil
}

// ListOrders lists every order.
func (s *Service) ListOrders(ctx context.Context, req transport.ListOrdersRequest) (transport.OrderListResponse, error) {
	return s.list(ctx, nil, req)
}

// ListMyOrders lists the orders of one customer.
func (s *Service) ListMyOrders(ctx context.Context, customerID uuid.UUID, req transport.ListOrdersRequest) (transport.OrderListResponse, error) {
	return s.list(ctx, &customerID, req)
}

func (s *Service) list(ctx context.Context, customerID *uuid.UUID, req transport.ListOrdersRequest) (transport.OrderListResponse, error) {
	page := req.Page
	pageSize := req.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	orders, total, err := s.repo.List(ctx, repository.ListParams{
		CustomerID:       customerID,
		FulfillmentState: req.Status,
		Offset:           (page - 1) * pageSize,
		Limit:            pageSize,
	})
	if err != nil {
		return transport.OrderListResponse{}, err
	}

	items := make([]transport.OrderResponse, 0, len(orders))
	for _, order := range orders {
		items = append(items, toOrderResponse(order))
	}
	return transport.OrderListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

func authorize(actor Actor, order repository.Order) error {
	if actor.IsAdmin || order.CustomerID == actor.UserID {
		return nil
	}
	return apperr.Forbidden("not allowed to access this order")
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func orderPlacedEvent(order repository.Order) events.OrderPlaced {
	items := make([]events.OrderPlacedItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, events.OrderPlacedItem{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: domain.FromCents(item.UnitPriceCents),
		})
	}

	contactEmail := ""
	if order.ContactEmail != nil {
		contactEmail = *order.ContactEmail
	}

	return events.OrderPlaced{
		BaseEvent:      events.NewBaseEvent(),
		OrderID:        order.ID,
		CustomerID:     order.CustomerID,
		ContactEmail:   contactEmail,
		Items:          items,
		ItemsTotal:     domain.FromCents(order.ItemsTotalCents),
		TaxAmount:      domain.FromCents(order.TaxCents),
		ShippingAmount: domain.FromCents(order.ShippingCents),
		GrandTotal:     domain.FromCents(order.GrandTotalCents),
	}
}

func toOrderResponse(order repository.Order) transport.OrderResponse {
	items := make([]transport.OrderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, transport.OrderItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: domain.FromCents(item.UnitPriceCents),
			ImageURL:  item.ImageURL,
		})
	}

	return transport.OrderResponse{
		ID:           order.ID,
		CustomerID:   order.CustomerID,
		ContactEmail: order.ContactEmail,
		Items:        items,
		ShippingAddress: transport.ShippingAddress{
			Address:    order.ShipAddress,
			City:       order.ShipCity,
			PostalCode: order.ShipPostalCode,
			Country:    order.ShipCountry,
		},
		PaymentMethod:    order.PaymentMethod,
		PaymentState:     string(order.PaymentState),
		PaymentResult:    order.PaymentResult,
		IsPaid:           order.PaymentState == domain.PaymentPaid,
		PaidAt:           order.PaidAt,
		FulfillmentState: string(order.FulfillmentState),
		IsDelivered:      order.FulfillmentState == domain.FulfillmentDelivered,
		DeliveredAt:      order.DeliveredAt,
		CancelledAt:      order.CancelledAt,
		ItemsTotal:       domain.FromCents(order.ItemsTotalCents),
		TaxAmount:        domain.FromCents(order.TaxCents),
		ShippingAmount:   domain.FromCents(order.ShippingCents),
		GrandTotal:       domain.FromCents(order.GrandTotalCents),
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
	}
}
