package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crm_backend/internal/events"
	"crm_backend/internal/orders/domain"
	"crm_backend/internal/orders/repository"
	"crm_backend/internal/orders/transport"
	"crm_backend/platform/apperr"
	"crm_backend/platform/logger"
)

type memoryRepo struct {
	mu          sync.Mutex
	products    map[uuid.UUID]*repository.ProductSnapshot
	orders      map[uuid.UUID]*repository.Order
	createCalls int
}

func newMemoryRepo(products ...repository.ProductSnapshot) *memoryRepo {
	repo := &memoryRepo{
		products: make(map[uuid.UUID]*repository.ProductSnapshot),
		orders:   make(map[uuid.UUID]*repository.Order),
	}
	for i := range products {
		p := products[i]
		repo.products[p.ID] = &p
	}
	return repo
}

func (m *memoryRepo) stock(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].StockLevel
}

func (m *memoryRepo) GetProductsForItems(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]repository.ProductSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]repository.ProductSnapshot)
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = *p
		}
	}
	return out, nil
}

func (m *memoryRepo) CreateWithStock(_ context.Context, params repository.CreateOrderParams) (repository.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++

	for _, item := range params.Items {
		p := m.products[item.ProductID]
		if p.StockLevel < item.Quantity {
			return repository.Order{}, domain.InsufficientStock(domain.StockShortage{ProductID: p.ID, Name: p.Name, Available: p.StockLevel})
		}
	}
	order := &repository.Order{
		ID:               uuid.New(),
		CustomerID:       params.CustomerID,
		ContactEmail:     params.ContactEmail,
		PaymentState:     domain.PaymentUnpaid,
		FulfillmentState: domain.FulfillmentPending,
		ItemsTotalCents:  params.ItemsTotalCents,
		TaxCents:         params.TaxCents,
		ShippingCents:    params.ShippingCents,
		GrandTotalCents:  params.GrandTotalCents,
	}
	for _, item := range params.Items {
		m.products[item.ProductID].StockLevel -= item.Quantity
		order.Items = append(order.Items, repository.OrderItem{
			ID: uuid.New(), ProductID: item.ProductID, Name: item.Name, Quantity: item.Quantity,
			UnitPriceCents: domain.ToCents(item.UnitPrice),
		})
	}
	m.orders[order.ID] = order
	return *order, nil
}

func (m *memoryRepo) Cancel(_ context.Context, id uuid.UUID, at time.Time) (repository.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return repository.Order{}, false, domain.OrderNotFound()
	}
	switch order.FulfillmentState {
	case domain.FulfillmentCancelled:
		return *order, false, nil
	case domain.FulfillmentPending, domain.FulfillmentProcessing:
	default:
		return repository.Order{}, false, domain.InvalidTransition(order.FulfillmentState, domain.FulfillmentCancelled)
	}
	order.FulfillmentState = domain.FulfillmentCancelled
	order.CancelledAt = &at
	for _, item := range order.Items {
		m.products[item.ProductID].StockLevel += item.Quantity
	}
	return *order, true, nil
}

func (m *memoryRepo) UpdateFulfillment(_ context.Context, id uuid.UUID, target domain.FulfillmentState, from []domain.FulfillmentState, at time.Time) (repository.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return repository.Order{}, domain.OrderNotFound()
	}
	allowed := false
	for _, s := range from {
		if s == order.FulfillmentState {
			allowed = true
		}
	}
	if !allowed {
		return repository.Order{}, domain.InvalidTransition(order.FulfillmentState, target)
	}
	order.FulfillmentState = target
	if target == domain.FulfillmentDelivered && order.DeliveredAt == nil {
		order.DeliveredAt = &at
	}
	return *order, nil
}

func (m *memoryRepo) MarkPaid(_ context.Context, params repository.MarkPaidParams) (repository.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[params.ID]
	if !ok {
		return repository.Order{}, domain.OrderNotFound()
	}
	if order.FulfillmentState == domain.FulfillmentCancelled {
		return repository.Order{}, domain.CannotPayCancelled()
	}
	if order.PaymentState == domain.PaymentUnpaid {
		order.PaymentState = domain.PaymentPaid
		order.PaidAt = &params.PaidAt
		order.PaymentResult = params.PaymentResult
	}
	return *order, nil
}

func (m *memoryRepo) GetByID(_ context.Context, id uuid.UUID) (repository.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return repository.Order{}, domain.OrderNotFound()
	}
	return *order, nil
}

func (m *memoryRepo) List(_ context.Context, params repository.ListParams) ([]repository.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.Order
	for _, order := range m.orders {
		if params.CustomerID != nil && order.CustomerID != *params.CustomerID {
			continue
		}
		out = append(out, *order)
	}
	return out, len(out), nil
}

type recordingBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.published {
		if e.EventName() == name {
			n++
		}
	}
	return n
}

type fixture struct {
	svc     *Service
	repo    *memoryRepo
	bus     *recordingBus
	monitor repository.ProductSnapshot
	cable   repository.ProductSnapshot
	actor   Actor
}

func newFixture() fixture {
	monitor := repository.ProductSnapshot{ID: uuid.New(), Name: "Monitor", PriceCents: 6000, StockLevel: 5}
	cable := repository.ProductSnapshot{ID: uuid.New(), Name: "Cable", PriceCents: 5000, StockLevel: 2}
	repo := newMemoryRepo(monitor, cable)
	bus := &recordingBus{}
	svc := New(repo, bus, domain.DefaultPricingPolicy(), logger.New("test"))
	clock := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return fixture{
		svc:     svc,
		repo:    repo,
		bus:     bus,
		monitor: monitor,
		cable:   cable,
		actor:   Actor{UserID: uuid.New(), Email: "buyer@example.com"},
	}
}

func orderRequest(items ...transport.OrderItemRequest) transport.CreateOrderRequest {
	return transport.CreateOrderRequest{
		Items:           items,
		ShippingAddress: transport.ShippingAddress{Address: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"},
		PaymentMethod:   "PayPal",
	}
}

func TestFinalizeOrderPricesAndDecrementsStock(t *testing.T) {
	f := newFixture()

	resp, err := f.svc.FinalizeOrder(context.Background(), f.actor, orderRequest(
		transport.OrderItemRequest{ProductID: f.monitor.ID, Quantity: 1},
		transport.OrderItemRequest{ProductID: f.cable.ID, Quantity: 1},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !resp.GrandTotal.Equal(decimal.RequireFromString("121")) {
		t.Fatalf("expected grand total 121, got %s", resp.GrandTotal)
	}
	if !resp.ShippingAmount.IsZero() {
		t.Fatalf("expected free shipping, got %s", resp.ShippingAmount)
	}
	if resp.FulfillmentState != "pending" || resp.IsPaid {
		t.Fatalf("expected pending unpaid order, got %s paid=%v", resp.FulfillmentState, resp.IsPaid)
	}
	if f.repo.stock(f.monitor.ID) != 4 || f.repo.stock(f.cable.ID) != 1 {
		t.Fatalf("unexpected stock %d / %d", f.repo.stock(f.monitor.ID), f.repo.stock(f.cable.ID))
	}
	if resp.ContactEmail == nil || *resp.ContactEmail != "buyer@example.com" {
		t.Fatal("expected contact email to default to the caller's email")
	}
	if f.bus.count(events.OrderPlaced{}.EventName()) != 1 {
		t.Fatal("expected one order placed event")
	}
}

func TestFinalizeOrderRejectsInsufficientStockBeforeMutation(t *testing.T) {
	f := newFixture()

	_, err := f.svc.FinalizeOrder(context.Background(), f.actor, orderRequest(
		transport.OrderItemRequest{ProductID: f.monitor.ID, Quantity: 1},
		transport.OrderItemRequest{ProductID: f.cable.ID, Quantity: 2},
		transport.OrderItemRequest{ProductID: f.cable.ID, Quantity: 1},
	))
	if !apperr.HasCode(err, domain.CodeInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if !strings.Contains(err.Error(), "Cable") || !strings.Contains(err.Error(), "2 available") {
		t.Fatalf("expected message to name product and availability, got %q", err.Error())
	}
	if f.repo.createCalls != 0 {
		t.Fatal("expected no write attempt")
	}
	if f.repo.stock(f.monitor.ID) != 5 || f.repo.stock(f.cable.ID) != 2 {
		t.Fatal("expected stock to be untouched")
	}
}

func TestFinalizeOrderUnknownProduct(t *testing.T) {
	f := newFixture()

	_, err := f.svc.FinalizeOrder(context.Background(), f.actor, orderRequest(
		transport.OrderItemRequest{ProductID: uuid.New(), Quantity: 1},
	))
	if !apperr.Is(err, apperr.KindNotFound) || !apperr.HasCode(err, domain.CodeProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
}

func TestFinalizeOrderRejectsEmptyOrder(t *testing.T) {
	f := newFixture()

	_, err := f.svc.FinalizeOrder(context.Background(), f.actor, orderRequest())
	if !apperr.HasCode(err, domain.CodeInvalidOrder) {
		t.Fatalf("expected invalid order, got %v", err)
	}
}

func TestCancelOrderTwiceRestoresStockOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.FinalizeOrder(ctx, f.actor, orderRequest(transport.OrderItemRequest{ProductID: f.monitor.ID, Quantity: 3}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.repo.stock(f.monitor.ID) != 2 {
		t.Fatalf("expected stock 2 after order, got %d", f.repo.stock(f.monitor.ID))
	}

	for i := 0; i < 2; i++ {
		resp, err := f.svc.CancelOrder(ctx, order.ID)
		if err != nil {
			t.Fatalf("cancel %d: unexpected error: %v", i+1, err)
		}
		if resp.FulfillmentState != "cancelled" {
			t.Fatalf("cancel %d: expected cancelled, got %s", i+1, resp.FulfillmentState)
		}
	}

	if f.repo.stock(f.monitor.ID) != 5 {
		t.Fatalf("expected stock restored exactly once to 5, got %d", f.repo.stock(f.monitor.ID))
	}
	if f.bus.count(events.OrderCancelled{}.EventName()) != 1 {
		t.Fatal("expected a single cancellation event")
	}
}

func TestCancelDeliveredOrderConflicts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.FinalizeOrder(ctx, f.actor, orderRequest(transport.OrderItemRequest{ProductID: f.monitor.ID, Quantity: 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.MarkDelivered(ctx, order.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = f.svc.CancelOrder(ctx, order.ID)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if f.repo.stock(f.monitor.ID) != 4 {
		t.Fatal("expected no stock credit for a rejected cancellation")
	}
}

func TestMarkDeliveredStampsTimeOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.FinalizeOrder(ctx, f.actor, orderRequest(transport.OrderItemRequest{ProductID: f.monitor.ID, Quantity: 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := f.svc.MarkDelivered(ctx, order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.IsDelivered || first.DeliveredAt == nil {
		t.Fatal("expected delivered order with timestamp")
	}
	second, err := f.svc.MarkDelivered(ctx, order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.DeliveredAt.Equal(*first.DeliveredAt) {
		t.Fatal("expected delivery time to be kept")
	}
	if f.bus.count(events.OrderDelivered{}.EventName()) != 1 {
		t.Fatal("expected a single delivery event")
	}
}

func TestMarkDeliveredMissingOrder(t *testing.T) {
	f := newFixture()

	_, err := f.svc.MarkDelivered(context.Background(), uuid.New())
	if !apperr.HasCode(err, domain.CodeOrderNotFound) {
		t.Fatalf("expected order not found, got %v", err)
	}
}

func TestUpdateStatusCancelledRestoresStock(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.FinalizeOrder(ctx, f.actor, orderRequest(transport.OrderItemRequest{ProductID: f.cable.ID, Quantity: 2}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, order.ID, "processing"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, order.ID, "cancelled"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.repo.stock(f.cable.ID) != 2 {
		t.Fatalf("expected stock restored to 2, got %d", f.repo.stock(f.cable.ID))
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	f := newFixture()

	_, err := f.svc.UpdateStatus(context.Background(), uuid.New(), "lost")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetOrderForbiddenForOtherCustomer(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.FinalizeOrder(ctx, f.actor, orderRequest(transport.OrderItemRequest{ProductID: f.monitor.ID, Quantity: 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = f.svc.GetOrder(ctx, Actor{UserID: uuid.New()}, order.ID)
	if !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.svc.GetOrder(ctx, Actor{UserID: uuid.New(), IsAdmin: true}, order.ID); err != nil {
		t.Fatalf("expected admin access, got %v", err)
	}
}

func TestMarkPaidRecordsPayment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.svc.FinalizeOrder(ctx, f.actor, orderRequest(transport.OrderItemRequest{ProductID: f.monitor.ID, Quantity: 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := f.svc.MarkPaid(ctx, f.actor, order.ID, transport.PayOrderRequest{ID: "PAY-1", Status: "COMPLETED"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.IsPaid || resp.PaidAt == nil {
		t.Fatal("expected paid order")
	}
	if !strings.Contains(string(resp.PaymentResult), "PAY-1") {
		t.Fatalf("expected payment result to be stored, got %s", resp.PaymentResult)
	}
}
