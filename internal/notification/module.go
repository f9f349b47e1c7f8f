// Package notification reacts to domain events: it emails order confirmations
// and fans order and call activity out to connected agents over SSE.
package notification

import (
	"context"

	"crm_backend/internal/email"
	"crm_backend/internal/events"
	apphttp "crm_backend/internal/http"
	"crm_backend/internal/notification/sse"
	"crm_backend/platform/httpkit"
	"crm_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Module subscribes to order and call events.
type Module struct {
	sender email.Sender
	sse    *sse.Service
	log    *logger.Logger
}

// New creates the notification module.
func New(sender email.Sender, log *logger.Logger) *Module {
	if sender == nil {
		sender = email.NoopSender{}
	}
	return &Module{
		sender: sender,
		sse:    sse.New(log),
		log:    log,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "notification"
}

// SSE exposes the live feed service.
func (m *Module) SSE() *sse.Service {
	return m.sse
}

// RegisterRoutes mounts the live activity stream.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/events/stream", m.sse.Handler(func(c *gin.Context) (uuid.UUID, bool) {
		id := httpkit.GetIdentity(c)
		return id.UserID(), id.IsAuthenticated()
	}))
}

// RegisterHandlers subscribes to all relevant domain events on the event bus.
func (m *Module) RegisterHandlers(bus events.Bus) {
	// Orders domain events
	bus.Subscribe(events.OrderPlaced{}.EventName(), m)
	bus.Subscribe(events.OrderCancelled{}.EventName(), m)
	bus.Subscribe(events.OrderDelivered{}.EventName(), m)

	// Calls domain events
	bus.Subscribe(events.CallInitiated{}.EventName(), m)
	bus.Subscribe(events.CallStatusChanged{}.EventName(), m)

	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the appropriate handler method.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.OrderPlaced:
		return m.handleOrderPlaced(ctx, e)
	case events.OrderCancelled:
		m.broadcast(e, sse.Event{Type: sse.EventOrderCancelled, OrderID: e.OrderID})
	case events.OrderDelivered:
		m.broadcast(e, sse.Event{Type: sse.EventOrderDelivered, OrderID: e.OrderID, Data: gin.H{"deliveredAt": e.DeliveredAt}})
	case events.CallInitiated:
		m.broadcast(e, sse.Event{Type: sse.EventCallInitiated, LeadID: e.LeadID, Data: gin.H{"callId": e.CallID}})
	case events.CallStatusChanged:
		m.broadcast(e, sse.Event{
			Type:   sse.EventCallStatusChanged,
			LeadID: e.LeadID,
			Data: gin.H{
				"callId":         e.CallID,
				"eventKind":      e.EventKind,
				"previousStatus": e.PreviousStatus,
				"status":         e.Status,
			},
		})
	default:
		m.log.Warn("notification received unhandled event", "event", event.EventName())
	}
	return nil
}

// broadcast tags the feed entry with the bus event id so clients can dedupe.
func (m *Module) broadcast(source events.Event, event sse.Event) {
	event.ID = source.EventID()
	m.sse.Broadcast(event)
}

func (m *Module) handleOrderPlaced(ctx context.Context, e events.OrderPlaced) error {
	m.broadcast(e, sse.Event{
		Type:    sse.EventOrderPlaced,
		OrderID: e.OrderID,
		Data:    gin.H{"grandTotal": e.GrandTotal},
	})

	if e.ContactEmail == "" {
		return nil
	}

	if err := m.sender.SendOrderConfirmationEmail(ctx, e.ContactEmail, orderConfirmation(e)); err != nil {
		m.log.Error("failed to send order confirmation",
			"orderId", e.OrderID,
			"customerId", e.CustomerID,
			"error", err,
		)
		return err
	}
	m.log.Info("order confirmation sent", "orderId", e.OrderID, "customerId", e.CustomerID)
	return nil
}

func orderConfirmation(e events.OrderPlaced) email.OrderConfirmation {
	lines := make([]email.OrderConfirmationLine, 0, len(e.Items))
	for _, item := range e.Items {
		lines = append(lines, email.OrderConfirmationLine{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return email.OrderConfirmation{
		OrderID:        e.OrderID.String(),
		Items:          lines,
		ItemsTotal:     e.ItemsTotal,
		TaxAmount:      e.TaxAmount,
		ShippingAmount: e.ShippingAmount,
		GrandTotal:     e.GrandTotal,
	}
}
