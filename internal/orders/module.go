// Package orders provides the orders bounded context module.
package orders

import (
	"crm_backend/internal/events"
	apphttp "crm_backend/internal/http"
	"crm_backend/internal/orders/domain"
	"crm_backend/internal/orders/handler"
	"crm_backend/internal/orders/repository"
	"crm_backend/internal/orders/service"
	"crm_backend/platform/config"
	"crm_backend/platform/httpkit"
	"crm_backend/platform/logger"
	"crm_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the orders bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the orders module.
func NewModule(pool *pgxpool.Pool, bus events.Bus, cfg config.PricingConfig, val *validator.Validator, log *logger.Logger) *Module {
	policy := domain.PricingPolicy{
		TaxRate:           cfg.GetTaxRate(),
		ShippingThreshold: cfg.GetShippingThreshold(),
		ShippingFee:       cfg.GetShippingFee(),
	}
	svc := service.New(repository.New(pool), bus, policy, log)

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "orders"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts order routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	adminOnly := httpkit.RequireRole(httpkit.RoleAdmin)

	orders := ctx.Protected.Group("/orders")
	orders.POST("", m.handler.CreateOrder)
	orders.GET("/mine", m.handler.ListMyOrders)
	orders.GET("/:id", m.handler.GetOrder)
	orders.PUT("/:id/pay", m.handler.PayOrder)

	orders.GET("", adminOnly, m.handler.ListOrders)
	orders.PUT("/:id/deliver", adminOnly, m.handler.DeliverOrder)
	orders.PUT("/:id/status", adminOnly, m.handler.UpdateStatus)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
