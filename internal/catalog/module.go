// Package catalog provides the catalog bounded context module.
package catalog

import (
	"crm_backend/internal/catalog/handler"
	"crm_backend/internal/catalog/repository"
	"crm_backend/internal/catalog/service"
	apphttp "crm_backend/internal/http"
	"crm_backend/platform/logger"
	"crm_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the catalog bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the catalog module.
func NewModule(pool *pgxpool.Pool, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, log)

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "catalog"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts catalog routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/products", m.handler.ListProducts)
	ctx.Protected.GET("/products/categories", m.handler.ListCategories)
	ctx.Protected.GET("/products/:id", m.handler.GetProductByID)

	adminGroup := ctx.Admin.Group("/products")
	adminGroup.POST("", m.handler.CreateProduct)
	adminGroup.PUT("/:id", m.handler.UpdateProduct)
	adminGroup.DELETE("/:id", m.handler.DeleteProduct)
	adminGroup.POST("/:id/stock", m.handler.AdjustStock)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
