package analytics

import (
	"github.com/jackc/pgx/v5/pgxpool"

	apphttp "crm_backend/internal/http"
)

type Module struct {
	handler *Handler
}

func NewModule(pool *pgxpool.Pool) *Module {
	return &Module{handler: NewHandler(NewService(NewRepository(pool)))}
}

func (m *Module) Name() string {
	return "analytics"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/analytics/dashboard", m.handler.GetDashboard)
}

var _ apphttp.Module = (*Module)(nil)
