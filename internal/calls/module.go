// Package calls provides the call lifecycle bounded context module.
package calls

import (
	"time"

	"golang.org/x/time/rate"

	"crm_backend/internal/calls/handler"
	"crm_backend/internal/calls/service"
	"crm_backend/internal/events"
	apphttp "crm_backend/internal/http"
	"crm_backend/platform/config"
	"crm_backend/platform/httpkit"
	"crm_backend/platform/logger"
	"crm_backend/platform/validator"
)

// Module is the calls bounded context module implementing http.Module.
type Module struct {
	handler        *handler.Handler
	service        *service.Service
	webhookSecret  string
	callLimiter    *httpkit.IPRateLimiter
	webhookLimiter *httpkit.IPRateLimiter
	log            *logger.Logger
}

// NewModule creates and initializes the calls module.
func NewModule(
	leads service.LeadStore,
	provider service.Provider,
	bus events.Bus,
	opts service.Options,
	webhookCfg config.WebhookConfig,
	val *validator.Validator,
	log *logger.Logger,
) *Module {
	svc := service.New(leads, provider, bus, opts, log)

	return &Module{
		handler:        handler.New(svc, val),
		service:        svc,
		webhookSecret:  webhookCfg.GetRetellWebhookSecret(),
		callLimiter:    httpkit.NewIPRateLimiter(rate.Every(6*time.Second), 5, log),
		webhookLimiter: httpkit.NewWebhookRateLimiter(log),
		log:            log,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "calls"
}

// Service returns the service layer, used by the scheduler worker for call expiry.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts call routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.POST("/leads/:id/call", m.callLimiter.RateLimit(), m.handler.InitiateCall)

	ctx.V1.POST("/calls/webhook",
		m.webhookLimiter.RateLimit(),
		handler.SignatureMiddleware(m.webhookSecret, m.log),
		m.handler.HandleWebhook,
	)
}

var _ apphttp.Module = (*Module)(nil)
