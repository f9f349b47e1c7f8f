package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"crm_backend/internal/calls/service"
	"crm_backend/internal/calls/transport"
	"crm_backend/platform/httpkit"
	"crm_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidLeadID    = "invalid lead id"

	// HeaderIdempotencyKey lets clients retry call initiation safely.
	HeaderIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
)

// Handler handles HTTP requests for the call lifecycle.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new calls handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// InitiateCall places an outbound call to a lead.
// POST /api/v1/leads/:id/call
func (h *Handler) InitiateCall(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidLeadID, nil)
		return
	}

	var req transport.InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.InitiateCall(c.Request.Context(), leadID, req.PhoneNumber, c.GetHeader(HeaderIdempotencyKey))
	if httpkit.HandleError(c, err) {
		return
	}
	if result.Replayed {
		c.Header(headerReplayed, "true")
	}

	httpkit.JSON(c, http.StatusOK, transport.InitiateCallResponse{
		Success: true,
		Call: transport.CallInfo{
			ID:        result.ID,
			Status:    result.Status,
			Timestamp: result.Timestamp,
		},
	})
}

// HandleWebhook applies a provider call event.
// POST /api/v1/calls/webhook
func (h *Handler) HandleWebhook(c *gin.Context) {
	var payload transport.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	outcome, err := h.svc.HandleProviderEvent(c.Request.Context(), service.ProviderEvent{
		CallID:      payload.EffectiveCallID(),
		Kind:        payload.EventKind(),
		LeadRef:     payload.LeadReference(),
		Metadata:    payload.EffectiveMetadata(),
		ErrorDetail: payload.ErrorDetail(),
	})
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.JSON(c, http.StatusOK, transport.WebhookResponse{
		Success: true,
		EventID: outcome.EventID,
		CallID:  outcome.CallID,
		LeadID:  outcome.LeadID.String(),
		Status:  outcome.Status,
	})
}
