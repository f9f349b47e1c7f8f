package analytics

import (
	"github.com/gin-gonic/gin"

	"crm_backend/platform/httpkit"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// GetDashboard returns the dashboard aggregates.
// GET /api/v1/analytics/dashboard
func (h *Handler) GetDashboard(c *gin.Context) {
	dashboard, err := h.svc.Dashboard(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, dashboard)
}
