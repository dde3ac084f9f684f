package reconciliation

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes on-demand reconciliation to admins.
type Handler struct {
	runner *Runner
	logger *slog.Logger
}

// NewHandler creates a new reconciliation handler.
func NewHandler(runner *Runner, logger *slog.Logger) *Handler {
	return &Handler{runner: runner, logger: logger}
}

// RegisterAdminRoutes sets up the admin reconciliation route.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/reconcile", h.Run)
}

// Run handles POST /admin/reconcile
func (h *Handler) Run(c *gin.Context) {
	report, err := h.runner.RunAll(c.Request.Context())
	if err != nil {
		h.logger.Error("on-demand reconciliation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation_failed", "message": "Reconciliation run failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}
