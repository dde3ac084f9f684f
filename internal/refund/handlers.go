package refund

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/voltmarket/voltmarket/internal/auth"
)

// Handler provides admin HTTP endpoints for refund adjudication.
type Handler struct {
	adj    *Adjudicator
	logger *slog.Logger
}

// NewHandler creates a new refund handler.
func NewHandler(adj *Adjudicator, logger *slog.Logger) *Handler {
	return &Handler{adj: adj, logger: logger}
}

// RegisterAdminRoutes sets up the admin adjudication routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/admin/refunds", h.PendingCases)
	r.GET("/admin/refunds/:id", h.GetCase)
	r.POST("/admin/refunds/:id/decide", h.Decide)
}

// PendingCases handles GET /admin/refunds
func (h *Handler) PendingCases(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	cases, err := h.adj.ListPending(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refund_error", "message": "Failed to list refund cases"})
		return
	}
	if cases == nil {
		cases = []*Case{}
	}
	c.JSON(http.StatusOK, gin.H{"cases": cases})
}

// GetCase handles GET /admin/refunds/:id
func (h *Handler) GetCase(c *gin.Context) {
	rc, err := h.adj.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrCaseNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "case_not_found", "message": "Refund case not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refund_error", "message": "Failed to retrieve refund case"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"case": rc})
}

// DecideRequest is the payload for POST /admin/refunds/:id/decide.
type DecideRequest struct {
	Decision          string `json:"decision" binding:"required"`
	Note              string `json:"note"`
	ForfeitToPlatform bool   `json:"forfeitToPlatform"`
}

// Decide handles POST /admin/refunds/:id/decide
func (h *Handler) Decide(c *gin.Context) {
	adminID := auth.AccountID(c)

	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	rc, err := h.adj.Decide(c.Request.Context(), DecideInput{
		CaseID:            c.Param("id"),
		AdminID:           adminID,
		Decision:          Decision(req.Decision),
		Note:              req.Note,
		ForfeitToPlatform: req.ForfeitToPlatform,
	})
	switch {
	case errors.Is(err, ErrCaseNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "case_not_found", "message": "Refund case not found"})
		return
	case errors.Is(err, ErrAlreadyDecided):
		c.JSON(http.StatusConflict, gin.H{"error": "already_decided", "message": "Refund case was already decided"})
		return
	case errors.Is(err, ErrInvalidDecision):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_decision", "message": "decision must be APPROVE or REJECT"})
		return
	case err != nil:
		h.logger.Error("refund decision failed", "case", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refund_error", "message": "Failed to apply refund decision"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"case": rc})
}
