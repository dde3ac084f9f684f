package payment

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/voltmarket/voltmarket/internal/auth"
)

// Handler provides HTTP endpoints for wallet topups.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a new payment handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes sets up the authenticated topup routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/wallet/topups", h.CreateTopup)
	r.GET("/wallet/topups", h.MyTopups)
	r.GET("/wallet/topups/:code", h.GetTopup)
	r.POST("/wallet/topups/:code/verify", h.VerifyTopup)
}

// RegisterPublicRoutes sets up the gateway return route. The gateway
// redirects the buyer here after checkout; the handler re-verifies
// server-side, so a forged call cannot mark anything paid.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/topups/return", h.Return)
}

// CreateTopupRequest is the payload for POST /wallet/topups.
type CreateTopupRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// CreateTopup handles POST /wallet/topups
func (h *Handler) CreateTopup(c *gin.Context) {
	ownerID := auth.AccountID(c)

	var req CreateTopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	t, err := h.svc.CreateTopup(c.Request.Context(), ownerID, req.Amount)
	switch {
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "Amount must be a positive VND value"})
		return
	case errors.Is(err, ErrGatewayRejected), errors.Is(err, ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "gateway_unavailable", "message": "Payment gateway did not accept the request"})
		return
	case err != nil:
		h.logger.Error("topup creation failed", "owner", ownerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "topup_error", "message": "Failed to create topup"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"topup": t})
}

// MyTopups handles GET /wallet/topups
func (h *Handler) MyTopups(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	topups, err := h.svc.ListMine(c.Request.Context(), auth.AccountID(c), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "topup_error", "message": "Failed to list topups"})
		return
	}
	if topups == nil {
		topups = []*Topup{}
	}
	c.JSON(http.StatusOK, gin.H{"topups": topups})
}

// GetTopup handles GET /wallet/topups/:code
func (h *Handler) GetTopup(c *gin.Context) {
	t, err := h.svc.GetByCode(c.Request.Context(), auth.AccountID(c), c.Param("code"))
	if errors.Is(err, ErrTopupNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "topup_not_found", "message": "Topup not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "topup_error", "message": "Failed to retrieve topup"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"topup": t})
}

// VerifyTopup handles POST /wallet/topups/:code/verify
func (h *Handler) VerifyTopup(c *gin.Context) {
	ownerID := auth.AccountID(c)
	code := c.Param("code")

	// Ownership check before touching the gateway.
	if _, err := h.svc.GetByCode(c.Request.Context(), ownerID, code); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "topup_not_found", "message": "Topup not found"})
		return
	}

	t, err := h.svc.VerifyAndProcess(c.Request.Context(), code)
	if err != nil {
		h.writeVerifyError(c, code, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topup": t})
}

// Return handles GET /topups/return?code=TP-XXXX
func (h *Handler) Return(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "code query parameter is required"})
		return
	}

	t, err := h.svc.VerifyAndProcess(c.Request.Context(), code)
	if err != nil {
		h.writeVerifyError(c, code, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": t.Status, "orderCode": t.OrderCode})
}

func (h *Handler) writeVerifyError(c *gin.Context, code string, err error) {
	switch {
	case errors.Is(err, ErrTopupNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "topup_not_found", "message": "Topup not found"})
	case errors.Is(err, ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "gateway_unavailable", "message": "Payment gateway is unavailable, try again later"})
	default:
		h.logger.Error("topup verification failed", "code", code, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "topup_error", "message": "Failed to verify topup"})
	}
}
