package wallet

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/voltmarket/voltmarket/internal/auth"
)

// Handler provides HTTP endpoints for wallet operations.
type Handler struct {
	ledger *Ledger
	logger *slog.Logger
}

// NewHandler creates a new wallet handler.
func NewHandler(ledger *Ledger, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

// RegisterRoutes sets up wallet routes for the authenticated account.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/wallet", h.GetMyWallet)
	r.GET("/wallet/transactions", h.GetMyTransactions)
	r.POST("/wallet/deduct", h.Deduct)
}

// RegisterAdminRoutes sets up admin-only wallet routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/admin/wallets/:owner", h.AdminGetWallet)
	r.GET("/admin/wallets/:owner/transactions", h.AdminGetTransactions)
}

// GetMyWallet handles GET /wallet
func (h *Handler) GetMyWallet(c *gin.Context) {
	ownerID := auth.AccountID(c)

	w, err := h.ledger.GetWallet(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "wallet_error",
			"message": "Failed to retrieve wallet",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"wallet": w})
}

// GetMyTransactions handles GET /wallet/transactions
func (h *Handler) GetMyTransactions(c *gin.Context) {
	ownerID := auth.AccountID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	txns, err := h.ledger.ListTransactions(c.Request.Context(), ownerID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "wallet_error",
			"message": "Failed to retrieve transactions",
		})
		return
	}
	if txns == nil {
		txns = []*Transaction{}
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}

// DeductRequest is a generic wallet debit used by non-order flows
// (e.g. listing posting fees).
type DeductRequest struct {
	Amount      string `json:"amount" binding:"required"`
	ServiceType string `json:"serviceType"`
	Description string `json:"description"`
	RelatedType string `json:"relatedType"`
	RelatedID   string `json:"relatedId"`
}

// Deduct handles POST /wallet/deduct
func (h *Handler) Deduct(c *gin.Context) {
	ownerID := auth.AccountID(c)

	var req DeductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	svc := ServiceType(req.ServiceType)
	if req.ServiceType == "" {
		svc = ServiceDeduction
	}
	// Only generic deduction tags are allowed from this endpoint; escrow
	// service types are reserved for the order state machine.
	if svc != ServiceDeduction && svc != ServicePostPayment {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_service_type",
			"message": "serviceType must be DEDUCTION or POST_PAYMENT",
		})
		return
	}

	var related *RelatedEntity
	if req.RelatedID != "" {
		related = &RelatedEntity{Type: req.RelatedType, ID: req.RelatedID}
	}

	err := h.ledger.Debit(c.Request.Context(), ownerID, req.Amount, svc, req.Description, related)
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "insufficient_balance",
			"message": "Wallet balance is not enough for this deduction",
		})
		return
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "Amount must be a positive decimal"})
		return
	case err != nil:
		h.logger.Error("wallet deduction failed", "owner", ownerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "wallet_error", "message": "Deduction failed"})
		return
	}

	w, err := h.ledger.GetWallet(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "deducted"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deducted", "wallet": w})
}

// AdminGetWallet handles GET /admin/wallets/:owner
func (h *Handler) AdminGetWallet(c *gin.Context) {
	ownerID := c.Param("owner")

	w, err := h.ledger.GetWallet(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "wallet_error", "message": "Failed to retrieve wallet"})
		return
	}

	diff, err := h.ledger.VerifyInvariant(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"wallet": w})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"wallet":        w,
		"invariantDiff": diff.String(),
	})
}

// AdminGetTransactions handles GET /admin/wallets/:owner/transactions
func (h *Handler) AdminGetTransactions(c *gin.Context) {
	ownerID := c.Param("owner")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	txns, err := h.ledger.ListTransactions(c.Request.Context(), ownerID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "wallet_error", "message": "Failed to retrieve transactions"})
		return
	}
	if txns == nil {
		txns = []*Transaction{}
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}
