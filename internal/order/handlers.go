package order

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/voltmarket/voltmarket/internal/auth"
	"github.com/voltmarket/voltmarket/internal/feetier"
	"github.com/voltmarket/voltmarket/internal/listing"
	"github.com/voltmarket/voltmarket/internal/wallet"
)

// Handler provides HTTP endpoints for the order flow.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a new order handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes sets up order routes for authenticated accounts.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders/buy-now", h.BuyNow)
	r.GET("/orders", h.MyOrders)
	r.GET("/orders/:id", h.GetOrder)
	r.GET("/orders/code/:code", h.GetOrderByCode)
	r.POST("/orders/:id/confirm", h.SellerConfirm)
	r.POST("/orders/:id/complete", h.Complete)
	r.POST("/orders/:id/cancel", h.Cancel)
}

// BuyNowRequest is the payload for POST /orders/buy-now.
type BuyNowRequest struct {
	ListingID string `json:"listingId" binding:"required"`
}

// BuyNow handles POST /orders/buy-now
func (h *Handler) BuyNow(c *gin.Context) {
	buyerID := auth.AccountID(c)

	var req BuyNowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	o, err := h.svc.BuyNow(c.Request.Context(), buyerID, req.ListingID)
	switch {
	case errors.Is(err, listing.ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "listing_not_found", "message": "Listing not found"})
		return
	case errors.Is(err, listing.ErrInvalidListingState):
		c.JSON(http.StatusConflict, gin.H{"error": "listing_not_buyable", "message": "Listing is not published"})
		return
	case errors.Is(err, listing.ErrListingLocked):
		c.JSON(http.StatusConflict, gin.H{"error": "listing_locked", "message": "Listing is already held by another order"})
		return
	case errors.Is(err, ErrOwnListing):
		c.JSON(http.StatusBadRequest, gin.H{"error": "own_listing", "message": "You cannot buy your own listing"})
		return
	case errors.Is(err, wallet.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient_balance", "message": "Wallet balance does not cover the listing price"})
		return
	case errors.Is(err, feetier.ErrFeeTierNotFound):
		c.JSON(http.StatusConflict, gin.H{"error": "fee_tier_not_found", "message": "No fee tier covers this listing price"})
		return
	case err != nil:
		h.logger.Error("buy now failed", "listing", req.ListingID, "buyer", buyerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "order_error", "message": "Failed to place order"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order": o})
}

// ConfirmRequest is the payload for POST /orders/:id/confirm.
type ConfirmRequest struct {
	Action string `json:"action" binding:"required"`
}

// SellerConfirm handles POST /orders/:id/confirm
func (h *Handler) SellerConfirm(c *gin.Context) {
	sellerID := auth.AccountID(c)

	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	action := ConfirmAction(req.Action)
	if action != ActionAccept && action != ActionReject {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_action", "message": "action must be ACCEPT or REJECT"})
		return
	}

	o, err := h.svc.SellerConfirm(c.Request.Context(), sellerID, c.Param("id"), action)
	if !h.writeOrderError(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// Complete handles POST /orders/:id/complete
func (h *Handler) Complete(c *gin.Context) {
	buyerID := auth.AccountID(c)

	o, err := h.svc.Complete(c.Request.Context(), buyerID, c.Param("id"))
	if !h.writeOrderError(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// CancelRequest is the payload for POST /orders/:id/cancel.
type CancelRequest struct {
	Note string `json:"note"`
}

// Cancel handles POST /orders/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	buyerID := auth.AccountID(c)

	var req CancelRequest
	_ = c.ShouldBindJSON(&req)

	o, err := h.svc.Cancel(c.Request.Context(), buyerID, c.Param("id"), req.Note)
	if !h.writeOrderError(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// GetOrder handles GET /orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	accountID := auth.AccountID(c)
	isAdmin := auth.AccountRole(c) == auth.RoleAdmin

	o, err := h.svc.GetByID(c.Request.Context(), accountID, c.Param("id"), isAdmin)
	if !h.writeOrderError(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// GetOrderByCode handles GET /orders/code/:code
func (h *Handler) GetOrderByCode(c *gin.Context) {
	accountID := auth.AccountID(c)
	isAdmin := auth.AccountRole(c) == auth.RoleAdmin

	o, err := h.svc.GetByCode(c.Request.Context(), accountID, c.Param("code"), isAdmin)
	if !h.writeOrderError(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// MyOrders handles GET /orders?role=buyer|seller&status=...
func (h *Handler) MyOrders(c *gin.Context) {
	accountID := auth.AccountID(c)
	role := Role(c.DefaultQuery("role", string(RoleBuyer)))
	status := Status(c.Query("status"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	orders, err := h.svc.ListMine(c.Request.Context(), accountID, role, status, limit, offset)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if orders == nil {
		orders = []*Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// writeOrderError maps order errors to responses. Returns true if err was nil.
func (h *Handler) writeOrderError(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found", "message": "Order not found"})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "unauthorized", "message": "You are not a party to this order"})
	case errors.Is(err, ErrInvalidStateTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state_transition", "message": "Order state does not permit this action"})
	case errors.Is(err, wallet.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient_balance", "message": "Wallet balance is insufficient"})
	default:
		h.logger.Error("order operation failed", "order", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "order_error", "message": "Order operation failed"})
	}
	return false
}
