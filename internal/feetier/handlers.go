package feetier

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for fee tier resolution and admin CRUD.
type Handler struct {
	resolver *Resolver
	logger   *slog.Logger
}

// NewHandler creates a new fee tier handler.
func NewHandler(resolver *Resolver, logger *slog.Logger) *Handler {
	return &Handler{resolver: resolver, logger: logger}
}

// RegisterRoutes sets up the public resolve route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/fees/resolve", h.ResolveFees)
}

// RegisterAdminRoutes sets up admin-only tier management routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/admin/fee-tiers", h.ListTiers)
	r.POST("/admin/fee-tiers", h.CreateTier)
	r.PUT("/admin/fee-tiers/:id", h.UpdateTier)
	r.DELETE("/admin/fee-tiers/:id", h.DeleteTier)
}

// ResolveFees handles GET /fees/resolve?price=...
// Sellers call this before publishing a listing to preview fees.
func (h *Handler) ResolveFees(c *gin.Context) {
	price := c.Query("price")
	if price == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "price query parameter is required"})
		return
	}

	tier, err := h.resolver.Resolve(c.Request.Context(), price)
	switch {
	case errors.Is(err, ErrFeeTierNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "fee_tier_not_found", "message": "No fee tier covers this price"})
		return
	case errors.Is(err, ErrInvalidTier):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_price", "message": "Price must be a non-negative decimal"})
		return
	case err != nil:
		h.logger.Error("fee tier resolve failed", "price", price, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fee_tier_error", "message": "Failed to resolve fee tier"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tier": tier})
}

// ListTiers handles GET /admin/fee-tiers
func (h *Handler) ListTiers(c *gin.Context) {
	tiers, err := h.resolver.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fee_tier_error", "message": "Failed to list fee tiers"})
		return
	}
	if tiers == nil {
		tiers = []*FeeTier{}
	}
	c.JSON(http.StatusOK, gin.H{"tiers": tiers})
}

// TierRequest is the admin create/update payload.
type TierRequest struct {
	MinPrice       string `json:"minPrice" binding:"required"`
	MaxPrice       string `json:"maxPrice"`
	PostingFee     string `json:"postingFee" binding:"required"`
	DepositRate    string `json:"depositRate" binding:"required"`
	CommissionRate string `json:"commissionRate" binding:"required"`
}

// CreateTier handles POST /admin/fee-tiers
func (h *Handler) CreateTier(c *gin.Context) {
	var req TierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	tier, err := h.resolver.Create(c.Request.Context(), &FeeTier{
		MinPrice:       req.MinPrice,
		MaxPrice:       req.MaxPrice,
		PostingFee:     req.PostingFee,
		DepositRate:    req.DepositRate,
		CommissionRate: req.CommissionRate,
	})
	if !h.writeTierError(c, err) {
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tier": tier})
}

// UpdateTier handles PUT /admin/fee-tiers/:id
func (h *Handler) UpdateTier(c *gin.Context) {
	var req TierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	tier, err := h.resolver.Update(c.Request.Context(), &FeeTier{
		ID:             c.Param("id"),
		MinPrice:       req.MinPrice,
		MaxPrice:       req.MaxPrice,
		PostingFee:     req.PostingFee,
		DepositRate:    req.DepositRate,
		CommissionRate: req.CommissionRate,
	})
	if !h.writeTierError(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"tier": tier})
}

// DeleteTier handles DELETE /admin/fee-tiers/:id
func (h *Handler) DeleteTier(c *gin.Context) {
	err := h.resolver.Delete(c.Request.Context(), c.Param("id"))
	if !h.writeTierError(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// writeTierError maps tier errors to responses. Returns true if err was nil.
func (h *Handler) writeTierError(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrFeeTierNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "fee_tier_not_found", "message": "Fee tier not found"})
	case errors.Is(err, ErrFeeTierOverlap):
		c.JSON(http.StatusConflict, gin.H{"error": "fee_tier_overlap", "message": "Tier price band overlaps an existing tier"})
	case errors.Is(err, ErrInvalidTier):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tier", "message": "Tier bounds or rates are invalid"})
	default:
		h.logger.Error("fee tier operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fee_tier_error", "message": "Fee tier operation failed"})
	}
	return false
}
