package listing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/voltmarket/voltmarket/internal/auth"
	"github.com/voltmarket/voltmarket/internal/wallet"
)

// Handler provides HTTP endpoints for listings.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a new listing handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterPublicRoutes sets up browse routes that need no auth.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/listings", h.Browse)
	r.GET("/listings/:id", h.GetListing)
}

// RegisterRoutes sets up seller routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/listings", h.CreateListing)
	r.GET("/listings/mine", h.MyListings)
	r.POST("/listings/:id/publish", h.PublishListing)
	r.POST("/listings/:id/archive", h.ArchiveListing)
}

// CreateRequest is the payload for POST /listings.
type CreateRequest struct {
	Title              string `json:"title" binding:"required"`
	Description        string `json:"description"`
	Price              string `json:"price" binding:"required"`
	BatteryCapacityKwh string `json:"batteryCapacityKwh"`
}

// CreateListing handles POST /listings
func (h *Handler) CreateListing(c *gin.Context) {
	sellerID := auth.AccountID(c)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	l, err := h.svc.Create(c.Request.Context(), sellerID, req.Title, req.Description, req.Price, req.BatteryCapacityKwh)
	switch {
	case errors.Is(err, ErrInvalidPrice):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_price", "message": "Price must be a positive decimal"})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"listing": l})
}

// PublishListing handles POST /listings/:id/publish
func (h *Handler) PublishListing(c *gin.Context) {
	sellerID := auth.AccountID(c)

	l, err := h.svc.Publish(c.Request.Context(), sellerID, c.Param("id"))
	switch {
	case errors.Is(err, ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "listing_not_found", "message": "Listing not found"})
		return
	case errors.Is(err, ErrNotSeller):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_seller", "message": "Only the listing owner may publish it"})
		return
	case errors.Is(err, ErrInvalidListingState):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_listing_state", "message": "Only draft listings can be published"})
		return
	case errors.Is(err, wallet.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient_balance", "message": "Wallet balance does not cover the posting fee"})
		return
	case err != nil:
		h.logger.Error("publish listing failed", "listing", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing_error", "message": "Failed to publish listing"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"listing": l})
}

// ArchiveListing handles POST /listings/:id/archive
func (h *Handler) ArchiveListing(c *gin.Context) {
	sellerID := auth.AccountID(c)

	l, err := h.svc.Archive(c.Request.Context(), sellerID, c.Param("id"))
	switch {
	case errors.Is(err, ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "listing_not_found", "message": "Listing not found"})
		return
	case errors.Is(err, ErrNotSeller):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_seller", "message": "Only the listing owner may archive it"})
		return
	case errors.Is(err, ErrListingLocked):
		c.JSON(http.StatusConflict, gin.H{"error": "listing_locked", "message": "Listing is held by an in-flight order"})
		return
	case errors.Is(err, ErrInvalidListingState):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_listing_state", "message": "Listing cannot be archived in its current state"})
		return
	case err != nil:
		h.logger.Error("archive listing failed", "listing", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing_error", "message": "Failed to archive listing"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"listing": l})
}

// Browse handles GET /listings
func (h *Handler) Browse(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	cursor := c.Query("cursor")

	listings, next, more, err := h.svc.ListPublished(c.Request.Context(), cursor, limit)
	if errors.Is(err, ErrInvalidCursor) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "Cursor is not valid"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing_error", "message": "Failed to list listings"})
		return
	}
	if listings == nil {
		listings = []*Listing{}
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings, "nextCursor": next, "hasMore": more})
}

// GetListing handles GET /listings/:id
func (h *Handler) GetListing(c *gin.Context) {
	l, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrListingNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "listing_not_found", "message": "Listing not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing_error", "message": "Failed to retrieve listing"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": l})
}

// MyListings handles GET /listings/mine
func (h *Handler) MyListings(c *gin.Context) {
	sellerID := auth.AccountID(c)

	listings, err := h.svc.ListBySeller(c.Request.Context(), sellerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing_error", "message": "Failed to list listings"})
		return
	}
	if listings == nil {
		listings = []*Listing{}
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}
