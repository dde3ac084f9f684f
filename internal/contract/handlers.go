package contract

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/voltmarket/voltmarket/internal/auth"
	"github.com/voltmarket/voltmarket/internal/listing"
)

// Handler provides HTTP endpoints for contracts.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a new contract handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes sets up contract routes for authenticated accounts.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/contracts", h.CreateContract)
	r.GET("/contracts", h.MyContracts)
	r.GET("/contracts/:id", h.GetContract)
	r.POST("/contracts/:id/confirm", h.Confirm)
	r.POST("/contracts/:id/forfeit", h.Forfeit)
	r.POST("/contracts/:id/dispute", h.Dispute)
}

// CreateRequest is the payload for POST /contracts.
type CreateRequest struct {
	ListingID             string `json:"listingId" binding:"required"`
	BuyerID               string `json:"buyerId" binding:"required"`
	IsExternalTransaction bool   `json:"isExternalTransaction"`
}

// CreateContract handles POST /contracts. The caller is the seller
// declaring a deal with a specific buyer.
func (h *Handler) CreateContract(c *gin.Context) {
	sellerID := auth.AccountID(c)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	ct, err := h.svc.CreateBySeller(c.Request.Context(), sellerID, req.ListingID, req.BuyerID, req.IsExternalTransaction)
	switch {
	case errors.Is(err, listing.ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "listing_not_found", "message": "Listing not found"})
		return
	case errors.Is(err, ErrNotParty):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_seller", "message": "Only the listing owner may open a contract"})
		return
	case errors.Is(err, ErrContractExists):
		c.JSON(http.StatusConflict, gin.H{"error": "contract_exists", "message": "An open contract already exists for this listing and buyer"})
		return
	case err != nil:
		h.logger.Error("create contract failed", "listing", req.ListingID, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"contract": ct})
}

// Confirm handles POST /contracts/:id/confirm. The service works out
// whether the caller confirms as buyer or as seller.
func (h *Handler) Confirm(c *gin.Context) {
	accountID := auth.AccountID(c)
	contractID := c.Param("id")
	ctx := c.Request.Context()

	ct, err := h.svc.ConfirmByBuyer(ctx, accountID, contractID)
	if errors.Is(err, ErrNotParty) {
		ct, err = h.svc.ConfirmBySeller(ctx, accountID, contractID)
	}
	if !h.writeContractError(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": ct})
}

// Forfeit handles POST /contracts/:id/forfeit
func (h *Handler) Forfeit(c *gin.Context) {
	sellerID := auth.AccountID(c)

	ct, err := h.svc.ForfeitExternal(c.Request.Context(), sellerID, c.Param("id"))
	if !h.writeContractError(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": ct})
}

// DisputeRequest is the payload for POST /contracts/:id/dispute.
type DisputeRequest struct {
	Reason string `json:"reason"`
}

// Dispute handles POST /contracts/:id/dispute
func (h *Handler) Dispute(c *gin.Context) {
	accountID := auth.AccountID(c)

	var req DisputeRequest
	_ = c.ShouldBindJSON(&req)

	ct, err := h.svc.Dispute(c.Request.Context(), accountID, c.Param("id"), req.Reason)
	if !h.writeContractError(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": ct})
}

// GetContract handles GET /contracts/:id
func (h *Handler) GetContract(c *gin.Context) {
	accountID := auth.AccountID(c)
	isAdmin := auth.AccountRole(c) == auth.RoleAdmin

	ct, err := h.svc.GetByID(c.Request.Context(), accountID, c.Param("id"), isAdmin)
	if !h.writeContractError(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": ct})
}

// MyContracts handles GET /contracts
func (h *Handler) MyContracts(c *gin.Context) {
	accountID := auth.AccountID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	contracts, err := h.svc.ListMine(c.Request.Context(), accountID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "contract_error", "message": "Failed to list contracts"})
		return
	}
	if contracts == nil {
		contracts = []*Contract{}
	}
	c.JSON(http.StatusOK, gin.H{"contracts": contracts})
}

// writeContractError maps contract errors to responses. Returns true if err was nil.
func (h *Handler) writeContractError(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrContractNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "contract_not_found", "message": "Contract not found"})
	case errors.Is(err, ErrNotParty):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_party", "message": "You are not a party to this contract"})
	case errors.Is(err, ErrInvalidContractState):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_contract_state", "message": "Contract state does not permit this action"})
	default:
		h.logger.Error("contract operation failed", "contract", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "contract_error", "message": "Contract operation failed"})
	}
	return false
}
