package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"opinion-market/internal/models"
	"opinion-market/internal/services"

	"github.com/gin-gonic/gin"
)

type MarketHandler struct {
	markets   *services.MarketService
	positions *services.PositionService
}

func NewMarketHandler(markets *services.MarketService, positions *services.PositionService) *MarketHandler {
	return &MarketHandler{markets: markets, positions: positions}
}

// GetMarkets returns markets with optional filtering
func (h *MarketHandler) GetMarkets(c *gin.Context) {
	status := c.DefaultQuery("status", "")
	category := c.Query("category")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	markets, err := h.markets.GetMarkets(c.Request.Context(), status, category, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch markets"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    markets,
		"count":   len(markets),
	})
}

// GetMarketByID returns a specific market with its outcomes
func (h *MarketHandler) GetMarketByID(c *gin.Context) {
	marketID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid market id"})
		return
	}

	market, err := h.markets.GetMarketByID(c.Request.Context(), uint(marketID))
	if err != nil {
		if errors.Is(err, services.ErrMarketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Market not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch market"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    market,
	})
}

// GetVolume returns a market's accumulated volume
func (h *MarketHandler) GetVolume(c *gin.Context) {
	marketID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid market id"})
		return
	}

	volume, err := h.markets.GetVolume(c.Request.Context(), uint(marketID))
	if err != nil {
		if errors.Is(err, services.ErrMarketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Market not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch volume"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"market_id": marketID, "volume": volume},
	})
}

// CreateMarket accepts a market creation request
func (h *MarketHandler) CreateMarket(c *gin.Context) {
	var req models.CreateMarketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	market, err := h.markets.CreateMarket(c.Request.Context(), &req)
	if err != nil {
		var throttle *services.ThrottleError
		switch {
		case errors.As(err, &throttle):
			c.JSON(http.StatusBadRequest, gin.H{"error": throttle.Reason})
		case errors.Is(err, services.ErrCreatorNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": "No creator profile for this wallet"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create market"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    market,
	})
}

// GetCreationSignature issues a time-boxed deployment authorization
func (h *MarketHandler) GetCreationSignature(c *gin.Context) {
	var req struct {
		MarketID    uint   `json:"market_id" binding:"required"`
		UserAddress string `json:"user_address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sig, err := h.markets.GetSignature(c.Request.Context(), req.MarketID, req.UserAddress)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMarketNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Market not found"})
		case errors.Is(err, services.ErrMarketRejected):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Market has been rejected"})
		case errors.Is(err, services.ErrNotMarketCreator):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Wallet does not match market creator"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue signature"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    sig,
	})
}

// SetMarketAddress records the deployed contract address
func (h *MarketHandler) SetMarketAddress(c *gin.Context) {
	marketID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid market id"})
		return
	}

	var req struct {
		ContractAddress string `json:"contract_address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.markets.SetMarketAddress(c.Request.Context(), uint(marketID), req.ContractAddress); err != nil {
		if errors.Is(err, services.ErrMarketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Market not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to set contract address"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Contract address recorded",
	})
}

// ModerateMarket approves or rejects a pending market (admin wallets only)
func (h *MarketHandler) ModerateMarket(c *gin.Context) {
	marketID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid market id"})
		return
	}

	var req struct {
		WalletAddress string `json:"wallet_address" binding:"required"`
		Action        string `json:"action" binding:"required"` // "approve" or "reject"
		Reason        string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.markets.IsAdmin(req.WalletAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Wallet is not on the admin list"})
		return
	}

	switch req.Action {
	case "approve":
		err = h.markets.ApproveMarket(c.Request.Context(), uint(marketID))
	case "reject":
		err = h.markets.RejectMarket(c.Request.Context(), uint(marketID), req.Reason)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid action"})
		return
	}

	if err != nil {
		if errors.Is(err, services.ErrMarketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Market not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to moderate market"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Market " + req.Action + "d",
	})
}

// UpdateVolume is the trade notification endpoint for trades reported
// without a position change
func (h *MarketHandler) UpdateVolume(c *gin.Context) {
	var req models.RecordTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.markets.RecordTrade(c.Request.Context(), req.MarketID, req.TradeVolume, req.OutcomeIndex, req.Price); err != nil {
		if errors.Is(err, services.ErrMarketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Market not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Trade recorded",
	})
}

// UpdatePosition is the trade notification endpoint for position changes
func (h *MarketHandler) UpdatePosition(c *gin.Context) {
	marketID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid market id"})
		return
	}

	var req models.UpdatePositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	position, err := h.positions.UpdatePosition(c.Request.Context(), uint(marketID), req.UserAddress, req.OutcomeIndex, req.AmountChange, req.Price)
	if err != nil {
		if errors.Is(err, services.ErrMarketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Market not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update position"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    position,
	})
}

// GetUserPositions returns all open positions for a wallet
func (h *MarketHandler) GetUserPositions(c *gin.Context) {
	userAddress := c.Param("userAddress")

	positions, err := h.positions.GetUserPositions(c.Request.Context(), userAddress)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch positions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    positions,
		"count":   len(positions),
	})
}
