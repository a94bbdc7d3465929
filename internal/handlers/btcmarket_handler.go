package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"opinion-market/internal/models"
	"opinion-market/internal/services"

	"github.com/gin-gonic/gin"
)

type BTCMarketHandler struct {
	service *services.BTCMarketService
	prices  services.PriceFeed
}

func NewBTCMarketHandler(service *services.BTCMarketService, prices services.PriceFeed) *BTCMarketHandler {
	return &BTCMarketHandler{service: service, prices: prices}
}

// GetMarkets lists BTC markets
func (h *BTCMarketHandler) GetMarkets(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	markets, err := h.service.GetMarkets(c.Request.Context(), limit, offset)
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

// GetActiveMarkets lists unresolved markets still inside their window
func (h *BTCMarketHandler) GetActiveMarkets(c *gin.Context) {
	markets, err := h.service.GetActiveMarkets(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch active markets"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    markets,
		"count":   len(markets),
	})
}

// GetMarketsByInterval lists markets of one duration
func (h *BTCMarketHandler) GetMarketsByInterval(c *gin.Context) {
	interval, err := strconv.Atoi(c.Param("interval"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid interval"})
		return
	}

	markets, err := h.service.GetMarketsByInterval(c.Request.Context(), interval)
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

// GetMarketsByAddress lists markets deployed through a factory address
func (h *BTCMarketHandler) GetMarketsByAddress(c *gin.Context) {
	markets, err := h.service.GetMarketsByAddress(c.Request.Context(), c.Param("address"))
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

// GetPrice returns the current BTC/USD reference price
func (h *BTCMarketHandler) GetPrice(c *gin.Context) {
	price, err := h.prices.GetBTCPrice(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch price"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"symbol": "BTC/USD", "price": price},
	})
}

// CreateMarket is the manual trigger for the scheduled creation procedure
func (h *BTCMarketHandler) CreateMarket(c *gin.Context) {
	interval, err := strconv.Atoi(c.Param("interval"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid interval"})
		return
	}

	valid := false
	for _, i := range models.BTCMarketIntervals {
		if interval == i {
			valid = true
			break
		}
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Interval must be one of 15, 60, 360, 720"})
		return
	}

	market, err := h.service.CreateScheduledMarket(c.Request.Context(), interval)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    market,
	})
}

// ResolveMarket is the manual trigger for the resolution procedure
func (h *BTCMarketHandler) ResolveMarket(c *gin.Context) {
	marketID, err := strconv.ParseInt(c.Param("marketId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid market id"})
		return
	}

	market, err := h.service.ResolveMarketByID(c.Request.Context(), marketID)
	if err != nil {
		if errors.Is(err, services.ErrBTCMarketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Market not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    market,
	})
}
