package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"opinion-market/internal/models"
	"opinion-market/internal/services"

	"github.com/gin-gonic/gin"
)

type CreatorHandler struct {
	creators    *services.CreatorService
	eligibility *services.EligibilityService
	twitter     *services.TwitterService
	frontendURL string
}

func NewCreatorHandler(creators *services.CreatorService, eligibility *services.EligibilityService, twitter *services.TwitterService, frontendURL string) *CreatorHandler {
	return &CreatorHandler{
		creators:    creators,
		eligibility: eligibility,
		twitter:     twitter,
		frontendURL: frontendURL,
	}
}

// GetCreators lists approved creators
func (h *CreatorHandler) GetCreators(c *gin.Context) {
	creators, err := h.creators.GetCreators(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch creators"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    creators,
		"count":   len(creators),
	})
}

// GetCreatorByID returns a single creator
func (h *CreatorHandler) GetCreatorByID(c *gin.Context) {
	creatorID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid creator id"})
		return
	}

	creator, err := h.creators.GetCreatorByID(c.Request.Context(), uint(creatorID))
	if err != nil {
		if errors.Is(err, services.ErrCreatorNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Creator not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch creator"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    creator,
	})
}

// CreateCreator registers a creator profile
func (h *CreatorHandler) CreateCreator(c *gin.Context) {
	var req models.CreateCreatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	creator, err := h.creators.CreateCreator(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCreatorExists):
			c.JSON(http.StatusBadRequest, gin.H{"error": "User already has a creator profile"})
		case errors.Is(err, services.ErrHandleTaken):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Twitter handle already claimed"})
		case errors.Is(err, services.ErrNotQualified):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Handle does not meet the eligibility thresholds"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create creator"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    creator,
	})
}

// VerifyTwitter fetches metrics for a handle and reports eligibility
func (h *CreatorHandler) VerifyTwitter(c *gin.Context) {
	var req struct {
		Handle string `json:"handle" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile, eligible := h.creators.VerifyTwitter(c.Request.Context(), req.Handle)

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"eligible": eligible,
		"data":     profile,
	})
}

// CheckEligibility applies the threshold rule to caller-supplied metrics
func (h *CreatorHandler) CheckEligibility(c *gin.Context) {
	var req struct {
		Followers      int     `json:"followers"`
		EngagementRate float64 `json:"engagement_rate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"eligible": services.CheckEligibility(req.Followers, req.EngagementRate),
	})
}

// CheckVolume reports a user's approved-market volume against the
// share-unlock threshold
func (h *CreatorHandler) CheckVolume(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("userId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}

	result, err := h.eligibility.CheckVolumeEligibility(c.Request.Context(), uint(userID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check volume eligibility"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// CanCreateMarket reports the market-creation throttle state
func (h *CreatorHandler) CanCreateMarket(c *gin.Context) {
	creatorID, err := strconv.ParseUint(c.Param("creatorId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid creator id"})
		return
	}

	allowance, err := h.eligibility.CanCreateMarket(c.Request.Context(), uint(creatorID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check allowance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    allowance,
	})
}

// GetHoldings reads a wallet's creator-share balances from chain
func (h *CreatorHandler) GetHoldings(c *gin.Context) {
	holdings, err := h.creators.GetHoldings(c.Request.Context(), c.Param("userAddress"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch holdings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    holdings,
		"count":   len(holdings),
	})
}

// GetDashboard aggregates the creator dashboard view
func (h *CreatorHandler) GetDashboard(c *gin.Context) {
	dashboard, err := h.creators.GetDashboard(c.Request.Context(), c.Param("walletAddress"))
	if err != nil {
		if errors.Is(err, services.ErrCreatorNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Creator not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build dashboard"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    dashboard,
	})
}

// CreateShare registers a deployed share contract (admin endpoint)
func (h *CreatorHandler) CreateShare(c *gin.Context) {
	var req models.CreateShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	share, err := h.creators.CreateShare(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCreatorNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Creator not found"})
		case errors.Is(err, services.ErrShareExists):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Creator already has a share"})
		case errors.Is(err, services.ErrShareNotUnlocked):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Volume threshold not met"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create share"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    share,
	})
}

// UpdateShare refreshes the cached share supply/price
func (h *CreatorHandler) UpdateShare(c *gin.Context) {
	var req models.UpdateShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	share, err := h.creators.UpdateShare(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, services.ErrShareNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Share not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update share"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    share,
	})
}

// OnboardingSignature issues the share-deployment authorization
func (h *CreatorHandler) OnboardingSignature(c *gin.Context) {
	var req struct {
		WalletAddress string `json:"wallet_address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sig, err := h.creators.OnboardingSignature(c.Request.Context(), req.WalletAddress)
	if err != nil {
		if errors.Is(err, services.ErrCreatorNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Creator not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue onboarding signature"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    sig,
	})
}

// TwitterAuth starts the OAuth redirect flow
func (h *CreatorHandler) TwitterAuth(c *gin.Context) {
	wallet := c.Query("wallet")
	if wallet == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet query parameter is required"})
		return
	}

	c.Redirect(http.StatusTemporaryRedirect, h.twitter.AuthURL(wallet))
}

// TwitterCallback completes the OAuth flow and links the handle
func (h *CreatorHandler) TwitterCallback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing code or state"})
		return
	}

	decoded, err := h.twitter.DecodeState(state)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile, err := h.twitter.ExchangeCode(c.Request.Context(), code)
	if err != nil {
		c.Redirect(http.StatusTemporaryRedirect, h.frontendURL+"?twitter=error")
		return
	}

	if err := h.creators.LinkTwitterAccount(c.Request.Context(), decoded.WalletAddress, profile); err != nil {
		c.Redirect(http.StatusTemporaryRedirect, h.frontendURL+"?twitter=error")
		return
	}

	c.Redirect(http.StatusTemporaryRedirect, h.frontendURL+"?twitter=linked&handle="+profile.Handle)
}
