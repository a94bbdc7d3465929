package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"opinion-market/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"gorm.io/gorm"
)

var (
	ErrCreatorExists    = errors.New("user already has a creator profile")
	ErrHandleTaken      = errors.New("twitter handle already claimed")
	ErrNotQualified     = errors.New("handle does not meet the eligibility thresholds")
	ErrShareExists      = errors.New("creator already has a share")
	ErrShareNotUnlocked = errors.New("creator has not met the volume threshold")
	ErrShareNotFound    = errors.New("creator share not found")
)

// HoldingsReader reads on-chain share balances (blockchain.Client
// implements it).
type HoldingsReader interface {
	ERC20Balance(ctx context.Context, token, holder common.Address) (*big.Int, error)
}

// ShareHolding is one creator-share balance for a wallet, read from chain.
type ShareHolding struct {
	CreatorID       uint   `json:"creator_id"`
	TwitterHandle   string `json:"twitter_handle"`
	ContractAddress string `json:"contract_address"`
	Balance         string `json:"balance"`
}

// CreatorDashboard aggregates a creator's profile, markets and volume.
type CreatorDashboard struct {
	User        *models.User           `json:"user"`
	Creator     *models.Creator        `json:"creator"`
	Share       *models.CreatorShare   `json:"share,omitempty"`
	Markets     []models.OpinionMarket `json:"markets"`
	TotalVolume float64                `json:"total_volume"`
}

// CreatorService manages creator onboarding, shares and dashboards.
type CreatorService struct {
	db          *gorm.DB
	eligibility *EligibilityService
	metrics     MetricsProvider
	holdings    HoldingsReader
	signer      ChainSigner
}

// NewCreatorService creates a new creator service
func NewCreatorService(db *gorm.DB, eligibility *EligibilityService, metrics MetricsProvider, holdings HoldingsReader, signer ChainSigner) *CreatorService {
	return &CreatorService{
		db:          db,
		eligibility: eligibility,
		metrics:     metrics,
		holdings:    holdings,
		signer:      signer,
	}
}

// VerifyTwitter fetches metrics for a handle and applies the eligibility
// rule. If the metrics provider is unreachable a synthetic
// eligible-by-default profile is returned so onboarding is never blocked
// by a provider outage.
func (s *CreatorService) VerifyTwitter(ctx context.Context, handle string) (*TwitterProfile, bool) {
	profile, err := s.metrics.GetMetrics(ctx, handle)
	if err != nil {
		log.Printf("[CreatorService] Metrics fetch failed for %s (%v), using default profile", handle, err)
		profile = &TwitterProfile{
			Handle:         strings.TrimPrefix(handle, "@"),
			FollowersCount: MinFollowers,
			EngagementRate: MinEngagementRate,
		}
	}
	return profile, CheckEligibility(profile.FollowersCount, profile.EngagementRate)
}

// CreateCreator registers a creator profile once eligibility is confirmed.
// One creator per user, one creator per handle.
func (s *CreatorService) CreateCreator(ctx context.Context, req *models.CreateCreatorRequest) (*models.Creator, error) {
	wallet := strings.ToLower(req.WalletAddress)
	handle := strings.TrimPrefix(req.TwitterHandle, "@")

	profile, qualified := s.VerifyTwitter(ctx, handle)
	if !qualified {
		return nil, ErrNotQualified
	}

	var creator *models.Creator
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("wallet_address = ?", wallet).
			Attrs(models.User{WalletAddress: wallet}).
			FirstOrCreate(&user).Error; err != nil {
			return fmt.Errorf("failed to resolve user: %w", err)
		}

		var count int64
		if err := tx.Model(&models.Creator{}).Where("user_id = ?", user.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check existing creator: %w", err)
		}
		if count > 0 {
			return ErrCreatorExists
		}

		if err := tx.Model(&models.Creator{}).Where("twitter_handle = ?", handle).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check handle: %w", err)
		}
		if count > 0 {
			return ErrHandleTaken
		}

		displayName := req.DisplayName
		if displayName == "" {
			displayName = profile.DisplayName
		}
		imageURL := req.ProfileImageURL
		if imageURL == "" {
			imageURL = profile.ProfileImageURL
		}

		now := time.Now()
		creator = &models.Creator{
			UserID:          user.ID,
			TwitterHandle:   handle,
			DisplayName:     displayName,
			ProfileImageURL: imageURL,
			Qualified:       true,
			Status:          models.CreatorStatusApproved,
			ApprovedAt:      &now,
		}
		if err := tx.Create(creator).Error; err != nil {
			return fmt.Errorf("failed to create creator: %w", err)
		}

		if err := tx.Model(&user).Update("twitter_handle", handle).Error; err != nil {
			return fmt.Errorf("failed to link handle to user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[CreatorService] Creator %d registered (@%s, %d followers)", creator.ID, handle, profile.FollowersCount)
	return creator, nil
}

// GetCreators lists approved creators with their shares.
func (s *CreatorService) GetCreators(ctx context.Context) ([]models.Creator, error) {
	var creators []models.Creator
	if err := s.db.WithContext(ctx).
		Where("status = ?", models.CreatorStatusApproved).
		Preload("User").
		Order("created_at DESC").
		Find(&creators).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch creators: %w", err)
	}
	return creators, nil
}

// GetCreatorByID fetches one creator.
func (s *CreatorService) GetCreatorByID(ctx context.Context, creatorID uint) (*models.Creator, error) {
	var creator models.Creator
	if err := s.db.WithContext(ctx).
		Preload("User").
		Where("id = ?", creatorID).
		First(&creator).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrCreatorNotFound
		}
		return nil, fmt.Errorf("failed to fetch creator: %w", err)
	}
	return &creator, nil
}

// GetDashboard aggregates everything a creator's dashboard page needs.
func (s *CreatorService) GetDashboard(ctx context.Context, walletAddress string) (*CreatorDashboard, error) {
	wallet := strings.ToLower(walletAddress)

	var user models.User
	if err := s.db.WithContext(ctx).Where("wallet_address = ?", wallet).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrCreatorNotFound
		}
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}

	var creator models.Creator
	if err := s.db.WithContext(ctx).Where("user_id = ?", user.ID).First(&creator).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrCreatorNotFound
		}
		return nil, fmt.Errorf("failed to fetch creator: %w", err)
	}

	var markets []models.OpinionMarket
	if err := s.db.WithContext(ctx).
		Preload("Outcomes").
		Where("creator_id = ?", creator.ID).
		Order("created_at DESC").
		Find(&markets).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch creator markets: %w", err)
	}

	dashboard := &CreatorDashboard{
		User:    &user,
		Creator: &creator,
		Markets: markets,
	}
	for _, m := range markets {
		if m.ApprovalStatus == models.ApprovalStatusApproved {
			dashboard.TotalVolume += m.Volume
		}
	}

	var share models.CreatorShare
	if err := s.db.WithContext(ctx).Where("creator_id = ?", creator.ID).First(&share).Error; err == nil {
		dashboard.Share = &share
	}

	return dashboard, nil
}

// GetHoldings reads a wallet's balance of every registered creator share
// directly from chain. Shares whose contract read fails are skipped.
func (s *CreatorService) GetHoldings(ctx context.Context, userAddress string) ([]ShareHolding, error) {
	var shares []models.CreatorShare
	if err := s.db.WithContext(ctx).Preload("Creator").Find(&shares).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch shares: %w", err)
	}

	holder := common.HexToAddress(userAddress)
	holdings := make([]ShareHolding, 0, len(shares))
	for _, share := range shares {
		balance, err := s.holdings.ERC20Balance(ctx, common.HexToAddress(share.ContractAddress), holder)
		if err != nil {
			log.Printf("[CreatorService] Balance read failed for share %s: %v", share.ContractAddress, err)
			continue
		}
		if balance.Sign() == 0 {
			continue
		}

		holding := ShareHolding{
			CreatorID:       share.CreatorID,
			ContractAddress: share.ContractAddress,
			Balance:         balance.String(),
		}
		if share.Creator != nil {
			holding.TwitterHandle = share.Creator.TwitterHandle
		}
		holdings = append(holdings, holding)
	}
	return holdings, nil
}

// CreateShare registers a deployed share contract for a creator. Shares
// unlock only once the approved-market volume threshold is met.
func (s *CreatorService) CreateShare(ctx context.Context, req *models.CreateShareRequest) (*models.CreatorShare, error) {
	creator, err := s.GetCreatorByID(ctx, req.CreatorID)
	if err != nil {
		return nil, err
	}

	eligibility, err := s.eligibility.CheckVolumeEligibility(ctx, creator.UserID)
	if err != nil {
		return nil, err
	}
	if !eligibility.Eligible {
		return nil, ErrShareNotUnlocked
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.CreatorShare{}).
		Where("creator_id = ?", req.CreatorID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check existing share: %w", err)
	}
	if count > 0 {
		return nil, ErrShareExists
	}

	share := &models.CreatorShare{
		CreatorID:       req.CreatorID,
		ContractAddress: strings.ToLower(req.ContractAddress),
	}
	if err := s.db.WithContext(ctx).Create(share).Error; err != nil {
		return nil, fmt.Errorf("failed to create share: %w", err)
	}

	log.Printf("[CreatorService] Share %s registered for creator %d", share.ContractAddress, req.CreatorID)
	return share, nil
}

// UpdateShare refreshes the cached supply/price for a creator's share.
// The cache is informational; the chain stays authoritative.
func (s *CreatorService) UpdateShare(ctx context.Context, req *models.UpdateShareRequest) (*models.CreatorShare, error) {
	var share models.CreatorShare
	if err := s.db.WithContext(ctx).Where("creator_id = ?", req.CreatorID).First(&share).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrShareNotFound
		}
		return nil, fmt.Errorf("failed to fetch share: %w", err)
	}

	share.TotalSupply = req.TotalSupply
	share.CurrentPrice = req.CurrentPrice
	if err := s.db.WithContext(ctx).Save(&share).Error; err != nil {
		return nil, fmt.Errorf("failed to update share: %w", err)
	}
	return &share, nil
}

// OnboardingSignature issues a time-boxed authorization for deploying a
// creator's share contract, bound to (wallet, handle, deadline, chainId).
func (s *CreatorService) OnboardingSignature(ctx context.Context, walletAddress string) (map[string]interface{}, error) {
	wallet := strings.ToLower(walletAddress)

	var user models.User
	if err := s.db.WithContext(ctx).Where("wallet_address = ?", wallet).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrCreatorNotFound
		}
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}

	var creator models.Creator
	if err := s.db.WithContext(ctx).Where("user_id = ?", user.ID).First(&creator).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrCreatorNotFound
		}
		return nil, fmt.Errorf("failed to fetch creator: %w", err)
	}

	deadline := time.Now().Add(signatureValidity).Unix()

	packed := make([]byte, 0, 20+32*3)
	packed = append(packed, common.HexToAddress(wallet).Bytes()...)
	packed = append(packed, crypto.Keccak256([]byte(creator.TwitterHandle))...)
	packed = append(packed, common.LeftPadBytes(big.NewInt(deadline).Bytes(), 32)...)
	packed = append(packed, common.LeftPadBytes(s.signer.ChainID().Bytes(), 32)...)

	sig, err := s.signer.SignMessage(packed)
	if err != nil {
		return nil, fmt.Errorf("failed to sign onboarding payload: %w", err)
	}

	return map[string]interface{}{
		"signature":      hexutil.Encode(sig),
		"wallet_address": wallet,
		"twitter_handle": creator.TwitterHandle,
		"deadline":       deadline,
	}, nil
}

// LinkTwitterAccount stores the OAuth-verified handle on the user row.
func (s *CreatorService) LinkTwitterAccount(ctx context.Context, walletAddress string, profile *TwitterProfile) error {
	wallet := strings.ToLower(walletAddress)

	var user models.User
	if err := s.db.WithContext(ctx).
		Where("wallet_address = ?", wallet).
		Attrs(models.User{WalletAddress: wallet}).
		FirstOrCreate(&user).Error; err != nil {
		return fmt.Errorf("failed to resolve user: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&user).Update("twitter_handle", profile.Handle).Error; err != nil {
		return fmt.Errorf("failed to link handle: %w", err)
	}

	log.Printf("[CreatorService] Linked @%s to %s", profile.Handle, wallet)
	return nil
}
