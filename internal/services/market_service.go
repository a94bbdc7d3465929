package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"strings"
	"time"

	"opinion-market/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gorm.io/gorm"
)

// signatureValidity is how long a creation signature stays redeemable.
// The deadline is enforced on-chain, not here.
const signatureValidity = time.Hour

var (
	ErrMarketNotFound   = errors.New("market not found")
	ErrCreatorNotFound  = errors.New("creator profile not found")
	ErrMarketRejected   = errors.New("market has been rejected")
	ErrNotMarketCreator = errors.New("wallet does not match market creator")
)

// ThrottleError reports a failed market-creation throttle gate.
type ThrottleError struct {
	Reason string
}

func (e *ThrottleError) Error() string {
	return e.Reason
}

// ChainSigner is the slice of the chain client the lifecycle service needs
// to issue creation authorizations. Injectable so tests can supply a stub
// and deployments can swap the key backend.
type ChainSigner interface {
	SignMessage(packed []byte) ([]byte, error)
	ChainID() *big.Int
	SignerAddress() common.Address
}

// MarketService owns the opinion-market lifecycle: creation requests,
// approval state, creation signatures and trade recording.
type MarketService struct {
	db           *gorm.DB
	eligibility  *EligibilityService
	signer       ChainSigner
	adminWallets map[string]bool
	creationFee  *big.Int
}

// NewMarketService creates a new market lifecycle service
func NewMarketService(db *gorm.DB, eligibility *EligibilityService, signer ChainSigner, adminWallets []string, creationFeeWei string) *MarketService {
	admins := make(map[string]bool, len(adminWallets))
	for _, w := range adminWallets {
		admins[strings.ToLower(w)] = true
	}

	fee, ok := new(big.Int).SetString(creationFeeWei, 10)
	if !ok {
		log.Printf("[MarketService] Invalid creation fee %q, defaulting to 0", creationFeeWei)
		fee = big.NewInt(0)
	}

	return &MarketService{
		db:           db,
		eligibility:  eligibility,
		signer:       signer,
		adminWallets: admins,
		creationFee:  fee,
	}
}

// IsAdmin reports whether a wallet is on the configured allow-list.
func (s *MarketService) IsAdmin(walletAddress string) bool {
	return s.adminWallets[strings.ToLower(walletAddress)]
}

// CreateMarket accepts a market creation request. Admin wallets bypass the
// creator checks entirely and get an immediately-approved market; everyone
// else needs an existing creator profile and must pass the creation
// throttle. The throttle checks and the insert run in one transaction with
// the creator row locked, so concurrent requests cannot both pass.
func (s *MarketService) CreateMarket(ctx context.Context, req *models.CreateMarketRequest) (*models.OpinionMarket, error) {
	wallet := strings.ToLower(req.WalletAddress)
	isAdmin := s.adminWallets[wallet]

	var market *models.OpinionMarket
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("wallet_address = ?", wallet).
			Attrs(models.User{WalletAddress: wallet}).
			FirstOrCreate(&user).Error; err != nil {
			return fmt.Errorf("failed to resolve user: %w", err)
		}

		var creator models.Creator
		status := models.ApprovalStatusPending

		if isAdmin {
			// Operator fast-path: auto-provision the creator profile and
			// approve immediately. The handle is derived from the wallet so
			// multiple admins don't collide on one sentinel value.
			now := time.Now()
			creator = models.Creator{
				UserID:        user.ID,
				TwitterHandle: adminHandle(wallet),
				DisplayName:   "Admin",
				Qualified:     true,
				Status:        models.CreatorStatusApproved,
				ApprovedAt:    &now,
			}
			if err := tx.Where("user_id = ?", user.ID).
				Attrs(creator).
				FirstOrCreate(&creator).Error; err != nil {
				return fmt.Errorf("failed to resolve admin creator: %w", err)
			}
			status = models.ApprovalStatusApproved
		} else {
			if err := lockForUpdate(tx).
				Where("user_id = ?", user.ID).
				First(&creator).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return ErrCreatorNotFound
				}
				return fmt.Errorf("failed to look up creator: %w", err)
			}

			allowance, err := s.eligibility.canCreateMarketWith(tx, creator.ID)
			if err != nil {
				return err
			}
			if !allowance.Allowed {
				return &ThrottleError{Reason: allowance.Reason}
			}
		}

		market = &models.OpinionMarket{
			Question:       req.Question,
			Description:    req.Description,
			Category:       req.Category,
			Deadline:       req.Deadline,
			ApprovalStatus: status,
			CreatorID:      creator.ID,
		}
		if err := tx.Create(market).Error; err != nil {
			return fmt.Errorf("failed to create market: %w", err)
		}

		outcomes := []models.MarketOutcome{
			{MarketID: market.ID, OutcomeIndex: 0, Label: "Yes", CurrentPrice: 0.5},
			{MarketID: market.ID, OutcomeIndex: 1, Label: "No", CurrentPrice: 0.5},
		}
		if err := tx.Create(&outcomes).Error; err != nil {
			return fmt.Errorf("failed to seed outcomes: %w", err)
		}
		market.Outcomes = outcomes

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[MarketService] Market %d created by %s (status=%s)", market.ID, wallet, market.ApprovalStatus)
	return market, nil
}

// GetSignature issues a one-hour authorization for deploying an approved
// market on-chain. The digest binds (wallet, questionId, fee, deadline,
// chainId) and is redeemed by the factory contract.
func (s *MarketService) GetSignature(ctx context.Context, marketID uint, userAddress string) (*models.CreationSignature, error) {
	var market models.OpinionMarket
	if err := s.db.WithContext(ctx).
		Preload("Creator.User").
		Where("id = ?", marketID).
		First(&market).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrMarketNotFound
		}
		return nil, fmt.Errorf("failed to fetch market: %w", err)
	}

	if market.ApprovalStatus == models.ApprovalStatusRejected {
		return nil, ErrMarketRejected
	}

	wallet := strings.ToLower(userAddress)
	if market.Creator == nil || market.Creator.User == nil ||
		market.Creator.User.WalletAddress != wallet {
		return nil, ErrNotMarketCreator
	}

	deadline := time.Now().Add(signatureValidity).Unix()
	packed := packCreationPayload(
		common.HexToAddress(wallet),
		big.NewInt(int64(market.ID)),
		s.creationFee,
		big.NewInt(deadline),
		s.signer.ChainID(),
	)

	sig, err := s.signer.SignMessage(packed)
	if err != nil {
		return nil, fmt.Errorf("failed to sign creation payload: %w", err)
	}

	result := &models.CreationSignature{
		Signature:  hexutil.Encode(sig),
		FeeAmount:  s.creationFee.String(),
		Deadline:   deadline,
		QuestionID: market.ID,
	}

	s.writeDebugArtifacts(wallet, result)

	return result, nil
}

// packCreationPayload mirrors the contract's abi.encodePacked(address,
// uint256 questionId, uint256 fee, uint256 deadline, uint256 chainId).
func packCreationPayload(user common.Address, questionID, fee, deadline, chainID *big.Int) []byte {
	packed := make([]byte, 0, 20+32*4)
	packed = append(packed, user.Bytes()...)
	packed = append(packed, common.LeftPadBytes(questionID.Bytes(), 32)...)
	packed = append(packed, common.LeftPadBytes(fee.Bytes(), 32)...)
	packed = append(packed, common.LeftPadBytes(deadline.Bytes(), 32)...)
	packed = append(packed, common.LeftPadBytes(chainID.Bytes(), 32)...)
	return packed
}

// writeDebugArtifacts dumps the signer address and the last signature
// parameters to local disk. Operational debugging aid only.
func (s *MarketService) writeDebugArtifacts(wallet string, sig *models.CreationSignature) {
	if err := os.WriteFile("signer_address.txt", []byte(s.signer.SignerAddress().Hex()), 0644); err != nil {
		log.Printf("[MarketService] Failed to write signer_address.txt: %v", err)
	}

	params := map[string]interface{}{
		"user_address": wallet,
		"question_id":  sig.QuestionID,
		"fee_amount":   sig.FeeAmount,
		"deadline":     sig.Deadline,
		"chain_id":     s.signer.ChainID().String(),
		"signature":    sig.Signature,
	}
	data, _ := json.MarshalIndent(params, "", "  ")
	if err := os.WriteFile("signature_params.json", data, 0644); err != nil {
		log.Printf("[MarketService] Failed to write signature_params.json: %v", err)
	}
}

// ApproveMarket marks a market approved. Unconditional write.
func (s *MarketService) ApproveMarket(ctx context.Context, marketID uint) error {
	return s.setApproval(ctx, marketID, models.ApprovalStatusApproved, nil)
}

// RejectMarket marks a market rejected and records the reason.
func (s *MarketService) RejectMarket(ctx context.Context, marketID uint, reason string) error {
	return s.setApproval(ctx, marketID, models.ApprovalStatusRejected, &reason)
}

func (s *MarketService) setApproval(ctx context.Context, marketID uint, status models.ApprovalStatus, reason *string) error {
	updates := map[string]interface{}{"approval_status": status}
	if reason != nil {
		updates["rejection_reason"] = *reason
	}

	result := s.db.WithContext(ctx).
		Model(&models.OpinionMarket{}).
		Where("id = ?", marketID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update approval status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMarketNotFound
	}
	return nil
}

// SetMarketAddress records the deployed contract address for a market.
func (s *MarketService) SetMarketAddress(ctx context.Context, marketID uint, contractAddress string) error {
	result := s.db.WithContext(ctx).
		Model(&models.OpinionMarket{}).
		Where("id = ?", marketID).
		Update("contract_address", contractAddress)
	if result.Error != nil {
		return fmt.Errorf("failed to set contract address: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMarketNotFound
	}
	return nil
}

// RecordTrade is the single authoritative trade-recording operation. It
// increments market volume exactly once per call (atomic in the database)
// and, when an outcome and price are supplied, moves that outcome's price
// and keeps the binary pair summing to 1. Both notification paths (the
// volume endpoint and the position ledger) go through here; a given trade
// must be reported on exactly one of them.
func (s *MarketService) RecordTrade(ctx context.Context, marketID uint, tradeVolume float64, outcomeIndex *int, price *float64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.recordTradeWith(tx, marketID, tradeVolume, outcomeIndex, price)
	})
}

// recordTradeWith runs the trade recording on the given handle so callers
// (the position ledger) can fold it into their own transaction.
func (s *MarketService) recordTradeWith(tx *gorm.DB, marketID uint, tradeVolume float64, outcomeIndex *int, price *float64) error {
	if tradeVolume < 0 {
		return fmt.Errorf("trade volume must be non-negative, got %f", tradeVolume)
	}

	result := tx.Model(&models.OpinionMarket{}).
		Where("id = ?", marketID).
		Update("volume", gorm.Expr("volume + ?", tradeVolume))
	if result.Error != nil {
		return fmt.Errorf("failed to increment volume: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMarketNotFound
	}

	if outcomeIndex == nil || price == nil {
		return nil
	}

	idx := *outcomeIndex
	p := *price
	if idx != 0 && idx != 1 {
		return fmt.Errorf("outcome index must be 0 or 1, got %d", idx)
	}
	if p < 0 || p > 1 {
		return fmt.Errorf("price must be in [0,1], got %f", p)
	}

	if err := tx.Model(&models.MarketOutcome{}).
		Where("market_id = ? AND outcome_index = ?", marketID, idx).
		Update("current_price", p).Error; err != nil {
		return fmt.Errorf("failed to update outcome price: %w", err)
	}
	if err := tx.Model(&models.MarketOutcome{}).
		Where("market_id = ? AND outcome_index = ?", marketID, 1-idx).
		Update("current_price", 1-p).Error; err != nil {
		return fmt.Errorf("failed to update complementary price: %w", err)
	}
	return nil
}

// GetMarkets lists markets with optional status/category filters.
func (s *MarketService) GetMarkets(ctx context.Context, status, category string, limit, offset int) ([]models.OpinionMarket, error) {
	var markets []models.OpinionMarket
	query := s.db.WithContext(ctx).Preload("Outcomes").Preload("Creator")

	if status != "" {
		query = query.Where("approval_status = ?", status)
	}
	if category != "" {
		query = query.Where("category = ?", category)
	}

	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&markets).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch markets: %w", err)
	}
	return markets, nil
}

// GetMarketByID fetches one market with outcomes and creator.
func (s *MarketService) GetMarketByID(ctx context.Context, marketID uint) (*models.OpinionMarket, error) {
	var market models.OpinionMarket
	if err := s.db.WithContext(ctx).
		Preload("Outcomes").
		Preload("Creator.User").
		Where("id = ?", marketID).
		First(&market).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrMarketNotFound
		}
		return nil, fmt.Errorf("failed to fetch market: %w", err)
	}
	return &market, nil
}

// GetVolume returns a market's accumulated volume.
func (s *MarketService) GetVolume(ctx context.Context, marketID uint) (float64, error) {
	market, err := s.GetMarketByID(ctx, marketID)
	if err != nil {
		return 0, err
	}
	return market.Volume, nil
}

// adminHandle derives a per-wallet handle for auto-provisioned admin
// creators so two admins never collide on the handle uniqueness check.
func adminHandle(wallet string) string {
	suffix := strings.TrimPrefix(wallet, "0x")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return "admin_" + suffix
}
