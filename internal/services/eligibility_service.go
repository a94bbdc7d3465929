package services

import (
	"context"
	"fmt"
	"time"

	"opinion-market/internal/models"

	"gorm.io/gorm"
)

// Creator eligibility thresholds. This is the single implementation of the
// follower/engagement rule; every caller goes through CheckEligibility.
const (
	MinFollowers      = 10
	MinEngagementRate = 1.0 // percentage points
)

// VolumeEligibilityThreshold is the total approved-market volume a creator
// needs before shares unlock.
const VolumeEligibilityThreshold = 30000.0

// VolumeEligibility is the result of a volume-threshold check.
type VolumeEligibility struct {
	Eligible bool                 `json:"eligible"`
	Volume   float64              `json:"volume"`
	Details  []MarketVolumeDetail `json:"details"`
}

// MarketVolumeDetail is one market's contribution to the volume total.
type MarketVolumeDetail struct {
	MarketID uint    `json:"market_id"`
	Question string  `json:"question"`
	Volume   float64 `json:"volume"`
}

// CreateMarketAllowance is the result of the market-creation throttle.
type CreateMarketAllowance struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// EligibilityService decides creator and market-creation eligibility.
type EligibilityService struct {
	db *gorm.DB
}

// NewEligibilityService creates a new eligibility service
func NewEligibilityService(db *gorm.DB) *EligibilityService {
	return &EligibilityService{db: db}
}

// CheckEligibility applies the creator qualification rule to a handle's
// metrics. Pure and deterministic.
func CheckEligibility(followers int, engagementRate float64) bool {
	return followers >= MinFollowers && engagementRate >= MinEngagementRate
}

// CheckVolumeEligibility sums the volume of a user's approved markets and
// compares the total against the share-unlock threshold. Recomputed on
// every call, no caching.
func (s *EligibilityService) CheckVolumeEligibility(ctx context.Context, userID uint) (*VolumeEligibility, error) {
	var creator models.Creator
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&creator).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return &VolumeEligibility{Eligible: false, Details: []MarketVolumeDetail{}}, nil
		}
		return nil, fmt.Errorf("failed to look up creator: %w", err)
	}

	var markets []models.OpinionMarket
	if err := s.db.WithContext(ctx).
		Where("creator_id = ? AND approval_status = ?", creator.ID, models.ApprovalStatusApproved).
		Find(&markets).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch approved markets: %w", err)
	}

	result := &VolumeEligibility{Details: make([]MarketVolumeDetail, 0, len(markets))}
	for _, m := range markets {
		result.Volume += m.Volume
		result.Details = append(result.Details, MarketVolumeDetail{
			MarketID: m.ID,
			Question: m.Question,
			Volume:   m.Volume,
		})
	}
	result.Eligible = result.Volume >= VolumeEligibilityThreshold

	return result, nil
}

// CanCreateMarket evaluates the creation throttle for a creator.
func (s *EligibilityService) CanCreateMarket(ctx context.Context, creatorID uint) (*CreateMarketAllowance, error) {
	return s.canCreateMarketWith(s.db.WithContext(ctx), creatorID)
}

// canCreateMarketWith runs the throttle checks on the given handle so the
// market-creation path can evaluate them inside its own transaction. Two
// gates, first failure wins: one active (approved, unresolved) market at a
// time, and one market per UTC calendar day.
func (s *EligibilityService) canCreateMarketWith(db *gorm.DB, creatorID uint) (*CreateMarketAllowance, error) {
	var activeCount int64
	if err := db.Model(&models.OpinionMarket{}).
		Where("creator_id = ? AND approval_status = ? AND resolved = ?", creatorID, models.ApprovalStatusApproved, false).
		Count(&activeCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count active markets: %w", err)
	}
	if activeCount > 0 {
		return &CreateMarketAllowance{
			Allowed: false,
			Reason:  "creator already has an active market",
		}, nil
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	var todayCount int64
	if err := db.Model(&models.OpinionMarket{}).
		Where("creator_id = ? AND created_at >= ?", creatorID, midnight).
		Count(&todayCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count today's markets: %w", err)
	}
	if todayCount > 0 {
		return &CreateMarketAllowance{
			Allowed: false,
			Reason:  "creator already created a market today",
		}, nil
	}

	return &CreateMarketAllowance{Allowed: true}, nil
}
