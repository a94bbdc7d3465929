package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"opinion-market/internal/models"

	"gorm.io/gorm"
)

// positionEpsilon is the close-out threshold: a position whose amount
// decays to or below it is deleted rather than kept as dust.
const positionEpsilon = 0.000001

// PositionService maintains the off-chain mirror of per-user holdings.
// Actual balances live on-chain; this ledger is best-effort bookkeeping
// driven by trade notifications.
type PositionService struct {
	db      *gorm.DB
	markets *MarketService
}

// NewPositionService creates a new position service
func NewPositionService(db *gorm.DB, markets *MarketService) *PositionService {
	return &PositionService{db: db, markets: markets}
}

// UpdatePosition applies a trade delta to the (market, user, outcome)
// position. Buys re-average the entry price; sells keep it (realized-cost
// accounting). The read-modify-write runs in a transaction with the row
// locked so concurrent notifications for the same key cannot lose updates.
// Non-degenerate calls record abs(amountChange*price) of volume through
// the market service's single trade-recording path, in the same
// transaction as the position mutation: an unknown market rolls both back.
func (s *PositionService) UpdatePosition(ctx context.Context, marketID uint, userAddress string, outcomeIndex int, amountChange, price float64) (*models.MarketPosition, error) {
	wallet := strings.ToLower(userAddress)

	var position *models.MarketPosition
	degenerate := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.MarketPosition
		err := lockForUpdate(tx).
			Where("market_id = ? AND user_address = ? AND outcome_index = ?", marketID, wallet, outcomeIndex).
			First(&existing).Error

		switch {
		case err == gorm.ErrRecordNotFound:
			// Cannot sell what this ledger does not hold; on-chain holdings
			// may differ, but that is the chain's problem to enforce.
			if amountChange <= 0 {
				degenerate = true
				return nil
			}

			position = &models.MarketPosition{
				MarketID:     marketID,
				UserAddress:  wallet,
				OutcomeIndex: outcomeIndex,
				Amount:       amountChange,
				AvgPrice:     price,
			}
			if err := tx.Create(position).Error; err != nil {
				return fmt.Errorf("failed to create position: %w", err)
			}

		case err != nil:
			return fmt.Errorf("failed to fetch position: %w", err)

		default:
			newAmount := existing.Amount + amountChange

			if newAmount <= positionEpsilon {
				if err := tx.Delete(&existing).Error; err != nil {
					return fmt.Errorf("failed to close out position: %w", err)
				}
				position = nil
				break
			}

			if amountChange > 0 {
				existing.AvgPrice = (existing.Amount*existing.AvgPrice + amountChange*price) / newAmount
			}
			existing.Amount = newAmount

			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("failed to update position: %w", err)
			}
			position = &existing
		}

		if err := s.markets.recordTradeWith(tx, marketID, math.Abs(amountChange*price), nil, nil); err != nil {
			return fmt.Errorf("failed to record trade volume: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if degenerate {
		log.Printf("[PositionService] Ignoring sell of %f on empty position (market=%d user=%s outcome=%d)",
			amountChange, marketID, wallet, outcomeIndex)
		return nil, nil
	}

	return position, nil
}

// GetUserPositions returns all open positions for a wallet.
func (s *PositionService) GetUserPositions(ctx context.Context, userAddress string) ([]models.MarketPosition, error) {
	var positions []models.MarketPosition
	if err := s.db.WithContext(ctx).
		Where("user_address = ?", strings.ToLower(userAddress)).
		Order("updated_at DESC").
		Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("failed to get user positions: %w", err)
	}
	return positions, nil
}
