package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/big"
	"time"

	"opinion-market/internal/blockchain"
	"opinion-market/internal/models"

	"gorm.io/gorm"
)

// priceScale converts a float USD price to the factory's 8-decimal
// fixed-point representation.
const priceScale = 1e8

var ErrBTCMarketNotFound = errors.New("btc market not found")

// MarketFactory is the slice of the on-chain factory the generator needs.
// blockchain.BTCFactory implements it; tests supply stubs.
type MarketFactory interface {
	CreateMarket(ctx context.Context, interval int, startTime time.Time, startPrice *big.Int) (int64, error)
	ResolveMarket(ctx context.Context, marketID int64, endPrice *big.Int) error
	GetMarket(ctx context.Context, marketID int64) (*blockchain.OnChainMarket, error)
	Address() string
}

// BTCMarketService creates and resolves fixed-duration up/down markets on
// the BTC/USD feed.
type BTCMarketService struct {
	db      *gorm.DB
	factory MarketFactory
	prices  PriceFeed
}

// NewBTCMarketService creates a new BTC market service
func NewBTCMarketService(db *gorm.DB, factory MarketFactory, prices PriceFeed) *BTCMarketService {
	return &BTCMarketService{db: db, factory: factory, prices: prices}
}

// ShouldCreateMarket decides whether a market of the given interval opens
// at this wall-clock minute. Pure; all boundaries are UTC.
func ShouldCreateMarket(now time.Time, interval int) bool {
	utc := now.UTC()
	switch interval {
	case 15:
		return utc.Minute()%15 == 0
	case 60:
		return utc.Minute() == 0
	case 360:
		return utc.Minute() == 0 && utc.Hour()%6 == 0
	case 720:
		return utc.Minute() == 0 && (utc.Hour() == 0 || utc.Hour() == 12)
	default:
		return false
	}
}

// CreateScheduledMarket opens a new on-chain market for the interval:
// fetch the reference price, call the factory, wait for confirmation,
// read back the market details and persist the row. Any failure aborts
// this attempt; the next matching minute simply retries from scratch.
func (s *BTCMarketService) CreateScheduledMarket(ctx context.Context, interval int) (*models.BTCMarket, error) {
	price, err := s.prices.GetBTCPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reference price: %w", err)
	}

	startTime := time.Now().UTC().Truncate(time.Minute)
	startPriceScaled := scalePrice(price)

	marketID, err := s.factory.CreateMarket(ctx, interval, startTime, startPriceScaled)
	if err != nil {
		return nil, fmt.Errorf("on-chain creation failed: %w", err)
	}

	onChain, err := s.factory.GetMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to read back market %d: %w", marketID, err)
	}

	market := &models.BTCMarket{
		MarketID:        marketID,
		ContractAddress: s.factory.Address(),
		Interval:        onChain.Interval,
		StartTime:       onChain.StartTime,
		EndTime:         onChain.EndTime,
		StartPrice:      unscalePrice(onChain.StartPrice),
	}
	if err := s.db.WithContext(ctx).Create(market).Error; err != nil {
		return nil, fmt.Errorf("failed to persist market %d: %w", marketID, err)
	}

	log.Printf("[BTCMarkets] Created %dm market %d @ $%.2f (ends %s)",
		interval, marketID, price, market.EndTime.Format(time.RFC3339))

	return market, nil
}

// ResolveExpiredMarkets resolves every unresolved market whose end time
// has passed. Each market is handled independently: a failure is logged
// and the loop moves on, leaving the market for the next tick.
func (s *BTCMarketService) ResolveExpiredMarkets(ctx context.Context) (int, error) {
	var expired []models.BTCMarket
	if err := s.db.WithContext(ctx).
		Where("resolved = ? AND end_time <= ?", false, time.Now().UTC()).
		Find(&expired).Error; err != nil {
		return 0, fmt.Errorf("failed to query expired markets: %w", err)
	}

	resolved := 0
	for i := range expired {
		if err := s.resolveMarket(ctx, &expired[i]); err != nil {
			log.Printf("[BTCMarkets] Error resolving market %d: %v", expired[i].MarketID, err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

// ResolveMarketByID resolves one market by its on-chain id (manual trigger).
func (s *BTCMarketService) ResolveMarketByID(ctx context.Context, marketID int64) (*models.BTCMarket, error) {
	var market models.BTCMarket
	if err := s.db.WithContext(ctx).Where("market_id = ?", marketID).First(&market).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrBTCMarketNotFound
		}
		return nil, fmt.Errorf("failed to fetch market: %w", err)
	}

	if err := s.resolveMarket(ctx, &market); err != nil {
		return nil, err
	}
	return &market, nil
}

// resolveMarket settles a single market. Re-checks the resolved flag from
// the database first so a second invocation is a no-op and never hits the
// chain again.
func (s *BTCMarketService) resolveMarket(ctx context.Context, market *models.BTCMarket) error {
	var current models.BTCMarket
	if err := s.db.WithContext(ctx).Where("id = ?", market.ID).First(&current).Error; err != nil {
		return fmt.Errorf("failed to re-fetch market: %w", err)
	}
	if current.Resolved {
		*market = current
		return nil
	}

	endPrice, err := s.prices.GetBTCPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch end price: %w", err)
	}

	if err := s.factory.ResolveMarket(ctx, market.MarketID, scalePrice(endPrice)); err != nil {
		return fmt.Errorf("on-chain resolution failed: %w", err)
	}

	outcome := models.BTCOutcomeDown
	if endPrice > market.StartPrice {
		outcome = models.BTCOutcomeUp
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"end_price":   endPrice,
		"resolved":    true,
		"outcome":     outcome,
		"resolved_at": now,
	}
	if err := s.db.WithContext(ctx).Model(&models.BTCMarket{}).
		Where("id = ?", market.ID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to persist resolution: %w", err)
	}

	market.EndPrice = &endPrice
	market.Resolved = true
	market.Outcome = &outcome
	market.ResolvedAt = &now

	log.Printf("[BTCMarkets] Resolved market %d: start $%.2f end $%.2f outcome=%d",
		market.MarketID, market.StartPrice, endPrice, outcome)

	return nil
}

// GetMarkets lists BTC markets, newest first.
func (s *BTCMarketService) GetMarkets(ctx context.Context, limit, offset int) ([]models.BTCMarket, error) {
	var markets []models.BTCMarket
	if err := s.db.WithContext(ctx).
		Order("start_time DESC").
		Limit(limit).Offset(offset).
		Find(&markets).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch btc markets: %w", err)
	}
	return markets, nil
}

// GetActiveMarkets lists unresolved markets still inside their window.
func (s *BTCMarketService) GetActiveMarkets(ctx context.Context) ([]models.BTCMarket, error) {
	var markets []models.BTCMarket
	if err := s.db.WithContext(ctx).
		Where("resolved = ? AND end_time > ?", false, time.Now().UTC()).
		Order("end_time ASC").
		Find(&markets).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch active markets: %w", err)
	}
	return markets, nil
}

// GetMarketsByInterval lists markets of one duration.
func (s *BTCMarketService) GetMarketsByInterval(ctx context.Context, interval int) ([]models.BTCMarket, error) {
	var markets []models.BTCMarket
	if err := s.db.WithContext(ctx).
		Where("interval = ?", interval).
		Order("start_time DESC").
		Find(&markets).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch markets for interval %d: %w", interval, err)
	}
	return markets, nil
}

// GetMarketsByAddress lists markets deployed through a factory address.
func (s *BTCMarketService) GetMarketsByAddress(ctx context.Context, contractAddress string) ([]models.BTCMarket, error) {
	var markets []models.BTCMarket
	if err := s.db.WithContext(ctx).
		Where("contract_address = ?", contractAddress).
		Order("start_time DESC").
		Find(&markets).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch markets for %s: %w", contractAddress, err)
	}
	return markets, nil
}

func scalePrice(price float64) *big.Int {
	// Round rather than truncate: float representation error must not
	// shave a unit off the fixed-point price.
	return big.NewInt(int64(math.Round(price * priceScale)))
}

func unscalePrice(scaled *big.Int) float64 {
	return float64(scaled.Int64()) / priceScale
}
