package services

import (
	"context"
	"errors"
	"math"
	"testing"

	"gorm.io/gorm"

	"opinion-market/internal/models"
)

func newPositionTestEnv(t *testing.T) (*PositionService, *MarketService, *gorm.DB, *models.OpinionMarket) {
	db := setupTestDB(t)
	markets := NewMarketService(db, NewEligibilityService(db), &stubSigner{}, nil, "0")
	positions := NewPositionService(db, markets)

	creator := createTestCreator(t, db, "0xccc1", "position_creator")
	market := createTestMarket(t, db, creator.ID, models.ApprovalStatusApproved, 0)

	return positions, markets, db, market
}

func TestUpdatePositionLifecycle(t *testing.T) {
	positions, markets, db, market := newPositionTestEnv(t)
	ctx := context.Background()
	wallet := "0xTrader1"

	// Opening buy: 10 units at 2.0.
	pos, err := positions.UpdatePosition(ctx, market.ID, wallet, 0, 10, 2.0)
	if err != nil {
		t.Fatalf("opening buy failed: %v", err)
	}
	if pos.Amount != 10 || pos.AvgPrice != 2.0 {
		t.Errorf("expected amount 10 avg 2.0, got %f / %f", pos.Amount, pos.AvgPrice)
	}
	if pos.UserAddress != "0xtrader1" {
		t.Errorf("expected lower-cased address, got %s", pos.UserAddress)
	}

	// Second buy re-averages: (10*2 + 10*4) / 20 = 3.
	pos, err = positions.UpdatePosition(ctx, market.ID, wallet, 0, 10, 4.0)
	if err != nil {
		t.Fatalf("second buy failed: %v", err)
	}
	if pos.Amount != 20 || math.Abs(pos.AvgPrice-3.0) > 1e-9 {
		t.Errorf("expected amount 20 avg 3.0, got %f / %f", pos.Amount, pos.AvgPrice)
	}

	// Sells keep the average price untouched.
	pos, err = positions.UpdatePosition(ctx, market.ID, wallet, 0, -15, 5.0)
	if err != nil {
		t.Fatalf("partial sell failed: %v", err)
	}
	if pos.Amount != 5 || math.Abs(pos.AvgPrice-3.0) > 1e-9 {
		t.Errorf("expected amount 5 avg 3.0, got %f / %f", pos.Amount, pos.AvgPrice)
	}

	// Selling the remainder closes the position out entirely.
	pos, err = positions.UpdatePosition(ctx, market.ID, wallet, 0, -5, 5.0)
	if err != nil {
		t.Fatalf("closing sell failed: %v", err)
	}
	if pos != nil {
		t.Errorf("expected closed-out position, got %+v", pos)
	}

	var count int64
	db.Model(&models.MarketPosition{}).Where("market_id = ?", market.ID).Count(&count)
	if count != 0 {
		t.Errorf("expected position row deleted, found %d", count)
	}

	// Each call reported abs(amount*price) of volume:
	// 10*2 + 10*4 + 15*5 + 5*5 = 160.
	volume, err := markets.GetVolume(ctx, market.ID)
	if err != nil {
		t.Fatalf("GetVolume failed: %v", err)
	}
	if math.Abs(volume-160) > 1e-9 {
		t.Errorf("expected volume 160, got %f", volume)
	}
}

func TestUpdatePositionSellOnEmpty(t *testing.T) {
	positions, markets, db, market := newPositionTestEnv(t)
	ctx := context.Background()

	pos, err := positions.UpdatePosition(ctx, market.ID, "0xtrader2", 1, -10, 0.5)
	if err != nil {
		t.Fatalf("expected no error on empty sell, got %v", err)
	}
	if pos != nil {
		t.Errorf("expected nil position, got %+v", pos)
	}

	var count int64
	db.Model(&models.MarketPosition{}).Count(&count)
	if count != 0 {
		t.Errorf("expected no position rows, found %d", count)
	}

	// A degenerate sell records no volume either.
	volume, err := markets.GetVolume(ctx, market.ID)
	if err != nil {
		t.Fatalf("GetVolume failed: %v", err)
	}
	if volume != 0 {
		t.Errorf("expected zero volume, got %f", volume)
	}
}

func TestUpdatePositionUnknownMarketRollsBack(t *testing.T) {
	positions, _, db, _ := newPositionTestEnv(t)
	ctx := context.Background()

	// A buy against a market id that does not exist must fail without
	// leaving the freshly created position row behind.
	pos, err := positions.UpdatePosition(ctx, 4242, "0xtrader4", 0, 10, 2.0)
	if !errors.Is(err, ErrMarketNotFound) {
		t.Fatalf("expected ErrMarketNotFound, got %v", err)
	}
	if pos != nil {
		t.Errorf("expected nil position, got %+v", pos)
	}

	var count int64
	db.Model(&models.MarketPosition{}).Where("market_id = ?", 4242).Count(&count)
	if count != 0 {
		t.Errorf("expected rolled-back position row, found %d", count)
	}
}

func TestUpdatePositionPerOutcome(t *testing.T) {
	positions, _, _, market := newPositionTestEnv(t)
	ctx := context.Background()
	wallet := "0xtrader3"

	if _, err := positions.UpdatePosition(ctx, market.ID, wallet, 0, 10, 0.6); err != nil {
		t.Fatalf("buy on outcome 0 failed: %v", err)
	}
	if _, err := positions.UpdatePosition(ctx, market.ID, wallet, 1, 4, 0.4); err != nil {
		t.Fatalf("buy on outcome 1 failed: %v", err)
	}

	held, err := positions.GetUserPositions(ctx, wallet)
	if err != nil {
		t.Fatalf("GetUserPositions failed: %v", err)
	}
	if len(held) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(held))
	}
}
