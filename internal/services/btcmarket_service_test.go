package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"gorm.io/gorm"

	"opinion-market/internal/blockchain"
	"opinion-market/internal/models"
)

// stubFactory fakes the on-chain factory and counts chain calls.
type stubFactory struct {
	nextID       int64
	markets      map[int64]*blockchain.OnChainMarket
	createCalls  int
	resolveCalls int
	failCreate   bool
}

func newStubFactory() *stubFactory {
	return &stubFactory{nextID: 1, markets: make(map[int64]*blockchain.OnChainMarket)}
}

func (f *stubFactory) CreateMarket(ctx context.Context, interval int, startTime time.Time, startPrice *big.Int) (int64, error) {
	f.createCalls++
	if f.failCreate {
		return 0, errors.New("rpc unavailable")
	}
	id := f.nextID
	f.nextID++
	f.markets[id] = &blockchain.OnChainMarket{
		MarketID:   id,
		Interval:   interval,
		StartTime:  startTime,
		EndTime:    startTime.Add(time.Duration(interval) * time.Minute),
		StartPrice: startPrice,
	}
	return id, nil
}

func (f *stubFactory) ResolveMarket(ctx context.Context, marketID int64, endPrice *big.Int) error {
	f.resolveCalls++
	m, ok := f.markets[marketID]
	if !ok {
		return fmt.Errorf("unknown market %d", marketID)
	}
	m.EndPrice = endPrice
	m.Resolved = true
	return nil
}

func (f *stubFactory) GetMarket(ctx context.Context, marketID int64) (*blockchain.OnChainMarket, error) {
	m, ok := f.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("unknown market %d", marketID)
	}
	return m, nil
}

func (f *stubFactory) Address() string {
	return "0xfac70fac70fac70fac70fac70fac70fac70fac70"
}

// stubPrices returns a fixed price, adjustable between calls.
type stubPrices struct {
	price float64
	err   error
}

func (p *stubPrices) GetBTCPrice(ctx context.Context) (float64, error) {
	return p.price, p.err
}

func newBTCTestService(t *testing.T) (*BTCMarketService, *stubFactory, *stubPrices, *gorm.DB) {
	db := setupTestDB(t)
	factory := newStubFactory()
	prices := &stubPrices{price: 65000}
	return NewBTCMarketService(db, factory, prices), factory, prices, db
}

func TestShouldCreateMarket(t *testing.T) {
	at := func(hour, minute int) time.Time {
		return time.Date(2025, 3, 10, hour, minute, 0, 0, time.UTC)
	}

	cases := []struct {
		name     string
		now      time.Time
		interval int
		want     bool
	}{
		{"15m on quarter hour", at(2, 15), 15, true},
		{"15m on the hour", at(2, 0), 15, true},
		{"15m off schedule", at(2, 16), 15, false},
		{"60m on the hour", at(7, 0), 60, true},
		{"60m mid hour", at(7, 30), 60, false},
		{"360m at 06:00", at(6, 0), 360, true},
		{"360m at 07:00", at(7, 0), 360, false},
		{"360m at 06:15", at(6, 15), 360, false},
		{"720m at midnight", at(0, 0), 720, true},
		{"720m at noon", at(12, 0), 720, true},
		{"720m at 13:00", at(13, 0), 720, false},
		{"unknown interval", at(0, 0), 30, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ShouldCreateMarket(tc.now, tc.interval)
			if got != tc.want {
				t.Errorf("ShouldCreateMarket(%s, %d) = %v, want %v", tc.now, tc.interval, got, tc.want)
			}
		})
	}
}

func TestCreateScheduledMarket(t *testing.T) {
	service, factory, prices, db := newBTCTestService(t)
	prices.price = 65000.5

	market, err := service.CreateScheduledMarket(context.Background(), 15)
	if err != nil {
		t.Fatalf("CreateScheduledMarket failed: %v", err)
	}

	if factory.createCalls != 1 {
		t.Errorf("expected 1 chain creation, got %d", factory.createCalls)
	}
	if market.Interval != 15 {
		t.Errorf("expected interval 15, got %d", market.Interval)
	}
	if market.ContractAddress != factory.Address() {
		t.Errorf("unexpected contract address %s", market.ContractAddress)
	}
	if market.StartPrice != 65000.5 {
		t.Errorf("expected start price 65000.5, got %f", market.StartPrice)
	}
	if got := market.EndTime.Sub(market.StartTime); got != 15*time.Minute {
		t.Errorf("expected 15 minute window, got %s", got)
	}
	if market.Resolved {
		t.Error("new market must not be resolved")
	}

	var count int64
	db.Model(&models.BTCMarket{}).Count(&count)
	if count != 1 {
		t.Errorf("expected 1 persisted market, got %d", count)
	}
}

func TestCreateScheduledMarketChainFailure(t *testing.T) {
	service, factory, _, db := newBTCTestService(t)
	factory.failCreate = true

	if _, err := service.CreateScheduledMarket(context.Background(), 60); err == nil {
		t.Fatal("expected chain failure to propagate")
	}

	var count int64
	db.Model(&models.BTCMarket{}).Count(&count)
	if count != 0 {
		t.Errorf("expected no persisted market after failure, got %d", count)
	}
}

func TestResolveExpiredMarkets(t *testing.T) {
	service, factory, prices, db := newBTCTestService(t)
	ctx := context.Background()

	prices.price = 65000
	market, err := service.CreateScheduledMarket(ctx, 15)
	if err != nil {
		t.Fatalf("CreateScheduledMarket failed: %v", err)
	}
	// Push the window into the past so the sweep picks it up.
	db.Model(&models.BTCMarket{}).Where("id = ?", market.ID).
		Update("end_time", time.Now().UTC().Add(-time.Minute))

	prices.price = 66000
	resolved, err := service.ResolveExpiredMarkets(ctx)
	if err != nil {
		t.Fatalf("ResolveExpiredMarkets failed: %v", err)
	}
	if resolved != 1 {
		t.Errorf("expected 1 resolution, got %d", resolved)
	}
	if factory.resolveCalls != 1 {
		t.Errorf("expected 1 chain resolution, got %d", factory.resolveCalls)
	}

	var stored models.BTCMarket
	if err := db.Where("market_id = ?", market.MarketID).First(&stored).Error; err != nil {
		t.Fatalf("failed to fetch resolved market: %v", err)
	}
	if !stored.Resolved {
		t.Fatal("expected market resolved")
	}
	if stored.Outcome == nil || *stored.Outcome != models.BTCOutcomeUp {
		t.Error("expected UP outcome when end price exceeds start price")
	}
	if stored.EndPrice == nil || *stored.EndPrice != 66000 {
		t.Error("expected end price 66000 recorded")
	}
	if stored.ResolvedAt == nil {
		t.Error("expected resolution timestamp")
	}
}

func TestResolveMarketIdempotent(t *testing.T) {
	service, factory, prices, db := newBTCTestService(t)
	ctx := context.Background()

	prices.price = 65000
	market, err := service.CreateScheduledMarket(ctx, 15)
	if err != nil {
		t.Fatalf("CreateScheduledMarket failed: %v", err)
	}
	db.Model(&models.BTCMarket{}).Where("id = ?", market.ID).
		Update("end_time", time.Now().UTC().Add(-time.Minute))

	prices.price = 64000
	if _, err := service.ResolveMarketByID(ctx, market.MarketID); err != nil {
		t.Fatalf("first resolution failed: %v", err)
	}
	if factory.resolveCalls != 1 {
		t.Fatalf("expected 1 chain resolution, got %d", factory.resolveCalls)
	}

	// Resolving again must be a no-op that never touches the chain.
	prices.price = 99999
	again, err := service.ResolveMarketByID(ctx, market.MarketID)
	if err != nil {
		t.Fatalf("second resolution failed: %v", err)
	}
	if factory.resolveCalls != 1 {
		t.Errorf("expected no second chain resolution, got %d", factory.resolveCalls)
	}
	if again.EndPrice == nil || *again.EndPrice != 64000 {
		t.Error("expected original end price preserved")
	}
	if again.Outcome == nil || *again.Outcome != models.BTCOutcomeDown {
		t.Error("expected DOWN outcome when end price is below start price")
	}
}

func TestResolveMarketUnchangedPriceIsDown(t *testing.T) {
	service, _, prices, db := newBTCTestService(t)
	ctx := context.Background()

	prices.price = 65000
	market, err := service.CreateScheduledMarket(ctx, 60)
	if err != nil {
		t.Fatalf("CreateScheduledMarket failed: %v", err)
	}
	db.Model(&models.BTCMarket{}).Where("id = ?", market.ID).
		Update("end_time", time.Now().UTC().Add(-time.Minute))

	// Price unchanged over the window resolves DOWN: UP requires a
	// strict increase.
	resolved, err := service.ResolveMarketByID(ctx, market.MarketID)
	if err != nil {
		t.Fatalf("resolution failed: %v", err)
	}
	if resolved.Outcome == nil || *resolved.Outcome != models.BTCOutcomeDown {
		t.Error("expected DOWN outcome on unchanged price")
	}
}

func TestResolveMarketByIDNotFound(t *testing.T) {
	service, _, _, _ := newBTCTestService(t)

	if _, err := service.ResolveMarketByID(context.Background(), 12345); !errors.Is(err, ErrBTCMarketNotFound) {
		t.Errorf("expected ErrBTCMarketNotFound, got %v", err)
	}
}

func TestPriceScaling(t *testing.T) {
	scaled := scalePrice(65000.5)
	if scaled.Cmp(big.NewInt(6500050000000)) != 0 {
		t.Errorf("unexpected scaled price %s", scaled)
	}
	if got := unscalePrice(scaled); got != 65000.5 {
		t.Errorf("round trip mismatch: %f", got)
	}

	// 4.35 * 1e8 lands just under 435000000 in float64; truncation would
	// lose a unit.
	if got := scalePrice(4.35); got.Cmp(big.NewInt(435000000)) != 0 {
		t.Errorf("expected rounded scale 435000000, got %s", got)
	}
}
