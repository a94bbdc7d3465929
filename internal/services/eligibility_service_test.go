package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"opinion-market/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Creator{},
		&models.CreatorShare{},
		&models.OpinionMarket{},
		&models.MarketOutcome{},
		&models.MarketPosition{},
		&models.BTCMarket{},
	)
	if err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	// cache=shared keeps one database for the whole process, so every test
	// starts by clearing it.
	for _, table := range []string{
		"market_positions", "market_outcomes", "opinion_markets",
		"creator_shares", "creators", "btc_markets", "users",
	} {
		db.Exec("DELETE FROM " + table)
	}

	return db
}

func createTestCreator(t *testing.T, db *gorm.DB, wallet, handle string) *models.Creator {
	t.Helper()

	user := models.User{WalletAddress: wallet}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	now := time.Now()
	creator := models.Creator{
		UserID:        user.ID,
		TwitterHandle: handle,
		Qualified:     true,
		Status:        models.CreatorStatusApproved,
		ApprovedAt:    &now,
	}
	if err := db.Create(&creator).Error; err != nil {
		t.Fatalf("failed to create creator: %v", err)
	}
	return &creator
}

func createTestMarket(t *testing.T, db *gorm.DB, creatorID uint, status models.ApprovalStatus, volume float64) *models.OpinionMarket {
	t.Helper()

	market := models.OpinionMarket{
		Question:       fmt.Sprintf("Test market %d", time.Now().UnixNano()),
		Deadline:       time.Now().Add(24 * time.Hour),
		ApprovalStatus: status,
		Volume:         volume,
		CreatorID:      creatorID,
	}
	if err := db.Create(&market).Error; err != nil {
		t.Fatalf("failed to create market: %v", err)
	}
	return &market
}

func TestCheckEligibility(t *testing.T) {
	cases := []struct {
		name       string
		followers  int
		engagement float64
		want       bool
	}{
		{"both at threshold", 10, 1.0, true},
		{"both above", 5000, 3.2, true},
		{"followers below", 9, 5.0, false},
		{"engagement below", 1000, 0.99, false},
		{"both below", 3, 0.1, false},
		{"zero everything", 0, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CheckEligibility(tc.followers, tc.engagement)
			if got != tc.want {
				t.Errorf("CheckEligibility(%d, %f) = %v, want %v", tc.followers, tc.engagement, got, tc.want)
			}
		})
	}
}

func TestCheckVolumeEligibility(t *testing.T) {
	db := setupTestDB(t)
	service := NewEligibilityService(db)
	ctx := context.Background()

	creator := createTestCreator(t, db, "0xaaa1", "volume_creator")
	createTestMarket(t, db, creator.ID, models.ApprovalStatusApproved, 15000)
	createTestMarket(t, db, creator.ID, models.ApprovalStatusApproved, 14999.99)
	// Pending markets never count toward the threshold.
	createTestMarket(t, db, creator.ID, models.ApprovalStatusPending, 50000)

	result, err := service.CheckVolumeEligibility(ctx, creator.UserID)
	if err != nil {
		t.Fatalf("CheckVolumeEligibility failed: %v", err)
	}
	if result.Eligible {
		t.Errorf("expected not eligible at volume %f", result.Volume)
	}
	if result.Volume != 29999.99 {
		t.Errorf("expected volume 29999.99, got %f", result.Volume)
	}
	if len(result.Details) != 2 {
		t.Errorf("expected 2 market details, got %d", len(result.Details))
	}

	// Push the total to exactly the threshold.
	createTestMarket(t, db, creator.ID, models.ApprovalStatusApproved, 0.01)

	result, err = service.CheckVolumeEligibility(ctx, creator.UserID)
	if err != nil {
		t.Fatalf("CheckVolumeEligibility failed: %v", err)
	}
	if !result.Eligible {
		t.Errorf("expected eligible at volume %f", result.Volume)
	}
}

func TestCheckVolumeEligibilityNoCreator(t *testing.T) {
	db := setupTestDB(t)
	service := NewEligibilityService(db)

	result, err := service.CheckVolumeEligibility(context.Background(), 9999)
	if err != nil {
		t.Fatalf("CheckVolumeEligibility failed: %v", err)
	}
	if result.Eligible {
		t.Error("expected not eligible for unknown user")
	}
	if result.Volume != 0 {
		t.Errorf("expected zero volume, got %f", result.Volume)
	}
}

func TestCanCreateMarketActiveGate(t *testing.T) {
	db := setupTestDB(t)
	service := NewEligibilityService(db)
	ctx := context.Background()

	creator := createTestCreator(t, db, "0xaaa2", "active_gate")
	market := createTestMarket(t, db, creator.ID, models.ApprovalStatusApproved, 0)
	// Move creation out of today so only the active gate can fire.
	db.Model(market).Update("created_at", time.Now().UTC().Add(-48*time.Hour))

	allowance, err := service.CanCreateMarket(ctx, creator.ID)
	if err != nil {
		t.Fatalf("CanCreateMarket failed: %v", err)
	}
	if allowance.Allowed {
		t.Error("expected active market to block creation")
	}
	if allowance.Reason != "creator already has an active market" {
		t.Errorf("unexpected reason: %q", allowance.Reason)
	}

	// Resolving the market clears the active gate.
	db.Model(market).Update("resolved", true)

	allowance, err = service.CanCreateMarket(ctx, creator.ID)
	if err != nil {
		t.Fatalf("CanCreateMarket failed: %v", err)
	}
	if !allowance.Allowed {
		t.Errorf("expected creation allowed, got reason %q", allowance.Reason)
	}
}

func TestCanCreateMarketDailyGate(t *testing.T) {
	db := setupTestDB(t)
	service := NewEligibilityService(db)
	ctx := context.Background()

	creator := createTestCreator(t, db, "0xaaa3", "daily_gate")
	// Resolved, so the active gate passes; created today, so the daily
	// gate fires.
	market := createTestMarket(t, db, creator.ID, models.ApprovalStatusApproved, 0)
	db.Model(market).Update("resolved", true)

	allowance, err := service.CanCreateMarket(ctx, creator.ID)
	if err != nil {
		t.Fatalf("CanCreateMarket failed: %v", err)
	}
	if allowance.Allowed {
		t.Error("expected today's market to block creation")
	}
	if allowance.Reason != "creator already created a market today" {
		t.Errorf("unexpected reason: %q", allowance.Reason)
	}
}

func TestCanCreateMarketFreshCreator(t *testing.T) {
	db := setupTestDB(t)
	service := NewEligibilityService(db)

	creator := createTestCreator(t, db, "0xaaa4", "fresh_creator")

	allowance, err := service.CanCreateMarket(context.Background(), creator.ID)
	if err != nil {
		t.Fatalf("CanCreateMarket failed: %v", err)
	}
	if !allowance.Allowed {
		t.Errorf("expected fresh creator allowed, got reason %q", allowance.Reason)
	}
}
