package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MarketPosition tracks a user's holdings for one (market, user, outcome).
// It mirrors on-chain balances as best-effort bookkeeping; rows are deleted
// once the amount decays to ~0.
type MarketPosition struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MarketID     uint      `gorm:"not null;index:idx_position_key,unique" json:"market_id"`
	UserAddress  string    `gorm:"size:255;not null;index:idx_position_key,unique" json:"user_address"`
	OutcomeIndex int       `gorm:"not null;index:idx_position_key,unique" json:"outcome_index"`
	Amount       float64   `gorm:"type:decimal(20,8);not null" json:"amount"`
	AvgPrice     float64   `gorm:"type:decimal(10,6);not null" json:"avg_price"`
	CreatedAt    time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (MarketPosition) TableName() string {
	return "market_positions"
}

// BeforeCreate fills the id client-side for databases without
// gen_random_uuid().
func (p *MarketPosition) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// UpdatePositionRequest is the position-path trade notification.
type UpdatePositionRequest struct {
	UserAddress  string  `json:"user_address" binding:"required"`
	OutcomeIndex int     `json:"outcome_index"`
	AmountChange float64 `json:"amount_change" binding:"required"`
	Price        float64 `json:"price" binding:"required,gt=0"`
}
