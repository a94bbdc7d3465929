package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BTC market outcomes. 0 means the price went up over the interval.
const (
	BTCOutcomeUp   int16 = 0
	BTCOutcomeDown int16 = 1
)

// BTCMarketIntervals are the scheduled market durations in minutes.
var BTCMarketIntervals = []int{15, 60, 360, 720}

// BTCMarket is one fixed-duration up/down market on the BTC/USD feed.
// Resolved markets always carry an end price and an outcome.
type BTCMarket struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MarketID        int64      `gorm:"uniqueIndex;not null" json:"market_id"`
	ContractAddress string     `gorm:"size:255;not null;index" json:"contract_address"`
	Interval        int        `gorm:"not null;index" json:"interval"`
	StartTime       time.Time  `gorm:"not null" json:"start_time"`
	EndTime         time.Time  `gorm:"not null;index" json:"end_time"`
	StartPrice      float64    `gorm:"type:decimal(20,8);not null" json:"start_price"`
	EndPrice        *float64   `gorm:"type:decimal(20,8)" json:"end_price,omitempty"`
	Resolved        bool       `gorm:"default:false;index" json:"resolved"`
	Outcome         *int16     `json:"outcome,omitempty"`
	CreatedAt       time.Time  `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

func (BTCMarket) TableName() string {
	return "btc_markets"
}

// BeforeCreate fills the id client-side for databases without
// gen_random_uuid().
func (m *BTCMarket) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
