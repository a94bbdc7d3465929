package models

import (
	"time"
)

type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// OpinionMarket represents a single prediction market.
// Volume only ever increases; ContractAddress stays nil until the market
// is deployed on-chain.
type OpinionMarket struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	Question        string          `gorm:"size:500;not null" json:"question"`
	Description     string          `gorm:"type:text" json:"description"`
	Category        string          `gorm:"size:50;index" json:"category"`
	ContractAddress *string         `gorm:"size:255" json:"contract_address,omitempty"`
	Deadline        time.Time       `json:"deadline"`
	ApprovalStatus  ApprovalStatus  `gorm:"size:50;default:pending;index" json:"approval_status"`
	RejectionReason *string         `gorm:"type:text" json:"rejection_reason,omitempty"`
	Resolved        bool            `gorm:"default:false;index" json:"resolved"`
	Volume          float64         `gorm:"type:decimal(20,8);default:0" json:"volume"`
	CreatorID       uint            `gorm:"not null;index" json:"creator_id"`
	Creator         *Creator        `gorm:"foreignKey:CreatorID" json:"creator,omitempty"`
	Outcomes        []MarketOutcome `gorm:"foreignKey:MarketID" json:"outcomes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
}

func (OpinionMarket) TableName() string {
	return "opinion_markets"
}

// MarketOutcome is one side of a binary market. Index 0 is "Yes", index 1
// is "No"; the two current prices always sum to 1, enforced by the update
// path rather than a stored constraint.
type MarketOutcome struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	MarketID     uint      `gorm:"not null;index:idx_market_outcome,unique" json:"market_id"`
	OutcomeIndex int       `gorm:"not null;index:idx_market_outcome,unique" json:"outcome_index"`
	Label        string    `gorm:"size:50;not null" json:"label"`
	CurrentPrice float64   `gorm:"type:decimal(10,6);default:0.5" json:"current_price"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (MarketOutcome) TableName() string {
	return "market_outcomes"
}

// CreateMarketRequest is the payload to request a new market.
type CreateMarketRequest struct {
	WalletAddress string    `json:"wallet_address" binding:"required"`
	Question      string    `json:"question" binding:"required"`
	Description   string    `json:"description"`
	Category      string    `json:"category"`
	Deadline      time.Time `json:"deadline" binding:"required"`
}

// RecordTradeRequest is the trade notification payload. Exactly one of the
// two reporting paths (volume update or position update) should carry a
// given trade.
type RecordTradeRequest struct {
	MarketID     uint     `json:"market_id" binding:"required"`
	TradeVolume  float64  `json:"trade_volume" binding:"required,gt=0"`
	OutcomeIndex *int     `json:"outcome_index"`
	Price        *float64 `json:"price"`
}

// CreationSignature is the time-boxed authorization redeemed by the
// on-chain contract to deploy a market.
type CreationSignature struct {
	Signature  string `json:"signature"`
	FeeAmount  string `json:"fee_amount"`
	Deadline   int64  `json:"deadline"`
	QuestionID uint   `json:"question_id"`
}
