package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CreatorStatus string

const (
	CreatorStatusPending  CreatorStatus = "pending"
	CreatorStatusApproved CreatorStatus = "approved"
)

// Creator is the one-to-one creator profile for a user.
type Creator struct {
	ID              uint          `gorm:"primaryKey" json:"id"`
	UserID          uint          `gorm:"uniqueIndex;not null" json:"user_id"`
	User            *User         `gorm:"foreignKey:UserID" json:"user,omitempty"`
	TwitterHandle   string        `gorm:"size:255;not null;index" json:"twitter_handle"`
	DisplayName     string        `gorm:"size:255" json:"display_name"`
	ProfileImageURL string        `gorm:"size:500" json:"profile_image_url"`
	Qualified       bool          `gorm:"default:false" json:"qualified"`
	Status          CreatorStatus `gorm:"size:50;default:pending;index" json:"status"`
	ApprovedAt      *time.Time    `json:"approved_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (Creator) TableName() string {
	return "creators"
}

// CreatorShare caches the on-chain share token state for a creator.
// The authoritative supply/price lives on-chain; these columns are informational.
type CreatorShare struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	CreatorID       uint            `gorm:"uniqueIndex;not null" json:"creator_id"`
	Creator         *Creator        `gorm:"foreignKey:CreatorID" json:"creator,omitempty"`
	ContractAddress string          `gorm:"size:255;not null" json:"contract_address"`
	TotalSupply     decimal.Decimal `gorm:"type:decimal(30,8);default:0" json:"total_supply"`
	CurrentPrice    decimal.Decimal `gorm:"type:decimal(20,8);default:0" json:"current_price"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (CreatorShare) TableName() string {
	return "creator_shares"
}

// CreateCreatorRequest is the payload to register a creator profile.
type CreateCreatorRequest struct {
	WalletAddress   string `json:"wallet_address" binding:"required"`
	TwitterHandle   string `json:"twitter_handle" binding:"required"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

// CreateShareRequest registers a deployed share contract for a creator.
type CreateShareRequest struct {
	CreatorID       uint   `json:"creator_id" binding:"required"`
	ContractAddress string `json:"contract_address" binding:"required"`
}

// UpdateShareRequest refreshes the cached supply/price of a share.
type UpdateShareRequest struct {
	CreatorID    uint            `json:"creator_id" binding:"required"`
	TotalSupply  decimal.Decimal `json:"total_supply"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}
