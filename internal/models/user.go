package models

import (
	"time"
)

// User represents a wallet that has interacted with the platform.
// Wallet addresses are lower-cased before storage and lookup.
type User struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	WalletAddress string    `gorm:"uniqueIndex;not null" json:"wallet_address"`
	TwitterHandle *string   `gorm:"index" json:"twitter_handle,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName specifies the table name for User model
func (User) TableName() string {
	return "users"
}
