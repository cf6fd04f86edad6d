package domain

import "time"

// Wallet Model
type Wallet struct {
	ID        uint      `gorm:"primaryKey" json:"id"`                 // Primary key
	OwnerID   uint      `gorm:"uniqueIndex;not null" json:"owner_id"` // Foreign key to User, one wallet per user
	Balance   int64     `gorm:"not null;default:0" json:"balance"`    // Balance in minor units, cache of the ledger sum
	Currency  string    `gorm:"size:3;not null" json:"currency"`      // ISO 4217 code
	CreatedAt time.Time `json:"created_at"`                           // Creation timestamp
	UpdatedAt time.Time `json:"updated_at"`                           // Last balance mutation
}
