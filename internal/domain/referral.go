package domain

import "time"

// Referral statuses
const (
	ReferralPending   = "PENDING"
	ReferralCompleted = "COMPLETED"
)

// Referral Model
type Referral struct {
	ID          uint       `gorm:"primaryKey" json:"id"`                   // Primary key
	ReferrerID  uint       `gorm:"index;not null" json:"referrer_id"`      // User who referred
	RefereeID   uint       `gorm:"uniqueIndex;not null" json:"referee_id"` // Referred user, referred at most once
	Status      string     `gorm:"size:16;not null" json:"status"`         // PENDING or COMPLETED
	Reward      int64      `gorm:"not null" json:"reward"`                 // Bonus per side in minor units
	CompletedAt *time.Time `json:"completed_at,omitempty"`                 // Set on completion
	CreatedAt   time.Time  `json:"created_at"`                             // Creation timestamp
}
