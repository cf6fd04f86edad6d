package domain

import "time"

// Proof code statuses
const (
	ProofGenerated = "GENERATED"
	ProofScanned   = "SCANNED"
	ProofVoid      = "VOID"
)

// ProofCode Model, single use; immutable once SCANNED
type ProofCode struct {
	ID         uint       `gorm:"primaryKey" json:"id"`                     // Primary key
	Code       string     `gorm:"size:32;uniqueIndex;not null" json:"code"` // Random code shown to the customer
	DeliveryID uint       `gorm:"uniqueIndex;not null" json:"delivery_id"`  // Exactly one linked delivery
	Status     string     `gorm:"size:16;not null" json:"status"`           // GENERATED, SCANNED or VOID
	ScannedAt  *time.Time `json:"scanned_at,omitempty"`                     // When it was redeemed
	ScannerID  *uint      `json:"scanner_id,omitempty"`                     // Staff who redeemed it
	CreatedAt  time.Time  `json:"created_at"`                               // Creation timestamp
}
