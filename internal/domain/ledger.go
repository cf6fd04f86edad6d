package domain

import (
	"strconv" // Integer formatting for reference ids
	"time"    // Timestamps
)

// Ledger directions
const (
	DirectionCredit = "CREDIT"
	DirectionDebit  = "DEBIT"
)

// Ledger entry types
const (
	TypeDeliveryCharge = "DELIVERY_CHARGE" // Daily subscription debit
	TypeRolloverRefund = "ROLLOVER_REFUND" // Compensation for a missed delivery
	TypeTopUp          = "TOPUP"           // Customer prepayment
	TypeReferralBonus  = "REFERRAL_BONUS"  // Referral completion payout
	TypeStreakBonus    = "STREAK_BONUS"    // Consecutive-delivery payout
)

// LedgerEntry Model, append-only
type LedgerEntry struct {
	ID           uint      `gorm:"primaryKey" json:"id"`                              // Primary key
	WalletID     uint      `gorm:"index;not null" json:"wallet_id"`                   // Foreign key to Wallet
	Amount       int64     `gorm:"not null" json:"amount"`                            // Signed amount, negative for debits
	Direction    string    `gorm:"size:6;not null" json:"direction"`                  // CREDIT or DEBIT
	Type         string    `gorm:"size:32;not null;index" json:"type"`                // Entry type
	ReferenceID  string    `gorm:"size:128;not null;uniqueIndex" json:"reference_id"` // Idempotency reference
	BalanceAfter int64     `gorm:"not null" json:"balance_after"`                     // Balance snapshot after this entry
	CreatedAt    time.Time `gorm:"index" json:"created_at"`                           // Timestamp of creation
}

// TableName pins the ledger table name
func (LedgerEntry) TableName() string {
	return "wallet_ledger"
}

// DeliveryReference is the debit reference of a subscription's delivery on a date
func DeliveryReference(date string, subscriptionID uint) string {
	return "DELIVERY-" + date + "-" + strconv.FormatUint(uint64(subscriptionID), 10)
}

// RefundReference is derived from the delivery id so a second refund is detectable
func RefundReference(deliveryID uint) string {
	return "REFUND-" + strconv.FormatUint(uint64(deliveryID), 10)
}

// ReferralReference scopes a referral payout to one side of one referral
func ReferralReference(referralID uint, side string) string {
	return "REFERRAL-" + strconv.FormatUint(uint64(referralID), 10) + "-" + side
}

// StreakReference scopes a streak payout to a user and the day it was earned
func StreakReference(userID uint, date string) string {
	return "STREAK-" + strconv.FormatUint(uint64(userID), 10) + "-" + date
}

// TopUpReference scopes a client supplied top-up key to its owner
func TopUpReference(ownerID uint, clientRef string) string {
	return "TOPUP-" + strconv.FormatUint(uint64(ownerID), 10) + "-" + clientRef
}
