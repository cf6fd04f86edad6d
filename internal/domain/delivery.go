package domain

import "time"

// Delivery statuses
const (
	DeliveryPending        = "PENDING"
	DeliveryOutForDelivery = "OUT_FOR_DELIVERY"
	DeliveryDelivered      = "DELIVERED"
	DeliveryMissed         = "MISSED"
	DeliveryException      = "EXCEPTION"
)

// ProofTypeCode marks deliveries confirmed by a scanned proof code
const ProofTypeCode = "CODE"

// DailyDelivery Model, at most one per subscription per date
type DailyDelivery struct {
	ID              uint       `gorm:"primaryKey" json:"id"`                                                 // Primary key
	SubscriptionID  uint       `gorm:"not null;uniqueIndex:idx_delivery_sub_date" json:"subscription_id"`    // Foreign key to Subscription
	Date            string     `gorm:"size:10;not null;uniqueIndex:idx_delivery_sub_date;index" json:"date"` // Delivery day, YYYY-MM-DD
	UserID          uint       `gorm:"index;not null" json:"user_id"`                                        // Subscriber, owner of the debited wallet
	Locality        string     `gorm:"size:64;index;not null" json:"locality"`                               // Delivery locality
	Address         string     `gorm:"size:255" json:"address"`                                              // Address snapshot at dispatch
	Status          string     `gorm:"size:20;not null" json:"status"`                                       // Delivery state
	DebitAmount     int64      `gorm:"not null" json:"debit_amount"`                                         // Amount debited, basis for refunds
	ProofType       string     `gorm:"size:16;not null" json:"proof_type"`                                   // How delivery is proven
	AssignedStaffID *uint      `gorm:"index" json:"assigned_staff_id,omitempty"`                             // Staff member on the route
	ExceptionReason string     `gorm:"size:255" json:"exception_reason,omitempty"`                           // Reason given for a miss
	DeliveredAt     *time.Time `json:"delivered_at,omitempty"`                                               // Set on DELIVERED
	CreatedAt       time.Time  `json:"created_at"`                                                           // Creation timestamp
	UpdatedAt       time.Time  `json:"updated_at"`                                                           // Last status change
}

// TableName pins the delivery table name
func (DailyDelivery) TableName() string {
	return "daily_deliveries"
}
