package domain

import "time"

// Subscription statuses
const (
	SubscriptionActive    = "ACTIVE"
	SubscriptionPaused    = "PAUSED"
	SubscriptionCancelled = "CANCELLED"
)

// Product Model, read-only from this system's point of view
type Product struct {
	ID    uint   `gorm:"primaryKey" json:"id"`          // Primary key
	Name  string `gorm:"size:128;not null" json:"name"` // Product name
	Price int64  `gorm:"not null" json:"price"`         // Unit price in minor units
}

// Subscription Model
type Subscription struct {
	ID           uint          `gorm:"primaryKey" json:"id"`                   // Primary key
	UserID       uint          `gorm:"index;not null" json:"user_id"`          // Subscriber
	ProductID    uint          `gorm:"not null" json:"product_id"`             // Subscribed product
	Product      Product       `json:"product"`                                // Product relation
	Quantity     int           `gorm:"not null;default:1" json:"quantity"`     // Units per day
	Locality     string        `gorm:"size:64;index;not null" json:"locality"` // Delivery locality
	Address      string        `gorm:"size:255" json:"address"`                // Delivery address
	Status       string        `gorm:"size:16;index;not null" json:"status"`   // ACTIVE, PAUSED or CANCELLED
	StartDate    string        `gorm:"size:10;not null" json:"start_date"`     // First delivery day, YYYY-MM-DD
	PauseWindows []PauseWindow `json:"pause_windows,omitempty"`                // Bounded pauses
	CreatedAt    time.Time     `json:"created_at"`                             // Creation timestamp
}

// DailyPrice is the amount charged for one day of this subscription
func (s Subscription) DailyPrice() int64 {
	return s.Product.Price * int64(s.Quantity)
}

// PauseWindow Model, an inclusive [StartDate, EndDate] range with no deliveries
type PauseWindow struct {
	ID             uint   `gorm:"primaryKey" json:"id"`                  // Primary key
	SubscriptionID uint   `gorm:"index;not null" json:"subscription_id"` // Foreign key to Subscription
	StartDate      string `gorm:"size:10;not null" json:"start_date"`    // First paused day
	EndDate        string `gorm:"size:10;not null" json:"end_date"`      // Last paused day
}
