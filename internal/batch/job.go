// Package batch turns eligible subscriptions into daily deliveries: the
// dispatcher fans out one queue job per subscription and the worker consumes
// them, debiting the wallet and creating the delivery with its proof code.
package batch

import (
	"fmt" // Key formatting

	"dairy_delivery/internal/domain" // Domain models
)

// Job is one subscription's delivery for one date, with the billing snapshot taken at dispatch
type Job struct {
	SubscriptionID uint   `json:"subscription_id"` // Subscription to fulfil
	UserID         uint   `json:"user_id"`         // Wallet owner
	Date           string `json:"date"`            // Delivery day, YYYY-MM-DD
	Locality       string `json:"locality"`        // Delivery locality
	Price          int64  `json:"price"`           // Amount to debit in minor units
	Address        string `json:"address"`         // Delivery address
}

// Key identifies the job; redeliveries of the same job share it
func (j Job) Key() string {
	return fmt.Sprintf("%d:%s", j.SubscriptionID, j.Date)
}

// JobFromSubscription snapshots price and address for a delivery date
func JobFromSubscription(s domain.Subscription, date string) Job {
	return Job{
		SubscriptionID: s.ID,
		UserID:         s.UserID,
		Date:           date,
		Locality:       s.Locality,
		Price:          s.DailyPrice(),
		Address:        s.Address,
	}
}
