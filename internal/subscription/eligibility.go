package subscription

import (
	"context" // Request scoped cancellation

	"dairy_delivery/internal/domain" // Domain models
	"dairy_delivery/internal/store"  // Relational store
)

// Resolver computes which subscriptions receive a delivery on a date
type Resolver struct {
	store *store.Store // Relational store
}

// NewResolver creates a resolver over the store
func NewResolver(st *store.Store) *Resolver {
	return &Resolver{store: st}
}

// GetEligibleSubscriptions returns ACTIVE subscriptions of locality that started
// on or before date and have no pause window covering date (bounds inclusive).
// Subscriptions with status PAUSED are excluded by the status filter alone.
func (r *Resolver) GetEligibleSubscriptions(ctx context.Context, locality, date string) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	err := r.store.Read(ctx).
		Preload("Product").
		Where("status = ?", domain.SubscriptionActive).
		Where("locality = ?", locality).
		Where("start_date <= ?", date). // YYYY-MM-DD compares lexically
		Where("NOT EXISTS (SELECT 1 FROM pause_windows pw WHERE pw.subscription_id = subscriptions.id AND pw.start_date <= ? AND pw.end_date >= ?)", date, date).
		Order("id").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}
