package batch

import (
	"context" // Request scoped cancellation
	"fmt"     // Error wrapping

	"dairy_delivery/internal/domain" // Domain models

	"github.com/sirupsen/logrus" // Logging library
)

// Enqueuer is the durable queue as seen by the dispatcher
type Enqueuer interface {
	Enqueue(ctx context.Context, key string, payload any) error
}

// EligibilitySource lists the subscriptions due on a date
type EligibilitySource interface {
	GetEligibleSubscriptions(ctx context.Context, locality, date string) ([]domain.Subscription, error)
}

// Fallback receives jobs the queue refused. It carries no delivery guarantee.
type Fallback interface {
	HandleUnqueued(ctx context.Context, job Job) error
}

// Summary reports one dispatch run
type Summary struct {
	Date     string `json:"date"`     // Delivery day
	Locality string `json:"locality"` // Locality
	Eligible int    `json:"eligible"` // Eligible subscriptions
	Enqueued int    `json:"enqueued"` // Jobs accepted by the queue
	Degraded int    `json:"degraded"` // Jobs the queue refused
	Failed   int    `json:"failed"`   // Degraded jobs the fallback also failed
}

// Dispatcher fans eligible subscriptions out to the queue
type Dispatcher struct {
	source   EligibilitySource // Eligibility resolver
	queue    Enqueuer          // Delivery queue
	fallback Fallback          // Optional degraded path
}

// NewDispatcher wires a dispatcher; fallback may be nil
func NewDispatcher(source EligibilitySource, queue Enqueuer, fallback Fallback) *Dispatcher {
	return &Dispatcher{source: source, queue: queue, fallback: fallback}
}

// GenerateDeliveriesForDate enqueues one job per eligible subscription and returns
// without waiting for any of them to run.
func (d *Dispatcher) GenerateDeliveriesForDate(ctx context.Context, date, locality string) (*Summary, error) {
	if _, err := domain.ParseDate(date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	subs, err := d.source.GetEligibleSubscriptions(ctx, locality, date)
	if err != nil {
		return nil, fmt.Errorf("resolve eligible subscriptions: %w", err)
	}
	sum := &Summary{Date: date, Locality: locality, Eligible: len(subs)}
	for _, s := range subs {
		job := JobFromSubscription(s, date)
		if err := d.queue.Enqueue(ctx, job.Key(), job); err != nil {
			sum.Degraded++
			d.degrade(ctx, job, err, sum)
			continue
		}
		sum.Enqueued++
	}
	logrus.WithFields(logrus.Fields{
		"date":     date,         // Delivery day
		"locality": locality,     // Locality
		"eligible": sum.Eligible, // Eligible subscriptions
		"enqueued": sum.Enqueued, // Enqueued jobs
		"degraded": sum.Degraded, // Queue refusals
	}).Info("Delivery batch dispatched")
	return sum, nil
}

// degrade logs the refused job loudly and hands it to the fallback, if any
func (d *Dispatcher) degrade(ctx context.Context, job Job, cause error, sum *Summary) {
	entry := logrus.WithFields(logrus.Fields{
		"subscription_id": job.SubscriptionID, // Subscription
		"date":            job.Date,           // Delivery day
		"locality":        job.Locality,       // Locality
		"error":           cause.Error(),      // Queue error
	})
	if d.fallback == nil {
		entry.Warn("Queue unavailable, job not dispatched (degraded, no fallback)")
		return
	}
	entry.Warn("Queue unavailable, using degraded fallback")
	if err := d.fallback.HandleUnqueued(ctx, job); err != nil {
		sum.Failed++
		entry.WithField("fallback_error", err.Error()).Error("Degraded fallback failed")
	}
}
