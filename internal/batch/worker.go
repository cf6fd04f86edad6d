package batch

import (
	"context" // Request scoped cancellation
	"errors"  // Error inspection
	"fmt"     // Error wrapping

	"dairy_delivery/internal/delivery" // Proof codes
	"dairy_delivery/internal/domain"   // Domain models
	"dairy_delivery/internal/notify"   // Notification dispatcher
	"dairy_delivery/internal/queue"    // Queue messages
	"dairy_delivery/internal/store"    // Unit of work

	"github.com/sirupsen/logrus" // Logging library
	"gorm.io/gorm"               // GORM ORM library
)

// Outcomes of processing a job
const (
	OutcomeCreated           = "CREATED"
	OutcomeDuplicateSkipped  = "DUPLICATE_SKIPPED"
	OutcomeInsufficientFunds = "SKIPPED_INSUFFICIENT_FUNDS"
	OutcomeInvalidJob        = "SKIPPED_INVALID_JOB"
)

// Debiter is the part of the wallet service the worker needs
type Debiter interface {
	Debit(uow store.UnitOfWork, ownerID uint, amount int64, referenceID string) (*domain.LedgerEntry, error)
}

// Result describes what a job did
type Result struct {
	Outcome    string `json:"outcome"`               // One of the Outcome constants
	DeliveryID uint   `json:"delivery_id,omitempty"` // Created or pre-existing delivery
	ProofCode  string `json:"proof_code,omitempty"`  // Issued code, only on creation
}

var errDuplicateDelivery = errors.New("delivery already exists")

// Worker fulfils delivery jobs idempotently
type Worker struct {
	store    *store.Store           // Relational store
	wallet   Debiter                // Wallet service
	notifier notify.Notifier        // Skipped-delivery notices
	newCode  func() (string, error) // Proof code generator
}

// NewWorker wires a worker
func NewWorker(st *store.Store, wallet Debiter, notifier notify.Notifier) *Worker {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Worker{store: st, wallet: wallet, notifier: notifier, newCode: delivery.NewProofCode}
}

// Process debits the subscriber, creates the delivery and issues its proof code
// in one unit. Redelivered jobs are no-ops. A wallet that cannot cover the price
// skips the day; any other failure is returned so the queue retries.
func (w *Worker) Process(ctx context.Context, job Job) (*Result, error) {
	fields := logrus.Fields{
		"subscription_id": job.SubscriptionID, // Subscription
		"user_id":         job.UserID,         // Subscriber
		"date":            job.Date,           // Delivery day
	}
	if _, err := domain.ParseDate(job.Date); err != nil || job.Price <= 0 || job.SubscriptionID == 0 {
		logrus.WithFields(fields).WithField("price", job.Price).Error("Invalid delivery job dropped")
		return &Result{Outcome: OutcomeInvalidJob}, nil
	}

	// Idempotency check before any money moves
	var existing domain.DailyDelivery
	if err := w.store.Read(ctx).
		Where("subscription_id = ? AND date = ?", job.SubscriptionID, job.Date).
		Limit(1).Find(&existing).Error; err != nil {
		return nil, err
	}
	if existing.ID != 0 {
		logrus.WithFields(fields).WithField("delivery_id", existing.ID).Info("Delivery already exists, job skipped")
		return &Result{Outcome: OutcomeDuplicateSkipped, DeliveryID: existing.ID}, nil
	}

	res := &Result{Outcome: OutcomeCreated}
	err := w.store.Transaction(ctx, func(uow store.UnitOfWork) error {
		ref := domain.DeliveryReference(job.Date, job.SubscriptionID)
		if _, err := w.wallet.Debit(uow, job.UserID, job.Price, ref); err != nil {
			return err
		}
		d := &domain.DailyDelivery{
			SubscriptionID: job.SubscriptionID,     // Subscription
			Date:           job.Date,               // Delivery day
			UserID:         job.UserID,             // Subscriber
			Locality:       job.Locality,           // Locality
			Address:        job.Address,            // Address snapshot
			Status:         domain.DeliveryPending, // Initial state
			DebitAmount:    job.Price,              // Refund basis
			ProofType:      domain.ProofTypeCode,   // Proven by code scan
		}
		if err := uow.DB().Create(d).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errDuplicateDelivery // A concurrent redelivery won
			}
			return err
		}
		code, err := w.newCode()
		if err != nil {
			return fmt.Errorf("generate proof code: %w", err)
		}
		pc := &domain.ProofCode{Code: code, DeliveryID: d.ID, Status: domain.ProofGenerated}
		if err := uow.DB().Create(pc).Error; err != nil {
			// Not wrapped: a code collision is retryable, not a duplicate delivery
			return fmt.Errorf("persist proof code: %v", err)
		}
		res.DeliveryID = d.ID
		res.ProofCode = code
		return nil
	})

	switch {
	case err == nil:
		logrus.WithFields(fields).WithFields(logrus.Fields{
			"delivery_id": res.DeliveryID, // New delivery
			"amount":      job.Price,      // Debited amount
		}).Info("Delivery created")
		return res, nil
	case errors.Is(err, domain.ErrInsufficientFunds):
		// Business rule: no funds, no delivery today. Not retried.
		logrus.WithFields(fields).WithField("amount", job.Price).Warn("Insufficient funds, delivery skipped")
		w.notifier.Notify(ctx, job.UserID, notify.EventDeliverySkipped, map[string]any{
			"subscription_id": job.SubscriptionID,
			"date":            job.Date,
			"amount":          job.Price,
		})
		return &Result{Outcome: OutcomeInsufficientFunds}, nil
	case errors.Is(err, errDuplicateDelivery), errors.Is(err, domain.ErrDuplicateReference):
		logrus.WithFields(fields).Info("Concurrent duplicate job rolled back")
		return &Result{Outcome: OutcomeDuplicateSkipped}, nil
	case errors.Is(err, domain.ErrWalletNotFound):
		logrus.WithFields(fields).WithField("operator_action", "required").Error("Subscriber has no wallet")
		return nil, err
	default:
		logrus.WithFields(fields).WithField("error", err.Error()).Error("Delivery job failed, rolled back")
		return nil, err
	}
}

// HandleMessage adapts Process to the queue consumer contract
func (w *Worker) HandleMessage(ctx context.Context, msg queue.Message) error {
	var job Job
	if err := msg.Decode(&job); err != nil {
		return fmt.Errorf("decode job %s: %w", msg.Key, err)
	}
	_, err := w.Process(ctx, job)
	return err
}

// HandleUnqueued lets the worker serve as the dispatcher's degraded fallback by running the job inline
func (w *Worker) HandleUnqueued(ctx context.Context, job Job) error {
	_, err := w.Process(ctx, job)
	return err
}
