// Package proof closes out deliveries in the field: redeeming proof codes,
// reporting misses with a compensating refund, and starting routes.
//
// Replays are answers, not errors. A second scan of the same code reports
// ALREADY_SCANNED and a second miss report for the same delivery reports
// ALREADY_REFUNDED, so field devices can retry blindly.
package proof

import (
	"context" // Request scoped cancellation
	"errors"  // Error inspection
	"fmt"     // Error wrapping
	"strings" // Code normalisation
	"time"    // Scan timestamps

	"dairy_delivery/internal/delivery" // Status rules
	"dairy_delivery/internal/domain"   // Domain models
	"dairy_delivery/internal/notify"   // Notification dispatcher
	"dairy_delivery/internal/rewards"  // Reward hook event
	"dairy_delivery/internal/store"    // Unit of work

	"github.com/sirupsen/logrus" // Logging library
	"gorm.io/gorm"               // GORM ORM library
)

// Result statuses
const (
	StatusDelivered       = "DELIVERED"
	StatusAlreadyScanned  = "ALREADY_SCANNED"
	StatusMissed          = "MISSED"
	StatusAlreadyRefunded = "ALREADY_REFUNDED"
)

// Ledger is the part of the wallet service used for refunds
type Ledger interface {
	Credit(uow store.UnitOfWork, ownerID uint, amount int64, referenceID, creditType string) (*domain.LedgerEntry, error)
	HasEntry(uow store.UnitOfWork, referenceID string) (bool, error)
}

// RewardHook runs inside the verification unit of work
type RewardHook interface {
	Process(uow store.UnitOfWork, ev rewards.Event) error
}

// Result is the structured answer returned to field devices
type Result struct {
	Status       string `json:"status"`                  // One of the Status constants
	DeliveryID   uint   `json:"delivery_id"`             // Affected delivery
	RefundAmount int64  `json:"refund_amount,omitempty"` // Credited on a miss
}

// Service verifies proofs and records exceptions
type Service struct {
	store    *store.Store    // Relational store
	wallet   Ledger          // Refund path
	rewards  RewardHook      // Post-delivery rewards, may be nil
	notifier notify.Notifier // Customer notices
}

// NewService wires the verification service
func NewService(st *store.Store, wallet Ledger, hook RewardHook, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{store: st, wallet: wallet, rewards: hook, notifier: notifier}
}

// VerifyProof redeems a proof code and marks its delivery DELIVERED
func (s *Service) VerifyProof(ctx context.Context, code string, staffID uint) (*Result, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	var res *Result
	err := s.store.Transaction(ctx, func(uow store.UnitOfWork) error {
		var pc domain.ProofCode
		if err := uow.ForUpdate().Where("code = ?", code).Limit(1).Find(&pc).Error; err != nil {
			return err
		}
		if pc.ID == 0 {
			return domain.ErrInvalidCode
		}
		switch pc.Status {
		case domain.ProofScanned:
			res = &Result{Status: StatusAlreadyScanned, DeliveryID: pc.DeliveryID}
			return nil
		case domain.ProofVoid:
			return domain.ErrCouponVoid
		}

		d, err := lockDelivery(uow, pc.DeliveryID)
		if err != nil {
			return err
		}
		if err := delivery.ValidateTransition(d.Status, domain.DeliveryDelivered); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := uow.DB().Model(&domain.ProofCode{}).Where("id = ?", pc.ID).Updates(map[string]any{
			"status":     domain.ProofScanned,
			"scanned_at": now,
			"scanner_id": staffID,
		}).Error; err != nil {
			return err
		}
		if err := uow.DB().Model(&domain.DailyDelivery{}).Where("id = ?", d.ID).Updates(map[string]any{
			"status":       domain.DeliveryDelivered,
			"delivered_at": now,
		}).Error; err != nil {
			return err
		}
		if s.rewards != nil {
			if err := s.rewards.Process(uow, rewards.Event{UserID: d.UserID, DeliveryID: d.ID, Date: d.Date}); err != nil {
				return err
			}
		}
		uow.AfterCommit(func() {
			s.notifier.Notify(ctx, d.UserID, notify.EventDeliveryDone, map[string]any{
				"delivery_id": d.ID,
				"date":        d.Date,
			})
		})
		res = &Result{Status: StatusDelivered, DeliveryID: d.ID}
		return nil
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"staff_id": staffID,     // Scanner
			"error":    err.Error(), // Error message
		}).Warn("Proof verification rejected")
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"staff_id":    staffID,        // Scanner
		"delivery_id": res.DeliveryID, // Delivery
		"status":      res.Status,     // Outcome
	}).Info("Proof verified")
	return res, nil
}

// ReportException marks a delivery MISSED and refunds its debit exactly once.
// The refund reference is derived from the delivery id, so a retried report
// finds the earlier refund and answers ALREADY_REFUNDED without crediting again.
func (s *Service) ReportException(ctx context.Context, deliveryID uint, reason string, staffID uint, staffLocality string) (*Result, error) {
	var res *Result
	err := s.store.Transaction(ctx, func(uow store.UnitOfWork) error {
		d, err := lockDelivery(uow, deliveryID)
		if err != nil {
			return err
		}
		if d.Locality != staffLocality || (d.AssignedStaffID != nil && *d.AssignedStaffID != staffID) {
			return domain.ErrAccessDenied
		}
		refundRef := domain.RefundReference(d.ID)
		refunded, err := s.wallet.HasEntry(uow, refundRef)
		if err != nil {
			return err
		}
		if refunded {
			res = &Result{Status: StatusAlreadyRefunded, DeliveryID: d.ID}
			return nil
		}
		if err := delivery.ValidateTransition(d.Status, domain.DeliveryMissed); err != nil {
			return err
		}
		if err := uow.DB().Model(&domain.DailyDelivery{}).Where("id = ?", d.ID).Updates(map[string]any{
			"status":            domain.DeliveryMissed,
			"exception_reason":  reason,
			"assigned_staff_id": staffID,
		}).Error; err != nil {
			return err
		}
		// The code can no longer prove a delivery that did not happen
		if err := uow.DB().Model(&domain.ProofCode{}).
			Where("delivery_id = ? AND status = ?", d.ID, domain.ProofGenerated).
			Update("status", domain.ProofVoid).Error; err != nil {
			return err
		}
		if _, err := s.wallet.Credit(uow, d.UserID, d.DebitAmount, refundRef, domain.TypeRolloverRefund); err != nil {
			return err
		}
		uow.AfterCommit(func() {
			s.notifier.Notify(ctx, d.UserID, notify.EventDeliveryMissed, map[string]any{
				"delivery_id": d.ID,
				"date":        d.Date,
				"reason":      reason,
				"refund":      d.DebitAmount,
			})
		})
		res = &Result{Status: StatusMissed, DeliveryID: d.ID, RefundAmount: d.DebitAmount}
		return nil
	})
	fields := logrus.Fields{
		"delivery_id": deliveryID, // Delivery
		"staff_id":    staffID,    // Reporter
	}
	if err != nil {
		logrus.WithFields(fields).WithField("error", err.Error()).Warn("Exception report rejected")
		return nil, err
	}
	logrus.WithFields(fields).WithFields(logrus.Fields{
		"status": res.Status,       // Outcome
		"refund": res.RefundAmount, // Credited amount
	}).Info("Delivery exception recorded")
	return res, nil
}

// RouteResult lists deliveries handed to a staff member
type RouteResult struct {
	Date        string `json:"date"`         // Delivery day
	Locality    string `json:"locality"`     // Locality
	DeliveryIDs []uint `json:"delivery_ids"` // Now OUT_FOR_DELIVERY
}

// StartRoute assigns the locality's PENDING deliveries for date to staffID and
// moves them OUT_FOR_DELIVERY
func (s *Service) StartRoute(ctx context.Context, staffID uint, staffLocality, date string) (*RouteResult, error) {
	if _, err := domain.ParseDate(date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	out := &RouteResult{Date: date, Locality: staffLocality, DeliveryIDs: []uint{}}
	err := s.store.Transaction(ctx, func(uow store.UnitOfWork) error {
		var pending []domain.DailyDelivery
		if err := uow.ForUpdate().
			Where("locality = ? AND date = ? AND status = ?", staffLocality, date, domain.DeliveryPending).
			Order("id").Find(&pending).Error; err != nil {
			return err
		}
		for _, d := range pending {
			if err := delivery.ValidateTransition(d.Status, domain.DeliveryOutForDelivery); err != nil {
				return err
			}
			out.DeliveryIDs = append(out.DeliveryIDs, d.ID)
		}
		if len(out.DeliveryIDs) == 0 {
			return nil
		}
		return uow.DB().Model(&domain.DailyDelivery{}).Where("id IN ?", out.DeliveryIDs).Updates(map[string]any{
			"status":            domain.DeliveryOutForDelivery,
			"assigned_staff_id": staffID,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"staff_id": staffID,              // Staff member
		"locality": staffLocality,        // Locality
		"date":     date,                 // Delivery day
		"count":    len(out.DeliveryIDs), // Assigned deliveries
	}).Info("Route started")
	return out, nil
}

// lockDelivery reads a delivery under an exclusive row lock
func lockDelivery(uow store.UnitOfWork, id uint) (*domain.DailyDelivery, error) {
	var d domain.DailyDelivery
	if err := uow.ForUpdate().First(&d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("delivery %d: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}
	return &d, nil
}
