// Package rewards pays referral bonuses and tracks delivery streaks. The hook
// runs inside the verification transaction, so its writes commit or roll back
// together with the delivery they reward.
package rewards

import (
	"errors" // Error inspection
	"fmt"    // Error wrapping
	"time"   // Completion timestamps

	"dairy_delivery/internal/domain" // Domain models
	"dairy_delivery/internal/notify" // Notification dispatcher
	"dairy_delivery/internal/store"  // Unit of work

	"github.com/sirupsen/logrus" // Logging library
	"gorm.io/gorm"               // GORM ORM library
)

// Crediter is the part of the wallet service the hook needs
type Crediter interface {
	Credit(uow store.UnitOfWork, ownerID uint, amount int64, referenceID, creditType string) (*domain.LedgerEntry, error)
	HasEntry(uow store.UnitOfWork, referenceID string) (bool, error)
}

// Options holds reward amounts
type Options struct {
	ReferralBonus int64 // Used when a referral carries no reward of its own
	StreakBonus   int64 // Paid when the streak target is reached
	StreakTarget  int   // Consecutive days needed for the bonus
}

// Event is a completed delivery
type Event struct {
	UserID     uint   // Subscriber
	DeliveryID uint   // Delivery just marked DELIVERED
	Date       string // Its delivery day
}

// Hook applies rewards for a delivered order
type Hook struct {
	wallet   Crediter        // Wallet service
	notifier notify.Notifier // Reward notices
	opts     Options         // Amounts
}

// NewHook wires the reward hook
func NewHook(wallet Crediter, notifier notify.Notifier, opts Options) *Hook {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.StreakTarget <= 0 {
		opts.StreakTarget = 30
	}
	return &Hook{wallet: wallet, notifier: notifier, opts: opts}
}

// Process completes a pending referral and advances the streak. Each ledger
// write is guarded by its reference id; the streak counter itself is not, so
// invoking Process twice for one delivery can move it twice.
func (h *Hook) Process(uow store.UnitOfWork, ev Event) error {
	if err := h.completeReferral(uow, ev); err != nil {
		return fmt.Errorf("referral: %w", err)
	}
	if err := h.updateStreak(uow, ev); err != nil {
		return fmt.Errorf("streak: %w", err)
	}
	return nil
}

// completeReferral pays both sides of the user's pending referral, if any
func (h *Hook) completeReferral(uow store.UnitOfWork, ev Event) error {
	var ref domain.Referral
	if err := uow.ForUpdate().
		Where("referee_id = ? AND status = ?", ev.UserID, domain.ReferralPending).
		Limit(1).Find(&ref).Error; err != nil {
		return err
	}
	if ref.ID == 0 {
		return nil // Nothing pending
	}
	now := time.Now().UTC()
	if err := uow.DB().Model(&domain.Referral{}).Where("id = ?", ref.ID).Updates(map[string]any{
		"status":       domain.ReferralCompleted,
		"completed_at": now,
	}).Error; err != nil {
		return err
	}
	amount := ref.Reward
	if amount <= 0 {
		amount = h.opts.ReferralBonus
	}
	if amount <= 0 {
		logrus.WithField("referral_id", ref.ID).Warn("Referral completed without a bonus")
		return nil // Bonus disabled
	}
	payees := []struct {
		side   string
		userID uint
	}{
		{"REFERRER", ref.ReferrerID},
		{"REFEREE", ref.RefereeID},
	}
	for _, p := range payees {
		refID := domain.ReferralReference(ref.ID, p.side)
		done, err := h.wallet.HasEntry(uow, refID)
		if err != nil {
			return err
		}
		if done {
			continue
		}
		if _, err := h.wallet.Credit(uow, p.userID, amount, refID, domain.TypeReferralBonus); err != nil {
			return err
		}
	}
	ctx := uow.Context()
	uow.AfterCommit(func() {
		for _, p := range payees {
			h.notifier.Notify(ctx, p.userID, notify.EventReferralRewarded, map[string]any{
				"referral_id": ref.ID,
				"amount":      amount,
			})
		}
	})
	logrus.WithFields(logrus.Fields{
		"referral_id": ref.ID,         // Referral
		"referrer_id": ref.ReferrerID, // Referrer
		"referee_id":  ref.RefereeID,  // Referee
		"amount":      amount,         // Bonus per side
	}).Info("Referral completed")
	return nil
}

// updateStreak compares this delivery with the user's previous delivered day
func (h *Hook) updateStreak(uow store.UnitOfWork, ev Event) error {
	var user domain.User
	if err := uow.ForUpdate().First(&user, ev.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("user %d: %w", ev.UserID, domain.ErrNotFound)
		}
		return err
	}

	var prev domain.DailyDelivery
	if err := uow.DB().
		Where("user_id = ? AND status = ? AND id <> ? AND date <= ?", ev.UserID, domain.DeliveryDelivered, ev.DeliveryID, ev.Date).
		Order("date desc").
		Limit(1).Find(&prev).Error; err != nil {
		return err
	}

	streak := user.Streak
	if prev.ID == 0 {
		streak = 1
	} else {
		gap, err := domain.DaysBetween(prev.Date, ev.Date)
		if err != nil {
			return err
		}
		switch gap {
		case 0:
			return nil // Second delivery on the same day
		case 1:
			streak++
		default:
			streak = 1
		}
	}

	if streak == h.opts.StreakTarget {
		refID := domain.StreakReference(user.ID, ev.Date)
		done, err := h.wallet.HasEntry(uow, refID)
		if err != nil {
			return err
		}
		if !done && h.opts.StreakBonus > 0 {
			if _, err := h.wallet.Credit(uow, user.ID, h.opts.StreakBonus, refID, domain.TypeStreakBonus); err != nil {
				return err
			}
			ctx := uow.Context()
			bonus := h.opts.StreakBonus
			uow.AfterCommit(func() {
				h.notifier.Notify(ctx, user.ID, notify.EventStreakRewarded, map[string]any{
					"streak": h.opts.StreakTarget,
					"amount": bonus,
				})
			})
		}
		streak = 0
	}
	return uow.DB().Model(&domain.User{}).Where("id = ?", user.ID).Update("streak", streak).Error
}
