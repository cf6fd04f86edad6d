// Package wallet moves money. Every balance change takes an exclusive lock on
// the wallet row, recomputes the balance from the locked read and appends one
// immutable ledger entry in the same unit of work.
//
// Debit and Credit are not idempotent on their own. Callers that may run twice
// check HasEntry with the reference id they are about to use.
package wallet

import (
	"context" // Request scoped cancellation
	"errors"  // Error inspection
	"fmt"     // Error wrapping

	"dairy_delivery/internal/domain" // Domain models
	"dairy_delivery/internal/notify" // Notification dispatcher
	"dairy_delivery/internal/store"  // Unit of work
	"dairy_delivery/internal/utils"  // Read cache

	"github.com/sirupsen/logrus" // Logging library
	"gorm.io/gorm"               // GORM ORM library
)

// Options tunes the wallet service
type Options struct {
	Currency            string // Currency of new wallets
	LowBalanceThreshold int64  // Debits crossing below this warn the owner
}

// Service is the only writer of wallets and ledger entries
type Service struct {
	store    *store.Store    // Relational store
	cache    *utils.Cache    // Wallet snapshot cache, may be nil
	notifier notify.Notifier // Low balance warnings
	opts     Options         // Tunables
}

// NewService wires the wallet service
func NewService(st *store.Store, cache *utils.Cache, notifier notify.Notifier, opts Options) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{store: st, cache: cache, notifier: notifier, opts: opts}
}

// Reconciliation compares the cached balance with the ledger
type Reconciliation struct {
	OwnerID    uint  `json:"owner_id"`   // Wallet owner
	WalletID   uint  `json:"wallet_id"`  // Wallet id
	Balance    int64 `json:"balance"`    // Stored balance
	LedgerSum  int64 `json:"ledger_sum"` // Sum of signed ledger amounts
	Entries    int64 `json:"entries"`    // Number of ledger entries
	Consistent bool  `json:"consistent"` // Balance == LedgerSum
}

// CreateWallet creates the owner's zero-balance wallet; an existing wallet is returned as is
func (s *Service) CreateWallet(ctx context.Context, ownerID uint) (*domain.Wallet, bool, error) {
	db := s.store.Read(ctx)
	var w domain.Wallet
	if err := db.Where("owner_id = ?", ownerID).Limit(1).Find(&w).Error; err != nil {
		return nil, false, err
	}
	if w.ID != 0 {
		return &w, false, nil // Wallet already exists
	}
	w = domain.Wallet{OwnerID: ownerID, Balance: 0, Currency: s.opts.Currency}
	if err := db.Create(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost a signup race, the other request created it
			err = db.Where("owner_id = ?", ownerID).First(&w).Error
			return &w, false, err
		}
		return nil, false, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id":   ownerID, // Owner
		"wallet_id": w.ID,    // Wallet ID
	}).Info("Wallet created")
	return &w, true, nil
}

// Debit removes amount from the owner's wallet under a row lock
func (s *Service) Debit(uow store.UnitOfWork, ownerID uint, amount int64, referenceID string) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	w, err := s.lockWallet(uow, ownerID)
	if err != nil {
		return nil, err
	}
	// Balance comes from the locked read, never from a cache
	if w.Balance < amount {
		return nil, fmt.Errorf("debit %d from wallet %d with balance %d: %w", amount, w.ID, w.Balance, domain.ErrInsufficientFunds)
	}
	entry, err := s.apply(uow, w, -amount, domain.DirectionDebit, domain.TypeDeliveryCharge, referenceID)
	if err != nil {
		return nil, err
	}
	// Warn once, on the debit that crosses the threshold
	if w.Balance >= s.opts.LowBalanceThreshold && entry.BalanceAfter < s.opts.LowBalanceThreshold {
		ctx := uow.Context()
		balance := entry.BalanceAfter
		currency := w.Currency
		uow.AfterCommit(func() {
			s.notifier.Notify(ctx, ownerID, notify.EventLowBalance, map[string]any{
				"balance":   balance,
				"display":   notify.FormatAmount(balance, currency),
				"threshold": s.opts.LowBalanceThreshold,
			})
		})
	}
	return entry, nil
}

// Credit adds amount to the owner's wallet under a row lock
func (s *Service) Credit(uow store.UnitOfWork, ownerID uint, amount int64, referenceID, creditType string) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	w, err := s.lockWallet(uow, ownerID)
	if err != nil {
		return nil, err
	}
	return s.apply(uow, w, amount, domain.DirectionCredit, creditType, referenceID)
}

// HasEntry reports whether a ledger entry with this reference id exists
func (s *Service) HasEntry(uow store.UnitOfWork, referenceID string) (bool, error) {
	_, found, err := s.findEntry(uow.DB(), referenceID)
	return found, err
}

// TopUp credits a customer prepayment keyed by a client generated reference.
// Replaying the same reference returns the original entry with created=false.
func (s *Service) TopUp(ctx context.Context, ownerID uint, amount int64, clientRef string) (*domain.LedgerEntry, bool, error) {
	if amount <= 0 {
		return nil, false, domain.ErrInvalidAmount
	}
	ref := domain.TopUpReference(ownerID, clientRef)
	var entry *domain.LedgerEntry
	created := false
	err := s.store.Transaction(ctx, func(uow store.UnitOfWork) error {
		w, err := s.lockWallet(uow, ownerID) // Serializes replays of the same key
		if err != nil {
			return err
		}
		existing, found, err := s.findEntry(uow.DB(), ref)
		if err != nil {
			return err
		}
		if found {
			if existing.WalletID != w.ID {
				return fmt.Errorf("reference %s: %w", ref, domain.ErrDuplicateReference)
			}
			entry = existing // Replay of an applied top-up
			return nil
		}
		entry, err = s.apply(uow, w, amount, domain.DirectionCredit, domain.TypeTopUp, ref)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return entry, created, nil
}

// Get returns the owner's wallet, served from cache when possible
func (s *Service) Get(ctx context.Context, ownerID uint) (*domain.Wallet, bool, error) {
	var w domain.Wallet
	if found, err := s.cache.Get(ctx, utils.WalletKey(ownerID), &w); err == nil && found {
		return &w, true, nil
	}
	if err := s.store.Read(ctx).Where("owner_id = ?", ownerID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, domain.ErrWalletNotFound
		}
		return nil, false, err
	}
	_ = s.cache.Set(ctx, utils.WalletKey(ownerID), w) // Best effort
	return &w, false, nil
}

// HistoryPage is one page of ledger entries, newest first
type HistoryPage struct {
	Entries    []domain.LedgerEntry `json:"entries"`     // Ledger entries
	Page       int                  `json:"page"`        // Current page
	PageSize   int                  `json:"page_size"`   // Page size
	Total      int64                `json:"total"`       // Total entries
	TotalPages int                  `json:"total_pages"` // Total pages
}

// History returns one page of the owner's ledger
func (s *Service) History(ctx context.Context, ownerID uint, page, pageSize int) (*HistoryPage, bool, error) {
	gen, genErr := s.cache.LedgerGeneration(ctx, ownerID)
	key := utils.LedgerPageKey(ownerID, gen, page, pageSize)
	var cached HistoryPage
	if genErr == nil {
		if found, err := s.cache.Get(ctx, key, &cached); err == nil && found {
			return &cached, true, nil
		}
	}
	w, _, err := s.Get(ctx, ownerID)
	if err != nil {
		return nil, false, err
	}
	db := s.store.Read(ctx)
	hp := HistoryPage{Page: page, PageSize: pageSize, Entries: []domain.LedgerEntry{}}
	if err := db.Model(&domain.LedgerEntry{}).Where("wallet_id = ?", w.ID).Count(&hp.Total).Error; err != nil {
		return nil, false, err
	}
	if err := db.Where("wallet_id = ?", w.ID).
		Order("id desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&hp.Entries).Error; err != nil {
		return nil, false, err
	}
	hp.TotalPages = (int(hp.Total) + pageSize - 1) / pageSize // Calculate total pages
	if genErr == nil {
		_ = s.cache.Set(ctx, key, hp)
	}
	return &hp, false, nil
}

// Reconcile audits balance == sum(ledger) for one wallet
func (s *Service) Reconcile(ctx context.Context, ownerID uint) (*Reconciliation, error) {
	rec := &Reconciliation{OwnerID: ownerID}
	// Read both sides inside one transaction so they come from the same snapshot
	err := s.store.Transaction(ctx, func(uow store.UnitOfWork) error {
		var w domain.Wallet
		if err := uow.DB().Where("owner_id = ?", ownerID).First(&w).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrWalletNotFound
			}
			return err
		}
		rec.WalletID = w.ID
		rec.Balance = w.Balance
		var agg struct {
			Total int64 // Sum of amounts
			Count int64 // Entry count
		}
		if err := uow.DB().Model(&domain.LedgerEntry{}).
			Select("COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
			Where("wallet_id = ?", w.ID).
			Scan(&agg).Error; err != nil {
			return err
		}
		rec.LedgerSum = agg.Total
		rec.Entries = agg.Count
		return nil
	})
	if err != nil {
		return nil, err
	}
	rec.Consistent = rec.Balance == rec.LedgerSum
	if !rec.Consistent {
		logrus.WithFields(logrus.Fields{
			"user_id":    ownerID,       // Owner
			"wallet_id":  rec.WalletID,  // Wallet ID
			"balance":    rec.Balance,   // Stored balance
			"ledger_sum": rec.LedgerSum, // Ledger sum
		}).Error("Wallet balance diverges from ledger")
	}
	return rec, nil
}

// lockWallet reads the owner's wallet holding an exclusive row lock until the unit ends
func (s *Service) lockWallet(uow store.UnitOfWork, ownerID uint) (*domain.Wallet, error) {
	var w domain.Wallet
	if err := uow.ForUpdate().Where("owner_id = ?", ownerID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("owner %d: %w", ownerID, domain.ErrWalletNotFound)
		}
		return nil, err
	}
	return &w, nil
}

// apply writes the new balance and its ledger entry; both commit or neither does
func (s *Service) apply(uow store.UnitOfWork, w *domain.Wallet, signed int64, direction, entryType, referenceID string) (*domain.LedgerEntry, error) {
	newBalance := w.Balance + signed
	if err := uow.DB().Model(&domain.Wallet{}).Where("id = ?", w.ID).Update("balance", newBalance).Error; err != nil {
		return nil, err
	}
	entry := &domain.LedgerEntry{
		WalletID:     w.ID,        // Wallet
		Amount:       signed,      // Signed amount
		Direction:    direction,   // CREDIT or DEBIT
		Type:         entryType,   // Entry type
		ReferenceID:  referenceID, // Idempotency reference
		BalanceAfter: newBalance,  // Snapshot
	}
	if err := uow.DB().Create(entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("reference %s: %w", referenceID, domain.ErrDuplicateReference)
		}
		return nil, err
	}
	ctx := uow.Context()
	ownerID := w.OwnerID
	uow.AfterCommit(func() {
		_ = s.cache.Invalidate(ctx, ownerID)
		logrus.WithFields(logrus.Fields{
			"user_id":       ownerID,
			"wallet_id":     entry.WalletID,
			"amount":        entry.Amount,
			"type":          entry.Type,
			"reference_id":  entry.ReferenceID,
			"balance_after": entry.BalanceAfter,
		}).Info("Ledger entry committed")
	})
	return entry, nil
}

// findEntry looks up a ledger entry by reference id
func (s *Service) findEntry(db *gorm.DB, referenceID string) (*domain.LedgerEntry, bool, error) {
	var entry domain.LedgerEntry
	err := db.Where("reference_id = ?", referenceID).Limit(1).Find(&entry).Error
	if err != nil {
		return nil, false, err
	}
	if entry.ID == 0 {
		return nil, false, nil
	}
	return &entry, true, nil
}
