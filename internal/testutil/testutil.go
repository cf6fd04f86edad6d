// Package testutil opens throwaway stores and seeds fixtures for tests.
package testutil

import (
	"fmt"     // DSN formatting
	"strings" // Name sanitising
	"testing" // Test helpers

	"dairy_delivery/internal/db"     // Schema
	"dairy_delivery/internal/domain" // Domain models
	"dairy_delivery/internal/store"  // Unit of work

	"gorm.io/driver/sqlite" // SQLite driver for GORM
	"gorm.io/gorm"          // GORM ORM library
	"gorm.io/gorm/logger"   // Silence SQL logs
)

// OpenDB returns a migrated in-memory SQLite database private to t. It uses a
// single connection, so concurrent units of work run one after another the
// way row locks serialise them on MySQL.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

// OpenStore wraps OpenDB in a store
func OpenStore(t testing.TB) (*store.Store, *gorm.DB) {
	t.Helper()
	gdb := OpenDB(t)
	return store.New(gdb), gdb
}

// SeedUser creates a user and, when balance >= 0, a wallet holding balance
// backed by one opening ledger entry
func SeedUser(t testing.TB, gdb *gorm.DB, role, locality string, balance int64) *domain.User {
	t.Helper()
	u := &domain.User{Name: fmt.Sprintf("%s-%s", role, locality), Role: role, Locality: locality}
	if err := gdb.Create(u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if balance < 0 {
		return u
	}
	w := &domain.Wallet{OwnerID: u.ID, Balance: balance, Currency: "INR"}
	if err := gdb.Create(w).Error; err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
	if balance > 0 {
		e := &domain.LedgerEntry{
			WalletID:     w.ID,
			Amount:       balance,
			Direction:    domain.DirectionCredit,
			Type:         domain.TypeTopUp,
			ReferenceID:  fmt.Sprintf("SEED-%d", u.ID),
			BalanceAfter: balance,
		}
		if err := gdb.Create(e).Error; err != nil {
			t.Fatalf("seed ledger: %v", err)
		}
	}
	return u
}

// SeedSubscription creates a product priced price and an ACTIVE subscription to it
func SeedSubscription(t testing.TB, gdb *gorm.DB, userID uint, locality, startDate string, price int64, qty int) *domain.Subscription {
	t.Helper()
	p := &domain.Product{Name: "Cow milk 500ml", Price: price}
	if err := gdb.Create(p).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	s := &domain.Subscription{
		UserID:    userID,
		ProductID: p.ID,
		Quantity:  qty,
		Locality:  locality,
		Address:   "12 Dairy Lane",
		Status:    domain.SubscriptionActive,
		StartDate: startDate,
	}
	if err := gdb.Create(s).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	s.Product = *p
	return s
}

// LedgerSum returns the sum of a wallet's ledger amounts
func LedgerSum(t testing.TB, gdb *gorm.DB, ownerID uint) (balance, sum int64) {
	t.Helper()
	var w domain.Wallet
	if err := gdb.Where("owner_id = ?", ownerID).First(&w).Error; err != nil {
		t.Fatalf("load wallet: %v", err)
	}
	var entries []domain.LedgerEntry
	if err := gdb.Where("wallet_id = ?", w.ID).Find(&entries).Error; err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	for _, e := range entries {
		sum += e.Amount
	}
	return w.Balance, sum
}
