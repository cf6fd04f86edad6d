package wallet_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"dairy_delivery/internal/domain"
	"dairy_delivery/internal/notify"
	"dairy_delivery/internal/store"
	"dairy_delivery/internal/testutil"
	"dairy_delivery/internal/utils"
	"dairy_delivery/internal/wallet"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newService(t *testing.T) (*wallet.Service, *store.Store, *gorm.DB, *testutil.RecordingNotifier) {
	t.Helper()
	st, gdb := testutil.OpenStore(t)
	rec := &testutil.RecordingNotifier{}
	svc := wallet.NewService(st, nil, rec, wallet.Options{Currency: "INR", LowBalanceThreshold: 2000})
	return svc, st, gdb, rec
}

func ledgerFor(t *testing.T, gdb *gorm.DB, ownerID uint) []domain.LedgerEntry {
	t.Helper()
	var w domain.Wallet
	require.NoError(t, gdb.Where("owner_id = ?", ownerID).First(&w).Error)
	var entries []domain.LedgerEntry
	require.NoError(t, gdb.Where("wallet_id = ?", w.ID).Order("id").Find(&entries).Error)
	return entries
}

func TestDebit_ReducesBalanceAndAppendsEntry(t *testing.T) {
	svc, st, gdb, _ := newService(t)
	u := testutil.SeedUser(t, gdb, domain.RoleCustomer, "north", 10000)

	err := st.Transaction(context.Background(), func(uow store.UnitOfWork) error {
		entry, err := svc.Debit(uow, u.ID, 3000, "D1")
		require.NoError(t, err)
		assert.Equal(t, int64(-3000), entry.Amount)
		assert.Equal(t, domain.DirectionDebit, entry.Direction)
		assert.Equal(t, int64(7000), entry.BalanceAfter)
		return nil
	})
	require.NoError(t, err)

	balance, sum := testutil.LedgerSum(t, gdb, u.ID)
	assert.Equal(t, int64(7000), balance)
	assert.Equal(t, balance, sum)

	var debits []domain.LedgerEntry
	require.NoError(t, gdb.Where("reference_id = ?", "D1").Find(&debits).Error)
	require.Len(t, debits, 1)
	assert.Equal(t, int64(-3000), debits[0].Amount)
}

func TestDebit_InsufficientFundsWritesNothing(t *testing.T) {
	svc, st, gdb, _ := newService(t)
	u := testutil.SeedUser(t, gdb, domain.RoleCustomer, "north", 1000)

	err := st.Transaction(context.Background(), func(uow store.UnitOfWork) error {
		_, err := svc.Debit(uow, u.ID, 1500, "D-too-much")
		return err
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	balance, sum := testutil.LedgerSum(t, gdb, u.ID)
	assert.Equal(t, int64(1000), balance)
	assert.Equal(t, int64(1000), sum)
	assert.Len(t, ledgerFor(t, gdb, u.ID), 1) // Only the opening entry
}

func TestDebitCredit_WalletNotFound(t *testing.T) {
	svc, st, gdb, _ := newService(t)
	u := testutil.SeedUser(t, gdb, domain.RoleCustomer, "north", -1) // No wallet

	err := st.Transaction(context.Background(), func(uow store.UnitOfWork) error {
		_, err := svc.Debit(uow, u.ID, 100, "D-none")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)

	err = st.Transaction(context.Background(), func(uow store.UnitOfWork) error {
		_, err := svc.Credit(uow, u.ID, 100, "C-none", domain.TypeTopUp)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)
}

func TestDebit_RejectsNonPositiveAmount(t *testing.T) {
	svc, st, gdb, _ := newService(t)
	u := testutil.SeedUser(t, gdb, domain.RoleCustomer, "north", 1000)

	err := st.Transaction(context.Background(), func(uow store.UnitOfWork) error {
		_, err := svc.Debit(uow, u.ID, 0, "D-zero")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestDebitThenCredit_RestoresBalance(t *testing.T) {
	svc, st, gdb, _ := newService(t)
	u := testutil.SeedUser(t, gdb, domain.RoleCustomer, "north", 0)
	ctx := context.Background()

	// Fund through the service so the ledger holds exactly the two entries under test
	require.NoError(t, st.Transaction(ctx, func(uow store.UnitOfWork) error {
		_, err := svc.Credit(uow, u.ID, 8000, "FUND", domain.TypeTopUp)
		return err
	}))
	before := len(ledgerFor(t, gdb, u.ID))

	require.NoError(t, st.Transaction(ctx, func(uow store.UnitOfWork) error {
		_, err := svc.Debit(uow, u.ID, 2500, "D-restore")
		return err
	}))
	require.NoError(t, st.Transaction(ctx, func(uow store.UnitOfWork) error {
		_, err := svc.Credit(uow, u.ID, 2500, "C-restore", domain.TypeRolloverRefund)
		return err
	}))

	balance, sum := testutil.LedgerSum(t, gdb, u.ID)
	assert.Equal(t, int64(8000), balance)
	assert.Equal(t, balance, sum)
	assert.Len(t, ledgerFor(t, gdb, u.ID), before+2)
}

func TestDebit_RollsBackWithEnclosingUnit(t *testing.T) {
	svc, st, gdb, _ := newService(t)
	u := testutil.SeedUser(t, gdb, domain.RoleCustomer, "north", 5000)

	err := st.Transaction(context.Background(), func(uow store.UnitOfWork) error {
		if _, err := svc.Debit(uow, u.ID, 1000, "D-rollback"); err != nil {
			return err
		}
		return assert.AnError // A later step of the same unit fails
	})
	require.ErrorIs(t, err, assert.AnError)

	balance, sum := testutil.LedgerSum(t, gdb, u.ID)
	assert.Equal(t, int64(5000), balance)
	assert.Equal(t, int64(5000), sum)
}

func TestDebit_ConcurrentNeverOverdraws(t *testing.T) {
	svc, st, gdb, _ := newService(t)
	u := testutil.SeedUser(t, gdb, domain.RoleCustomer, "north", 10000)

	const attempts = 8 // 8 x 3000 against 10000: exactly 3 fit
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		refused   int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := st.Transaction(context.Background(), func(uow store.UnitOfWork) error {
				_, err := svc.Debit(uow, u.ID, 3000, "D-concurrent-"+string(rune('a'+i)))
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if assert.ErrorIs(t, err, domain.ErrInsufficientFunds) {
				refused++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, attempts-3, refused)
	balance, sum := testutil.LedgerSum(t, gdb, u.ID)
	assert.Equal(t, int64(1000), balance)
	assert.Equal(t, balance, sum)
	assert.GreaterOrEqual(t, balance, int64(0))
}

func TestDebit_LowBalanceNotifiesAfterCommitOnly(t *testing.T) {
	svc, st, gdb, rec := newService(t)
	u := testutil.SeedUser(t, gdb, domain.RoleCustomer, "north", 5000)
	ctx := context.Background()

	// Rolled back: no notification
	_ = st.Transaction(ctx, func(uow store.UnitOfWork) error {
		_, _ = svc.Debit(uow, u.ID, 4000, "D-low-rollback")
		return assert.AnError
	})
	assert.Empty(t, rec.OfType(notify.EventLowBalance))

	require.NoError(t, st.Transaction(ctx, func(uow store.UnitOfWork) error {
		_, err := svc.Debit(uow, u.ID, 4000, "D-low")
		return err
	}))
	sent := rec.OfType(notify.EventLowBalance)
	require.Len(t, sent, 1)
	assert.Equal(t, u.ID, sent[0].UserID)
	assert.Equal(t, int64(1000), sent[0].Payload["balance"])
	assert.Equal(t, "10.00 INR", sent[0].Payload["display"])

	// Already below the threshold: no repeat warning
	require.NoError(t, st.Transaction(ctx, func(uow store.UnitOfWork) error {
		_, err := svc.Debit(uow, u.ID, 500, "D-low-again")
		return err
	}))
	assert.Len(t, rec.OfType(notify.EventLowBalance), 1)

	// Topped back up above it, the next crossing warns again
	_, _, err := svc.TopUp(ctx, u.ID, 4500, "refill")
	require.NoError(t, err)
	require.NoError(t, st.Transaction(ctx, func(uow store.UnitOfWork) error {
		_, err := svc.Debit(uow, u.ID, 4000, "D-low-third")
		return err
	}))
	assert.Len(t, rec.OfType(notify.EventLowBalance), 2)
}

func TestCredit_DuplicateReferenceRejected(t *testing.T) {
	svc, st, gdb, _ := newService(t)
	u := testutil.SeedUser(t, gdb, domain.RoleCustomer, "north", 0)
	ctx := context.Background()

	credit := func() error {
		return st.Transaction(ctx, func(uow store.UnitOfWork) error {
			_, err := svc.Credit(uow, u.ID, 500, "REFUND-42", domain.TypeRolloverRefund)
			return err
		})
	}
	require.NoError(t, credit())
	require.ErrorIs(t, credit(), domain.ErrDuplicateReference)

	balance, sum := testutil.LedgerSum(t, gdb, u.ID)
	assert.Equal(t, int64(500), balance)
	assert.Equal(t, balance, sum)
}

func TestHasEntry(t *testing.T) {
	svc, st, gdb, _ := newService(t)
	u := testutil.SeedUser(t, gdb, domain.RoleCustomer, "north", 1000)

	require.NoError(t, st.Transaction(context.Background(), func(uow store.UnitOfWork) error {
		found, err := svc.HasEntry(uow, "D-check")
		require.NoError(t, err)
		assert.False(t, found)
		if _, err := svc.Debit(uow, u.ID, 100, "D-check"); err != nil {
			return err
		}
		found, err = svc.HasEntry(uow, "D-check")
		require.NoError(t, err)
		assert.True(t, found)
		return nil
	}))
}

func TestTopUp_IdempotentOnClientReference(t *testing.T) {
	svc, _, gdb, _ := newService(t)
	u := testutil.SeedUser(t, gdb, domain.RoleCustomer, "north", 0)
	ctx := context.Background()

	first, created, err := svc.TopUp(ctx, u.ID, 20000, "client-key-1")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := svc.TopUp(ctx, u.ID, 20000, "client-key-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	balance, sum := testutil.LedgerSum(t, gdb, u.ID)
	assert.Equal(t, int64(20000), balance)
	assert.Equal(t, balance, sum)
}

func TestTopUp_SameClientReferenceAcrossOwners(t *testing.T) {
	svc, _, gdb, _ := newService(t)
	a := testutil.SeedUser(t, gdb, domain.RoleCustomer, "north", 0)
	b := testutil.SeedUser(t, gdb, domain.RoleCustomer, "north", 0)
	ctx := context.Background()

	first, created, err := svc.TopUp(ctx, a.ID, 7000, "pay-1")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := svc.TopUp(ctx, b.ID, 2500, "pay-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.WalletID, second.WalletID)
	assert.Equal(t, int64(2500), second.Amount)
	assert.Equal(t, int64(2500), second.BalanceAfter)

	balance, sum := testutil.LedgerSum(t, gdb, a.ID)
	assert.Equal(t, int64(7000), balance)
	assert.Equal(t, balance, sum)
	balance, sum = testutil.LedgerSum(t, gdb, b.ID)
	assert.Equal(t, int64(2500), balance)
	assert.Equal(t, balance, sum)
}

func TestTopUp_RejectsNonPositiveAmount(t *testing.T) {
	svc, _, gdb, _ := newService(t)
	u := testutil.SeedUser(t, gdb, domain.RoleCustomer, "north", 0)

	_, _, err := svc.TopUp(context.Background(), u.ID, 0, "zero")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Empty(t, ledgerFor(t, gdb, u.ID))
}

func TestCreateWallet_OncePerOwner(t *testing.T) {
	svc, _, gdb, _ := newService(t)
	u := testutil.SeedUser(t, gdb, domain.RoleCustomer, "north", -1)
	ctx := context.Background()

	w, created, err := svc.CreateWallet(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(0), w.Balance)
	assert.Equal(t, "INR", w.Currency)

	again, created, err := svc.CreateWallet(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, w.ID, again.ID)
}

func TestReconcile(t *testing.T) {
	svc, _, gdb, _ := newService(t)
	u := testutil.SeedUser(t, gdb, domain.RoleCustomer, "north", 4000)
	ctx := context.Background()

	rec, err := svc.Reconcile(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.Equal(t, int64(4000), rec.LedgerSum)

	// Tamper with the cached balance behind the service's back
	require.NoError(t, gdb.Model(&domain.Wallet{}).Where("owner_id = ?", u.ID).Update("balance", 9999).Error)
	rec, err = svc.Reconcile(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, rec.Consistent)
}

func TestHistory_NewestFirst(t *testing.T) {
	svc, _, gdb, _ := newService(t)
	u := testutil.SeedUser(t, gdb, domain.RoleCustomer, "north", 0)
	ctx := context.Background()
	for _, ref := range []string{"a", "b", "c"} {
		_, _, err := svc.TopUp(ctx, u.ID, 100, ref)
		require.NoError(t, err)
	}

	page, cached, err := svc.History(ctx, u.ID, 1, 2)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, domain.TopUpReference(u.ID, "c"), page.Entries[0].ReferenceID)
}

func TestHistory_CachedPagesDroppedOnWrite(t *testing.T) {
	st, gdb := testutil.OpenStore(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	svc := wallet.NewService(st, utils.NewCache(rdb, time.Minute), nil, wallet.Options{Currency: "INR"})
	u := testutil.SeedUser(t, gdb, domain.RoleCustomer, "north", 10000)
	ctx := context.Background()

	for _, size := range []int{10, 20} {
		page, cached, err := svc.History(ctx, u.ID, 1, size)
		require.NoError(t, err)
		assert.False(t, cached)
		assert.Equal(t, int64(1), page.Total)
		_, cached, err = svc.History(ctx, u.ID, 1, size)
		require.NoError(t, err)
		assert.True(t, cached)
	}

	require.NoError(t, st.Transaction(ctx, func(uow store.UnitOfWork) error {
		_, err := svc.Debit(uow, u.ID, 3000, "D-cache")
		return err
	}))

	for _, size := range []int{10, 20} {
		page, cached, err := svc.History(ctx, u.ID, 1, size)
		require.NoError(t, err)
		assert.False(t, cached, "size %d", size)
		assert.Equal(t, int64(2), page.Total, "size %d", size)
		assert.Equal(t, "D-cache", page.Entries[0].ReferenceID)
	}

	w, cached, err := svc.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, int64(7000), w.Balance)
}
