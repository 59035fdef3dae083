package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"ubipay/internal/domain"
	"ubipay/internal/ledger"
	"ubipay/internal/repository/memory"
	"ubipay/pkg/cache"
	"ubipay/pkg/config"
	"ubipay/pkg/errors"
	"ubipay/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc   *ledger.Service
	store *memory.LedgerStore
	cache *cache.MemoryCache
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.NewLedgerStore(),
		cache: cache.NewMemoryCache(),
		now:   time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	cfg := config.LedgerConfig{
		BalanceCacheTTL: time.Minute,
		IdempotencyTTL:  time.Hour,
		DefaultHoldTTL:  10 * time.Minute,
	}
	f.svc = ledger.NewService(f.store, f.cache, cfg, logger.NewNop()).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) wallet(t *testing.T, owner uuid.UUID, funded int64) *domain.WalletAccount {
	t.Helper()
	acc, err := f.svc.GetOrCreateAccount(context.Background(), owner, domain.AccountTypeUserWallet, domain.KES)
	require.NoError(t, err)
	if funded > 0 {
		_, err = f.svc.Credit(context.Background(), ledger.CreditRequest{
			Account:  ledger.ByID(acc.ID),
			Amount:   decimal.NewFromInt(funded),
			Currency: domain.KES,
			Type:     domain.TransactionTypeWalletTopup,
		})
		require.NoError(t, err)
	}
	return acc
}

func (f *fixture) balance(t *testing.T, owner uuid.UUID) *ledger.Balance {
	t.Helper()
	b, err := f.svc.GetBalance(context.Background(), owner, domain.AccountTypeUserWallet, domain.KES)
	require.NoError(t, err)
	return b
}

func (f *fixture) assertInvariants(t *testing.T) {
	t.Helper()
	for _, acc := range f.store.Accounts() {
		assert.NoError(t, acc.CheckInvariant())
	}
	for _, txn := range f.store.Transactions() {
		if txn.Status == domain.TransactionStatusCompleted {
			assert.NoError(t, f.svc.VerifyTransaction(context.Background(), txn.ID))
		}
	}
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestGetOrCreateAccount_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acc, err := f.svc.GetOrCreateAccount(ctx, owner, domain.AccountTypeUserWallet, domain.KES)
			if assert.NoError(t, err) {
				ids[i] = acc.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, f.store.Accounts(), 1)
}

// racingStore lets another writer create the account first and then reports
// a serialization failure, as Postgres does when two first-time creators
// collide.
type racingStore struct {
	*memory.LedgerStore
	races int
}

func (s *racingStore) EnsureAccount(ctx context.Context, account *domain.WalletAccount) (*domain.WalletAccount, error) {
	s.races++
	winner := *account
	winner.ID = uuid.New()
	if _, err := s.LedgerStore.EnsureAccount(ctx, &winner); err != nil {
		return nil, err
	}
	return nil, errors.Wrap(errors.ErrConcurrentUpdate, "failed to create account")
}

func TestGetOrCreateAccount_LosesCreationRace(t *testing.T) {
	store := &racingStore{LedgerStore: memory.NewLedgerStore()}
	svc := ledger.NewService(store, cache.NewMemoryCache(), config.LedgerConfig{BalanceCacheTTL: time.Minute}, logger.NewNop())
	ctx := context.Background()
	owner := uuid.New()

	acc, err := svc.GetOrCreateAccount(ctx, owner, domain.AccountTypeUserWallet, domain.UGX)
	require.NoError(t, err)
	stored, err := store.GetAccount(ctx, owner, domain.AccountTypeUserWallet, domain.UGX)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, acc.ID)

	// The float for a new currency goes through the same path.
	res, err := svc.Credit(ctx, ledger.CreditRequest{
		Account:  ledger.ByID(acc.ID),
		Amount:   d(30000),
		Currency: domain.UGX,
		Type:     domain.TransactionTypeWalletTopup,
		Provider: domain.ProviderMTNMoMo,
	})
	require.NoError(t, err)
	assert.True(t, res.Account.AvailableBalance.Equal(d(30000)))
	assert.Equal(t, 2, store.races)
}

func TestGetOrCreateAccount_UnsupportedCurrency(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetOrCreateAccount(context.Background(), uuid.New(), domain.AccountTypeUserWallet, "BTC")
	assert.ErrorIs(t, err, errors.ErrUnsupportedCurrency)
}

func TestGetBalance_MissingAccountIsZeroAndNotCreated(t *testing.T) {
	f := newFixture(t)
	b := f.balance(t, uuid.New())

	assert.True(t, b.Balance.IsZero())
	assert.True(t, b.AvailableBalance.IsZero())
	assert.True(t, b.HeldBalance.IsZero())
	assert.Empty(t, f.store.Accounts())
}

func TestCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	acc := f.wallet(t, owner, 0)

	res, err := f.svc.Credit(ctx, ledger.CreditRequest{
		Account:           ledger.ByID(acc.ID),
		Amount:            d(5000),
		Currency:          domain.KES,
		Type:              domain.TransactionTypeWalletTopup,
		ProviderReference: "MP-001",
		Provider:          domain.ProviderMPesa,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TransactionStatusCompleted, res.Transaction.Status)
	assert.NotEmpty(t, res.Transaction.Reference)
	require.Len(t, res.Entries, 2)
	assert.NoError(t, f.svc.VerifyTransaction(ctx, res.Transaction.ID))
	assert.True(t, res.Account.AvailableBalance.Equal(d(5000)))

	b := f.balance(t, owner)
	assert.True(t, b.Balance.Equal(d(5000)))
	assert.True(t, b.AvailableBalance.Equal(d(5000)))

	float, err := f.svc.ProviderFloatBalance(ctx, domain.ProviderMPesa, domain.KES)
	require.NoError(t, err)
	assert.True(t, float.Equal(d(5000)))
	f.assertInvariants(t)
}

func TestCredit_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.wallet(t, uuid.New(), 0)

	tests := []struct {
		name   string
		req    ledger.CreditRequest
		expect error
	}{
		{
			name:   "zero amount",
			req:    ledger.CreditRequest{Account: ledger.ByID(acc.ID), Amount: decimal.Zero, Currency: domain.KES, Type: domain.TransactionTypeWalletTopup},
			expect: errors.ErrInvalidAmount,
		},
		{
			name:   "negative amount",
			req:    ledger.CreditRequest{Account: ledger.ByID(acc.ID), Amount: d(-10), Currency: domain.KES, Type: domain.TransactionTypeWalletTopup},
			expect: errors.ErrInvalidAmount,
		},
		{
			name:   "more precision than stored",
			req:    ledger.CreditRequest{Account: ledger.ByID(acc.ID), Amount: decimal.RequireFromString("10.00005"), Currency: domain.KES, Type: domain.TransactionTypeWalletTopup},
			expect: errors.ErrInvalidAmount,
		},
		{
			name:   "currency mismatch",
			req:    ledger.CreditRequest{Account: ledger.ByID(acc.ID), Amount: d(10), Currency: domain.UGX, Type: domain.TransactionTypeWalletTopup},
			expect: errors.ErrCurrencyMismatch,
		},
		{
			name:   "unknown account",
			req:    ledger.CreditRequest{Account: ledger.ByOwner(uuid.New(), domain.AccountTypeUserWallet), Amount: d(10), Currency: domain.KES, Type: domain.TransactionTypeWalletTopup},
			expect: errors.ErrAccountNotFound,
		},
		{
			name:   "missing type",
			req:    ledger.CreditRequest{Account: ledger.ByID(acc.ID), Amount: d(10), Currency: domain.KES},
			expect: errors.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Credit(ctx, tt.req)
			assert.ErrorIs(t, err, tt.expect)
		})
	}
	assert.Empty(t, f.store.Transactions())
}

func TestAmountPrecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	acc := f.wallet(t, owner, 100)
	fine := decimal.RequireFromString("0.0001")
	tooFine := decimal.RequireFromString("0.00001")

	res, err := f.svc.Credit(ctx, ledger.CreditRequest{Account: ledger.ByID(acc.ID), Amount: fine, Currency: domain.KES, Type: domain.TransactionTypeWalletTopup})
	require.NoError(t, err)
	assert.True(t, res.Account.Balance.Equal(decimal.RequireFromString("100.0001")))

	// Trailing zeros beyond the scale are not extra precision.
	_, err = f.svc.Credit(ctx, ledger.CreditRequest{Account: ledger.ByID(acc.ID), Amount: decimal.RequireFromString("1.500000"), Currency: domain.KES, Type: domain.TransactionTypeWalletTopup})
	require.NoError(t, err)

	_, err = f.svc.Debit(ctx, ledger.DebitRequest{Account: ledger.ByID(acc.ID), Amount: tooFine, Currency: domain.KES, Type: domain.TransactionTypeFoodPayment})
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)

	_, err = f.svc.Hold(ctx, ledger.HoldRequest{Account: ledger.ByID(acc.ID), Amount: tooFine, Currency: domain.KES, Reason: "estimate"})
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)

	_, err = f.svc.Transfer(ctx, ledger.TransferRequest{
		From:     ledger.ByID(acc.ID),
		To:       ledger.ByOwner(uuid.New(), domain.AccountTypeUserWallet),
		Amount:   tooFine,
		Currency: domain.KES,
	})
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)

	_, err = f.svc.CreatePendingTransaction(ctx, ledger.PendingRequest{Amount: tooFine, Currency: domain.KES, Type: domain.TransactionTypeWalletTopup})
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)

	assert.True(t, f.balance(t, owner).Balance.Equal(decimal.RequireFromString("101.5001")))
}

func TestCredit_IdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	acc := f.wallet(t, owner, 0)

	req := ledger.CreditRequest{
		Account:        ledger.ByID(acc.ID),
		Amount:         d(1200),
		Currency:       domain.KES,
		Type:           domain.TransactionTypeWalletTopup,
		IdempotencyKey: "webhook-42",
	}
	first, err := f.svc.Credit(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.Credit(ctx, req)
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, acc.ID, second.Account.ID)
	assert.True(t, f.balance(t, owner).Balance.Equal(d(1200)))

	// Replay must survive a cold cache and fall back to the store.
	require.NoError(t, f.cache.Delete(ctx, "idem:webhook-42"))
	third, err := f.svc.Credit(ctx, req)
	require.NoError(t, err)
	assert.True(t, third.Replayed)
	assert.True(t, f.balance(t, owner).Balance.Equal(d(1200)))

	req.Amount = d(1300)
	_, err = f.svc.Credit(ctx, req)
	assert.ErrorIs(t, err, errors.ErrIdempotencyConflict)
}

func TestIdempotencyKey_BoundToAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, stranger := uuid.New(), uuid.New()
	acc := f.wallet(t, owner, 0)
	other := f.wallet(t, stranger, 500)

	req := ledger.CreditRequest{
		Account:        ledger.ByID(acc.ID),
		Amount:         d(1200),
		Currency:       domain.KES,
		Type:           domain.TransactionTypeWalletTopup,
		IdempotencyKey: "webhook-77",
	}
	_, err := f.svc.Credit(ctx, req)
	require.NoError(t, err)

	// The same account named by owner is still a replay.
	byOwner := req
	byOwner.Account = ledger.ByOwner(owner, domain.AccountTypeUserWallet)
	replay, err := f.svc.Credit(ctx, byOwner)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)

	elsewhere := req
	elsewhere.Account = ledger.ByID(other.ID)
	_, err = f.svc.Credit(ctx, elsewhere)
	assert.ErrorIs(t, err, errors.ErrIdempotencyConflict)

	require.NoError(t, f.cache.Delete(ctx, "idem:webhook-77"))
	_, err = f.svc.Credit(ctx, elsewhere)
	assert.ErrorIs(t, err, errors.ErrIdempotencyConflict)

	transfer := ledger.TransferRequest{
		From:           ledger.ByID(other.ID),
		To:             ledger.ByID(acc.ID),
		Amount:         d(100),
		Currency:       domain.KES,
		IdempotencyKey: "transfer-1",
	}
	_, err = f.svc.Transfer(ctx, transfer)
	require.NoError(t, err)
	transfer.From, transfer.To = ledger.ByID(acc.ID), ledger.ByID(other.ID)
	_, err = f.svc.Transfer(ctx, transfer)
	assert.ErrorIs(t, err, errors.ErrIdempotencyConflict)

	assert.True(t, f.balance(t, owner).Balance.Equal(d(1300)))
}

func TestCredit_ConcurrentSameIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	acc := f.wallet(t, owner, 0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Credit(ctx, ledger.CreditRequest{
				Account:        ledger.ByID(acc.ID),
				Amount:         d(100),
				Currency:       domain.KES,
				Type:           domain.TransactionTypeWalletTopup,
				IdempotencyKey: "same",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.True(t, f.balance(t, owner).Balance.Equal(d(100)))
}

func TestDebit_InsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	acc := f.wallet(t, owner, 1000)
	before := len(f.store.Transactions())

	_, err := f.svc.Debit(ctx, ledger.DebitRequest{
		Account:  ledger.ByID(acc.ID),
		Amount:   d(1001),
		Currency: domain.KES,
		Type:     domain.TransactionTypeWithdrawal,
	})
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)

	b := f.balance(t, owner)
	assert.True(t, b.Balance.Equal(d(1000)))
	assert.True(t, b.AvailableBalance.Equal(d(1000)))
	assert.Len(t, f.store.Transactions(), before)

	res, err := f.svc.Debit(ctx, ledger.DebitRequest{
		Account:  ledger.ByOwner(owner, domain.AccountTypeUserWallet),
		Amount:   d(400),
		Currency: domain.KES,
		Type:     domain.TransactionTypeWithdrawal,
	})
	require.NoError(t, err)
	assert.True(t, res.Account.Balance.Equal(d(600)))
	f.assertInvariants(t)
}

func TestDebit_HeldFundsAreNotAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	acc := f.wallet(t, owner, 1000)

	_, err := f.svc.Hold(ctx, ledger.HoldRequest{Account: ledger.ByID(acc.ID), Amount: d(800), Currency: domain.KES, Reason: "ride"})
	require.NoError(t, err)

	_, err = f.svc.Debit(ctx, ledger.DebitRequest{Account: ledger.ByID(acc.ID), Amount: d(300), Currency: domain.KES, Type: domain.TransactionTypeWithdrawal})
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)
}

func TestHold_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	acc := f.wallet(t, owner, 2500)

	hold, err := f.svc.Hold(ctx, ledger.HoldRequest{Account: ledger.ByID(acc.ID), Amount: d(700), Currency: domain.KES, Reason: "ride"})
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(10*time.Minute), hold.ExpiresAt)

	b := f.balance(t, owner)
	assert.True(t, b.Balance.Equal(d(2500)))
	assert.True(t, b.AvailableBalance.Equal(d(1800)))
	assert.True(t, b.HeldBalance.Equal(d(700)))

	released, err := f.svc.Release(ctx, hold.ID)
	require.NoError(t, err)
	assert.True(t, released.IsReleased)

	b = f.balance(t, owner)
	assert.True(t, b.AvailableBalance.Equal(d(2500)))
	assert.True(t, b.HeldBalance.IsZero())

	_, err = f.svc.Release(ctx, hold.ID)
	assert.ErrorIs(t, err, errors.ErrAlreadyReleased)
	_, err = f.svc.Release(ctx, uuid.New())
	assert.ErrorIs(t, err, errors.ErrHoldNotFound)
	f.assertInvariants(t)
}

func TestHold_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.wallet(t, uuid.New(), 100)

	_, err := f.svc.Hold(ctx, ledger.HoldRequest{Account: ledger.ByID(acc.ID), Amount: d(101), Currency: domain.KES})
	assert.ErrorIs(t, err, errors.ErrInsufficientAvailableBalance)

	_, err = f.svc.Hold(ctx, ledger.HoldRequest{Account: ledger.ByID(acc.ID), Amount: d(10), Currency: domain.TZS})
	assert.ErrorIs(t, err, errors.ErrCurrencyMismatch)

	_, err = f.svc.Hold(ctx, ledger.HoldRequest{Account: ledger.ByID(acc.ID), Amount: d(10), Currency: domain.KES, ExpiresAt: f.now.Add(-time.Second)})
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)
}

func TestCaptureHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rider, driver := uuid.New(), uuid.New()
	acc := f.wallet(t, rider, 1000)
	driverAcc, err := f.svc.GetOrCreateAccount(ctx, driver, domain.AccountTypeDriverEarnings, domain.KES)
	require.NoError(t, err)

	hold, err := f.svc.Hold(ctx, ledger.HoldRequest{Account: ledger.ByID(acc.ID), Amount: d(350), Currency: domain.KES, Reason: "ride"})
	require.NoError(t, err)

	res, err := f.svc.CaptureHold(ctx, ledger.CaptureRequest{HoldID: hold.ID, To: ledger.ByID(driverAcc.ID)})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeRidePayment, res.Transaction.Type)

	b := f.balance(t, rider)
	assert.True(t, b.Balance.Equal(d(650)))
	assert.True(t, b.AvailableBalance.Equal(d(650)))
	assert.True(t, b.HeldBalance.IsZero())

	earnings, err := f.svc.GetBalance(ctx, driver, domain.AccountTypeDriverEarnings, domain.KES)
	require.NoError(t, err)
	assert.True(t, earnings.Balance.Equal(d(350)))

	_, err = f.svc.CaptureHold(ctx, ledger.CaptureRequest{HoldID: hold.ID})
	assert.ErrorIs(t, err, errors.ErrAlreadyReleased)
	f.assertInvariants(t)
}

func TestExpireHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	acc := f.wallet(t, owner, 1000)

	_, err := f.svc.Hold(ctx, ledger.HoldRequest{Account: ledger.ByID(acc.ID), Amount: d(100), Currency: domain.KES, ExpiresAt: f.now.Add(time.Minute)})
	require.NoError(t, err)
	_, err = f.svc.Hold(ctx, ledger.HoldRequest{Account: ledger.ByID(acc.ID), Amount: d(200), Currency: domain.KES, ExpiresAt: f.now.Add(time.Hour)})
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Minute)
	n, err := f.svc.ExpireHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b := f.balance(t, owner)
	assert.True(t, b.HeldBalance.Equal(d(200)))
	assert.True(t, b.AvailableBalance.Equal(d(800)))
}

func TestTransfer_SameAccountAlwaysRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	acc := f.wallet(t, owner, 10000)

	_, err := f.svc.Transfer(ctx, ledger.TransferRequest{From: ledger.ByID(acc.ID), To: ledger.ByID(acc.ID), Amount: d(1), Currency: domain.KES})
	assert.ErrorIs(t, err, errors.ErrSameAccountTransfer)

	ref := ledger.ByOwner(owner, domain.AccountTypeUserWallet)
	_, err = f.svc.Transfer(ctx, ledger.TransferRequest{From: ref, To: ref, Amount: d(-1), Currency: domain.KES})
	assert.ErrorIs(t, err, errors.ErrSameAccountTransfer)

	// Mixed references resolving to the same row.
	_, err = f.svc.Transfer(ctx, ledger.TransferRequest{From: ref, To: ledger.ByID(acc.ID), Amount: d(1), Currency: domain.KES})
	assert.ErrorIs(t, err, errors.ErrSameAccountTransfer)

	assert.True(t, f.balance(t, owner).Balance.Equal(d(10000)))
}

func TestTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	from := f.wallet(t, alice, 3000)
	to := f.wallet(t, bob, 0)

	res, err := f.svc.Transfer(ctx, ledger.TransferRequest{
		From:        ledger.ByID(from.ID),
		To:          ledger.ByID(to.ID),
		Amount:      d(1250),
		Currency:    domain.KES,
		Description: "split fare",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeTransfer, res.Transaction.Type)
	require.Len(t, res.Entries, 2)

	assert.True(t, f.balance(t, alice).Balance.Equal(d(1750)))
	assert.True(t, f.balance(t, bob).Balance.Equal(d(1250)))

	_, err = f.svc.Transfer(ctx, ledger.TransferRequest{From: ledger.ByID(to.ID), To: ledger.ByID(from.ID), Amount: d(5000), Currency: domain.KES})
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)
	f.assertInvariants(t)
}

func TestTransfer_ConcurrentOpposingDirections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	a := f.wallet(t, alice, 5000)
	b := f.wallet(t, bob, 5000)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Transfer(ctx, ledger.TransferRequest{From: ledger.ByID(a.ID), To: ledger.ByID(b.ID), Amount: d(30), Currency: domain.KES})
		}()
		go func() {
			defer wg.Done()
			_, _ = f.svc.Transfer(ctx, ledger.TransferRequest{From: ledger.ByID(b.ID), To: ledger.ByID(a.ID), Amount: d(10), Currency: domain.KES})
		}()
	}
	wg.Wait()

	total := f.balance(t, alice).Balance.Add(f.balance(t, bob).Balance)
	assert.True(t, total.Equal(d(10000)))
	assert.True(t, f.balance(t, alice).Balance.Equal(d(5000-25*20)))
	f.assertInvariants(t)
}

func TestBalanceCacheInvalidatedByMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	acc := f.wallet(t, owner, 100)

	assert.True(t, f.balance(t, owner).Balance.Equal(d(100)))

	_, err := f.svc.Credit(ctx, ledger.CreditRequest{Account: ledger.ByID(acc.ID), Amount: d(50), Currency: domain.KES, Type: domain.TransactionTypeRefund})
	require.NoError(t, err)

	assert.True(t, f.balance(t, owner).Balance.Equal(d(150)))
}

func TestPendingTransactionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.svc.CreatePendingTransaction(ctx, ledger.PendingRequest{
		Amount:         d(90000),
		Currency:       domain.KES,
		Type:           domain.TransactionTypeWithdrawal,
		IdempotencyKey: "review-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, pending.Status)

	again, err := f.svc.CreatePendingTransaction(ctx, ledger.PendingRequest{
		Amount:         d(90000),
		Currency:       domain.KES,
		Type:           domain.TransactionTypeWithdrawal,
		IdempotencyKey: "review-1",
	})
	require.NoError(t, err)
	assert.Equal(t, pending.ID, again.ID)

	require.NoError(t, f.svc.MarkTransactionFailed(ctx, pending.ID, "rejected by reviewer"))
	txn, err := f.svc.GetTransaction(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, txn.Status)
	require.NotNil(t, txn.FailureReason)

	err = f.svc.MarkTransactionFailed(ctx, pending.ID, "again")
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestListTransactionsByProviderAndDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.wallet(t, uuid.New(), 0)

	for _, p := range []domain.Provider{domain.ProviderMPesa, domain.ProviderMPesa, domain.ProviderStripe} {
		_, err := f.svc.Credit(ctx, ledger.CreditRequest{
			Account:  ledger.ByID(acc.ID),
			Amount:   d(10),
			Currency: domain.KES,
			Type:     domain.TransactionTypeWalletTopup,
			Provider: p,
		})
		require.NoError(t, err)
	}

	mpesa := domain.ProviderMPesa
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	txns, err := f.svc.ListTransactions(ctx, ledger.TransactionFilter{
		Provider: &mpesa,
		Currency: domain.KES,
		Status:   domain.TransactionStatusCompleted,
		From:     day,
		To:       day.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}

func TestUserStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	acc := f.wallet(t, owner, 1000)
	_, err := f.svc.Debit(ctx, ledger.DebitRequest{Account: ledger.ByID(acc.ID), Amount: d(500), Currency: domain.KES, Type: domain.TransactionTypeFoodPayment})
	require.NoError(t, err)

	usd, err := f.svc.GetOrCreateAccount(ctx, owner, domain.AccountTypeUserWallet, domain.USD)
	require.NoError(t, err)
	_, err = f.svc.Credit(ctx, ledger.CreditRequest{Account: ledger.ByID(usd.ID), Amount: d(10), Currency: domain.USD, Type: domain.TransactionTypeWalletTopup})
	require.NoError(t, err)

	stats, err := f.svc.UserStats(ctx, owner, domain.KES, f.now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TransactionCount)
	assert.True(t, stats.AverageAmount.Equal(d(750)))
	require.NotNil(t, stats.FirstTransactionAt)

	stats, err = f.svc.UserStats(ctx, owner, domain.USD, f.now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TransactionCount)
	assert.True(t, stats.AverageAmount.Equal(d(10)))

	stats, err = f.svc.UserStats(ctx, owner, "", f.now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TransactionCount)

	amounts, err := f.svc.RecentAmounts(ctx, owner, domain.KES, f.now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, amounts, 2)

	amounts, err = f.svc.RecentAmounts(ctx, owner, domain.USD, f.now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, amounts, 1)
	assert.True(t, amounts[0].Equal(d(10)))
}
