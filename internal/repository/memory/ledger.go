// Package memory holds in-process implementations of the repository
// interfaces for tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ubipay/internal/domain"
	"ubipay/internal/ledger"
	"ubipay/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type accountKey struct {
	owner       uuid.UUID
	accountType domain.AccountType
	currency    domain.Currency
}

type ledgerState struct {
	accounts     map[uuid.UUID]domain.WalletAccount
	accountKeys  map[accountKey]uuid.UUID
	transactions map[uuid.UUID]domain.Transaction
	idempotency  map[string]uuid.UUID
	entries      map[uuid.UUID][]domain.LedgerEntry
	holds        map[uuid.UUID]domain.BalanceHold
}

func newLedgerState() *ledgerState {
	return &ledgerState{
		accounts:     make(map[uuid.UUID]domain.WalletAccount),
		accountKeys:  make(map[accountKey]uuid.UUID),
		transactions: make(map[uuid.UUID]domain.Transaction),
		idempotency:  make(map[string]uuid.UUID),
		entries:      make(map[uuid.UUID][]domain.LedgerEntry),
		holds:        make(map[uuid.UUID]domain.BalanceHold),
	}
}

func (s *ledgerState) clone() *ledgerState {
	c := newLedgerState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.accountKeys {
		c.accountKeys[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = append([]domain.LedgerEntry(nil), v...)
	}
	for k, v := range s.holds {
		c.holds[k] = v
	}
	return c
}

// LedgerStore implements ledger.Store. Transactions run one at a time against
// a copy of the state that replaces the original only on success.
type LedgerStore struct {
	mu    sync.Mutex
	state *ledgerState
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{state: newLedgerState()}
}

func (s *LedgerStore) WithTx(ctx context.Context, fn func(tx ledger.StoreTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	working := s.state.clone()
	if err := fn(&ledgerTx{state: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *LedgerStore) EnsureAccount(_ context.Context, account *domain.WalletAccount) (*domain.WalletAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := accountKey{account.OwnerID, account.AccountType, account.Currency}
	if id, ok := s.state.accountKeys[key]; ok {
		return s.state.account(id)
	}
	s.state.accounts[account.ID] = *account
	s.state.accountKeys[key] = account.ID
	return s.state.account(account.ID)
}

func (s *LedgerStore) GetAccount(_ context.Context, ownerID uuid.UUID, accountType domain.AccountType, currency domain.Currency) (*domain.WalletAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.findAccount(ownerID, accountType, currency)
}

func (s *LedgerStore) GetAccountByID(_ context.Context, id uuid.UUID) (*domain.WalletAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.account(id)
}

func (s *LedgerStore) GetTransaction(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.transaction(id)
}

func (s *LedgerStore) GetTransactionByIdempotencyKey(_ context.Context, key string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.state.idempotency[key]
	if !ok {
		return nil, errors.ErrTransactionNotFound
	}
	return s.state.transaction(id)
}

func (s *LedgerStore) GetEntries(_ context.Context, transactionID uuid.UUID) ([]*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.transactions[transactionID]; !ok {
		return nil, errors.ErrTransactionNotFound
	}
	out := make([]*domain.LedgerEntry, 0, 2)
	for _, e := range s.state.entries[transactionID] {
		e := e
		out = append(out, &e)
	}
	return out, nil
}

func (s *LedgerStore) GetHold(_ context.Context, id uuid.UUID) (*domain.BalanceHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.state.holds[id]
	if !ok {
		return nil, errors.ErrHoldNotFound
	}
	return &h, nil
}

func (s *LedgerStore) ListTransactions(_ context.Context, filter ledger.TransactionFilter) ([]*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Transaction
	for _, t := range s.state.transactions {
		if !matchesFilter(t, filter) {
			continue
		}
		t := t
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchesFilter(t domain.Transaction, f ledger.TransactionFilter) bool {
	if f.Provider != nil && (t.Provider == nil || *t.Provider != *f.Provider) {
		return false
	}
	if f.Currency != "" && t.Currency != f.Currency {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

func (s *LedgerStore) ListExpiredHolds(_ context.Context, now time.Time, limit int) ([]*domain.BalanceHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.BalanceHold
	for _, h := range s.state.holds {
		if h.IsReleased || h.ExpiresAt.After(now) {
			continue
		}
		h := h
		out = append(out, &h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *LedgerStore) SumBalances(_ context.Context, accountType domain.AccountType, currency domain.Currency) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for _, a := range s.state.accounts {
		if a.AccountType == accountType && a.Currency == currency {
			total = total.Add(a.Balance)
		}
	}
	return total, nil
}

// userTransactions returns completed transactions since the given time that
// touched one of the owner's customer accounts, oldest first. An empty
// currency matches every currency.
func (s *ledgerState) userTransactions(ownerID uuid.UUID, currency domain.Currency, since time.Time) []domain.Transaction {
	owned := make(map[uuid.UUID]bool)
	for id, a := range s.accounts {
		if a.OwnerID == ownerID && !a.AccountType.IsSystem() {
			owned[id] = true
		}
	}

	var out []domain.Transaction
	for txID, entries := range s.entries {
		t := s.transactions[txID]
		if t.Status != domain.TransactionStatusCompleted || t.CreatedAt.Before(since) {
			continue
		}
		if currency != "" && t.Currency != currency {
			continue
		}
		for _, e := range entries {
			if owned[e.AccountID] {
				out = append(out, t)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *LedgerStore) UserStats(_ context.Context, ownerID uuid.UUID, currency domain.Currency, since time.Time) (*domain.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txns := s.state.userTransactions(ownerID, currency, since)
	stats := &domain.UserStats{TotalAmount: decimal.Zero, AverageAmount: decimal.Zero}
	for _, t := range txns {
		stats.TransactionCount++
		stats.TotalAmount = stats.TotalAmount.Add(t.Amount)
	}
	if len(txns) > 0 {
		first := txns[0].CreatedAt
		stats.FirstTransactionAt = &first
		stats.AverageAmount = stats.TotalAmount.Div(decimal.NewFromInt(int64(len(txns))))
	}
	return stats, nil
}

func (s *LedgerStore) RecentAmounts(_ context.Context, ownerID uuid.UUID, currency domain.Currency, since time.Time) ([]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txns := s.state.userTransactions(ownerID, currency, since)
	out := make([]decimal.Decimal, 0, len(txns))
	for _, t := range txns {
		out = append(out, t.Amount)
	}
	return out, nil
}

// Accounts returns a snapshot of every account, for invariant checks in tests.
func (s *LedgerStore) Accounts() []*domain.WalletAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.WalletAccount, 0, len(s.state.accounts))
	for _, a := range s.state.accounts {
		a := a
		out = append(out, &a)
	}
	return out
}

// Transactions returns a snapshot of every transaction.
func (s *LedgerStore) Transactions() []*domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Transaction, 0, len(s.state.transactions))
	for _, t := range s.state.transactions {
		t := t
		out = append(out, &t)
	}
	return out
}

func (s *ledgerState) findAccount(ownerID uuid.UUID, accountType domain.AccountType, currency domain.Currency) (*domain.WalletAccount, error) {
	id, ok := s.accountKeys[accountKey{ownerID, accountType, currency}]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return s.account(id)
}

func (s *ledgerState) account(id uuid.UUID) (*domain.WalletAccount, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return &a, nil
}

func (s *ledgerState) transaction(id uuid.UUID) (*domain.Transaction, error) {
	t, ok := s.transactions[id]
	if !ok {
		return nil, errors.ErrTransactionNotFound
	}
	return &t, nil
}

type ledgerTx struct {
	state *ledgerState
}

func (t *ledgerTx) LockAccount(_ context.Context, id uuid.UUID) (*domain.WalletAccount, error) {
	return t.state.account(id)
}

func (t *ledgerTx) FindAccount(_ context.Context, ownerID uuid.UUID, accountType domain.AccountType, currency domain.Currency) (*domain.WalletAccount, error) {
	return t.state.findAccount(ownerID, accountType, currency)
}

func (t *ledgerTx) UpdateAccountBalances(_ context.Context, account *domain.WalletAccount) error {
	existing, ok := t.state.accounts[account.ID]
	if !ok {
		return errors.ErrAccountNotFound
	}
	existing.Balance = account.Balance
	existing.AvailableBalance = account.AvailableBalance
	existing.HeldBalance = account.HeldBalance
	existing.UpdatedAt = account.UpdatedAt
	t.state.accounts[account.ID] = existing
	return nil
}

func (t *ledgerTx) CreateTransaction(_ context.Context, txn *domain.Transaction) error {
	if txn.IdempotencyKey != nil {
		if _, exists := t.state.idempotency[*txn.IdempotencyKey]; exists {
			return errors.ErrDuplicateIdempotencyKey
		}
		t.state.idempotency[*txn.IdempotencyKey] = txn.ID
	}
	t.state.transactions[txn.ID] = *txn
	return nil
}

func (t *ledgerTx) LockTransaction(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return t.state.transaction(id)
}

func (t *ledgerTx) UpdateTransactionStatus(_ context.Context, id uuid.UUID, status domain.TransactionStatus, failureReason *string, at time.Time) error {
	txn, ok := t.state.transactions[id]
	if !ok {
		return errors.ErrTransactionNotFound
	}
	txn.Status = status
	txn.FailureReason = failureReason
	txn.UpdatedAt = at
	if status == domain.TransactionStatusCompleted {
		txn.CompletedAt = &at
	}
	t.state.transactions[id] = txn
	return nil
}

func (t *ledgerTx) CreateEntries(_ context.Context, entries []*domain.LedgerEntry) error {
	for _, e := range entries {
		if _, ok := t.state.transactions[e.TransactionID]; !ok {
			return errors.ErrTransactionNotFound
		}
		t.state.entries[e.TransactionID] = append(t.state.entries[e.TransactionID], *e)
	}
	return nil
}

func (t *ledgerTx) CreateHold(_ context.Context, hold *domain.BalanceHold) error {
	t.state.holds[hold.ID] = *hold
	return nil
}

func (t *ledgerTx) LockHold(_ context.Context, id uuid.UUID) (*domain.BalanceHold, error) {
	h, ok := t.state.holds[id]
	if !ok {
		return nil, errors.ErrHoldNotFound
	}
	return &h, nil
}

func (t *ledgerTx) MarkHoldReleased(_ context.Context, id uuid.UUID, at time.Time) error {
	h, ok := t.state.holds[id]
	if !ok {
		return errors.ErrHoldNotFound
	}
	if h.IsReleased {
		return errors.ErrAlreadyReleased
	}
	h.IsReleased = true
	h.ReleasedAt = &at
	t.state.holds[id] = h
	return nil
}
