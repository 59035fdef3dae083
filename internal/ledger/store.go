package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ubipay/internal/domain"
)

// Reader is the read side of ledger persistence. Reads outside a transaction
// see committed state only.
type Reader interface {
	GetAccount(ctx context.Context, ownerID uuid.UUID, accountType domain.AccountType, currency domain.Currency) (*domain.WalletAccount, error)
	GetAccountByID(ctx context.Context, id uuid.UUID) (*domain.WalletAccount, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)
	GetEntries(ctx context.Context, transactionID uuid.UUID) ([]*domain.LedgerEntry, error)
	GetHold(ctx context.Context, id uuid.UUID) (*domain.BalanceHold, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*domain.Transaction, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*domain.BalanceHold, error)
	SumBalances(ctx context.Context, accountType domain.AccountType, currency domain.Currency) (decimal.Decimal, error)
	// UserStats and RecentAmounts cover one currency; an empty currency
	// covers all of them.
	UserStats(ctx context.Context, ownerID uuid.UUID, currency domain.Currency, since time.Time) (*domain.UserStats, error)
	RecentAmounts(ctx context.Context, ownerID uuid.UUID, currency domain.Currency, since time.Time) ([]decimal.Decimal, error)
}

// Store adds an explicit serializable transaction boundary to Reader.
// If fn returns an error every write made through tx is rolled back.
type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(tx StoreTx) error) error
	// EnsureAccount inserts account unless its (owner, type, currency) tuple
	// exists and returns the stored row. It runs outside WithTx so that
	// concurrent first-time callers converge instead of failing serialization.
	EnsureAccount(ctx context.Context, account *domain.WalletAccount) (*domain.WalletAccount, error)
}

// StoreTx is the write side, valid only inside WithTx. Lock* methods take a
// row lock held until the transaction ends.
type StoreTx interface {
	LockAccount(ctx context.Context, id uuid.UUID) (*domain.WalletAccount, error)
	FindAccount(ctx context.Context, ownerID uuid.UUID, accountType domain.AccountType, currency domain.Currency) (*domain.WalletAccount, error)
	UpdateAccountBalances(ctx context.Context, account *domain.WalletAccount) error

	CreateTransaction(ctx context.Context, txn *domain.Transaction) error
	LockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, failureReason *string, at time.Time) error
	CreateEntries(ctx context.Context, entries []*domain.LedgerEntry) error

	CreateHold(ctx context.Context, hold *domain.BalanceHold) error
	LockHold(ctx context.Context, id uuid.UUID) (*domain.BalanceHold, error)
	MarkHoldReleased(ctx context.Context, id uuid.UUID, at time.Time) error
}

// TransactionFilter narrows ListTransactions. Zero values are ignored.
type TransactionFilter struct {
	Provider *domain.Provider
	Currency domain.Currency
	Status   domain.TransactionStatus
	Type     domain.TransactionType
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}
