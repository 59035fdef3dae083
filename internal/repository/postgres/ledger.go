package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ubipay/internal/domain"
	"ubipay/internal/ledger"
	"ubipay/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const (
	accountColumns = `id, owner_id, account_type, currency, balance, available_balance, held_balance, status, created_at, updated_at`

	transactionColumns = `id, reference, type, amount, currency, status, idempotency_key, provider_reference, provider,
		description, metadata, failure_reason, created_at, completed_at, updated_at`

	entryColumns = `id, transaction_id, account_id, direction, amount, currency, balance_after, created_at`

	holdColumns = `id, account_id, amount, currency, reason, expires_at, is_released, released_at, created_at`

	idempotencyIndex = "transactions_idempotency_key_uniq"

	// transactions that touched one of the owner's customer accounts; an
	// empty $3 matches every currency
	ownedTransactionFilter = `
		t.status = 'COMPLETED' AND t.created_at >= $2
		AND ($3::text = '' OR t.currency = $3::text)
		AND EXISTS (
			SELECT 1 FROM ledger_entries e
			JOIN wallet_accounts a ON a.id = e.account_id
			WHERE e.transaction_id = t.id
			  AND a.owner_id = $1
			  AND a.account_type NOT IN ('UBI_FLOAT', 'PROVIDER_FLOAT', 'FEE_REVENUE')
		)`
)

// LedgerStore is the PostgreSQL implementation of ledger.Store.
type LedgerStore struct {
	db *sqlx.DB
}

func NewLedgerStore(db *sqlx.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// WithTx runs fn in a SERIALIZABLE transaction. Serialization failures
// surface as errors.ErrConcurrentUpdate.
func (s *LedgerStore) WithTx(ctx context.Context, fn func(tx ledger.StoreTx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapError(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	return mapError(tx.Commit(), "failed to commit transaction")
}

// EnsureAccount runs as a single autocommit statement at READ COMMITTED, where
// ON CONFLICT DO NOTHING sees rows committed by concurrent inserters.
func (s *LedgerStore) EnsureAccount(ctx context.Context, account *domain.WalletAccount) (*domain.WalletAccount, error) {
	query := `
		INSERT INTO wallet_accounts (` + accountColumns + `)
		VALUES (:id, :owner_id, :account_type, :currency, :balance, :available_balance, :held_balance, :status, :created_at, :updated_at)
		ON CONFLICT (owner_id, account_type, currency) DO NOTHING
	`
	if _, err := s.db.NamedExecContext(ctx, query, account); err != nil {
		return nil, mapError(err, "failed to create account")
	}
	return findAccount(ctx, s.db, account.OwnerID, account.AccountType, account.Currency)
}

func (s *LedgerStore) GetAccount(ctx context.Context, ownerID uuid.UUID, accountType domain.AccountType, currency domain.Currency) (*domain.WalletAccount, error) {
	return findAccount(ctx, s.db, ownerID, accountType, currency)
}

func (s *LedgerStore) GetAccountByID(ctx context.Context, id uuid.UUID) (*domain.WalletAccount, error) {
	account := &domain.WalletAccount{}
	query := `SELECT ` + accountColumns + ` FROM wallet_accounts WHERE id = $1`
	if err := s.db.GetContext(ctx, account, query, id); err != nil {
		if isNoRows(err) {
			return nil, errors.ErrAccountNotFound
		}
		return nil, errors.Wrap(err, "failed to find account by id")
	}
	return account, nil
}

func (s *LedgerStore) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return getTransaction(ctx, s.db, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
}

func (s *LedgerStore) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	return getTransaction(ctx, s.db, `SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`, key)
}

func (s *LedgerStore) GetEntries(ctx context.Context, transactionID uuid.UUID) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE transaction_id = $1 ORDER BY created_at, direction DESC`
	if err := s.db.SelectContext(ctx, &entries, query, transactionID); err != nil {
		return nil, errors.Wrap(err, "failed to get ledger entries")
	}
	return entries, nil
}

func (s *LedgerStore) GetHold(ctx context.Context, id uuid.UUID) (*domain.BalanceHold, error) {
	hold := &domain.BalanceHold{}
	query := `SELECT ` + holdColumns + ` FROM balance_holds WHERE id = $1`
	if err := s.db.GetContext(ctx, hold, query, id); err != nil {
		if isNoRows(err) {
			return nil, errors.ErrHoldNotFound
		}
		return nil, errors.Wrap(err, "failed to find hold")
	}
	return hold, nil
}

func (s *LedgerStore) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]*domain.Transaction, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Provider != nil {
		add("provider = $%d", *filter.Provider)
	}
	if filter.Currency != "" {
		add("currency = $%d", filter.Currency)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Type != "" {
		add("type = $%d", filter.Type)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var txns []*domain.Transaction
	if err := s.db.SelectContext(ctx, &txns, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list transactions")
	}
	return txns, nil
}

func (s *LedgerStore) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*domain.BalanceHold, error) {
	var holds []*domain.BalanceHold
	query := `
		SELECT ` + holdColumns + ` FROM balance_holds
		WHERE NOT is_released AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`
	if err := s.db.SelectContext(ctx, &holds, query, now, limit); err != nil {
		return nil, errors.Wrap(err, "failed to list expired holds")
	}
	return holds, nil
}

func (s *LedgerStore) SumBalances(ctx context.Context, accountType domain.AccountType, currency domain.Currency) (decimal.Decimal, error) {
	var total decimal.Decimal
	query := `SELECT COALESCE(SUM(balance), 0) FROM wallet_accounts WHERE account_type = $1 AND currency = $2`
	if err := s.db.GetContext(ctx, &total, query, accountType, currency); err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to sum balances")
	}
	return total, nil
}

func (s *LedgerStore) UserStats(ctx context.Context, ownerID uuid.UUID, currency domain.Currency, since time.Time) (*domain.UserStats, error) {
	var row struct {
		Count int             `db:"transaction_count"`
		Total decimal.Decimal `db:"total_amount"`
		First *time.Time      `db:"first_transaction_at"`
	}
	query := `
		SELECT COUNT(*) AS transaction_count,
		       COALESCE(SUM(t.amount), 0) AS total_amount,
		       MIN(t.created_at) AS first_transaction_at
		FROM transactions t
		WHERE ` + ownedTransactionFilter
	if err := s.db.GetContext(ctx, &row, query, ownerID, since, string(currency)); err != nil {
		return nil, errors.Wrap(err, "failed to get user stats")
	}

	stats := &domain.UserStats{
		TransactionCount:   row.Count,
		TotalAmount:        row.Total,
		AverageAmount:      decimal.Zero,
		FirstTransactionAt: row.First,
	}
	if row.Count > 0 {
		stats.AverageAmount = row.Total.Div(decimal.NewFromInt(int64(row.Count)))
	}
	return stats, nil
}

func (s *LedgerStore) RecentAmounts(ctx context.Context, ownerID uuid.UUID, currency domain.Currency, since time.Time) ([]decimal.Decimal, error) {
	var amounts []decimal.Decimal
	query := `SELECT t.amount FROM transactions t WHERE ` + ownedTransactionFilter + ` ORDER BY t.created_at`
	if err := s.db.SelectContext(ctx, &amounts, query, ownerID, since, string(currency)); err != nil {
		return nil, errors.Wrap(err, "failed to get recent amounts")
	}
	return amounts, nil
}

func findAccount(ctx context.Context, q sqlx.QueryerContext, ownerID uuid.UUID, accountType domain.AccountType, currency domain.Currency) (*domain.WalletAccount, error) {
	account := &domain.WalletAccount{}
	query := `SELECT ` + accountColumns + ` FROM wallet_accounts WHERE owner_id = $1 AND account_type = $2 AND currency = $3`
	if err := sqlx.GetContext(ctx, q, account, query, ownerID, accountType, currency); err != nil {
		if isNoRows(err) {
			return nil, errors.ErrAccountNotFound
		}
		return nil, mapError(err, "failed to find account")
	}
	return account, nil
}

func getTransaction(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (*domain.Transaction, error) {
	txn := &domain.Transaction{}
	if err := sqlx.GetContext(ctx, q, txn, query, args...); err != nil {
		if isNoRows(err) {
			return nil, errors.ErrTransactionNotFound
		}
		return nil, mapError(err, "failed to find transaction")
	}
	return txn, nil
}

type ledgerTx struct {
	tx *sqlx.Tx
}

func (t *ledgerTx) LockAccount(ctx context.Context, id uuid.UUID) (*domain.WalletAccount, error) {
	account := &domain.WalletAccount{}
	query := `SELECT ` + accountColumns + ` FROM wallet_accounts WHERE id = $1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, account, query, id); err != nil {
		if isNoRows(err) {
			return nil, errors.ErrAccountNotFound
		}
		return nil, mapError(err, "failed to lock account")
	}
	return account, nil
}

func (t *ledgerTx) FindAccount(ctx context.Context, ownerID uuid.UUID, accountType domain.AccountType, currency domain.Currency) (*domain.WalletAccount, error) {
	return findAccount(ctx, t.tx, ownerID, accountType, currency)
}

func (t *ledgerTx) UpdateAccountBalances(ctx context.Context, account *domain.WalletAccount) error {
	query := `
		UPDATE wallet_accounts SET
			balance = :balance,
			available_balance = :available_balance,
			held_balance = :held_balance,
			updated_at = :updated_at
		WHERE id = :id
	`
	res, err := t.tx.NamedExecContext(ctx, query, account)
	if err != nil {
		return mapError(err, "failed to update account balances")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrAccountNotFound
	}
	return nil
}

func (t *ledgerTx) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (
			:id, :reference, :type, :amount, :currency, :status, :idempotency_key, :provider_reference, :provider,
			:description, :metadata, :failure_reason, :created_at, :completed_at, :updated_at
		)
	`
	if _, err := t.tx.NamedExecContext(ctx, query, txn); err != nil {
		if isUniqueViolation(err, idempotencyIndex) {
			return errors.ErrDuplicateIdempotencyKey
		}
		return mapError(err, "failed to create transaction")
	}
	return nil
}

func (t *ledgerTx) LockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return getTransaction(ctx, t.tx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
}

func (t *ledgerTx) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, failureReason *string, at time.Time) error {
	query := `
		UPDATE transactions SET
			status = $2,
			failure_reason = COALESCE($3, failure_reason),
			completed_at = CASE WHEN $2 = 'COMPLETED' THEN $4 ELSE completed_at END,
			updated_at = $4
		WHERE id = $1
	`
	res, err := t.tx.ExecContext(ctx, query, id, status, failureReason, at)
	if err != nil {
		return mapError(err, "failed to update transaction status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrTransactionNotFound
	}
	return nil
}

func (t *ledgerTx) CreateEntries(ctx context.Context, entries []*domain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	query := `
		INSERT INTO ledger_entries (` + entryColumns + `)
		VALUES (:id, :transaction_id, :account_id, :direction, :amount, :currency, :balance_after, :created_at)
	`
	if _, err := t.tx.NamedExecContext(ctx, query, entries); err != nil {
		return mapError(err, "failed to create ledger entries")
	}
	return nil
}

func (t *ledgerTx) CreateHold(ctx context.Context, hold *domain.BalanceHold) error {
	query := `
		INSERT INTO balance_holds (` + holdColumns + `)
		VALUES (:id, :account_id, :amount, :currency, :reason, :expires_at, :is_released, :released_at, :created_at)
	`
	if _, err := t.tx.NamedExecContext(ctx, query, hold); err != nil {
		return mapError(err, "failed to create hold")
	}
	return nil
}

func (t *ledgerTx) LockHold(ctx context.Context, id uuid.UUID) (*domain.BalanceHold, error) {
	hold := &domain.BalanceHold{}
	query := `SELECT ` + holdColumns + ` FROM balance_holds WHERE id = $1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, hold, query, id); err != nil {
		if isNoRows(err) {
			return nil, errors.ErrHoldNotFound
		}
		return nil, mapError(err, "failed to lock hold")
	}
	return hold, nil
}

func (t *ledgerTx) MarkHoldReleased(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE balance_holds SET is_released = TRUE, released_at = $2 WHERE id = $1 AND NOT is_released`
	res, err := t.tx.ExecContext(ctx, query, id, at)
	if err != nil {
		return mapError(err, "failed to release hold")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrAlreadyReleased
	}
	return nil
}
