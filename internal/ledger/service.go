package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ubipay/internal/domain"
	"ubipay/pkg/cache"
	"ubipay/pkg/config"
	"ubipay/pkg/errors"
	"ubipay/pkg/logger"
	"ubipay/pkg/metrics"
	"ubipay/pkg/validator"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const floatScope = "float"

// Service owns wallet accounts, holds and the double-entry transaction log.
// Every mutation runs inside one serializable store transaction and is never
// retried here; callers resubmit with the same idempotency key.
type Service struct {
	store     Store
	cache     cache.Cache
	cfg       config.LedgerConfig
	logger    logger.Logger
	validator *validator.Validator
	refs      *ReferenceGenerator
	now       func() time.Time
}

func NewService(store Store, c cache.Cache, cfg config.LedgerConfig, log logger.Logger) *Service {
	return &Service{
		store:     store,
		cache:     c,
		cfg:       cfg,
		logger:    log,
		validator: validator.New(),
		refs:      NewReferenceGenerator("UBI"),
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetOrCreateAccount returns the account for the tuple, creating it with zero
// balances if needed. Concurrent callers converge on the same row.
func (s *Service) GetOrCreateAccount(ctx context.Context, ownerID uuid.UUID, accountType domain.AccountType, currency domain.Currency) (*domain.WalletAccount, error) {
	if !validator.IsSupportedCurrency(string(currency)) {
		return nil, errors.ErrUnsupportedCurrency
	}
	if ownerID == uuid.Nil || accountType == "" {
		return nil, errors.ErrInvalidRequest
	}

	account, err := s.store.GetAccount(ctx, ownerID, accountType, currency)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, errors.ErrAccountNotFound) {
		return nil, errors.Wrap(err, "failed to get account")
	}

	account, err = s.ensureAccount(ctx, s.newAccount(ownerID, accountType, currency))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create account")
	}

	s.invalidateBalances(ctx, account)
	s.logger.Info("Account ready", map[string]interface{}{
		"account_id":   account.ID.String(),
		"owner_id":     ownerID.String(),
		"account_type": accountType,
		"currency":     currency,
	})
	return account, nil
}

// GetBalance never creates an account; a missing account reads as zeros.
func (s *Service) GetBalance(ctx context.Context, ownerID uuid.UUID, accountType domain.AccountType, currency domain.Currency) (*Balance, error) {
	key := balanceKey(ownerID, accountType, currency)

	var cached Balance
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("Balance cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
	}

	account, err := s.store.GetAccount(ctx, ownerID, accountType, currency)
	if errors.Is(err, errors.ErrAccountNotFound) {
		return &Balance{Balance: decimal.Zero, AvailableBalance: decimal.Zero, HeldBalance: decimal.Zero}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get balance")
	}

	balance := &Balance{
		Balance:          account.Balance,
		AvailableBalance: account.AvailableBalance,
		HeldBalance:      account.HeldBalance,
	}
	if err := s.cache.Set(ctx, key, balance, s.cfg.BalanceCacheTTL); err != nil {
		s.logger.Warn("Balance cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
	}
	return balance, nil
}

// Credit adds funds to an account against the platform float, or the
// provider's float when the request names a provider.
func (s *Service) Credit(ctx context.Context, req CreditRequest) (*PostingResult, error) {
	if err := s.validateMovement(req.Account, req.Amount, req.Currency, req); err != nil {
		return nil, err
	}
	return s.postAgainstFloat(ctx, "credit", domain.EntryDirectionCredit, floatMovement{
		account:           req.Account,
		amount:            req.Amount,
		currency:          req.Currency,
		txType:            req.Type,
		reference:         req.Reference,
		idempotencyKey:    req.IdempotencyKey,
		providerReference: req.ProviderReference,
		provider:          req.Provider,
		description:       req.Description,
		metadata:          req.Metadata,
	})
}

// Debit removes funds from an account's available balance.
func (s *Service) Debit(ctx context.Context, req DebitRequest) (*PostingResult, error) {
	if err := s.validateMovement(req.Account, req.Amount, req.Currency, req); err != nil {
		return nil, err
	}
	return s.postAgainstFloat(ctx, "debit", domain.EntryDirectionDebit, floatMovement{
		account:           req.Account,
		amount:            req.Amount,
		currency:          req.Currency,
		txType:            req.Type,
		reference:         req.Reference,
		idempotencyKey:    req.IdempotencyKey,
		providerReference: req.ProviderReference,
		provider:          req.Provider,
		description:       req.Description,
		metadata:          req.Metadata,
	})
}

type floatMovement struct {
	account           AccountRef
	amount            decimal.Decimal
	currency          domain.Currency
	txType            domain.TransactionType
	reference         string
	idempotencyKey    string
	providerReference string
	provider          domain.Provider
	description       string
	metadata          domain.Metadata
}

// postAgainstFloat posts m with the referenced account on side dir and the
// float account on the opposite side.
func (s *Service) postAgainstFloat(ctx context.Context, op string, dir domain.EntryDirection, m floatMovement) (*PostingResult, error) {
	float, err := s.ensureFloat(ctx, m.provider, m.currency)
	if err != nil {
		return nil, err
	}
	fp := fingerprint{Type: m.txType, Amount: m.amount, Currency: m.currency, Primary: dir, Account: m.account}
	result, err := s.execute(ctx, op, m.idempotencyKey, fp, func(tx StoreTx) (*PostingResult, []*domain.WalletAccount, error) {
		accountID, err := s.resolve(ctx, tx, m.account, m.currency)
		if err != nil {
			return nil, nil, err
		}
		if accountID == float.ID {
			return nil, nil, errors.ErrSameAccountTransfer
		}

		accounts, err := s.lockAccounts(ctx, tx, m.currency, accountID, float.ID)
		if err != nil {
			return nil, nil, err
		}
		account, counterparty := accounts[accountID], accounts[float.ID]

		txn := s.newTransaction(m.txType, m.amount, m.currency, m.reference, m.idempotencyKey,
			m.providerReference, m.provider, m.description, m.metadata)
		debit, credit := account, counterparty
		if dir == domain.EntryDirectionCredit {
			debit, credit = counterparty, account
		}
		entries, err := s.post(ctx, tx, txn, debit, credit)
		if err != nil {
			return nil, nil, err
		}
		return &PostingResult{Transaction: txn, Entries: entries, Account: account}, []*domain.WalletAccount{account, counterparty}, nil
	})
	if err != nil {
		return nil, err
	}

	if dir == domain.EntryDirectionCredit {
		s.logPosting("Credit posted", result)
	} else {
		s.logPosting("Debit posted", result)
	}
	return result, nil
}

// Transfer moves funds between two accounts under one transaction.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*PostingResult, error) {
	if sameRef(req.From, req.To) {
		return nil, errors.ErrSameAccountTransfer
	}
	if !req.To.valid() {
		return nil, errors.ErrInvalidRequest
	}
	if err := s.validateMovement(req.From, req.Amount, req.Currency, req); err != nil {
		return nil, err
	}
	if req.Type == "" {
		req.Type = domain.TransactionTypeTransfer
	}

	fp := fingerprint{Type: req.Type, Amount: req.Amount, Currency: req.Currency, Primary: domain.EntryDirectionDebit, Account: req.From}
	result, err := s.execute(ctx, "transfer", req.IdempotencyKey, fp, func(tx StoreTx) (*PostingResult, []*domain.WalletAccount, error) {
		fromID, err := s.resolve(ctx, tx, req.From, req.Currency)
		if err != nil {
			return nil, nil, err
		}
		toID, err := s.resolve(ctx, tx, req.To, req.Currency)
		if err != nil {
			return nil, nil, err
		}
		if fromID == toID {
			return nil, nil, errors.ErrSameAccountTransfer
		}

		accounts, err := s.lockAccounts(ctx, tx, req.Currency, fromID, toID)
		if err != nil {
			return nil, nil, err
		}
		from, to := accounts[fromID], accounts[toID]

		txn := s.newTransaction(req.Type, req.Amount, req.Currency, req.Reference, req.IdempotencyKey,
			"", "", req.Description, req.Metadata)
		entries, err := s.post(ctx, tx, txn, from, to)
		if err != nil {
			return nil, nil, err
		}
		return &PostingResult{Transaction: txn, Entries: entries, Account: from}, []*domain.WalletAccount{from, to}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logPosting("Transfer posted", result)
	return result, nil
}

// Hold moves amount from available to held without changing the balance.
func (s *Service) Hold(ctx context.Context, req HoldRequest) (hold *domain.BalanceHold, err error) {
	start := time.Now()
	defer func() { observe("hold", start, err) }()

	if err := s.validateMovement(req.Account, req.Amount, req.Currency, req); err != nil {
		return nil, err
	}
	now := s.now()
	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.cfg.DefaultHoldTTL)
	}
	if !expiresAt.After(now) {
		return nil, fmt.Errorf("%w: hold expiry must be in the future", errors.ErrInvalidRequest)
	}

	var account *domain.WalletAccount
	err = s.store.WithTx(ctx, func(tx StoreTx) error {
		accountID, err := s.resolve(ctx, tx, req.Account, req.Currency)
		if err != nil {
			return err
		}
		accounts, err := s.lockAccounts(ctx, tx, req.Currency, accountID)
		if err != nil {
			return err
		}
		account = accounts[accountID]

		if req.Amount.GreaterThan(account.AvailableBalance) {
			return errors.ErrInsufficientAvailableBalance
		}
		account.AvailableBalance = account.AvailableBalance.Sub(req.Amount)
		account.HeldBalance = account.HeldBalance.Add(req.Amount)
		if err := s.saveAccount(ctx, tx, account); err != nil {
			return err
		}

		hold = &domain.BalanceHold{
			ID:        uuid.New(),
			AccountID: account.ID,
			Amount:    req.Amount,
			Currency:  req.Currency,
			Reason:    req.Reason,
			ExpiresAt: expiresAt,
			CreatedAt: now,
		}
		return tx.CreateHold(ctx, hold)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateBalances(ctx, account)
	s.logger.Info("Funds held", map[string]interface{}{
		"hold_id":    hold.ID.String(),
		"account_id": account.ID.String(),
		"amount":     hold.Amount.String(),
		"expires_at": hold.ExpiresAt,
	})
	return hold, nil
}

// Release returns a hold's amount to the available balance.
func (s *Service) Release(ctx context.Context, holdID uuid.UUID) (hold *domain.BalanceHold, err error) {
	start := time.Now()
	defer func() { observe("release", start, err) }()

	var account *domain.WalletAccount
	err = s.store.WithTx(ctx, func(tx StoreTx) error {
		h, acc, err := s.releaseInTx(ctx, tx, holdID)
		hold, account = h, acc
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidateBalances(ctx, account)
	s.logger.Info("Hold released", map[string]interface{}{
		"hold_id":    hold.ID.String(),
		"account_id": account.ID.String(),
		"amount":     hold.Amount.String(),
	})
	return hold, nil
}

// CaptureHold releases a hold and debits the same amount in one transaction.
func (s *Service) CaptureHold(ctx context.Context, req CaptureRequest) (*PostingResult, error) {
	if req.HoldID == uuid.Nil {
		return nil, errors.ErrInvalidRequest
	}
	if req.Type == "" {
		req.Type = domain.TransactionTypeRidePayment
	}

	// Without a destination the hold is captured into the platform float,
	// which may not exist yet for the hold's currency.
	var floatID uuid.UUID
	if !req.To.valid() {
		h, err := s.store.GetHold(ctx, req.HoldID)
		if err != nil {
			return nil, err
		}
		float, err := s.ensureFloat(ctx, "", h.Currency)
		if err != nil {
			return nil, err
		}
		floatID = float.ID
	}

	var hold *domain.BalanceHold
	result, err := s.execute(ctx, "capture", "", fingerprint{}, func(tx StoreTx) (*PostingResult, []*domain.WalletAccount, error) {
		h, err := tx.LockHold(ctx, req.HoldID)
		if err != nil {
			return nil, nil, err
		}
		if h.IsReleased {
			return nil, nil, errors.ErrAlreadyReleased
		}
		if !h.ExpiresAt.After(s.now()) {
			return nil, nil, errors.ErrHoldExpired
		}
		hold = h

		destID := floatID
		if req.To.valid() {
			if destID, err = s.resolve(ctx, tx, req.To, h.Currency); err != nil {
				return nil, nil, err
			}
		}
		if destID == h.AccountID {
			return nil, nil, errors.ErrSameAccountTransfer
		}

		accounts, err := s.lockAccounts(ctx, tx, h.Currency, h.AccountID, destID)
		if err != nil {
			return nil, nil, err
		}
		account, dest := accounts[h.AccountID], accounts[destID]

		account.HeldBalance = account.HeldBalance.Sub(h.Amount)
		account.AvailableBalance = account.AvailableBalance.Add(h.Amount)
		now := s.now()
		if err := tx.MarkHoldReleased(ctx, h.ID, now); err != nil {
			return nil, nil, err
		}
		h.IsReleased = true
		h.ReleasedAt = &now

		txn := s.newTransaction(req.Type, h.Amount, h.Currency, req.Reference, "", "", "", req.Description,
			domain.Metadata{"hold_id": h.ID.String()})
		entries, err := s.post(ctx, tx, txn, account, dest)
		if err != nil {
			return nil, nil, err
		}
		return &PostingResult{Transaction: txn, Entries: entries, Account: account}, []*domain.WalletAccount{account, dest}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Hold captured", map[string]interface{}{
		"hold_id":        hold.ID.String(),
		"transaction_id": result.Transaction.ID.String(),
		"amount":         hold.Amount.String(),
	})
	return result, nil
}

// ExpireHolds releases holds whose expiry has passed and returns how many
// were released. Each hold is released in its own transaction.
func (s *Service) ExpireHolds(ctx context.Context) (int, error) {
	holds, err := s.store.ListExpiredHolds(ctx, s.now(), 500)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list expired holds")
	}

	released := 0
	for _, h := range holds {
		if _, err := s.Release(ctx, h.ID); err != nil {
			if errors.Is(err, errors.ErrAlreadyReleased) {
				continue
			}
			s.logger.Error("Failed to expire hold", map[string]interface{}{
				"hold_id": h.ID.String(),
				"error":   err.Error(),
			})
			continue
		}
		released++
	}
	return released, nil
}

// CreatePendingTransaction records a movement parked behind a risk review.
// It carries no entries until the movement is executed.
func (s *Service) CreatePendingTransaction(ctx context.Context, req PendingRequest) (*domain.Transaction, error) {
	if err := checkAmount(req.Amount); err != nil {
		return nil, err
	}
	if !validator.IsSupportedCurrency(string(req.Currency)) {
		return nil, errors.ErrUnsupportedCurrency
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err)
	}

	if req.IdempotencyKey != "" {
		existing, err := s.store.GetTransactionByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			fp := fingerprint{Type: req.Type, Amount: req.Amount, Currency: req.Currency}
			if !fp.matches(existing) {
				return nil, errors.ErrIdempotencyConflict
			}
			return existing, nil
		}
		if !errors.Is(err, errors.ErrTransactionNotFound) {
			return nil, errors.Wrap(err, "failed to look up idempotency key")
		}
	}

	txn := s.newTransaction(req.Type, req.Amount, req.Currency, req.Reference, req.IdempotencyKey,
		req.ProviderReference, req.Provider, req.Description, req.Metadata)
	txn.Status = domain.TransactionStatusPending
	txn.CompletedAt = nil

	err := s.store.WithTx(ctx, func(tx StoreTx) error {
		return tx.CreateTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// MarkTransactionFailed moves a PENDING transaction to FAILED.
func (s *Service) MarkTransactionFailed(ctx context.Context, transactionID uuid.UUID, reason string) error {
	err := s.store.WithTx(ctx, func(tx StoreTx) error {
		txn, err := tx.LockTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if txn.Status != domain.TransactionStatusPending {
			return fmt.Errorf("%w: %s -> %s", errors.ErrInvalidTransition, txn.Status, domain.TransactionStatusFailed)
		}
		return tx.UpdateTransactionStatus(ctx, transactionID, domain.TransactionStatusFailed, &reason, s.now())
	})
	if err != nil {
		return err
	}

	s.logger.Info("Transaction failed", map[string]interface{}{
		"transaction_id": transactionID.String(),
		"reason":         reason,
	})
	return nil
}

func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

func (s *Service) GetEntries(ctx context.Context, transactionID uuid.UUID) ([]*domain.LedgerEntry, error) {
	return s.store.GetEntries(ctx, transactionID)
}

func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]*domain.Transaction, error) {
	return s.store.ListTransactions(ctx, filter)
}

// SumBalances aggregates the balance of every account of a type and currency.
func (s *Service) SumBalances(ctx context.Context, accountType domain.AccountType, currency domain.Currency) (decimal.Decimal, error) {
	return s.store.SumBalances(ctx, accountType, currency)
}

// ProviderFloatBalance is the ledger's position with a payment provider.
func (s *Service) ProviderFloatBalance(ctx context.Context, provider domain.Provider, currency domain.Currency) (decimal.Decimal, error) {
	account, err := s.store.GetAccount(ctx, domain.SystemOwnerID(string(provider)), domain.AccountTypeProviderFloat, currency)
	if errors.Is(err, errors.ErrAccountNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// VerifyTransaction checks that a transaction's entries balance.
func (s *Service) VerifyTransaction(ctx context.Context, transactionID uuid.UUID) error {
	entries, err := s.store.GetEntries(ctx, transactionID)
	if err != nil {
		return err
	}
	return checkBalanced(entries)
}

func checkBalanced(entries []*domain.LedgerEntry) error {
	debits, credits := decimal.Zero, decimal.Zero
	var nDebit, nCredit int
	for _, e := range entries {
		switch e.Direction {
		case domain.EntryDirectionDebit:
			debits = debits.Add(e.Amount)
			nDebit++
		case domain.EntryDirectionCredit:
			credits = credits.Add(e.Amount)
			nCredit++
		}
	}
	if nDebit == 0 || nCredit == 0 {
		return fmt.Errorf("one-sided transaction: %d debit, %d credit entries", nDebit, nCredit)
	}
	if !debits.Equal(credits) {
		return fmt.Errorf("unbalanced transaction: debits %s != credits %s", debits, credits)
	}
	return nil
}

// UserStats and RecentAmounts expose the user's history in one currency to
// the risk engine. An empty currency spans every currency.
func (s *Service) UserStats(ctx context.Context, userID uuid.UUID, currency domain.Currency, since time.Time) (*domain.UserStats, error) {
	return s.store.UserStats(ctx, userID, currency, since)
}

func (s *Service) RecentAmounts(ctx context.Context, userID uuid.UUID, currency domain.Currency, since time.Time) ([]decimal.Decimal, error) {
	return s.store.RecentAmounts(ctx, userID, currency, since)
}

// execute runs one posting with idempotent lookup-before-execute semantics.
func (s *Service) execute(ctx context.Context, op, key string, fp fingerprint,
	run func(tx StoreTx) (*PostingResult, []*domain.WalletAccount, error)) (result *PostingResult, err error) {
	start := time.Now()
	defer func() { observe(op, start, err) }()

	if key != "" {
		prior, err := s.lookupIdempotent(ctx, key, fp)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return prior, nil
		}
	}

	var touched []*domain.WalletAccount
	err = s.store.WithTx(ctx, func(tx StoreTx) error {
		r, accounts, err := run(tx)
		if err != nil {
			return err
		}
		result, touched = r, accounts
		return nil
	})
	if err != nil && key != "" && errors.Is(err, errors.ErrDuplicateIdempotencyKey) {
		// Lost a race with a concurrent request carrying the same key.
		prior, lerr := s.lookupIdempotent(ctx, key, fp)
		if lerr != nil {
			return nil, lerr
		}
		if prior != nil {
			return prior, nil
		}
	}
	if err != nil {
		return nil, err
	}

	s.invalidateBalances(ctx, touched...)
	if key != "" {
		s.rememberIdempotent(ctx, key, result.Transaction.ID)
	}
	return result, nil
}

func (s *Service) resolve(ctx context.Context, tx StoreTx, ref AccountRef, currency domain.Currency) (uuid.UUID, error) {
	if ref.AccountID != uuid.Nil {
		return ref.AccountID, nil
	}
	account, err := tx.FindAccount(ctx, ref.OwnerID, ref.Type, currency)
	if err != nil {
		return uuid.Nil, err
	}
	return account.ID, nil
}

// lockAccounts locks rows in uuid string order so concurrent postings over
// the same pair of accounts cannot deadlock.
func (s *Service) lockAccounts(ctx context.Context, tx StoreTx, currency domain.Currency, ids ...uuid.UUID) (map[uuid.UUID]*domain.WalletAccount, error) {
	ordered := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			ordered = append(ordered, id)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].String() < ordered[j].String() })

	accounts := make(map[uuid.UUID]*domain.WalletAccount, len(ordered))
	for _, id := range ordered {
		account, err := tx.LockAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		if account.Currency != currency {
			return nil, errors.ErrCurrencyMismatch
		}
		accounts[id] = account
	}
	return accounts, nil
}

// ensureAccount creates account outside any posting transaction. A
// serialization failure means a concurrent caller created it first.
func (s *Service) ensureAccount(ctx context.Context, account *domain.WalletAccount) (*domain.WalletAccount, error) {
	created, err := s.store.EnsureAccount(ctx, account)
	if errors.Is(err, errors.ErrConcurrentUpdate) {
		return s.store.GetAccount(ctx, account.OwnerID, account.AccountType, account.Currency)
	}
	return created, err
}

func (s *Service) ensureFloat(ctx context.Context, provider domain.Provider, currency domain.Currency) (*domain.WalletAccount, error) {
	owner, accountType := domain.SystemOwnerID(floatScope), domain.AccountTypeUbiFloat
	if provider != "" {
		owner, accountType = domain.SystemOwnerID(string(provider)), domain.AccountTypeProviderFloat
	}
	float, err := s.ensureAccount(ctx, s.newAccount(owner, accountType, currency))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create float account")
	}
	return float, nil
}

func (s *Service) releaseInTx(ctx context.Context, tx StoreTx, holdID uuid.UUID) (*domain.BalanceHold, *domain.WalletAccount, error) {
	hold, err := tx.LockHold(ctx, holdID)
	if err != nil {
		return nil, nil, err
	}
	if hold.IsReleased {
		return nil, nil, errors.ErrAlreadyReleased
	}

	accounts, err := s.lockAccounts(ctx, tx, hold.Currency, hold.AccountID)
	if err != nil {
		return nil, nil, err
	}
	account := accounts[hold.AccountID]
	account.HeldBalance = account.HeldBalance.Sub(hold.Amount)
	account.AvailableBalance = account.AvailableBalance.Add(hold.Amount)
	if err := s.saveAccount(ctx, tx, account); err != nil {
		return nil, nil, err
	}

	now := s.now()
	if err := tx.MarkHoldReleased(ctx, hold.ID, now); err != nil {
		return nil, nil, err
	}
	hold.IsReleased = true
	hold.ReleasedAt = &now
	return hold, account, nil
}

// post applies a balanced debit/credit pair and writes the transaction with
// its two entries.
func (s *Service) post(ctx context.Context, tx StoreTx, txn *domain.Transaction, debit, credit *domain.WalletAccount) ([]*domain.LedgerEntry, error) {
	if err := tx.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}

	if err := applyEntry(debit, domain.EntryDirectionDebit, txn.Amount); err != nil {
		return nil, err
	}
	if err := applyEntry(credit, domain.EntryDirectionCredit, txn.Amount); err != nil {
		return nil, err
	}
	if err := s.saveAccount(ctx, tx, debit); err != nil {
		return nil, err
	}
	if err := s.saveAccount(ctx, tx, credit); err != nil {
		return nil, err
	}

	entries := []*domain.LedgerEntry{
		{
			ID:            uuid.New(),
			TransactionID: txn.ID,
			AccountID:     debit.ID,
			Direction:     domain.EntryDirectionDebit,
			Amount:        txn.Amount,
			Currency:      txn.Currency,
			BalanceAfter:  debit.Balance,
			CreatedAt:     txn.CreatedAt,
		},
		{
			ID:            uuid.New(),
			TransactionID: txn.ID,
			AccountID:     credit.ID,
			Direction:     domain.EntryDirectionCredit,
			Amount:        txn.Amount,
			Currency:      txn.Currency,
			BalanceAfter:  credit.Balance,
			CreatedAt:     txn.CreatedAt,
		},
	}
	if err := tx.CreateEntries(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// applyEntry moves a customer account's balance up on credit and a system
// account's balance up on debit. Customer accounts cannot go below zero.
func applyEntry(account *domain.WalletAccount, direction domain.EntryDirection, amount decimal.Decimal) error {
	increase := direction == domain.EntryDirectionCredit
	if account.AccountType.IsSystem() {
		increase = !increase
	}
	if increase {
		account.Balance = account.Balance.Add(amount)
		account.AvailableBalance = account.AvailableBalance.Add(amount)
		return nil
	}
	if !account.AccountType.IsSystem() && amount.GreaterThan(account.AvailableBalance) {
		return errors.ErrInsufficientBalance
	}
	account.Balance = account.Balance.Sub(amount)
	account.AvailableBalance = account.AvailableBalance.Sub(amount)
	return nil
}

func (s *Service) saveAccount(ctx context.Context, tx StoreTx, account *domain.WalletAccount) error {
	if err := account.CheckInvariant(); err != nil {
		return errors.Wrap(err, "balance invariant violated")
	}
	account.UpdatedAt = s.now()
	return tx.UpdateAccountBalances(ctx, account)
}

func (s *Service) newAccount(ownerID uuid.UUID, accountType domain.AccountType, currency domain.Currency) *domain.WalletAccount {
	now := s.now()
	return &domain.WalletAccount{
		ID:               uuid.New(),
		OwnerID:          ownerID,
		AccountType:      accountType,
		Currency:         currency,
		Balance:          decimal.Zero,
		AvailableBalance: decimal.Zero,
		HeldBalance:      decimal.Zero,
		Status:           domain.AccountStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (s *Service) newTransaction(txType domain.TransactionType, amount decimal.Decimal, currency domain.Currency,
	reference, idempotencyKey, providerReference string, provider domain.Provider, description string, metadata domain.Metadata) *domain.Transaction {
	now := s.now()
	if reference == "" {
		reference = s.refs.Next(now)
	}
	txn := &domain.Transaction{
		ID:          uuid.New(),
		Reference:   reference,
		Type:        txType,
		Amount:      amount,
		Currency:    currency,
		Status:      domain.TransactionStatusCompleted,
		Provider:    domain.ProviderPtr(provider),
		Description: description,
		Metadata:    metadata,
		CreatedAt:   now,
		CompletedAt: &now,
		UpdatedAt:   now,
	}
	if idempotencyKey != "" {
		txn.IdempotencyKey = &idempotencyKey
	}
	if providerReference != "" {
		txn.ProviderReference = &providerReference
	}
	return txn
}

// amountScale is the number of decimal places the ledger stores.
const amountScale = 4

// checkAmount rejects amounts the ledger cannot store exactly.
func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(amountScale)) {
		return fmt.Errorf("%w: at most %d decimal places", errors.ErrInvalidAmount, amountScale)
	}
	return nil
}

func (s *Service) validateMovement(ref AccountRef, amount decimal.Decimal, currency domain.Currency, req interface{}) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if !validator.IsSupportedCurrency(string(currency)) {
		return errors.ErrUnsupportedCurrency
	}
	if !ref.valid() {
		return fmt.Errorf("%w: account reference is empty", errors.ErrInvalidRequest)
	}
	if err := s.validator.Validate(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err)
	}
	return nil
}

func (s *Service) logPosting(message string, result *PostingResult) {
	s.logger.Info(message, map[string]interface{}{
		"transaction_id": result.Transaction.ID.String(),
		"reference":      result.Transaction.Reference,
		"account_id":     result.Account.ID.String(),
		"type":           result.Transaction.Type,
		"amount":         result.Transaction.Amount.String(),
		"currency":       result.Transaction.Currency,
		"replayed":       result.Replayed,
	})
}

func sameRef(a, b AccountRef) bool {
	if a.AccountID != uuid.Nil && a.AccountID == b.AccountID {
		return true
	}
	return a.AccountID == uuid.Nil && b.AccountID == uuid.Nil &&
		a.OwnerID != uuid.Nil && a.OwnerID == b.OwnerID && a.Type == b.Type
}

func observe(op string, start time.Time, err error) {
	metrics.LedgerOperations.WithLabelValues(op, metrics.Outcome(err)).Inc()
	metrics.LedgerOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
