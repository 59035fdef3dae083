package ledger

import (
	"context"
	"fmt"

	"ubipay/internal/domain"
	"ubipay/pkg/cache"
	"ubipay/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// fingerprint is what must match for an idempotency key to be replayed.
// Primary is the side of the caller's account in the original posting and
// Account names that account; a zero Account is not compared.
type fingerprint struct {
	Type     domain.TransactionType
	Amount   decimal.Decimal
	Currency domain.Currency
	Primary  domain.EntryDirection
	Account  AccountRef
}

func (f fingerprint) matches(txn *domain.Transaction) bool {
	return txn.Type == f.Type && txn.Amount.Equal(f.Amount) && txn.Currency == f.Currency
}

func idempotencyKey(key string) string {
	return "idem:" + key
}

func balanceKey(ownerID uuid.UUID, accountType domain.AccountType, currency domain.Currency) string {
	return fmt.Sprintf("balance:%s:%s:%s", ownerID, accountType, currency)
}

// lookupIdempotent returns the earlier result for key, or nil when the key
// has not been processed. The cache is consulted first, then the store.
func (s *Service) lookupIdempotent(ctx context.Context, key string, fp fingerprint) (*PostingResult, error) {
	var txn *domain.Transaction

	var txID uuid.UUID
	err := s.cache.Get(ctx, idempotencyKey(key), &txID)
	switch {
	case err == nil:
		txn, err = s.store.GetTransaction(ctx, txID)
		if err != nil && !errors.Is(err, errors.ErrTransactionNotFound) {
			return nil, errors.Wrap(err, "failed to load idempotent transaction")
		}
	case errors.Is(err, cache.ErrCacheMiss):
	default:
		s.logger.Warn("Idempotency cache read failed", map[string]interface{}{
			"idempotency_key": key,
			"error":           err.Error(),
		})
	}

	if txn == nil {
		txn, err = s.store.GetTransactionByIdempotencyKey(ctx, key)
		if errors.Is(err, errors.ErrTransactionNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to look up idempotency key")
		}
	}

	if !fp.matches(txn) {
		return nil, errors.ErrIdempotencyConflict
	}

	entries, err := s.store.GetEntries(ctx, txn.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load idempotent entries")
	}

	result := &PostingResult{Transaction: txn, Entries: entries, Replayed: true}
	for _, e := range entries {
		if e.Direction != fp.Primary {
			continue
		}
		account, err := s.store.GetAccountByID(ctx, e.AccountID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load idempotent account")
		}
		result.Account = account
		break
	}
	if fp.Account.valid() && (result.Account == nil || !fp.Account.names(result.Account)) {
		return nil, errors.ErrIdempotencyConflict
	}

	s.rememberIdempotent(ctx, key, txn.ID)
	s.logger.Info("Idempotent replay", map[string]interface{}{
		"idempotency_key": key,
		"transaction_id":  txn.ID.String(),
	})
	return result, nil
}

func (s *Service) rememberIdempotent(ctx context.Context, key string, txID uuid.UUID) {
	if err := s.cache.Set(ctx, idempotencyKey(key), txID, s.cfg.IdempotencyTTL); err != nil {
		s.logger.Warn("Idempotency cache write failed", map[string]interface{}{
			"idempotency_key": key,
			"error":           err.Error(),
		})
	}
}

func (s *Service) invalidateBalances(ctx context.Context, accounts ...*domain.WalletAccount) {
	keys := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if a != nil {
			keys = append(keys, balanceKey(a.OwnerID, a.AccountType, a.Currency))
		}
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("Balance cache invalidation failed", map[string]interface{}{
			"keys":  keys,
			"error": err.Error(),
		})
	}
}
