package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ubipay/internal/domain"
)

// AccountRef points at an account either by id or by its (owner, type) pair.
// The currency comes from the request.
type AccountRef struct {
	AccountID uuid.UUID
	OwnerID   uuid.UUID
	Type      domain.AccountType
}

func ByID(id uuid.UUID) AccountRef {
	return AccountRef{AccountID: id}
}

func ByOwner(ownerID uuid.UUID, accountType domain.AccountType) AccountRef {
	return AccountRef{OwnerID: ownerID, Type: accountType}
}

func (r AccountRef) valid() bool {
	return r.AccountID != uuid.Nil || (r.OwnerID != uuid.Nil && r.Type != "")
}

// names reports whether account is the one r refers to.
func (r AccountRef) names(account *domain.WalletAccount) bool {
	if r.AccountID != uuid.Nil {
		return r.AccountID == account.ID
	}
	return r.OwnerID == account.OwnerID && r.Type == account.AccountType
}

// Balance is the read model returned by GetBalance.
type Balance struct {
	Balance          decimal.Decimal `json:"balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	HeldBalance      decimal.Decimal `json:"held_balance"`
}

type CreditRequest struct {
	Account           AccountRef
	Amount            decimal.Decimal        `validate:"gt=0"`
	Currency          domain.Currency        `validate:"required,currency"`
	Type              domain.TransactionType `validate:"required"`
	Reference         string
	IdempotencyKey    string
	ProviderReference string
	Provider          domain.Provider
	Description       string
	Metadata          domain.Metadata
}

type DebitRequest struct {
	Account           AccountRef
	Amount            decimal.Decimal        `validate:"gt=0"`
	Currency          domain.Currency        `validate:"required,currency"`
	Type              domain.TransactionType `validate:"required"`
	Reference         string
	IdempotencyKey    string
	ProviderReference string
	Provider          domain.Provider
	Description       string
	Metadata          domain.Metadata
}

type HoldRequest struct {
	Account   AccountRef
	Amount    decimal.Decimal `validate:"gt=0"`
	Currency  domain.Currency `validate:"required,currency"`
	Reason    string
	ExpiresAt time.Time
}

type TransferRequest struct {
	From           AccountRef
	To             AccountRef
	Amount         decimal.Decimal        `validate:"gt=0"`
	Currency       domain.Currency        `validate:"required,currency"`
	Type           domain.TransactionType
	Reference      string
	IdempotencyKey string
	Description    string
	Metadata       domain.Metadata
}

// CaptureRequest settles a hold. When To is empty the captured funds go to
// the platform float.
type CaptureRequest struct {
	HoldID      uuid.UUID
	To          AccountRef
	Type        domain.TransactionType
	Reference   string
	Description string
}

type PendingRequest struct {
	Amount            decimal.Decimal        `validate:"gt=0"`
	Currency          domain.Currency        `validate:"required,currency"`
	Type              domain.TransactionType `validate:"required"`
	Reference         string
	IdempotencyKey    string
	ProviderReference string
	Provider          domain.Provider
	Description       string
	Metadata          domain.Metadata
}

// PostingResult is returned by every balance-moving operation. Replayed is set
// when an idempotency key matched an earlier posting and nothing was applied.
type PostingResult struct {
	Transaction *domain.Transaction
	Entries     []*domain.LedgerEntry
	Account     *domain.WalletAccount
	Replayed    bool
}
