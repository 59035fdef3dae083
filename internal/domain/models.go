package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currency represents ISO 4217 currency codes
type Currency string

const (
	KES Currency = "KES" // Kenyan Shilling
	UGX Currency = "UGX" // Ugandan Shilling
	TZS Currency = "TZS" // Tanzanian Shilling
	RWF Currency = "RWF" // Rwandan Franc
	NGN Currency = "NGN" // Nigerian Naira
	GHS Currency = "GHS" // Ghanaian Cedi
	ETB Currency = "ETB" // Ethiopian Birr
	XOF Currency = "XOF" // West African CFA Franc
	XAF Currency = "XAF" // Central African CFA Franc
	ZAR Currency = "ZAR" // South African Rand
	EGP Currency = "EGP" // Egyptian Pound
	MWK Currency = "MWK" // Malawi Kwacha
	ZMW Currency = "ZMW" // Zambian Kwacha
	USD Currency = "USD"
	EUR Currency = "EUR"
)

type AccountType string

const (
	AccountTypeUserWallet         AccountType = "USER_WALLET"
	AccountTypeDriverEarnings     AccountType = "DRIVER_EARNINGS"
	AccountTypeMerchantSettlement AccountType = "MERCHANT_SETTLEMENT"
	AccountTypeUbiFloat           AccountType = "UBI_FLOAT"
	AccountTypeProviderFloat      AccountType = "PROVIDER_FLOAT"
	AccountTypeFeeRevenue         AccountType = "FEE_REVENUE"
)

// IsSystem reports whether the account is a platform-owned operating account.
// System accounts are debit-normal: a debit entry increases their balance and
// their balance may go negative.
func (t AccountType) IsSystem() bool {
	switch t {
	case AccountTypeUbiFloat, AccountTypeProviderFloat, AccountTypeFeeRevenue:
		return true
	}
	return false
}

type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
)

// WalletAccount is one balance bucket per (owner, type, currency).
type WalletAccount struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	OwnerID          uuid.UUID       `json:"owner_id" db:"owner_id"`
	AccountType      AccountType     `json:"account_type" db:"account_type"`
	Currency         Currency        `json:"currency" db:"currency"`
	Balance          decimal.Decimal `json:"balance" db:"balance"`
	AvailableBalance decimal.Decimal `json:"available_balance" db:"available_balance"`
	HeldBalance      decimal.Decimal `json:"held_balance" db:"held_balance"`
	Status           AccountStatus   `json:"status" db:"status"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// CheckInvariant verifies balance == available + held, and non-negativity
// for customer accounts.
func (a *WalletAccount) CheckInvariant() error {
	if !a.Balance.Equal(a.AvailableBalance.Add(a.HeldBalance)) {
		return fmt.Errorf("account %s: balance %s != available %s + held %s",
			a.ID, a.Balance, a.AvailableBalance, a.HeldBalance)
	}
	if a.AccountType.IsSystem() {
		return nil
	}
	if a.Balance.IsNegative() || a.AvailableBalance.IsNegative() || a.HeldBalance.IsNegative() {
		return fmt.Errorf("account %s: negative balance component", a.ID)
	}
	return nil
}

// BalanceHold reserves part of an account's available balance.
type BalanceHold struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	AccountID  uuid.UUID       `json:"account_id" db:"account_id"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	Currency   Currency        `json:"currency" db:"currency"`
	Reason     string          `json:"reason" db:"reason"`
	ExpiresAt  time.Time       `json:"expires_at" db:"expires_at"`
	IsReleased bool            `json:"is_released" db:"is_released"`
	ReleasedAt *time.Time      `json:"released_at,omitempty" db:"released_at"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

type TransactionType string

const (
	TransactionTypeWalletTopup     TransactionType = "WALLET_TOPUP"
	TransactionTypeRidePayment     TransactionType = "RIDE_PAYMENT"
	TransactionTypeFoodPayment     TransactionType = "FOOD_PAYMENT"
	TransactionTypeDeliveryPayment TransactionType = "DELIVERY_PAYMENT"
	TransactionTypeWithdrawal      TransactionType = "WITHDRAWAL"
	TransactionTypeTransfer        TransactionType = "TRANSFER"
	TransactionTypeRefund          TransactionType = "REFUND"
	TransactionTypeDriverPayout    TransactionType = "DRIVER_PAYOUT"
	TransactionTypeFee             TransactionType = "FEE"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
)

// Transaction is the header row of one balanced posting.
type Transaction struct {
	ID                uuid.UUID         `json:"id" db:"id"`
	Reference         string            `json:"reference" db:"reference"`
	Type              TransactionType   `json:"type" db:"type"`
	Amount            decimal.Decimal   `json:"amount" db:"amount"`
	Currency          Currency          `json:"currency" db:"currency"`
	Status            TransactionStatus `json:"status" db:"status"`
	IdempotencyKey    *string           `json:"idempotency_key,omitempty" db:"idempotency_key"`
	ProviderReference *string           `json:"provider_reference,omitempty" db:"provider_reference"`
	Provider          *Provider         `json:"provider,omitempty" db:"provider"`
	Description       string            `json:"description" db:"description"`
	Metadata          Metadata          `json:"metadata" db:"metadata"`
	FailureReason     *string           `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
}

type EntryDirection string

const (
	EntryDirectionDebit  EntryDirection = "DEBIT"
	EntryDirectionCredit EntryDirection = "CREDIT"
)

// LedgerEntry is one side of a transaction.
type LedgerEntry struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	TransactionID uuid.UUID       `json:"transaction_id" db:"transaction_id"`
	AccountID     uuid.UUID       `json:"account_id" db:"account_id"`
	Direction     EntryDirection  `json:"direction" db:"direction"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Currency      Currency        `json:"currency" db:"currency"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Metadata is a JSON-compatible map
type Metadata map[string]interface{}

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, m)
}

// SystemOwnerID derives the stable owner id of platform accounts for a scope,
// e.g. "float" or a provider code.
func SystemOwnerID(scope string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("ubipay:system:"+scope))
}

// UserStats summarises a user's completed ledger history.
type UserStats struct {
	TransactionCount   int             `json:"transaction_count" db:"transaction_count"`
	TotalAmount        decimal.Decimal `json:"total_amount" db:"total_amount"`
	AverageAmount      decimal.Decimal `json:"average_amount" db:"average_amount"`
	FirstTransactionAt *time.Time      `json:"first_transaction_at,omitempty" db:"first_transaction_at"`
}
