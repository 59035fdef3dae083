// Package provider defines the boundary to external payment networks. Ledger
// and reconciliation code depend on Adapter only, never on a network's native
// payload shapes.
package provider

import (
	"context"
	"time"

	"ubipay/internal/domain"

	"github.com/shopspring/decimal"
)

type PaymentRequest struct {
	Reference   string            `json:"reference"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    domain.Currency   `json:"currency"`
	PhoneNumber string            `json:"phone_number,omitempty"`
	Account     string            `json:"account,omitempty"`
	Description string            `json:"description,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Card        string            `json:"card,omitempty"` // encrypted PAN/CVV payload
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type PaymentResponse struct {
	Status                domain.TransactionStatus
	Reference             string
	ProviderTransactionID string
	PaymentURL            string
}

type QueryResponse struct {
	Status                domain.TransactionStatus
	Amount                decimal.Decimal
	Currency              domain.Currency
	ProviderTransactionID string
}

type DisbursementRequest struct {
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    domain.Currency `json:"currency"`
	Recipient   string          `json:"recipient"`
	Description string          `json:"description,omitempty"`
}

type DisbursementResponse struct {
	Status                domain.TransactionStatus
	ProviderTransactionID string
}

// CallbackResult is a provider webhook translated to ledger vocabulary.
type CallbackResult struct {
	Success               bool
	Provider              domain.Provider
	ProviderReference     string
	ProviderTransactionID string
	Status                domain.TransactionStatus
	Amount                decimal.Decimal
	Currency              domain.Currency
	Reason                string
}

// Transaction is one settled record on the provider side, used by
// reconciliation.
type Transaction struct {
	ProviderReference string
	Amount            decimal.Decimal
	Currency          domain.Currency
	Status            domain.TransactionStatus
	OccurredAt        time.Time
}

type Adapter interface {
	Provider() domain.Provider
	CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error)
	QueryTransaction(ctx context.Context, reference string) (*QueryResponse, error)
	Disbursement(ctx context.Context, req DisbursementRequest) (*DisbursementResponse, error)
	// GetBalance never fails: errors are logged and zero is returned.
	GetBalance(ctx context.Context, currency domain.Currency) decimal.Decimal
	HandleCallback(ctx context.Context, payload []byte) (*CallbackResult, error)
	// ListTransactions returns the provider's records for the calendar day
	// containing date.
	ListTransactions(ctx context.Context, date time.Time, currency domain.Currency) ([]Transaction, error)
}
