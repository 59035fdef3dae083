// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to decide how to surface it.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindState              Kind = "state"
	KindNotFound           Kind = "not_found"
	KindSecurity           Kind = "security"
	KindProvider           Kind = "provider"
	KindReconciliationData Kind = "reconciliation_data"
	KindInternal           Kind = "internal"
)

// Error is a sentinel error tagged with its Kind. Sentinels are compared by
// identity, so errors.Is works through any amount of wrapping.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Validation errors
var (
	ErrInvalidAmount       = newError(KindValidation, "invalid amount: must be greater than zero")
	ErrCurrencyMismatch    = newError(KindValidation, "currency mismatch")
	ErrUnsupportedCurrency = newError(KindValidation, "unsupported currency")
	ErrInvalidRequest      = newError(KindValidation, "invalid request")
	ErrInvalidDecision     = newError(KindValidation, "invalid review decision")
)

// State errors
var (
	ErrInsufficientBalance          = newError(KindState, "insufficient balance")
	ErrInsufficientAvailableBalance = newError(KindState, "insufficient available balance")
	ErrAlreadyReleased              = newError(KindState, "hold already released")
	ErrHoldExpired                  = newError(KindState, "hold expired")
	ErrAlreadyResolved              = newError(KindState, "already resolved")
	ErrWalletAlreadyExists          = newError(KindState, "wallet already exists")
	ErrSameAccountTransfer          = newError(KindState, "cannot transfer to the same account")
	ErrIdempotencyConflict          = newError(KindState, "idempotency key reused with different parameters")
	ErrDuplicateIdempotencyKey      = newError(KindState, "idempotency key already processed")
	ErrInvalidTransition            = newError(KindState, "invalid status transition")
	ErrConcurrentUpdate             = newError(KindState, "concurrent update, resubmit the request")
	ErrNotReviewable                = newError(KindState, "assessment is not awaiting review")
)

// Not found errors
var (
	ErrAccountNotFound     = newError(KindNotFound, "account not found")
	ErrHoldNotFound        = newError(KindNotFound, "hold not found")
	ErrTransactionNotFound = newError(KindNotFound, "transaction not found")
	ErrAssessmentNotFound  = newError(KindNotFound, "risk assessment not found")
	ErrDiscrepancyNotFound = newError(KindNotFound, "discrepancy not found")
	ErrReportNotFound      = newError(KindNotFound, "reconciliation report not found")
)

// Security errors
var (
	ErrBlacklisted     = newError(KindSecurity, "request source is blacklisted")
	ErrRiskBlocked     = newError(KindSecurity, "transaction blocked by risk engine")
	ErrRiskUnavailable = newError(KindSecurity, "risk assessment unavailable")
)

// Provider errors
var (
	ErrProviderNotRegistered = newError(KindProvider, "provider not registered")
)

// ProviderError wraps an upstream payment-network failure with the provider's message.
type ProviderError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError builds a ProviderError for the named provider.
func NewProviderError(provider, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Message: message, Err: err}
}

// ReconciliationDataError is raised when provider-side data cannot be fetched
// during a reconciliation run.
type ReconciliationDataError struct {
	Provider string
	Err      error
}

func (e *ReconciliationDataError) Error() string {
	return fmt.Sprintf("reconciliation data unavailable for %s: %v", e.Provider, e.Err)
}

func (e *ReconciliationDataError) Unwrap() error {
	return e.Err
}

// KindOf reports the Kind of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var re *ReconciliationDataError
	if errors.As(err, &re) {
		return KindReconciliationData
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return KindProvider
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
