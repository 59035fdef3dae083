package provider

import (
	"strings"

	"ubipay/internal/domain"
)

// StatusMapper translates a provider's native status codes. Unknown codes map
// to PENDING so they are queried again rather than settled.
type StatusMapper map[string]domain.TransactionStatus

func (m StatusMapper) Map(code string) domain.TransactionStatus {
	key := strings.ToUpper(strings.TrimSpace(code))
	if s, ok := m[key]; ok {
		return s
	}
	if s, ok := genericStatuses[key]; ok {
		return s
	}
	return domain.TransactionStatusPending
}

var genericStatuses = StatusMapper{
	"COMPLETED": domain.TransactionStatusCompleted,
	"SUCCESS":   domain.TransactionStatusCompleted,
	"FAILED":    domain.TransactionStatusFailed,
	"PENDING":   domain.TransactionStatusPending,
	"CANCELLED": domain.TransactionStatusCancelled,
	"CANCELED":  domain.TransactionStatusCancelled,
}

var statusTables = map[domain.Provider]StatusMapper{
	domain.ProviderMPesa: {
		"0":    domain.TransactionStatusCompleted,
		"1":    domain.TransactionStatusFailed, // insufficient funds
		"17":   domain.TransactionStatusFailed,
		"1001": domain.TransactionStatusFailed,
		"1019": domain.TransactionStatusCancelled, // expired
		"1032": domain.TransactionStatusCancelled, // cancelled by user
		"1037": domain.TransactionStatusFailed,    // phone unreachable
		"2001": domain.TransactionStatusFailed,    // wrong PIN
	},
	domain.ProviderMTNMoMo: {
		"SUCCESSFUL": domain.TransactionStatusCompleted,
		"REJECTED":   domain.TransactionStatusFailed,
		"TIMEOUT":    domain.TransactionStatusFailed,
		"ONGOING":    domain.TransactionStatusPending,
	},
	domain.ProviderOrangeMoney: {
		"SUCCESSFULL": domain.TransactionStatusCompleted,
		"INITIATED":   domain.TransactionStatusPending,
		"EXPIRED":     domain.TransactionStatusCancelled,
	},
	domain.ProviderTelebirr: {
		"TRADE_SUCCESS":  domain.TransactionStatusCompleted,
		"TRADE_FINISHED": domain.TransactionStatusCompleted,
		"WAIT_PAY":       domain.TransactionStatusPending,
		"TRADE_CLOSED":   domain.TransactionStatusCancelled,
		"PAY_FAILED":     domain.TransactionStatusFailed,
	},
	domain.ProviderStripe: {
		"SUCCEEDED":               domain.TransactionStatusCompleted,
		"PROCESSING":              domain.TransactionStatusPending,
		"REQUIRES_ACTION":         domain.TransactionStatusPending,
		"REQUIRES_PAYMENT_METHOD": domain.TransactionStatusFailed,
	},
	domain.ProviderPaystack: {
		"ONGOING":   domain.TransactionStatusPending,
		"ABANDONED": domain.TransactionStatusCancelled,
		"REVERSED":  domain.TransactionStatusCancelled,
	},
	domain.ProviderFlutterwave: {
		"SUCCESSFUL": domain.TransactionStatusCompleted,
	},
	domain.ProviderCard: {
		"APPROVED": domain.TransactionStatusCompleted,
		"DECLINED": domain.TransactionStatusFailed,
		"VOIDED":   domain.TransactionStatusCancelled,
	},
}

// MapperFor returns the status table of p, falling back to the generic
// vocabulary.
func MapperFor(p domain.Provider) StatusMapper {
	if m, ok := statusTables[p]; ok {
		return m
	}
	return genericStatuses
}
