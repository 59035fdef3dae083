package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReportStatus string

const (
	ReportStatusRunning   ReportStatus = "running"
	ReportStatusCompleted ReportStatus = "completed"
	ReportStatusFailed    ReportStatus = "failed"
)

// ReconciliationReport summarises one (provider, date, currency) run.
type ReconciliationReport struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	Date           time.Time       `json:"date" db:"report_date"`
	Provider       Provider        `json:"provider" db:"provider"`
	Currency       Currency        `json:"currency" db:"currency"`
	TotalInternal  int             `json:"total_internal" db:"total_internal"`
	TotalProvider  int             `json:"total_provider" db:"total_provider"`
	InternalAmount decimal.Decimal `json:"internal_amount" db:"internal_amount"`
	ProviderAmount decimal.Decimal `json:"provider_amount" db:"provider_amount"`
	Matched        int             `json:"matched" db:"matched"`
	Discrepancies  int             `json:"discrepancies" db:"discrepancies"`
	Status         ReportStatus    `json:"status" db:"status"`
	Error          *string         `json:"error,omitempty" db:"error"`
	StartedAt      time.Time       `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

type DiscrepancyType string

const (
	DiscrepancyMissingInUbi      DiscrepancyType = "MISSING_IN_UBI"
	DiscrepancyMissingInProvider DiscrepancyType = "MISSING_IN_PROVIDER"
	DiscrepancyAmountMismatch    DiscrepancyType = "AMOUNT_MISMATCH"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank orders severities from LOW (1) to CRITICAL (4).
func (s Severity) Rank() int {
	return severityRank[s]
}

func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

type DiscrepancyStatus string

const (
	DiscrepancyStatusPending  DiscrepancyStatus = "pending"
	DiscrepancyStatusResolved DiscrepancyStatus = "resolved"
)

// ReconciliationDiscrepancy is one mismatch between internal and provider records.
type ReconciliationDiscrepancy struct {
	ID                uuid.UUID         `json:"id" db:"id"`
	ReportID          uuid.UUID         `json:"report_id" db:"report_id"`
	Type              DiscrepancyType   `json:"type" db:"type"`
	ProviderReference string            `json:"provider_reference" db:"provider_reference"`
	TransactionID     *uuid.UUID        `json:"transaction_id,omitempty" db:"transaction_id"`
	InternalAmount    decimal.Decimal   `json:"internal_amount" db:"internal_amount"`
	ProviderAmount    decimal.Decimal   `json:"provider_amount" db:"provider_amount"`
	Difference        decimal.Decimal   `json:"difference" db:"difference"`
	Currency          Currency          `json:"currency" db:"currency"`
	Severity          Severity          `json:"severity" db:"severity"`
	Status            DiscrepancyStatus `json:"status" db:"status"`
	Resolution        *string           `json:"resolution,omitempty" db:"resolution"`
	ResolvedBy        *string           `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt        *time.Time        `json:"resolved_at,omitempty" db:"resolved_at"`
	AutoResolved      bool              `json:"auto_resolved" db:"auto_resolved"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
}

type BalanceStatus string

const (
	BalanceStatusMatched     BalanceStatus = "matched"
	BalanceStatusDiscrepancy BalanceStatus = "discrepancy"
)

// BalanceReconciliation compares the internal float position with the provider's balance.
type BalanceReconciliation struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	Provider        Provider        `json:"provider" db:"provider"`
	Currency        Currency        `json:"currency" db:"currency"`
	Date            time.Time       `json:"date" db:"report_date"`
	UbiBalance      decimal.Decimal `json:"ubi_balance" db:"ubi_balance"`
	ProviderBalance decimal.Decimal `json:"provider_balance" db:"provider_balance"`
	Difference      decimal.Decimal `json:"difference" db:"difference"`
	PercentageDiff  decimal.Decimal `json:"percentage_diff" db:"percentage_diff"`
	Status          BalanceStatus   `json:"status" db:"status"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Alert is raised for operator attention, e.g. on a float balance mismatch.
type Alert struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Kind      string    `json:"kind" db:"kind"`
	Severity  Severity  `json:"severity" db:"severity"`
	Provider  Provider  `json:"provider" db:"provider"`
	Currency  Currency  `json:"currency" db:"currency"`
	Message   string    `json:"message" db:"message"`
	Payload   Metadata  `json:"payload" db:"payload"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
