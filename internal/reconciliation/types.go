package reconciliation

import (
	"context"
	"time"

	"ubipay/internal/domain"
	"ubipay/internal/ledger"
	"ubipay/internal/provider"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository persists reports, discrepancies, balance checks and alerts.
// Reconciliation never writes to ledger tables.
type Repository interface {
	// StartReport records a running report. There is one report per
	// (provider, date, currency): a re-run takes over the existing report's ID
	// and gets back the discrepancies already resolved under it.
	StartReport(ctx context.Context, report *domain.ReconciliationReport) ([]*domain.ReconciliationDiscrepancy, error)
	// CompleteReport stores the final counts and replaces the report's pending
	// discrepancies in one transaction.
	CompleteReport(ctx context.Context, report *domain.ReconciliationReport, discrepancies []*domain.ReconciliationDiscrepancy) error
	FailReport(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	ListReports(ctx context.Context, filter ReportFilter) ([]*domain.ReconciliationReport, error)

	GetDiscrepancy(ctx context.Context, id uuid.UUID) (*domain.ReconciliationDiscrepancy, error)
	ListPendingDiscrepancies(ctx context.Context, filter DiscrepancyFilter) ([]*domain.ReconciliationDiscrepancy, int, error)
	// ResolveDiscrepancy only updates a pending row and returns
	// errors.ErrAlreadyResolved otherwise.
	ResolveDiscrepancy(ctx context.Context, d *domain.ReconciliationDiscrepancy) error

	CreateBalanceReconciliation(ctx context.Context, b *domain.BalanceReconciliation) error
	CreateAlert(ctx context.Context, alert *domain.Alert) error
}

// LedgerReader is the read-only view of the ledger a run needs.
type LedgerReader interface {
	ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]*domain.Transaction, error)
	ProviderFloatBalance(ctx context.Context, p domain.Provider, currency domain.Currency) (decimal.Decimal, error)
}

// ProviderSource is the provider-side view: daily statements and float balances.
type ProviderSource interface {
	Get(p domain.Provider) (provider.Adapter, error)
	GetProviderBalance(ctx context.Context, p domain.Provider, currency domain.Currency) (decimal.Decimal, error)
}

// ReportFilter narrows ListReports. Dates are inclusive calendar days.
type ReportFilter struct {
	StartDate time.Time
	EndDate   time.Time
	Provider  *domain.Provider
}

type DiscrepancyFilter struct {
	Severity *domain.Severity
	Type     domain.DiscrepancyType
	Limit    int
	Offset   int
}

// SummaryFilter selects the reports GetReconciliationSummary aggregates.
type SummaryFilter struct {
	StartDate time.Time
	EndDate   time.Time
	Provider  *domain.Provider
}

type Summary struct {
	Reports            int             `json:"reports"`
	CompletedReports   int             `json:"completed_reports"`
	FailedReports      int             `json:"failed_reports"`
	TotalTransactions  int             `json:"total_transactions"`
	TotalMatched       int             `json:"total_matched"`
	TotalDiscrepancies int             `json:"total_discrepancies"`
	MatchRate          decimal.Decimal `json:"match_rate"`
}

type PageRequest struct {
	Page     int
	PageSize int
	Severity *domain.Severity
}

type Page struct {
	Items    []*domain.ReconciliationDiscrepancy `json:"items"`
	Total    int                                 `json:"total"`
	Page     int                                 `json:"page"`
	PageSize int                                 `json:"page_size"`
	Pages    int                                 `json:"pages"`
}
