package reconciliation

import (
	"context"
	"fmt"
	"time"

	"ubipay/internal/domain"
	"ubipay/internal/ledger"
	"ubipay/internal/notification"
	"ubipay/internal/provider"
	"ubipay/pkg/config"
	"ubipay/pkg/errors"
	"ubipay/pkg/logger"
	"ubipay/pkg/metrics"
	"ubipay/pkg/validator"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SystemResolver is recorded as resolvedBy on auto-resolved discrepancies.
const SystemResolver = "system"

// Engine compares the ledger with provider statements for closed days. It
// only reads the ledger.
type Engine struct {
	repo      Repository
	ledger    LedgerReader
	providers ProviderSource
	notifier  notification.Notifier
	cfg       config.ReconciliationConfig
	location  *time.Location
	logger    logger.Logger
	now       func() time.Time
}

func NewEngine(
	repo Repository,
	ledgerReader LedgerReader,
	providers ProviderSource,
	notifier notification.Notifier,
	cfg config.ReconciliationConfig,
	log logger.Logger,
) (*Engine, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid reconciliation timezone %q: %w", tz, err)
	}
	if notifier == nil {
		notifier = notification.Nop{}
	}
	return &Engine{
		repo:      repo,
		ledger:    ledgerReader,
		providers: providers,
		notifier:  notifier,
		cfg:       cfg,
		location:  loc,
		logger:    log,
		now:       time.Now,
	}, nil
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// dayWindow returns the [start, end) bounds of date's calendar day in the
// reconciliation timezone, plus the date itself as a UTC midnight.
func (e *Engine) dayWindow(date time.Time) (start, end, day time.Time) {
	y, m, d := date.Date()
	start = time.Date(y, m, d, 0, 0, 0, 0, e.location)
	return start, start.AddDate(0, 0, 1), time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RunDailyReconciliation matches the ledger's completed transactions for
// (provider, date, currency) with the provider's statement and persists the
// report. Running the same key again replaces the earlier result. A provider
// fetch failure marks the report failed and returns a
// *errors.ReconciliationDataError.
func (e *Engine) RunDailyReconciliation(ctx context.Context, p domain.Provider, date time.Time, currency domain.Currency) (*domain.ReconciliationReport, error) {
	if !validator.IsSupportedCurrency(string(currency)) {
		return nil, fmt.Errorf("%w: %s", errors.ErrUnsupportedCurrency, currency)
	}
	start, end, day := e.dayWindow(date)

	report := &domain.ReconciliationReport{
		ID:             uuid.New(),
		Date:           day,
		Provider:       p,
		Currency:       currency,
		InternalAmount: decimal.Zero,
		ProviderAmount: decimal.Zero,
		Status:         domain.ReportStatusRunning,
		StartedAt:      e.now().UTC(),
	}
	resolved, err := e.repo.StartReport(ctx, report)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create reconciliation report")
	}

	internal, err := e.ledger.ListTransactions(ctx, ledger.TransactionFilter{
		Provider: &p,
		Currency: currency,
		Status:   domain.TransactionStatusCompleted,
		From:     start,
		To:       end,
	})
	if err != nil {
		return nil, e.fail(ctx, report, errors.Wrap(err, "failed to load ledger transactions"))
	}

	external, err := e.fetchStatement(ctx, p, start, currency)
	if err != nil {
		return nil, e.fail(ctx, report, &errors.ReconciliationDataError{Provider: string(p), Err: err})
	}

	matched, discrepancies := e.match(report, internal, external)
	discrepancies = withoutResolved(discrepancies, resolved)

	report.TotalInternal = len(internal)
	report.TotalProvider = len(external)
	for _, t := range internal {
		report.InternalAmount = report.InternalAmount.Add(t.Amount)
	}
	for _, t := range external {
		report.ProviderAmount = report.ProviderAmount.Add(t.Amount)
	}
	report.Matched = matched
	report.Discrepancies = len(discrepancies)
	report.Status = domain.ReportStatusCompleted
	completed := e.now().UTC()
	report.CompletedAt = &completed

	if err := e.repo.CompleteReport(ctx, report, discrepancies); err != nil {
		return nil, e.fail(ctx, report, errors.Wrap(err, "failed to store reconciliation results"))
	}

	metrics.ReconciliationRuns.WithLabelValues(string(p), string(report.Status)).Inc()
	for _, d := range discrepancies {
		metrics.ReconciliationDiscrepancies.WithLabelValues(string(p), string(d.Type), string(d.Severity)).Inc()
	}

	e.logger.Info("Reconciliation completed", map[string]interface{}{
		"report_id":     report.ID.String(),
		"provider":      p,
		"currency":      currency,
		"date":          day.Format("2006-01-02"),
		"matched":       report.Matched,
		"discrepancies": report.Discrepancies,
	})

	if len(discrepancies) > 0 {
		e.notifyDiscrepancies(ctx, report, discrepancies)
	}
	return report, nil
}

// fetchStatement returns the provider's completed transactions in currency.
func (e *Engine) fetchStatement(ctx context.Context, p domain.Provider, day time.Time, currency domain.Currency) ([]provider.Transaction, error) {
	adapter, err := e.providers.Get(p)
	if err != nil {
		return nil, err
	}
	txns, err := adapter.ListTransactions(ctx, day, currency)
	if err != nil {
		return nil, err
	}
	out := txns[:0:0]
	for _, t := range txns {
		if t.Status != domain.TransactionStatusCompleted {
			continue
		}
		if t.Currency != "" && t.Currency != currency {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// match pairs internal and provider rows by provider reference. The first
// provider row for a reference is its match; further rows with the same
// reference are reported as missing in the ledger.
func (e *Engine) match(report *domain.ReconciliationReport, internal []*domain.Transaction, external []provider.Transaction) (int, []*domain.ReconciliationDiscrepancy) {
	byRef := make(map[string][]int, len(external))
	for i, t := range external {
		byRef[t.ProviderReference] = append(byRef[t.ProviderReference], i)
	}
	used := make([]bool, len(external))

	var (
		matched       int
		discrepancies []*domain.ReconciliationDiscrepancy
	)
	for _, t := range internal {
		ref := t.Reference
		if t.ProviderReference != nil && *t.ProviderReference != "" {
			ref = *t.ProviderReference
		}
		txID := t.ID

		idx := -1
		for _, i := range byRef[ref] {
			if !used[i] {
				idx = i
				break
			}
		}
		if idx < 0 {
			discrepancies = append(discrepancies, e.discrepancy(report, domain.DiscrepancyMissingInProvider, ref, &txID, t.Amount, decimal.Zero))
			continue
		}
		used[idx] = true

		ext := external[idx]
		if !t.Amount.Equal(ext.Amount) {
			discrepancies = append(discrepancies, e.discrepancy(report, domain.DiscrepancyAmountMismatch, ref, &txID, t.Amount, ext.Amount))
			continue
		}
		matched++
	}

	for i, t := range external {
		if used[i] {
			continue
		}
		discrepancies = append(discrepancies, e.discrepancy(report, domain.DiscrepancyMissingInUbi, t.ProviderReference, nil, decimal.Zero, t.Amount))
	}
	return matched, discrepancies
}

// withoutResolved drops findings a previous run of the same report already
// raised and someone resolved.
func withoutResolved(found, resolved []*domain.ReconciliationDiscrepancy) []*domain.ReconciliationDiscrepancy {
	if len(resolved) == 0 {
		return found
	}
	type key struct {
		kind domain.DiscrepancyType
		ref  string
	}
	done := make(map[key]int, len(resolved))
	for _, d := range resolved {
		done[key{d.Type, d.ProviderReference}]++
	}
	out := found[:0]
	for _, d := range found {
		k := key{d.Type, d.ProviderReference}
		if done[k] > 0 {
			done[k]--
			continue
		}
		out = append(out, d)
	}
	return out
}

func (e *Engine) discrepancy(report *domain.ReconciliationReport, kind domain.DiscrepancyType, ref string, txID *uuid.UUID, internalAmount, providerAmount decimal.Decimal) *domain.ReconciliationDiscrepancy {
	diff := internalAmount.Sub(providerAmount).Abs()
	return &domain.ReconciliationDiscrepancy{
		ID:                uuid.New(),
		ReportID:          report.ID,
		Type:              kind,
		ProviderReference: ref,
		TransactionID:     txID,
		InternalAmount:    internalAmount,
		ProviderAmount:    providerAmount,
		Difference:        diff,
		Currency:          report.Currency,
		Severity:          CalculateSeverity(diff, report.Currency),
		Status:            domain.DiscrepancyStatusPending,
		CreatedAt:         e.now().UTC(),
	}
}

func (e *Engine) fail(ctx context.Context, report *domain.ReconciliationReport, cause error) error {
	metrics.ReconciliationRuns.WithLabelValues(string(report.Provider), string(domain.ReportStatusFailed)).Inc()
	e.logger.Error("Reconciliation failed", map[string]interface{}{
		"report_id": report.ID.String(),
		"provider":  report.Provider,
		"currency":  report.Currency,
		"date":      report.Date.Format("2006-01-02"),
		"error":     cause.Error(),
	})

	report.Status = domain.ReportStatusFailed
	reason := cause.Error()
	report.Error = &reason
	if err := e.repo.FailReport(ctx, report.ID, reason, e.now().UTC()); err != nil {
		e.logger.Error("Failed to mark reconciliation report failed", map[string]interface{}{
			"report_id": report.ID.String(),
			"error":     err.Error(),
		})
	}

	if err := e.notifier.Notify(ctx, notification.EventReconciliationFailed, map[string]interface{}{
		"report_id": report.ID.String(),
		"provider":  report.Provider,
		"currency":  report.Currency,
		"date":      report.Date.Format("2006-01-02"),
		"error":     reason,
	}); err != nil {
		e.logger.Error("Failed to send reconciliation failure notification", map[string]interface{}{"error": err.Error()})
	}
	return cause
}

func (e *Engine) notifyDiscrepancies(ctx context.Context, report *domain.ReconciliationReport, discrepancies []*domain.ReconciliationDiscrepancy) {
	byType := make(map[string]int)
	worst := domain.SeverityLow
	for _, d := range discrepancies {
		byType[string(d.Type)]++
		if d.Severity.Rank() > worst.Rank() {
			worst = d.Severity
		}
	}
	payload := map[string]interface{}{
		"report_id":     report.ID.String(),
		"provider":      report.Provider,
		"currency":      report.Currency,
		"date":          report.Date.Format("2006-01-02"),
		"matched":       report.Matched,
		"discrepancies": report.Discrepancies,
		"by_type":       byType,
		"max_severity":  worst,
	}
	if err := e.notifier.Notify(ctx, notification.EventReconciliationDiscrepancies, payload); err != nil {
		e.logger.Error("Failed to send discrepancy notification", map[string]interface{}{
			"report_id": report.ID.String(),
			"error":     err.Error(),
		})
	}
}
