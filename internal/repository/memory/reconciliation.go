package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ubipay/internal/domain"
	"ubipay/internal/reconciliation"
	"ubipay/pkg/errors"

	"github.com/google/uuid"
)

// ReconciliationRepository keeps reconciliation results in memory.
type ReconciliationRepository struct {
	mu            sync.Mutex
	reports       map[uuid.UUID]domain.ReconciliationReport
	discrepancies map[uuid.UUID]domain.ReconciliationDiscrepancy
	balances      []domain.BalanceReconciliation
	alerts        []domain.Alert
}

func NewReconciliationRepository() *ReconciliationRepository {
	return &ReconciliationRepository{
		reports:       make(map[uuid.UUID]domain.ReconciliationReport),
		discrepancies: make(map[uuid.UUID]domain.ReconciliationDiscrepancy),
	}
}

func (r *ReconciliationRepository) StartReport(_ context.Context, report *domain.ReconciliationReport) ([]*domain.ReconciliationDiscrepancy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var resolved []*domain.ReconciliationDiscrepancy
	for id, existing := range r.reports {
		if existing.Provider != report.Provider || existing.Currency != report.Currency || !existing.Date.Equal(report.Date) {
			continue
		}
		report.ID = id
		for _, d := range r.discrepancies {
			if d.ReportID == id && d.Status != domain.DiscrepancyStatusPending {
				d := d
				resolved = append(resolved, &d)
			}
		}
		break
	}
	r.reports[report.ID] = *report
	return resolved, nil
}

func (r *ReconciliationRepository) CompleteReport(_ context.Context, report *domain.ReconciliationReport, discrepancies []*domain.ReconciliationDiscrepancy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reports[report.ID]; !ok {
		return errors.ErrReportNotFound
	}
	r.reports[report.ID] = *report
	for id, d := range r.discrepancies {
		if d.ReportID == report.ID && d.Status == domain.DiscrepancyStatusPending {
			delete(r.discrepancies, id)
		}
	}
	for _, d := range discrepancies {
		r.discrepancies[d.ID] = *d
	}
	return nil
}

func (r *ReconciliationRepository) FailReport(_ context.Context, id uuid.UUID, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.reports[id]
	if !ok {
		return errors.ErrReportNotFound
	}
	report.Status = domain.ReportStatusFailed
	report.Error = &reason
	report.CompletedAt = &at
	r.reports[id] = report
	return nil
}

func (r *ReconciliationRepository) GetReport(_ context.Context, id uuid.UUID) (*domain.ReconciliationReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.reports[id]
	if !ok {
		return nil, errors.ErrReportNotFound
	}
	return &report, nil
}

func (r *ReconciliationRepository) ListReports(_ context.Context, filter reconciliation.ReportFilter) ([]*domain.ReconciliationReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.ReconciliationReport
	for _, report := range r.reports {
		if filter.Provider != nil && report.Provider != *filter.Provider {
			continue
		}
		if !filter.StartDate.IsZero() && report.Date.Before(truncateDay(filter.StartDate)) {
			continue
		}
		if !filter.EndDate.IsZero() && report.Date.After(truncateDay(filter.EndDate)) {
			continue
		}
		report := report
		out = append(out, &report)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (r *ReconciliationRepository) GetDiscrepancy(_ context.Context, id uuid.UUID) (*domain.ReconciliationDiscrepancy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.discrepancies[id]
	if !ok {
		return nil, errors.ErrDiscrepancyNotFound
	}
	return &d, nil
}

// Discrepancies returns every discrepancy of a report, pending or not.
func (r *ReconciliationRepository) Discrepancies(reportID uuid.UUID) []*domain.ReconciliationDiscrepancy {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ReconciliationDiscrepancy
	for _, d := range r.discrepancies {
		if d.ReportID == reportID {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderReference < out[j].ProviderReference })
	return out
}

func (r *ReconciliationRepository) ListPendingDiscrepancies(_ context.Context, filter reconciliation.DiscrepancyFilter) ([]*domain.ReconciliationDiscrepancy, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.ReconciliationDiscrepancy
	for _, d := range r.discrepancies {
		if d.Status != domain.DiscrepancyStatusPending {
			continue
		}
		if filter.Severity != nil && d.Severity != *filter.Severity {
			continue
		}
		if filter.Type != "" && d.Type != filter.Type {
			continue
		}
		d := d
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return paginate(out, filter.Limit, filter.Offset), len(out), nil
}

func (r *ReconciliationRepository) ResolveDiscrepancy(_ context.Context, d *domain.ReconciliationDiscrepancy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.discrepancies[d.ID]
	if !ok {
		return errors.ErrDiscrepancyNotFound
	}
	if stored.Status != domain.DiscrepancyStatusPending {
		return errors.ErrAlreadyResolved
	}
	stored.Status = domain.DiscrepancyStatusResolved
	stored.Resolution = d.Resolution
	stored.ResolvedBy = d.ResolvedBy
	stored.ResolvedAt = d.ResolvedAt
	stored.AutoResolved = d.AutoResolved
	r.discrepancies[d.ID] = stored
	return nil
}

func (r *ReconciliationRepository) CreateBalanceReconciliation(_ context.Context, b *domain.BalanceReconciliation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances = append(r.balances, *b)
	return nil
}

func (r *ReconciliationRepository) CreateAlert(_ context.Context, alert *domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, *alert)
	return nil
}

func (r *ReconciliationRepository) Alerts() []domain.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Alert(nil), r.alerts...)
}

func (r *ReconciliationRepository) BalanceReconciliations() []domain.BalanceReconciliation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.BalanceReconciliation(nil), r.balances...)
}
