package reconciliation

import (
	"context"
	"fmt"

	"ubipay/internal/domain"
	"ubipay/pkg/errors"

	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// GetReconciliationSummary aggregates the reports in the filter's window.
// Counts and matchRate cover completed reports only.
func (e *Engine) GetReconciliationSummary(ctx context.Context, filter SummaryFilter) (*Summary, error) {
	if !filter.StartDate.IsZero() && !filter.EndDate.IsZero() && filter.EndDate.Before(filter.StartDate) {
		return nil, fmt.Errorf("%w: end date before start date", errors.ErrInvalidRequest)
	}
	reports, err := e.repo.ListReports(ctx, ReportFilter(filter))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list reconciliation reports")
	}

	s := &Summary{Reports: len(reports), MatchRate: decimal.Zero}
	for _, r := range reports {
		switch r.Status {
		case domain.ReportStatusCompleted:
			s.CompletedReports++
			s.TotalTransactions += r.TotalInternal
			s.TotalMatched += r.Matched
			s.TotalDiscrepancies += r.Discrepancies
		case domain.ReportStatusFailed:
			s.FailedReports++
		}
	}
	if s.TotalTransactions > 0 {
		s.MatchRate = decimal.NewFromInt(int64(s.TotalMatched)).
			Div(decimal.NewFromInt(int64(s.TotalTransactions))).
			Round(4)
	}
	return s, nil
}

// GetPendingDiscrepancies pages through unresolved discrepancies, oldest
// first, optionally restricted to one severity.
func (e *Engine) GetPendingDiscrepancies(ctx context.Context, req PageRequest) (*Page, error) {
	if req.Severity != nil && !req.Severity.IsValid() {
		return nil, fmt.Errorf("%w: unknown severity %q", errors.ErrInvalidRequest, *req.Severity)
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	items, total, err := e.repo.ListPendingDiscrepancies(ctx, DiscrepancyFilter{
		Severity: req.Severity,
		Limit:    size,
		Offset:   (page - 1) * size,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending discrepancies")
	}
	if items == nil {
		items = []*domain.ReconciliationDiscrepancy{}
	}
	return &Page{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: size,
		Pages:    (total + size - 1) / size,
	}, nil
}
