package reconciliation

import (
	"context"
	"fmt"

	"ubipay/internal/domain"
	"ubipay/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// KES-denominated severity boundaries, scaled per currency.
var (
	mediumFrom   = decimal.NewFromInt(1000)
	highFrom     = decimal.NewFromInt(10000)
	criticalFrom = decimal.NewFromInt(50000)
)

// CalculateSeverity grades an absolute difference in currency. It is
// monotonic in the difference for a fixed currency.
func CalculateSeverity(difference decimal.Decimal, currency domain.Currency) domain.Severity {
	diff := difference.Abs()
	switch {
	case diff.LessThan(domain.ScaleThreshold(mediumFrom, currency)):
		return domain.SeverityLow
	case diff.LessThan(domain.ScaleThreshold(highFrom, currency)):
		return domain.SeverityMedium
	case diff.LessThan(domain.ScaleThreshold(criticalFrom, currency)):
		return domain.SeverityHigh
	default:
		return domain.SeverityCritical
	}
}

// AutoResolveSmallDiscrepancies resolves pending amount mismatches whose
// difference is below the configured threshold. Missing-record discrepancies
// always need a person. It returns the number resolved.
func (e *Engine) AutoResolveSmallDiscrepancies(ctx context.Context) (int, error) {
	pending, _, err := e.repo.ListPendingDiscrepancies(ctx, DiscrepancyFilter{Type: domain.DiscrepancyAmountMismatch})
	if err != nil {
		return 0, errors.Wrap(err, "failed to list pending discrepancies")
	}

	resolved := 0
	for _, d := range pending {
		threshold := domain.ScaleThreshold(e.cfg.AutoResolveThreshold, d.Currency)
		if !d.Difference.LessThan(threshold) {
			continue
		}

		at := e.now().UTC()
		note := fmt.Sprintf("auto-resolved: difference %s %s below threshold %s", d.Difference, d.Currency, threshold)
		resolver := SystemResolver
		d.Status = domain.DiscrepancyStatusResolved
		d.Resolution = &note
		d.ResolvedBy = &resolver
		d.ResolvedAt = &at
		d.AutoResolved = true

		err := e.repo.ResolveDiscrepancy(ctx, d)
		if errors.Is(err, errors.ErrAlreadyResolved) {
			continue
		}
		if err != nil {
			return resolved, errors.Wrap(err, "failed to auto-resolve discrepancy")
		}
		resolved++
	}

	if resolved > 0 {
		e.logger.Info("Auto-resolved small discrepancies", map[string]interface{}{"count": resolved})
	}
	return resolved, nil
}

// ResolveDiscrepancy closes a pending discrepancy with the resolver's notes.
func (e *Engine) ResolveDiscrepancy(ctx context.Context, id uuid.UUID, notes, resolverID string) (*domain.ReconciliationDiscrepancy, error) {
	if resolverID == "" {
		return nil, fmt.Errorf("%w: resolver id is required", errors.ErrInvalidRequest)
	}

	d, err := e.repo.GetDiscrepancy(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == domain.DiscrepancyStatusResolved {
		return nil, errors.ErrAlreadyResolved
	}

	at := e.now().UTC()
	d.Status = domain.DiscrepancyStatusResolved
	d.Resolution = &notes
	d.ResolvedBy = &resolverID
	d.ResolvedAt = &at
	d.AutoResolved = false
	if err := e.repo.ResolveDiscrepancy(ctx, d); err != nil {
		return nil, err
	}

	e.logger.Info("Discrepancy resolved", map[string]interface{}{
		"discrepancy_id": id.String(),
		"resolved_by":    resolverID,
	})
	return d, nil
}
