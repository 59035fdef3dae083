package reconciliation

import (
	"context"
	"fmt"
	"time"

	"ubipay/internal/domain"
	"ubipay/internal/notification"
	"ubipay/pkg/errors"
	"ubipay/pkg/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RunBalanceReconciliation compares the ledger's float position with a
// provider against the balance the provider reports. A difference beyond
// BalanceTolerancePct always raises an alert.
func (e *Engine) RunBalanceReconciliation(ctx context.Context, p domain.Provider, date time.Time, currency domain.Currency) (*domain.BalanceReconciliation, error) {
	_, _, day := e.dayWindow(date)

	ubi, err := e.ledger.ProviderFloatBalance(ctx, p, currency)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read provider float")
	}
	reported, err := e.providers.GetProviderBalance(ctx, p, currency)
	if err != nil {
		return nil, &errors.ReconciliationDataError{Provider: string(p), Err: err}
	}

	diff := ubi.Sub(reported)
	result := &domain.BalanceReconciliation{
		ID:              uuid.New(),
		Provider:        p,
		Currency:        currency,
		Date:            day,
		UbiBalance:      ubi,
		ProviderBalance: reported,
		Difference:      diff,
		PercentageDiff:  percentageDiff(diff, reported),
		Status:          domain.BalanceStatusMatched,
		CreatedAt:       e.now().UTC(),
	}
	if result.PercentageDiff.GreaterThan(e.cfg.BalanceTolerancePct) {
		result.Status = domain.BalanceStatusDiscrepancy
	}

	if err := e.repo.CreateBalanceReconciliation(ctx, result); err != nil {
		return nil, errors.Wrap(err, "failed to store balance reconciliation")
	}

	if result.Status == domain.BalanceStatusDiscrepancy {
		if err := e.raiseBalanceAlert(ctx, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// percentageDiff is |diff| as a percentage of the provider balance. With a
// zero provider balance any difference counts as 100%.
func percentageDiff(diff, reported decimal.Decimal) decimal.Decimal {
	if diff.IsZero() {
		return decimal.Zero
	}
	if reported.IsZero() {
		return hundred
	}
	return diff.Abs().Div(reported.Abs()).Mul(hundred).Round(6)
}

func (e *Engine) raiseBalanceAlert(ctx context.Context, b *domain.BalanceReconciliation) error {
	alert := &domain.Alert{
		ID:       uuid.New(),
		Kind:     notification.EventBalanceMismatch,
		Severity: CalculateSeverity(b.Difference, b.Currency),
		Provider: b.Provider,
		Currency: b.Currency,
		Message: fmt.Sprintf("%s float balance differs by %s %s (%s%%)",
			b.Provider, b.Difference.StringFixed(2), b.Currency, b.PercentageDiff.StringFixed(4)),
		Payload: domain.Metadata{
			"balance_reconciliation_id": b.ID.String(),
			"ubi_balance":               b.UbiBalance.String(),
			"provider_balance":          b.ProviderBalance.String(),
			"difference":                b.Difference.String(),
			"percentage_diff":           b.PercentageDiff.String(),
		},
		CreatedAt: e.now().UTC(),
	}
	if err := e.repo.CreateAlert(ctx, alert); err != nil {
		return errors.Wrap(err, "failed to store balance alert")
	}
	metrics.BalanceReconciliationAlerts.WithLabelValues(string(b.Provider)).Inc()

	e.logger.Warn("Float balance mismatch", map[string]interface{}{
		"provider":   b.Provider,
		"currency":   b.Currency,
		"difference": b.Difference.String(),
		"severity":   alert.Severity,
	})

	payload := map[string]interface{}{"alert_id": alert.ID.String(), "message": alert.Message, "severity": alert.Severity}
	for k, v := range alert.Payload {
		payload[k] = v
	}
	if err := e.notifier.Notify(ctx, notification.EventBalanceMismatch, payload); err != nil {
		e.logger.Error("Failed to send balance mismatch notification", map[string]interface{}{"error": err.Error()})
	}
	return nil
}
