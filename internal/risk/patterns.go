package risk

import (
	"context"
	"fmt"
	"math"

	"ubipay/internal/domain"
	"ubipay/pkg/errors"
	"ubipay/pkg/validator"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	structuringBand = decimal.RequireFromString("0.9")
	roundUnit       = decimal.NewFromInt(1000)
	roundShare      = decimal.RequireFromString("0.6")
	minStructuring  = 3
	minRoundSample  = 5
)

// DetectPatterns looks for structuring and round-amount clustering in the
// user's recent history in one currency. Thresholds are configured in KES and
// scaled to currency. Signals are advisory and never block.
func (e *Engine) DetectPatterns(ctx context.Context, userID uuid.UUID, currency domain.Currency) ([]PatternSignal, error) {
	if !validator.IsSupportedCurrency(string(currency)) {
		return nil, errors.ErrUnsupportedCurrency
	}
	amounts, err := e.history.RecentAmounts(ctx, userID, currency, e.now().Add(-e.cfg.PatternLookback))
	if err != nil {
		return nil, err
	}

	var signals []PatternSignal

	threshold := domain.ScaleThreshold(e.cfg.ReportingThreshold, currency)
	if threshold.IsPositive() {
		floor := threshold.Mul(structuringBand)
		near := 0
		for _, a := range amounts {
			if a.GreaterThanOrEqual(floor) && a.LessThan(threshold) {
				near++
			}
		}
		if near >= minStructuring {
			signals = append(signals, PatternSignal{
				Pattern:     PatternStructuring,
				Severity:    domain.SeverityHigh,
				Count:       near,
				Description: fmt.Sprintf("%d transactions just below the reporting threshold %s %s", near, threshold, currency),
			})
		}
	}

	unit := roundUnitFor(currency)
	if len(amounts) >= minRoundSample && unit.IsPositive() {
		round := 0
		for _, a := range amounts {
			if a.Mod(unit).IsZero() {
				round++
			}
		}
		share := decimal.NewFromInt(int64(round)).Div(decimal.NewFromInt(int64(len(amounts))))
		if share.GreaterThanOrEqual(roundShare) {
			signals = append(signals, PatternSignal{
				Pattern:     PatternRoundAmounts,
				Severity:    domain.SeverityMedium,
				Count:       round,
				Description: fmt.Sprintf("%d of %d transactions are multiples of %s %s", round, len(amounts), unit, currency),
			})
		}
	}

	if len(signals) > 0 {
		e.logger.Warn("Suspicious patterns detected", map[string]interface{}{
			"user_id":  userID.String(),
			"currency": currency,
			"signals":  len(signals),
		})
	}
	return signals, nil
}

// roundUnitFor is the power of ten nearest to roundUnit once scaled into
// currency, so a "round" USD amount is a multiple of 10 rather than of 8.
func roundUnitFor(currency domain.Currency) decimal.Decimal {
	scaled := domain.ScaleThreshold(roundUnit, currency)
	if !scaled.IsPositive() {
		return decimal.Zero
	}
	exp := int32(math.Round(math.Log10(scaled.InexactFloat64())))
	return decimal.New(1, exp)
}
