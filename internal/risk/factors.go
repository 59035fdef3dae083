package risk

import (
	"context"
	"fmt"
	"time"

	"ubipay/internal/domain"
	"ubipay/pkg/cache"
	"ubipay/pkg/errors"

	"github.com/shopspring/decimal"
)

type scoring struct {
	factors       domain.RiskFactors
	velocityAbuse bool
}

func (s *scoring) add(factor string, score int, reason string) {
	s.factors = append(s.factors, domain.RiskFactor{Factor: factor, Score: score, Reason: reason})
}

func (s *scoring) total() int {
	sum := 0
	for _, f := range s.factors {
		sum += f.Score
	}
	if sum > maxScore {
		return maxScore
	}
	if sum < 0 {
		return 0
	}
	return sum
}

func velocityCountKey(userID fmt.Stringer) string {
	return "velocity:count:" + userID.String()
}

func velocityVolumeKey(userID fmt.Stringer, currency domain.Currency) string {
	return fmt.Sprintf("velocity:volume:%s:%s", userID, currency)
}

func lastLocationKey(userID fmt.Stringer) string {
	return "risk:lastloc:" + userID.String()
}

// velocityFactor counts this request into the user's window. The window
// starts with the first request and expires after VelocityWindow.
func (e *Engine) velocityFactor(ctx context.Context, req AssessmentRequest, s *scoring) error {
	countKey := velocityCountKey(req.UserID)
	count, err := e.cache.Increment(ctx, countKey)
	if err != nil {
		return err
	}
	if err := e.ensureWindow(ctx, countKey); err != nil {
		return err
	}

	volumeKey := velocityVolumeKey(req.UserID, req.Currency)
	volume, err := e.cache.IncrementByFloat(ctx, volumeKey, req.Amount.InexactFloat64())
	if err != nil {
		return err
	}
	if err := e.ensureWindow(ctx, volumeKey); err != nil {
		return err
	}

	switch {
	case count > e.cfg.VelocityHardLimit:
		s.velocityAbuse = true
		s.add(FactorVelocity, 40, fmt.Sprintf("%d transactions within %s exceeds hard limit %d",
			count, e.cfg.VelocityWindow, e.cfg.VelocityHardLimit))
	case count > e.cfg.VelocitySoftLimit:
		s.add(FactorVelocity, 20, fmt.Sprintf("%d transactions within %s", count, e.cfg.VelocityWindow))
	}

	maxVolume := domain.ScaleThreshold(e.cfg.VelocityMaxVolume, req.Currency)
	if maxVolume.IsPositive() && decimal.NewFromFloat(volume).GreaterThan(maxVolume) && !s.velocityAbuse {
		s.velocityAbuse = true
		s.add(FactorVolume, 40, fmt.Sprintf("volume %s %s within %s exceeds %s",
			decimal.NewFromFloat(volume).StringFixed(2), req.Currency, e.cfg.VelocityWindow, maxVolume))
	}
	return nil
}

// ensureWindow starts the expiry of a counter that has none yet.
func (e *Engine) ensureWindow(ctx context.Context, key string) error {
	ttl, err := e.cache.TTL(ctx, key)
	if err != nil {
		return err
	}
	if ttl < 0 {
		return e.cache.Expire(ctx, key, e.cfg.VelocityWindow)
	}
	return nil
}

// historyFactors covers amount anomaly and account age, both derived from
// the user's completed history. Amounts are only compared within the
// request's currency; account age counts every currency.
func (e *Engine) historyFactors(ctx context.Context, req AssessmentRequest, s *scoring) error {
	since := e.now().Add(-time.Duration(e.cfg.HistoryLookbackDays) * 24 * time.Hour)
	stats, err := e.history.UserStats(ctx, req.UserID, req.Currency, since)
	if err != nil {
		return err
	}
	overall, err := e.history.UserStats(ctx, req.UserID, "", since)
	if err != nil {
		return err
	}

	large := domain.ScaleThreshold(decimal.NewFromInt(10000), req.Currency)

	if stats.TransactionCount > 0 && stats.AverageAmount.IsPositive() {
		ratio := req.Amount.Div(stats.AverageAmount)
		switch {
		case ratio.GreaterThanOrEqual(decimal.NewFromInt(10)):
			s.add(FactorAmount, 30, fmt.Sprintf("amount is %sx the average", ratio.StringFixed(1)))
		case ratio.GreaterThanOrEqual(decimal.NewFromInt(5)):
			s.add(FactorAmount, 20, fmt.Sprintf("amount is %sx the average", ratio.StringFixed(1)))
		case ratio.GreaterThanOrEqual(decimal.NewFromInt(3)):
			s.add(FactorAmount, 10, fmt.Sprintf("amount is %sx the average", ratio.StringFixed(1)))
		}
	}
	if stats.TransactionCount < 3 && req.Amount.GreaterThan(large) {
		s.add(FactorThinHistory, 15, fmt.Sprintf("large amount with %d prior transactions", stats.TransactionCount))
	}

	switch {
	case overall.TransactionCount == 0:
		s.add(FactorAccountAge, 15, "no prior transactions")
	case overall.TransactionCount < 5:
		s.add(FactorAccountAge, 8, fmt.Sprintf("only %d prior transactions", overall.TransactionCount))
	}
	return nil
}

func (e *Engine) timeOfDayFactor(req AssessmentRequest, s *scoring) error {
	tz := req.Timezone
	if tz == "" {
		tz = e.cfg.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return err
	}
	hour := e.now().In(loc).Hour()
	if hour >= e.cfg.UnusualHourStart && hour < e.cfg.UnusualHourEnd {
		s.add(FactorTimeOfDay, 5, fmt.Sprintf("local hour %02d:00 in %s", hour, tz))
	}
	return nil
}

// geoFactor compares the request's IP location with the last one seen for
// the user. Addresses the database cannot place give no signal.
func (e *Engine) geoFactor(ctx context.Context, req AssessmentRequest, s *scoring) error {
	if e.geo == nil || req.IPAddress == "" {
		return nil
	}
	current, err := e.geo.Locate(req.IPAddress)
	if err != nil {
		e.logger.Debug("IP not located", map[string]interface{}{"ip": req.IPAddress, "error": err.Error()})
		return nil
	}

	key := lastLocationKey(req.UserID)
	var last Location
	err = e.cache.Get(ctx, key, &last)
	switch {
	case err == nil:
		km := distanceKm(last, *current)
		switch {
		case km > e.cfg.GeoFarDistanceKm:
			s.add(FactorGeo, 25, fmt.Sprintf("%.0f km from last known location", km))
		case km > e.cfg.GeoDistanceKm:
			s.add(FactorGeo, 15, fmt.Sprintf("%.0f km from last known location", km))
		}
	case errors.Is(err, cache.ErrCacheMiss):
	default:
		return err
	}

	return e.cache.Set(ctx, key, current, e.cfg.LastLocationTTL)
}
