package risk

import (
	"context"
	"fmt"
	"time"

	"ubipay/internal/domain"
	"ubipay/internal/notification"
	"ubipay/pkg/cache"
	"ubipay/pkg/config"
	"ubipay/pkg/errors"
	"ubipay/pkg/logger"
	"ubipay/pkg/metrics"
	"ubipay/pkg/validator"

	"github.com/google/uuid"
)

const maxScore = 100

// Engine scores requests synchronously in the request path. Any failure to
// compute a factor fails closed with errors.ErrRiskUnavailable.
type Engine struct {
	repo      Repository
	cache     cache.Cache
	history   HistoryProvider
	geo       GeoLocator
	notifier  notification.Notifier
	txFailer  TransactionFailer
	cfg       config.RiskConfig
	logger    logger.Logger
	validator *validator.Validator
	now       func() time.Time
}

// NewEngine wires the engine. geo may be nil, which disables the geo factor.
func NewEngine(
	repo Repository,
	c cache.Cache,
	history HistoryProvider,
	geo GeoLocator,
	notifier notification.Notifier,
	txFailer TransactionFailer,
	cfg config.RiskConfig,
	log logger.Logger,
) *Engine {
	if notifier == nil {
		notifier = notification.Nop{}
	}
	return &Engine{
		repo:      repo,
		cache:     c,
		history:   history,
		geo:       geo,
		notifier:  notifier,
		txFailer:  txFailer,
		cfg:       cfg,
		logger:    log,
		validator: validator.New(),
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// AssessRisk scores req and persists the assessment. A BLOCK decision is
// returned as a normal assessment; use Enforce to turn it into an error.
func (e *Engine) AssessRisk(ctx context.Context, req AssessmentRequest) (*domain.RiskAssessment, error) {
	start := time.Now()
	defer func() { metrics.RiskAssessmentDuration.Observe(time.Since(start).Seconds()) }()

	if err := e.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err)
	}

	assessment := &domain.RiskAssessment{
		ID:            uuid.New(),
		UserID:        req.UserID,
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Provider:      req.Provider,
		Type:          req.Type,
		IPAddress:     req.IPAddress,
		DeviceID:      req.DeviceID,
		CreatedAt:     e.now().UTC(),
	}

	hit, reason, err := e.checkBlacklist(ctx, req.IPAddress, req.DeviceID)
	if err != nil {
		return nil, e.unavailable("blacklist", err)
	}
	if hit {
		assessment.RiskScore = maxScore
		assessment.RiskLevel = domain.RiskLevelCritical
		assessment.Action = domain.RiskActionBlock
		assessment.Factors = domain.RiskFactors{{Factor: FactorBlacklist, Score: maxScore, Reason: reason}}
		return e.finish(ctx, assessment)
	}

	s := &scoring{}
	if err := e.velocityFactor(ctx, req, s); err != nil {
		return nil, e.unavailable(FactorVelocity, err)
	}
	if err := e.historyFactors(ctx, req, s); err != nil {
		return nil, e.unavailable(FactorAmount, err)
	}
	if err := e.timeOfDayFactor(req, s); err != nil {
		return nil, e.unavailable(FactorTimeOfDay, err)
	}
	if err := e.geoFactor(ctx, req, s); err != nil {
		return nil, e.unavailable(FactorGeo, err)
	}

	assessment.RiskScore = s.total()
	assessment.RiskLevel = LevelFor(assessment.RiskScore)
	assessment.Action = ActionFor(assessment.RiskLevel, req.Provider, s.velocityAbuse)
	assessment.Factors = s.factors
	return e.finish(ctx, assessment)
}

func (e *Engine) finish(ctx context.Context, a *domain.RiskAssessment) (*domain.RiskAssessment, error) {
	if a.Factors == nil {
		a.Factors = domain.RiskFactors{}
	}
	if a.Action == domain.RiskActionReview {
		pending := domain.ReviewStatusPending
		a.Status = &pending
	}

	if err := e.repo.CreateAssessment(ctx, a); err != nil {
		return nil, errors.Wrap(err, "failed to persist risk assessment")
	}
	metrics.RiskAssessments.WithLabelValues(string(a.RiskLevel), string(a.Action)).Inc()

	e.logger.Info("Risk assessed", map[string]interface{}{
		"assessment_id": a.ID.String(),
		"user_id":       a.UserID.String(),
		"score":         a.RiskScore,
		"level":         a.RiskLevel,
		"action":        a.Action,
	})

	if e.shouldAlert(a) {
		e.alert(ctx, a)
	}
	return a, nil
}

func (e *Engine) shouldAlert(a *domain.RiskAssessment) bool {
	if a.Action == domain.RiskActionBlock || a.RiskLevel == domain.RiskLevelCritical {
		return true
	}
	return e.cfg.AlertOnHighRisk && a.RiskLevel == domain.RiskLevelHigh
}

func (e *Engine) alert(ctx context.Context, a *domain.RiskAssessment) {
	factors := make([]string, 0, len(a.Factors))
	for _, f := range a.Factors {
		factors = append(factors, f.Factor)
	}
	payload := map[string]interface{}{
		"assessment_id": a.ID.String(),
		"user_id":       a.UserID.String(),
		"amount":        a.Amount.String(),
		"currency":      a.Currency,
		"score":         a.RiskScore,
		"level":         a.RiskLevel,
		"action":        a.Action,
		"factors":       factors,
	}
	if err := e.notifier.Notify(ctx, notification.EventRiskAlert, payload); err != nil {
		e.logger.Error("Failed to send risk alert", map[string]interface{}{
			"assessment_id": a.ID.String(),
			"error":         err.Error(),
		})
	}
}

func (e *Engine) unavailable(factor string, err error) error {
	e.logger.Error("Risk factor failed, failing closed", map[string]interface{}{
		"factor": factor,
		"error":  err.Error(),
	})
	return fmt.Errorf("%w: %s: %v", errors.ErrRiskUnavailable, factor, err)
}

// LevelFor maps a 0-100 score into its tier.
func LevelFor(score int) domain.RiskLevel {
	switch {
	case score < 30:
		return domain.RiskLevelLow
	case score < 60:
		return domain.RiskLevelMedium
	case score < 80:
		return domain.RiskLevelHigh
	default:
		return domain.RiskLevelCritical
	}
}

// ActionFor decides what the caller may do. Velocity abuse blocks at any
// tier above LOW.
func ActionFor(level domain.RiskLevel, provider domain.Provider, velocityAbuse bool) domain.RiskAction {
	switch level {
	case domain.RiskLevelLow:
		return domain.RiskActionAllow
	case domain.RiskLevelMedium:
		if velocityAbuse {
			return domain.RiskActionBlock
		}
		if provider == domain.ProviderCard {
			return domain.RiskActionRequire3DS
		}
		return domain.RiskActionReview
	case domain.RiskLevelHigh:
		if velocityAbuse {
			return domain.RiskActionBlock
		}
		return domain.RiskActionReview
	default:
		return domain.RiskActionBlock
	}
}

// Enforce converts a BLOCK decision into a security error.
func Enforce(a *domain.RiskAssessment) error {
	if a.Action != domain.RiskActionBlock {
		return nil
	}
	if a.HasFactor(FactorBlacklist) {
		return errors.ErrBlacklisted
	}
	return errors.ErrRiskBlocked
}
