// Package risk scores prospective money movements and keeps the manual review
// queue and the IP/device blacklist.
package risk

import (
	"context"
	"time"

	"ubipay/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository persists assessments.
type Repository interface {
	CreateAssessment(ctx context.Context, a *domain.RiskAssessment) error
	GetAssessment(ctx context.Context, id uuid.UUID) (*domain.RiskAssessment, error)
	ListPendingReviews(ctx context.Context, limit, offset int) ([]*domain.RiskAssessment, error)
	// UpdateReview stores the review fields of a only while the stored row is
	// still pending; otherwise it returns errors.ErrAlreadyResolved.
	UpdateReview(ctx context.Context, a *domain.RiskAssessment) error
	// ListUnappliedRejections returns rejected assessments whose linked
	// transaction has not yet been failed, oldest review first.
	ListUnappliedRejections(ctx context.Context, limit int) ([]*domain.RiskAssessment, error)
	MarkRejectionApplied(ctx context.Context, id uuid.UUID, at time.Time) error
}

// HistoryProvider exposes a user's completed ledger history. An empty
// currency spans every currency.
type HistoryProvider interface {
	UserStats(ctx context.Context, userID uuid.UUID, currency domain.Currency, since time.Time) (*domain.UserStats, error)
	RecentAmounts(ctx context.Context, userID uuid.UUID, currency domain.Currency, since time.Time) ([]decimal.Decimal, error)
}

// TransactionFailer fails the transaction parked behind a rejected review.
type TransactionFailer interface {
	MarkTransactionFailed(ctx context.Context, transactionID uuid.UUID, reason string) error
}

type AssessmentRequest struct {
	UserID        uuid.UUID              `json:"user_id" validate:"required"`
	Amount        decimal.Decimal        `json:"amount" validate:"gt=0"`
	Currency      domain.Currency        `json:"currency" validate:"required,currency"`
	Provider      domain.Provider        `json:"provider"`
	Type          domain.TransactionType `json:"type"`
	IPAddress     string                 `json:"ip_address" validate:"omitempty,ip"`
	DeviceID      string                 `json:"device_id"`
	TransactionID *uuid.UUID             `json:"transaction_id,omitempty"`
	// Timezone is the user's IANA zone for the time-of-day factor.
	Timezone string `json:"timezone"`
}

// PatternSignal is an advisory finding from DetectPatterns.
type PatternSignal struct {
	Pattern     string          `json:"pattern"`
	Severity    domain.Severity `json:"severity"`
	Count       int             `json:"count"`
	Description string          `json:"description"`
}

const (
	PatternStructuring  = "structuring"
	PatternRoundAmounts = "round_amounts"
)

const (
	FactorBlacklist   = "blacklist"
	FactorVelocity    = "velocity"
	FactorVolume      = "velocity_volume"
	FactorAmount      = "amount_anomaly"
	FactorThinHistory = "thin_history"
	FactorAccountAge  = "account_age"
	FactorTimeOfDay   = "time_of_day"
	FactorGeo         = "geo_distance"
)
