package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

type RiskAction string

const (
	RiskActionAllow      RiskAction = "ALLOW"
	RiskActionRequire3DS RiskAction = "REQUIRE_3DS"
	RiskActionReview     RiskAction = "REVIEW"
	RiskActionBlock      RiskAction = "BLOCK"
)

type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusApproved ReviewStatus = "approved"
	ReviewStatusRejected ReviewStatus = "rejected"
)

// RiskFactor is one scored contribution to an assessment.
type RiskFactor struct {
	Factor string `json:"factor"`
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

// RiskFactors persists as a JSON array.
type RiskFactors []RiskFactor

func (f RiskFactors) Value() (driver.Value, error) {
	if f == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(f)
}

func (f *RiskFactors) Scan(value interface{}) error {
	if value == nil {
		*f = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, f)
}

// RiskAssessment records the decision taken for one prospective money movement.
type RiskAssessment struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	UserID             uuid.UUID       `json:"user_id" db:"user_id"`
	TransactionID      *uuid.UUID      `json:"transaction_id,omitempty" db:"transaction_id"`
	Amount             decimal.Decimal `json:"amount" db:"amount"`
	Currency           Currency        `json:"currency" db:"currency"`
	Provider           Provider        `json:"provider" db:"provider"`
	Type               TransactionType `json:"type" db:"type"`
	IPAddress          string          `json:"ip_address" db:"ip_address"`
	DeviceID           string          `json:"device_id" db:"device_id"`
	RiskScore          int             `json:"risk_score" db:"risk_score"`
	RiskLevel          RiskLevel       `json:"risk_level" db:"risk_level"`
	Action             RiskAction      `json:"action" db:"action"`
	Factors            RiskFactors     `json:"factors" db:"factors"`
	Status             *ReviewStatus   `json:"status,omitempty" db:"status"`
	ReviewedBy         *uuid.UUID      `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewNotes        *string         `json:"review_notes,omitempty" db:"review_notes"`
	ReviewedAt         *time.Time      `json:"reviewed_at,omitempty" db:"reviewed_at"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	RejectionAppliedAt *time.Time      `json:"rejection_applied_at,omitempty" db:"rejection_applied_at"`
}

// HasFactor reports whether a factor with the given name contributed.
func (a *RiskAssessment) HasFactor(name string) bool {
	for _, f := range a.Factors {
		if f.Factor == name {
			return true
		}
	}
	return false
}
