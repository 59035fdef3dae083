package postgres

import (
	"context"
	"time"

	"ubipay/internal/domain"
	"ubipay/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const assessmentColumns = `id, user_id, transaction_id, amount, currency, provider, type, ip_address, device_id,
	risk_score, risk_level, action, factors, status, reviewed_by, review_notes, reviewed_at, created_at, rejection_applied_at`

type RiskRepository struct {
	db *sqlx.DB
}

func NewRiskRepository(db *sqlx.DB) *RiskRepository {
	return &RiskRepository{db: db}
}

func (r *RiskRepository) CreateAssessment(ctx context.Context, a *domain.RiskAssessment) error {
	query := `
		INSERT INTO risk_assessments (` + assessmentColumns + `)
		VALUES (
			:id, :user_id, :transaction_id, :amount, :currency, :provider, :type, :ip_address, :device_id,
			:risk_score, :risk_level, :action, :factors, :status, :reviewed_by, :review_notes, :reviewed_at, :created_at, :rejection_applied_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, a)
	return errors.Wrap(err, "failed to create risk assessment")
}

func (r *RiskRepository) GetAssessment(ctx context.Context, id uuid.UUID) (*domain.RiskAssessment, error) {
	a := &domain.RiskAssessment{}
	query := `SELECT ` + assessmentColumns + ` FROM risk_assessments WHERE id = $1`
	if err := r.db.GetContext(ctx, a, query, id); err != nil {
		if isNoRows(err) {
			return nil, errors.ErrAssessmentNotFound
		}
		return nil, errors.Wrap(err, "failed to get risk assessment")
	}
	return a, nil
}

func (r *RiskRepository) ListPendingReviews(ctx context.Context, limit, offset int) ([]*domain.RiskAssessment, error) {
	var out []*domain.RiskAssessment
	query := `
		SELECT ` + assessmentColumns + ` FROM risk_assessments
		WHERE action = 'REVIEW' AND status = 'pending'
		ORDER BY created_at
		LIMIT $1 OFFSET $2
	`
	if err := r.db.SelectContext(ctx, &out, query, limit, offset); err != nil {
		return nil, errors.Wrap(err, "failed to list pending reviews")
	}
	return out, nil
}

func (r *RiskRepository) UpdateReview(ctx context.Context, a *domain.RiskAssessment) error {
	query := `
		UPDATE risk_assessments SET
			status = :status,
			reviewed_by = :reviewed_by,
			review_notes = :review_notes,
			reviewed_at = :reviewed_at
		WHERE id = :id AND status = 'pending'
	`
	res, err := r.db.NamedExecContext(ctx, query, a)
	if err != nil {
		return errors.Wrap(err, "failed to update review")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetAssessment(ctx, a.ID); err != nil {
			return err
		}
		return errors.ErrAlreadyResolved
	}
	return nil
}

func (r *RiskRepository) ListUnappliedRejections(ctx context.Context, limit int) ([]*domain.RiskAssessment, error) {
	var out []*domain.RiskAssessment
	query := `
		SELECT ` + assessmentColumns + ` FROM risk_assessments
		WHERE status = 'rejected' AND transaction_id IS NOT NULL AND rejection_applied_at IS NULL
		ORDER BY reviewed_at
		LIMIT $1
	`
	if err := r.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, errors.Wrap(err, "failed to list unapplied rejections")
	}
	return out, nil
}

func (r *RiskRepository) MarkRejectionApplied(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE risk_assessments SET rejection_applied_at = $2 WHERE id = $1 AND rejection_applied_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return errors.Wrap(err, "failed to mark rejection applied")
	}
	return nil
}
