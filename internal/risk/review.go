package risk

import (
	"context"
	"fmt"

	"ubipay/internal/domain"
	"ubipay/pkg/errors"

	"github.com/google/uuid"
)

// GetPendingReviews lists REVIEW assessments still awaiting a decision,
// oldest first.
func (e *Engine) GetPendingReviews(ctx context.Context, limit, offset int) ([]*domain.RiskAssessment, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return e.repo.ListPendingReviews(ctx, limit, offset)
}

// ReviewAssessment records a reviewer's decision. Rejection also fails the
// linked transaction.
func (e *Engine) ReviewAssessment(ctx context.Context, id uuid.UUID, decision domain.ReviewStatus, reviewerID uuid.UUID, notes string) (*domain.RiskAssessment, error) {
	if decision != domain.ReviewStatusApproved && decision != domain.ReviewStatusRejected {
		return nil, errors.ErrInvalidDecision
	}
	if reviewerID == uuid.Nil {
		return nil, fmt.Errorf("%w: reviewer id is required", errors.ErrInvalidRequest)
	}

	a, err := e.repo.GetAssessment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Action != domain.RiskActionReview {
		return nil, errors.ErrNotReviewable
	}
	if a.Status == nil || *a.Status != domain.ReviewStatusPending {
		return nil, errors.ErrAlreadyResolved
	}

	at := e.now().UTC()
	a.Status = &decision
	a.ReviewedBy = &reviewerID
	a.ReviewNotes = &notes
	a.ReviewedAt = &at
	if err := e.repo.UpdateReview(ctx, a); err != nil {
		return nil, err
	}

	e.logger.Info("Risk assessment reviewed", map[string]interface{}{
		"assessment_id": a.ID.String(),
		"decision":      decision,
		"reviewer_id":   reviewerID.String(),
	})

	if decision == domain.ReviewStatusRejected && a.TransactionID != nil {
		if err := e.applyRejection(ctx, a); err != nil {
			return a, errors.Wrap(err, "review recorded but failed to fail transaction")
		}
	}
	return a, nil
}

// SweepRejectedReviews fails the transactions of rejected reviews whose
// ledger update did not go through, and returns how many it failed.
func (e *Engine) SweepRejectedReviews(ctx context.Context) (int, error) {
	rejected, err := e.repo.ListUnappliedRejections(ctx, 500)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list unapplied rejections")
	}

	failed := 0
	for _, a := range rejected {
		if err := e.applyRejection(ctx, a); err != nil {
			if settledRejection(err) {
				continue
			}
			e.logger.Error("Failed to apply review rejection", map[string]interface{}{
				"assessment_id":  a.ID.String(),
				"transaction_id": a.TransactionID.String(),
				"error":          err.Error(),
			})
			continue
		}
		failed++
	}
	return failed, nil
}

// applyRejection fails the linked transaction and marks the assessment
// applied. A transaction that is gone or no longer pending needs nothing
// further, so the assessment is marked applied and the ledger error returned.
func (e *Engine) applyRejection(ctx context.Context, a *domain.RiskAssessment) error {
	failErr := e.txFailer.MarkTransactionFailed(ctx, *a.TransactionID, "rejected by risk review")
	if failErr != nil && !settledRejection(failErr) {
		return failErr
	}
	if failErr != nil {
		e.logger.Warn("Rejected transaction was not pending", map[string]interface{}{
			"assessment_id":  a.ID.String(),
			"transaction_id": a.TransactionID.String(),
			"error":          failErr.Error(),
		})
	}

	at := e.now().UTC()
	if err := e.repo.MarkRejectionApplied(ctx, a.ID, at); err != nil {
		// The next sweep finds the transaction already failed and settles it.
		e.logger.Error("Failed to mark review rejection applied", map[string]interface{}{
			"assessment_id": a.ID.String(),
			"error":         err.Error(),
		})
		return failErr
	}
	a.RejectionAppliedAt = &at
	return failErr
}

func settledRejection(err error) bool {
	return errors.Is(err, errors.ErrInvalidTransition) || errors.Is(err, errors.ErrTransactionNotFound)
}
