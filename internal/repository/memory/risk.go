package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ubipay/internal/domain"
	"ubipay/pkg/errors"

	"github.com/google/uuid"
)

// RiskRepository keeps assessments in a map.
type RiskRepository struct {
	mu          sync.Mutex
	assessments map[uuid.UUID]domain.RiskAssessment
}

func NewRiskRepository() *RiskRepository {
	return &RiskRepository{assessments: make(map[uuid.UUID]domain.RiskAssessment)}
}

func (r *RiskRepository) CreateAssessment(_ context.Context, a *domain.RiskAssessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assessments[a.ID] = copyAssessment(*a)
	return nil
}

func (r *RiskRepository) GetAssessment(_ context.Context, id uuid.UUID) (*domain.RiskAssessment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assessments[id]
	if !ok {
		return nil, errors.ErrAssessmentNotFound
	}
	out := copyAssessment(a)
	return &out, nil
}

func (r *RiskRepository) ListPendingReviews(_ context.Context, limit, offset int) ([]*domain.RiskAssessment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.RiskAssessment
	for _, a := range r.assessments {
		if a.Action != domain.RiskActionReview || a.Status == nil || *a.Status != domain.ReviewStatusPending {
			continue
		}
		c := copyAssessment(a)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, limit, offset), nil
}

func (r *RiskRepository) UpdateReview(_ context.Context, a *domain.RiskAssessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.assessments[a.ID]
	if !ok {
		return errors.ErrAssessmentNotFound
	}
	if stored.Status == nil || *stored.Status != domain.ReviewStatusPending {
		return errors.ErrAlreadyResolved
	}
	stored.Status = a.Status
	stored.ReviewedBy = a.ReviewedBy
	stored.ReviewNotes = a.ReviewNotes
	stored.ReviewedAt = a.ReviewedAt
	r.assessments[a.ID] = copyAssessment(stored)
	return nil
}

func (r *RiskRepository) ListUnappliedRejections(_ context.Context, limit int) ([]*domain.RiskAssessment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.RiskAssessment
	for _, a := range r.assessments {
		if a.Status == nil || *a.Status != domain.ReviewStatusRejected || a.TransactionID == nil || a.RejectionAppliedAt != nil {
			continue
		}
		c := copyAssessment(a)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReviewedAt.Before(*out[j].ReviewedAt) })
	return paginate(out, limit, 0), nil
}

func (r *RiskRepository) MarkRejectionApplied(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.assessments[id]
	if !ok {
		return errors.ErrAssessmentNotFound
	}
	if stored.RejectionAppliedAt == nil {
		stored.RejectionAppliedAt = &at
		r.assessments[id] = stored
	}
	return nil
}

// copyAssessment detaches pointer fields so callers cannot mutate stored rows.
func copyAssessment(a domain.RiskAssessment) domain.RiskAssessment {
	if a.Status != nil {
		s := *a.Status
		a.Status = &s
	}
	if a.ReviewedBy != nil {
		id := *a.ReviewedBy
		a.ReviewedBy = &id
	}
	if a.ReviewNotes != nil {
		n := *a.ReviewNotes
		a.ReviewNotes = &n
	}
	if a.ReviewedAt != nil {
		t := *a.ReviewedAt
		a.ReviewedAt = &t
	}
	if a.RejectionAppliedAt != nil {
		t := *a.RejectionAppliedAt
		a.RejectionAppliedAt = &t
	}
	a.Factors = append(domain.RiskFactors(nil), a.Factors...)
	return a
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
