package handler

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ubipay/internal/domain"
	"ubipay/internal/risk"
	"ubipay/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// RiskService is the subset of *risk.Engine the handler drives.
type RiskService interface {
	AssessRisk(ctx context.Context, req risk.AssessmentRequest) (*domain.RiskAssessment, error)
	GetPendingReviews(ctx context.Context, limit, offset int) ([]*domain.RiskAssessment, error)
	ReviewAssessment(ctx context.Context, id uuid.UUID, decision domain.ReviewStatus, reviewerID uuid.UUID, notes string) (*domain.RiskAssessment, error)
	DetectPatterns(ctx context.Context, userID uuid.UUID, currency domain.Currency) ([]risk.PatternSignal, error)
	BlacklistIP(ctx context.Context, ip string, ttl time.Duration, reason string) error
	BlacklistDevice(ctx context.Context, deviceID string, ttl time.Duration, reason string) error
	RemoveFromBlacklist(ctx context.Context, kind risk.BlacklistKind, value string) error
}

type RiskHandler struct {
	service RiskService
	logger  logger.Logger
}

func NewRiskHandler(service RiskService, log logger.Logger) *RiskHandler {
	return &RiskHandler{service: service, logger: log}
}

// Assess scores a prospective movement. The caller's address is used when the
// body carries none.
func (h *RiskHandler) Assess(w http.ResponseWriter, r *http.Request) {
	var req risk.AssessmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IPAddress == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			req.IPAddress = host
		}
	}

	assessment, err := h.service.AssessRisk(r.Context(), req)
	if err != nil {
		h.logger.Error("Risk assessment failed", map[string]interface{}{
			"user_id": req.UserID.String(),
			"error":   err.Error(),
		})
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, assessment)
}

func (h *RiskHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	reviews, err := h.service.GetPendingReviews(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list pending reviews", map[string]interface{}{"error": err.Error()})
		respondServiceError(w, err)
		return
	}
	if reviews == nil {
		reviews = []*domain.RiskAssessment{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"reviews": reviews,
		"limit":   limit,
		"offset":  offset,
	})
}

type reviewRequest struct {
	Decision   domain.ReviewStatus `json:"decision"`
	ReviewerID uuid.UUID           `json:"reviewer_id"`
	Notes      string              `json:"notes"`
}

func (h *RiskHandler) Review(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid assessment ID")
		return
	}
	var req reviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	assessment, err := h.service.ReviewAssessment(r.Context(), id, req.Decision, req.ReviewerID, req.Notes)
	if err != nil {
		h.logger.Error("Review failed", map[string]interface{}{
			"assessment_id": id.String(),
			"error":         err.Error(),
		})
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, assessment)
}

func (h *RiskHandler) Patterns(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(mux.Vars(r)["user_id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	currency := domain.Currency(strings.ToUpper(r.URL.Query().Get("currency")))
	if currency == "" {
		respondError(w, http.StatusBadRequest, "currency is required")
		return
	}
	signals, err := h.service.DetectPatterns(r.Context(), userID, currency)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if signals == nil {
		signals = []risk.PatternSignal{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "currency": currency, "signals": signals})
}

type blacklistRequest struct {
	Kind       risk.BlacklistKind `json:"kind"`
	Value      string             `json:"value"`
	TTLSeconds int                `json:"ttl_seconds"`
	Reason     string             `json:"reason"`
}

func (h *RiskHandler) AddToBlacklist(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second

	var err error
	switch req.Kind {
	case risk.BlacklistIP:
		err = h.service.BlacklistIP(r.Context(), req.Value, ttl, req.Reason)
	case risk.BlacklistDevice:
		err = h.service.BlacklistDevice(r.Context(), req.Value, ttl, req.Reason)
	default:
		respondError(w, http.StatusBadRequest, "kind must be ip or device")
		return
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"kind": string(req.Kind), "value": req.Value})
}

func (h *RiskHandler) RemoveFromBlacklist(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind := risk.BlacklistKind(vars["kind"])
	if kind != risk.BlacklistIP && kind != risk.BlacklistDevice {
		respondError(w, http.StatusBadRequest, "kind must be ip or device")
		return
	}
	if err := h.service.RemoveFromBlacklist(r.Context(), kind, vars["value"]); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
