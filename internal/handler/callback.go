package handler

import (
	"io"
	"net/http"

	"ubipay/internal/domain"
	"ubipay/internal/middleware"
	"ubipay/internal/notification"
	"ubipay/internal/provider"
	"ubipay/pkg/logger"

	"github.com/gorilla/mux"
)

// AdapterSource resolves the adapter for a provider; *provider.Registry
// satisfies it.
type AdapterSource interface {
	Get(p domain.Provider) (provider.Adapter, error)
}

// CallbackHandler accepts provider webhooks, normalizes them through the
// provider's adapter and publishes the result for settlement.
type CallbackHandler struct {
	providers AdapterSource
	notifier  notification.Notifier
	logger    logger.Logger
}

func NewCallbackHandler(providers AdapterSource, notifier notification.Notifier, log logger.Logger) *CallbackHandler {
	if notifier == nil {
		notifier = notification.Nop{}
	}
	return &CallbackHandler{providers: providers, notifier: notifier, logger: log}
}

func (h *CallbackHandler) Handle(w http.ResponseWriter, r *http.Request) {
	p := domain.Provider(mux.Vars(r)["provider"])
	adapter, err := h.providers.Get(p)
	if err != nil {
		respondError(w, http.StatusNotFound, "Unknown provider")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := adapter.HandleCallback(r.Context(), payload)
	if err != nil {
		h.logger.Warn("Rejected provider callback", map[string]interface{}{
			"provider": p,
			"error":    err.Error(),
		})
		respondError(w, http.StatusBadRequest, "Invalid callback payload")
		return
	}

	traceID := middleware.TraceID(r.Context())
	h.logger.Info("Provider callback received", map[string]interface{}{
		"trace_id":           traceID,
		"provider":           result.Provider,
		"provider_reference": result.ProviderReference,
		"status":             result.Status,
	})

	event := map[string]interface{}{
		"provider":                result.Provider,
		"provider_reference":      result.ProviderReference,
		"provider_transaction_id": result.ProviderTransactionID,
		"status":                  result.Status,
		"success":                 result.Success,
		"amount":                  result.Amount.String(),
		"currency":                result.Currency,
		"reason":                  result.Reason,
		"trace_id":                traceID,
	}
	if err := h.notifier.Notify(r.Context(), notification.EventProviderCallback, event); err != nil {
		h.logger.Error("Failed to publish provider callback", map[string]interface{}{
			"provider_reference": result.ProviderReference,
			"error":              err.Error(),
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"provider_reference": result.ProviderReference,
		"status":             result.Status,
	})
}
