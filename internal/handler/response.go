// Package handler exposes the operational HTTP surface of the wallet service:
// health probes, the risk review queue and provider callbacks.
package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"ubipay/pkg/errors"
)

const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps an error's kind to an HTTP status.
func statusFor(err error) int {
	switch errors.KindOf(err) {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindState:
		return http.StatusConflict
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindSecurity:
		if errors.Is(err, errors.ErrRiskUnavailable) {
			return http.StatusServiceUnavailable
		}
		return http.StatusForbidden
	case errors.KindProvider, errors.KindReconciliationData:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError hides internal error text behind a generic message.
func respondServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		respondError(w, status, "Internal server error")
		return
	}
	respondError(w, status, err.Error())
}

// decodeJSON reads a bounded, strict JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			respondError(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
