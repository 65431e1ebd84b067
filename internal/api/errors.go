package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/crimesafe/internal/model"
)

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusFor maps the error taxonomy to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidProfile), errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrLocationNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInsufficientHistory):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	id := RequestIDFrom(r.Context())
	msg := err.Error()

	switch {
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		zap.L().Error("api: request failed", zap.String("request_id", id), zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal error"
	case status == http.StatusServiceUnavailable:
		zap.L().Warn("api: store unavailable", zap.String("request_id", id), zap.String("path", r.URL.Path), zap.Error(err))
		msg = model.ErrStoreUnavailable.Error()
		w.Header().Set("Retry-After", "5")
	}

	writeJSON(w, status, errorResponse{Error: msg, RequestID: id})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}
