package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/boddenberg/loandesk-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads a bounded request body, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &domain.ErrValidation{Field: "body", Message: "invalid request body: " + err.Error()}
	}
	return nil
}

func parseInt64Param(name, raw string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, &domain.ErrValidation{Field: name, Message: "must be a positive integer"}
	}
	return v, nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var invalidTerm *domain.ErrInvalidTerm
	var validation *domain.ErrValidation
	var notFound *domain.ErrNotFound
	var unauthorized *domain.ErrUnauthorized
	var sessionClosed *domain.ErrSessionClosed
	var circuitOpen *domain.ErrCircuitOpen
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &invalidTerm):
		logger.Debug("invalid loan term", zap.String("field", invalidTerm.Field), zap.String("reason", invalidTerm.Reason))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: invalidTerm.Field})
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: validation.Field})
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &sessionClosed):
		logger.Info("session closed during request", zap.Int64("owner_id", sessionClosed.OwnerID))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &external):
		logger.Error("external service failure", zap.String("service", external.Service), zap.Error(err))
		writeError(w, http.StatusBadGateway, "loan service unavailable")
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
