package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xaenox/memo-web/internal/attachment"
	"github.com/xaenox/memo-web/internal/auth"
	"github.com/xaenox/memo-web/internal/models"
	"github.com/xaenox/memo-web/internal/service"
	"github.com/xaenox/memo-web/internal/storage"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrDuplicateUsername):
		return http.StatusConflict
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, service.ErrBadCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, attachment.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, attachment.ErrUnsupportedType), errors.Is(err, attachment.ErrInvalidImage):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var verr *models.ValidationError
	if errors.As(err, &verr) {
		resp = errorResponse{Error: verr.Message, Field: verr.Field}
	}
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", zap.Error(err))
		resp = errorResponse{Error: "internal error"}
	}
	writeJSON(w, status, resp)
}
