package httpapi

import (
	"context"
	"errors"
	"net/http"

	sonic "github.com/bytedance/sonic"

	"github.com/headonpro/tabellen-service/internal/apperrors"
	"github.com/headonpro/tabellen-service/internal/platform/logging"
	"github.com/headonpro/tabellen-service/internal/usecase"
)

const errorDomain = "tabellen-service"

type responseEnvelope struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Domain  string `json:"domain"`
	Reason  string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, responseEnvelope{Data: data})
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, reason := mapError(err)

	logging.Default().ErrorContext(ctx, "api error response",
		"event", "api_error",
		"error_code", reason,
		"http_status", status,
		"error", err,
	)

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, responseEnvelope{Error: &errorBody{
		Code:    status,
		Message: message,
		Domain:  errorDomain,
		Reason:  reason,
	}})
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, usecase.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, usecase.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, usecase.ErrFeatureDisabled):
		return http.StatusConflict, "feature_disabled"
	case errors.Is(err, usecase.ErrQueueStopped):
		return http.StatusServiceUnavailable, "queue_stopped"
	}

	if classified, ok := apperrors.AsClassified(err); ok {
		switch classified.Type {
		case apperrors.TypeQueueFull:
			return http.StatusTooManyRequests, "queue_full"
		case apperrors.TypeValidationError, apperrors.TypeInvalidInput:
			return http.StatusBadRequest, "invalid_input"
		case apperrors.TypePermissionDenied:
			return http.StatusForbidden, "permission_denied"
		case apperrors.TypeServiceUnavailable:
			return http.StatusServiceUnavailable, "service_unavailable"
		}
	}

	return http.StatusInternalServerError, "internal_error"
}

func writeInternalError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, responseEnvelope{Error: &errorBody{
		Code:    http.StatusInternalServerError,
		Message: "internal error",
		Domain:  errorDomain,
		Reason:  "panic",
	}})
}
