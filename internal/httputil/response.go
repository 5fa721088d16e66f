// Package httputil writes JSON responses and maps domain errors to HTTP status codes.
package httputil

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// HandleError maps domain errors to status codes. Internal errors are logged
// in full but never echoed to the caller.
func HandleError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	var (
		status int
		resp   ErrorResponse
	)
	switch {
	case appErrors.Is(err, appErrors.ErrNotFound):
		status, resp = http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()}
	case appErrors.Is(err, appErrors.ErrConflict):
		status, resp = http.StatusConflict, ErrorResponse{Error: "conflict", Message: err.Error()}
	case appErrors.Is(err, appErrors.ErrInvalidInput):
		status, resp = http.StatusUnprocessableEntity, ErrorResponse{Error: "invalid_input", Message: err.Error()}
	case appErrors.Is(err, appErrors.ErrUnauthorized):
		status, resp = http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "authentication is required"}
	case appErrors.Is(err, appErrors.ErrNoEligibleAccount):
		status, resp = http.StatusConflict, ErrorResponse{Error: "no_eligible_account", Message: err.Error()}
	default:
		status, resp = http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "an internal error occurred"}
	}

	if logger != nil {
		logger.Error("request failed",
			zap.Int("status_code", status),
			zap.String("error_code", resp.Error),
			zap.Error(err),
		)
	}
	WriteJSON(w, status, resp)
}

func HandleBadRequest(w http.ResponseWriter, err error, logger *zap.Logger) {
	if logger != nil {
		logger.Warn("bad request", zap.Error(err))
	}
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()})
}
