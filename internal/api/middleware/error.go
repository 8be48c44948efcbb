// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"runtime/debug"

	"github.com/door-panel-bridge/runtime/internal/panel"
)

// ErrorResponse is the standardized API error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WriteError writes a JSON error response with the given status code.
func WriteError(w http.ResponseWriter, status int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errCode,
		Message: message,
	})
}

// WritePanelError maps a panel client error to an HTTP response. The
// panel's own rejections surface as 502 so callers can tell a bridge
// fault from a panel fault.
func WritePanelError(w http.ResponseWriter, err error) {
	var valErr *panel.ValidationError
	var authErr *panel.AuthError
	var rejErr *panel.RemoteRejection
	var transErr *panel.TransportError

	switch {
	case errors.As(err, &valErr):
		WriteError(w, http.StatusBadRequest, ErrValidation, err.Error())
	case errors.As(err, &authErr):
		WriteError(w, http.StatusBadGateway, ErrPanelAuth, err.Error())
	case errors.As(err, &rejErr):
		WriteError(w, http.StatusBadGateway, ErrPanelRejected, err.Error())
	case errors.As(err, &transErr):
		WriteError(w, http.StatusGatewayTimeout, ErrPanelUnreachable, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, ErrInternal, err.Error())
	}
}

// ErrorRecovery recovers from handler panics and returns a 500.
func ErrorRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("Panic recovered: %v\n%s", err, debug.Stack())
				WriteError(w, http.StatusInternalServerError, ErrInternal, "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Common error codes
const (
	ErrNotFound         = "not_found"
	ErrBadRequest       = "bad_request"
	ErrValidation       = "validation_error"
	ErrInternal         = "internal_error"
	ErrPanelAuth        = "panel_auth_failed"
	ErrPanelRejected    = "panel_rejected"
	ErrPanelUnreachable = "panel_unreachable"
)
