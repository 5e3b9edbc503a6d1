package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"chats/internal/chat"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// fail maps a service error onto an HTTP status. op is recorded when access
// was denied.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, op chat.Operation, err error) {
	var verr *chat.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message, Field: verr.Field})
	case errors.Is(err, chat.ErrUnauthenticated), errors.Is(err, chat.ErrInvalidCredentials):
		writeJSONError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, chat.ErrForbidden):
		h.metrics.AccessDenied.WithLabelValues(string(op)).Inc()
		writeJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chat.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrConflict):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request_failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return chat.NewValidationError("", "Invalid request body")
	}
	return nil
}
