package httpx

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type APIError struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "err", err)
	}
}

// WriteError echoes the X-Request-Id already set on w so clients can quote it.
func WriteError(w http.ResponseWriter, status int, code, msg string, details any) {
	WriteJSON(w, status, APIError{
		Error:     msg,
		Code:      code,
		Details:   details,
		RequestID: w.Header().Get("X-Request-Id"),
	})
}
