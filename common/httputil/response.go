// Package httputil holds small JSON response helpers shared by the HTTP
// surfaces of the ingest service.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorBody is the structured error shape every gateway failure returns.
// code and detail are always present.
type ErrorBody struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// WriteError writes a structured JSON error response.
func WriteError(w http.ResponseWriter, status int, code, detail string) {
	WriteJSON(w, status, ErrorBody{Code: code, Detail: detail})
}
