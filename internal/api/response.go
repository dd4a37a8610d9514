package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ActionResponse acknowledges a mutating request
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeAccepted(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, ActionResponse{Success: true, Message: message})
}
