package syncer

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// HandleSync runs a sync for every connected provider of the user.
// POST /v1/sync
func (h *Handlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "invalid JSON body")
		return
	}

	result, err := h.service.SyncAll(r.Context(), req.UserID, req.ForceRefresh)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		case errors.Is(err, ErrNoConnections):
			writeError(w, http.StatusNotFound, "no_connections", "user has no connected providers")
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "sync failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleDisconnect removes a provider connection.
// DELETE /v1/connections/{provider}?user_id=
func (h *Handlers) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))

	m, err := h.service.Disconnect(r.Context(), userID, provider)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "invalid_request", "user_id and provider are required")
		case errors.Is(err, ErrConnectionNotFound):
			writeError(w, http.StatusNotFound, "connection_not_found", "connection not found")
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to disconnect")
		}
		return
	}

	writeJSON(w, http.StatusOK, DisconnectResponse{
		UserID:   userID,
		Provider: provider,
		Metrics:  metricsDTO(m),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
