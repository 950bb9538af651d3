package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fdg312/trailmate/internal/credentials"
)

type QuotaResponse struct {
	CredentialID     string     `json:"credential_id"`
	WindowRequests   int        `json:"window_requests"`
	WindowLimit      int        `json:"window_limit"`
	WindowStart      time.Time  `json:"window_start"`
	DailyRequests    int        `json:"daily_requests"`
	DailyLimit       int        `json:"daily_limit"`
	DailyWindowStart time.Time  `json:"daily_window_start"`
	IsThrottled      bool       `json:"is_throttled"`
	RetryAfter       *time.Time `json:"retry_after,omitempty"`
}

type Handlers struct {
	gateway *Gateway
}

func NewHandlers(gateway *Gateway) *Handlers {
	return &Handlers{gateway: gateway}
}

// HandleGetQuota returns the current quota state of one credential.
// GET /v1/quota/{credential_id}
func (h *Handlers) HandleGetQuota(w http.ResponseWriter, r *http.Request) {
	credentialID := strings.TrimSpace(r.PathValue("credential_id"))
	if credentialID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "credential_id is required")
		return
	}

	cred, err := h.gateway.creds.Lookup(r.Context(), credentialID)
	if err != nil {
		if errors.Is(err, credentials.ErrUnknownCredential) {
			writeError(w, http.StatusNotFound, "credential_not_found", "credential not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load credential")
		return
	}

	state, err := h.gateway.QuotaState(r.Context(), credentialID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load quota state")
		return
	}

	resp := QuotaResponse{
		CredentialID:     credentialID,
		WindowRequests:   state.WindowRequests,
		WindowLimit:      cred.WindowLimit,
		WindowStart:      state.WindowStart,
		DailyRequests:    state.DailyRequests,
		DailyLimit:       cred.DailyLimit,
		DailyWindowStart: state.DailyWindowStart,
		IsThrottled:      state.IsThrottled,
	}
	if state.IsThrottled {
		resp.RetryAfter = &state.RetryAfter
	}
	writeJSON(w, http.StatusOK, resp)
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
