package credentials

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// AssignRequest is the body of POST /v1/admin/credentials/assign.
type AssignRequest struct {
	UserID       string `json:"user_id"`
	CredentialID string `json:"credential_id"`
}

// ClearCacheRequest is the body of POST /v1/admin/credentials/cache/clear.
// An empty UserID clears every cached resolution.
type ClearCacheRequest struct {
	UserID string `json:"user_id,omitempty"`
}

type ResolutionResponse struct {
	UserID       string `json:"user_id"`
	CredentialID string `json:"credential_id"`
	Source       Source `json:"source"`
	Reason       string `json:"reason,omitempty"`
}

type Handlers struct {
	resolver *Resolver
}

func NewHandlers(resolver *Resolver) *Handlers {
	return &Handlers{resolver: resolver}
}

// HandleAssign assigns a credential to a user.
// POST /v1/admin/credentials/assign
func (h *Handlers) HandleAssign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "invalid JSON body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.CredentialID = strings.TrimSpace(req.CredentialID)
	if req.UserID == "" || req.CredentialID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id and credential_id are required")
		return
	}

	if err := h.resolver.Assign(r.Context(), req.UserID, req.CredentialID); err != nil {
		if errors.Is(err, ErrUnknownCredential) {
			writeError(w, http.StatusNotFound, "credential_not_found", "credential not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to assign credential")
		return
	}

	res := h.resolver.Resolve(r.Context(), req.UserID)
	writeJSON(w, http.StatusOK, ResolutionResponse{
		UserID:       req.UserID,
		CredentialID: res.Config.ID,
		Source:       res.Source,
		Reason:       res.Reason,
	})
}

// HandleClearCache drops cached resolutions for one user or for everyone.
// POST /v1/admin/credentials/cache/clear
func (h *Handlers) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	var req ClearCacheRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_payload", "invalid JSON body")
			return
		}
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		h.resolver.ClearAll()
		writeJSON(w, http.StatusOK, map[string]string{"cleared": "all"})
		return
	}

	h.resolver.ClearCache(userID)
	writeJSON(w, http.StatusOK, map[string]string{"cleared": userID})
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
