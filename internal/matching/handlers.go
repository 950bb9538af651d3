package matching

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/fdg312/trailmate/internal/gateway"
)

type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// HandleFindMatches returns ranked partners for a user.
// GET /v1/matches?user_id=&max_results=&min_score=&exclude=a,b&types=running,hiking&refresh=true
func (h *Handlers) HandleFindMatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	opts := h.service.Defaults()
	if v := q.Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "invalid_request", "max_results must be between 1 and 100")
			return
		}
		opts.MaxResults = n
	}
	if v := q.Get("min_score"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "min_score must be between 0 and 1")
			return
		}
		opts.MinScore = f
	}
	opts.ExcludeUserIDs = splitList(q.Get("exclude"))
	opts.PreferredActivityTypes = splitList(q.Get("types"))
	opts.Refresh = q.Get("refresh") == "true"

	matches, err := h.service.FindMatches(r.Context(), userID, opts)
	if err != nil {
		if rl, ok := gateway.IsRateLimited(err); ok {
			w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "provider rate limit reached, try again in "+strconv.Itoa(rl.RetryAfter)+" seconds")
			return
		}
		switch {
		case errors.Is(err, ErrNoMetrics):
			writeError(w, http.StatusConflict, "no_metrics", "no activity metrics yet, sync a provider first")
		case errors.Is(err, ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid request")
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to find matches")
		}
		return
	}

	writeJSON(w, http.StatusOK, MatchesResponse{UserID: userID, Matches: matches})
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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
