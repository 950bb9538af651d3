package syncer

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/fdg312/trailmate/internal/storage"
)

// Adapter fetches and normalizes one provider's activities.
type Adapter interface {
	Provider() string
	FetchRaw(ctx context.Context, conn storage.ProviderConnection, since *time.Time) ([]json.RawMessage, error)
	Normalize(userID string, raws []json.RawMessage) ([]storage.ActivityRecord, []error)
}

// Archiver keeps raw provider batches.
type Archiver interface {
	ArchiveRawBatch(ctx context.Context, provider, userID string, at time.Time, raws []json.RawMessage) (string, error)
}

// MetricsRecomputer rebuilds a user's metrics from the stored records.
type MetricsRecomputer interface {
	Recompute(ctx context.Context, userID string) (*storage.ActivityMetrics, error)
}

type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Error codes reported per provider.
const (
	CodeRateLimited         = "rate_limited"
	CodeUpstreamError       = "upstream_error"
	CodeUnsupportedProvider = "unsupported_provider"
	CodeCanceled            = "canceled"
	CodeStorageError        = "storage_error"
)

// ProviderOutcome is the settled result of one provider task.
type ProviderOutcome struct {
	Provider          string `json:"provider"`
	Status            Status `json:"status"`
	Records           int    `json:"records"`
	Skipped           int    `json:"skipped,omitempty"`
	ErrorCode         string `json:"error_code,omitempty"`
	Message           string `json:"message,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// Result is the outcome of one sync across all of a user's providers.
type Result struct {
	UserID   string                     `json:"user_id"`
	Outcomes map[string]ProviderOutcome `json:"outcomes"`
	Summary  string                     `json:"summary"`
	Metrics  *MetricsDTO                `json:"metrics,omitempty"`
}

// Failed lists providers that did not sync, sorted.
func (r *Result) Failed() []string {
	var out []string
	for p, o := range r.Outcomes {
		if o.Status == StatusFailed {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

type MetricsDTO struct {
	ActivityLevelScore     float64   `json:"activity_level_score"`
	PreferredActivityTypes []string  `json:"preferred_activity_types"`
	PreferredWorkoutTimes  []int     `json:"preferred_workout_times"`
	FitnessLevel           string    `json:"fitness_level"`
	LastCalculatedAt       time.Time `json:"last_calculated_at"`
}

func metricsDTO(m *storage.ActivityMetrics) *MetricsDTO {
	if m == nil {
		return nil
	}
	return &MetricsDTO{
		ActivityLevelScore:     m.ActivityLevelScore,
		PreferredActivityTypes: m.PreferredActivityTypes,
		PreferredWorkoutTimes:  m.PreferredWorkoutTimes,
		FitnessLevel:           string(m.FitnessLevel),
		LastCalculatedAt:       m.LastCalculatedAt,
	}
}

type SyncRequest struct {
	UserID       string `json:"user_id"`
	ForceRefresh bool   `json:"force_refresh"`
}

type DisconnectResponse struct {
	UserID   string      `json:"user_id"`
	Provider string      `json:"provider"`
	Metrics  *MetricsDTO `json:"metrics"`
}
