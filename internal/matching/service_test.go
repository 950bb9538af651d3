package matching

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fdg312/trailmate/internal/activities"
	"github.com/fdg312/trailmate/internal/storage"
	"github.com/fdg312/trailmate/internal/storage/memory"
	"github.com/fdg312/trailmate/internal/syncer"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type stubSyncer struct {
	result *syncer.Result
	err    error
	calls  int
}

func (s *stubSyncer) SyncAll(ctx context.Context, userID string, forceRefresh bool) (*syncer.Result, error) {
	s.calls++
	return s.result, s.err
}

func newTestService(t *testing.T, sync Syncer) (*Service, *memory.MemoryStorage) {
	t.Helper()
	mem := memory.New()
	agg := activities.NewAggregator(mem, mem, mem, zaptest.NewLogger(t))
	agg.SetClock(func() time.Time { return now })
	return NewService(mem, agg, sync, nil, DefaultOptions(), zaptest.NewLogger(t)), mem
}

func seedMetrics(t *testing.T, mem *memory.MemoryStorage, ms ...storage.ActivityMetrics) {
	t.Helper()
	for i := range ms {
		if ms[i].LastCalculatedAt.IsZero() {
			ms[i].LastCalculatedAt = now
		}
		require.NoError(t, mem.UpsertActivityMetrics(context.Background(), &ms[i]))
	}
}

func TestServiceFindMatches(t *testing.T) {
	svc, mem := newTestService(t, nil)
	seedMetrics(t, mem,
		metrics("t", 50, []string{"running"}, []int{7}, storage.FitnessIntermediate),
		metrics("a", 50, []string{"running"}, []int{7}, storage.FitnessIntermediate),
	)

	got, err := svc.FindMatches(context.Background(), "t", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].CandidateID)

	_, err = svc.FindMatches(context.Background(), "nobody", DefaultOptions())
	assert.ErrorIs(t, err, ErrNoMetrics)
}

func TestServiceRecomputesStaleMetrics(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t, nil)

	seedMetrics(t, mem, storage.ActivityMetrics{
		UserID:                 "t",
		PreferredActivityTypes: []string{"yoga"},
		FitnessLevel:           storage.FitnessBeginner,
		LastCalculatedAt:       now.Add(-2 * time.Hour),
	})
	require.NoError(t, mem.UpsertConnection(ctx, &storage.ProviderConnection{UserID: "t", Provider: "strava"}))
	require.NoError(t, mem.MarkConnectionSynced(ctx, "t", "strava", now.Add(-time.Hour)))
	_, err := mem.UpsertActivityRecords(ctx, []storage.ActivityRecord{{
		UserID:             "t",
		Provider:           "strava",
		ProviderActivityID: "1",
		ActivityType:       "hiking",
		StartTime:          now.Add(-24 * time.Hour),
		DurationSeconds:    7200,
	}})
	require.NoError(t, err)

	_, err = svc.FindMatches(ctx, "t", DefaultOptions())
	require.NoError(t, err)

	m, err := mem.GetActivityMetrics(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"hiking"}, m.PreferredActivityTypes)
	assert.True(t, m.LastCalculatedAt.Equal(now))
}

func TestServiceRefreshRateLimited(t *testing.T) {
	sync := &stubSyncer{result: &syncer.Result{Outcomes: map[string]syncer.ProviderOutcome{
		"strava": {Provider: "strava", Status: syncer.StatusFailed, ErrorCode: syncer.CodeRateLimited, RetryAfterSeconds: 30},
	}}}
	svc, mem := newTestService(t, sync)
	seedMetrics(t, mem, metrics("t", 50, nil, nil, storage.FitnessIntermediate))

	h := NewHandlers(svc)
	req := httptest.NewRequest(http.MethodGet, "/v1/matches?user_id=t&refresh=true", nil)
	rec := httptest.NewRecorder()
	h.HandleFindMatches(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, sync.calls)

	// Without refresh the stored metrics are used as is.
	req = httptest.NewRequest(http.MethodGet, "/v1/matches?user_id=t", nil)
	rec = httptest.NewRecorder()
	h.HandleFindMatches(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, sync.calls)
}

func TestHandleFindMatches(t *testing.T) {
	svc, mem := newTestService(t, nil)
	seedMetrics(t, mem,
		metrics("t", 50, []string{"running"}, []int{7}, storage.FitnessIntermediate),
		metrics("a", 50, []string{"running"}, []int{7}, storage.FitnessIntermediate),
		metrics("b", 10, []string{"yoga"}, []int{23}, storage.FitnessBeginner),
	)
	h := NewHandlers(svc)

	tests := []struct {
		name   string
		query  string
		status int
		code   string
		ids    []string
	}{
		{"default", "user_id=t", http.StatusOK, "", []string{"a", "b"}},
		{"min score", "user_id=t&min_score=0.9", http.StatusOK, "", []string{"a"}},
		{"exclude", "user_id=t&exclude=a", http.StatusOK, "", []string{"b"}},
		{"types", "user_id=t&types=swimming&min_score=0", http.StatusOK, "", []string{"a"}},
		{"missing user", "", http.StatusBadRequest, "invalid_request", nil},
		{"bad max", "user_id=t&max_results=0", http.StatusBadRequest, "invalid_request", nil},
		{"bad min", "user_id=t&min_score=2", http.StatusBadRequest, "invalid_request", nil},
		{"no metrics", "user_id=zz", http.StatusConflict, "no_metrics", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/matches?"+tt.query, nil)
			rec := httptest.NewRecorder()
			h.HandleFindMatches(rec, req)

			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				var body struct {
					Error struct{ Code string } `json:"error"`
				}
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, tt.code, body.Error.Code)
				return
			}

			var resp MatchesResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			ids := make([]string, len(resp.Matches))
			for i, m := range resp.Matches {
				ids[i] = m.CandidateID
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}
