package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fdg312/trailmate/internal/storage"
	"github.com/fdg312/trailmate/internal/storage/memory"
)

var now = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func TestCanonicalType(t *testing.T) {
	tests := map[string]string{
		"Run":              "running",
		"TrailRun":         "running",
		"MountainBikeRide": "cycling",
		"EBikeRide":        "cycling",
		"Hike":             "hiking",
		"Walk":             "walking",
		"RockClimbing":     "climbing",
		"WeightTraining":   "strength",
		"StandUpPaddling":  "paddling",
		"Kitesurf":         "kitesurf",
		"Ice Skate":        "ice_skate",
		"":                 "other",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, CanonicalType(in))
		})
	}
}

func TestValidate(t *testing.T) {
	valid := storage.ActivityRecord{UserID: "u", Provider: "strava", ProviderActivityID: "1", ActivityType: "running", StartTime: now}
	require.NoError(t, Validate(valid))

	upper := valid
	upper.ActivityType = "Running"
	assert.ErrorIs(t, Validate(upper), ErrInvalidRecord)

	noID := valid
	noID.ProviderActivityID = ""
	assert.ErrorIs(t, Validate(noID), ErrInvalidRecord)
}

type stubNormalizer struct{}

func (stubNormalizer) Provider() string { return "stub" }

func (stubNormalizer) NormalizeActivity(userID string, raw json.RawMessage) (storage.ActivityRecord, error) {
	var p struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return storage.ActivityRecord{}, err
	}
	if p.ID == "" {
		return storage.ActivityRecord{}, errors.New("missing id")
	}
	return storage.ActivityRecord{UserID: userID, Provider: "stub", ProviderActivityID: p.ID, ActivityType: CanonicalType(p.Type), StartTime: now}, nil
}

func TestNormalizeBatchSkipsBadItems(t *testing.T) {
	raws := []json.RawMessage{
		json.RawMessage(`{"id":"1","type":"Run"}`),
		json.RawMessage(`{"type":"Ride"}`),
		json.RawMessage(`not json`),
		json.RawMessage(`{"id":"4","type":"Hike"}`),
	}

	records, errs := NormalizeBatch(stubNormalizer{}, "u1", raws)
	require.Len(t, records, 2)
	assert.Len(t, errs, 2)
	assert.Equal(t, "running", records[0].ActivityType)
	assert.Equal(t, "hiking", records[1].ActivityType)
}

func sessions(n int, typ string, minutes int, steps *int, hourUTC int) []storage.ActivityRecord {
	out := make([]storage.ActivityRecord, 0, n)
	for i := 0; i < n; i++ {
		day := now.Add(-time.Duration(i+1) * 24 * time.Hour)
		start := time.Date(day.Year(), day.Month(), day.Day(), hourUTC, 0, 0, 0, time.UTC)
		out = append(out, storage.ActivityRecord{
			UserID:             "u1",
			Provider:           "strava",
			ProviderActivityID: fmt.Sprintf("%s-%d-%d", typ, hourUTC, i),
			ActivityType:       typ,
			StartTime:          start,
			DurationSeconds:    minutes * 60,
			Steps:              steps,
		})
	}
	return out
}

func TestComputeMetricsScore(t *testing.T) {
	t.Run("hits every target", func(t *testing.T) {
		m := ComputeMetrics("u1", sessions(20, "running", 60, intPtr(14000), 7), now)
		require.NotNil(t, m)
		assert.Equal(t, 100.0, m.ActivityLevelScore)
		assert.Equal(t, storage.FitnessElite, m.FitnessLevel)
	})

	t.Run("light week", func(t *testing.T) {
		// 30 weekly minutes -> 5, 1 weekly session -> 6, 800 daily steps -> 1.6
		m := ComputeMetrics("u1", sessions(4, "walking", 30, intPtr(5600), 18), now)
		require.NotNil(t, m)
		assert.Equal(t, 12.6, m.ActivityLevelScore)
		assert.Equal(t, storage.FitnessBeginner, m.FitnessLevel)
	})

	t.Run("old records only affect preferences", func(t *testing.T) {
		old := sessions(3, "hiking", 120, nil, 9)
		for i := range old {
			old[i].StartTime = old[i].StartTime.Add(-60 * 24 * time.Hour)
		}
		m := ComputeMetrics("u1", old, now)
		require.NotNil(t, m)
		assert.Zero(t, m.ActivityLevelScore)
		assert.Equal(t, []string{"hiking"}, m.PreferredActivityTypes)
	})

	t.Run("no records", func(t *testing.T) {
		assert.Nil(t, ComputeMetrics("u1", nil, now))
	})
}

func TestComputeMetricsPreferences(t *testing.T) {
	var records []storage.ActivityRecord
	records = append(records, sessions(10, "running", 30, nil, 6)...)
	records = append(records, sessions(5, "cycling", 30, nil, 18)...)
	records = append(records, sessions(5, "climbing", 30, nil, 18)...)
	records = append(records, sessions(2, "yoga", 30, nil, 12)...)
	records = append(records, sessions(1, "swimming", 30, nil, 21)...)
	records = append(records, sessions(1, "rowing", 30, nil, 22)...)

	m := ComputeMetrics("u1", records, now)
	require.NotNil(t, m)

	assert.Equal(t, []string{"running", "climbing", "cycling", "yoga", "rowing"}, m.PreferredActivityTypes)
	// 24 sessions: hour 6 has 10, hour 18 has 10, hour 12 has 2 (< 10%).
	assert.Equal(t, []int{6, 18}, m.PreferredWorkoutTimes)
}

func TestLocalStartHourUsesOffset(t *testing.T) {
	rec := storage.ActivityRecord{StartTime: time.Date(2026, 5, 1, 4, 30, 0, 0, time.UTC), UTCOffsetSeconds: 3 * 3600}
	assert.Equal(t, 7, rec.LocalStartHour())
}

func TestFitnessFromScore(t *testing.T) {
	assert.Equal(t, storage.FitnessBeginner, FitnessFromScore(24.99))
	assert.Equal(t, storage.FitnessIntermediate, FitnessFromScore(25))
	assert.Equal(t, storage.FitnessAdvanced, FitnessFromScore(50))
	assert.Equal(t, storage.FitnessElite, FitnessFromScore(75))
}

func TestRecomputeIgnoresDisconnectedProviders(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	agg := NewAggregator(mem, mem, mem, nil)
	agg.SetClock(func() time.Time { return now })

	require.NoError(t, mem.UpsertConnection(ctx, &storage.ProviderConnection{UserID: "u1", Provider: "strava"}))
	require.NoError(t, mem.UpsertConnection(ctx, &storage.ProviderConnection{UserID: "u1", Provider: "garmin"}))

	strava := sessions(4, "running", 30, nil, 7)
	garmin := sessions(4, "cycling", 30, nil, 7)
	for i := range garmin {
		garmin[i].Provider = "garmin"
	}
	_, err := mem.UpsertActivityRecords(ctx, append(strava, garmin...))
	require.NoError(t, err)

	m, err := agg.Recompute(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.ElementsMatch(t, []string{"running", "cycling"}, m.PreferredActivityTypes)

	require.NoError(t, mem.DisconnectConnection(ctx, "u1", "garmin", now))
	m, err = agg.Recompute(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"running"}, m.PreferredActivityTypes)

	require.NoError(t, mem.DisconnectConnection(ctx, "u1", "strava", now))
	m, err = agg.Recompute(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = mem.GetActivityMetrics(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecomputeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	agg := NewAggregator(mem, mem, mem, nil)
	agg.SetClock(func() time.Time { return now })

	_, err := mem.UpsertActivityRecords(ctx, sessions(6, "hiking", 90, nil, 8))
	require.NoError(t, err)

	first, err := agg.Recompute(ctx, "u1")
	require.NoError(t, err)
	second, err := agg.Recompute(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
