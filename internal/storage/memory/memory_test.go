package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fdg312/trailmate/internal/quota"
	"github.com/fdg312/trailmate/internal/storage"
)

func TestUpsertActivityRecordsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	start := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)

	rec := storage.ActivityRecord{
		UserID:             "u1",
		Provider:           "strava",
		ProviderActivityID: "a1",
		ActivityType:       "running",
		StartTime:          start,
		DurationSeconds:    1800,
	}
	_, err := s.UpsertActivityRecords(ctx, []storage.ActivityRecord{rec})
	require.NoError(t, err)

	rec.DurationSeconds = 2400
	_, err = s.UpsertActivityRecords(ctx, []storage.ActivityRecord{rec})
	require.NoError(t, err)

	got, err := s.ListActivityRecords(ctx, "u1", nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2400, got[0].DurationSeconds)
}

func TestListActivityRecordsFiltersProviders(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	_, err := s.UpsertActivityRecords(ctx, []storage.ActivityRecord{
		{UserID: "u1", Provider: "strava", ProviderActivityID: "a1", ActivityType: "running", StartTime: now},
		{UserID: "u1", Provider: "garmin", ProviderActivityID: "a1", ActivityType: "cycling", StartTime: now},
		{UserID: "u2", Provider: "strava", ProviderActivityID: "a2", ActivityType: "hiking", StartTime: now},
	})
	require.NoError(t, err)

	got, err := s.ListActivityRecords(ctx, "u1", []string{"strava"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "running", got[0].ActivityType)

	all, err := s.ListActivityRecords(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestActivityMetricsLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetActivityMetrics(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	m := &storage.ActivityMetrics{UserID: "u1", ActivityLevelScore: 42, PreferredActivityTypes: []string{"running"}, FitnessLevel: storage.FitnessIntermediate}
	require.NoError(t, s.UpsertActivityMetrics(ctx, m))
	m.PreferredActivityTypes[0] = "mutated"

	got, err := s.GetActivityMetrics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"running"}, got.PreferredActivityTypes)

	list, err := s.ListActivityMetrics(ctx, []string{"u1", "missing"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteActivityMetrics(ctx, "u1"))
	_, err = s.GetActivityMetrics(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConnectionSoftDisconnect(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.UpsertConnection(ctx, &storage.ProviderConnection{UserID: "u1", Provider: "strava", AccessToken: "tok"}))
	require.NoError(t, s.MarkConnectionSynced(ctx, "u1", "strava", time.Now()))
	require.NoError(t, s.DisconnectConnection(ctx, "u1", "strava", time.Now()))

	active, err := s.ListConnections(ctx, "u1", false)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.ListConnections(ctx, "u1", true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Active())

	require.NoError(t, s.UpsertConnection(ctx, &storage.ProviderConnection{UserID: "u1", Provider: "strava", AccessToken: "tok2"}))
	conn, err := s.GetConnection(ctx, "u1", "strava")
	require.NoError(t, err)
	assert.True(t, conn.Active())
	assert.NotNil(t, conn.LastSyncedAt, "reconnect keeps the sync cursor")

	assert.ErrorIs(t, s.SetConnectionError(ctx, "u1", "garmin", "boom"), storage.ErrNotFound)
}

func TestAssignCredentialRequiresConfig(t *testing.T) {
	ctx := context.Background()
	s := New()

	assert.ErrorIs(t, s.AssignCredential(ctx, "u1", "pool-1"), storage.ErrNotFound)

	require.NoError(t, s.UpsertCredentialConfig(ctx, &storage.CredentialConfig{ID: "pool-1", ClientID: "c", ClientSecret: "s", IsActive: true}))
	require.NoError(t, s.AssignCredential(ctx, "u1", "pool-1"))

	a, err := s.GetCredentialAssignment(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "pool-1", a.CredentialID)
}

func TestReserveQuotaIsAtomicUnderContention(t *testing.T) {
	ctx := context.Background()
	s := New()
	limits := quota.Limits{WindowLimit: 25, DailyLimit: 1000, Window: 15 * time.Minute}
	now := time.Now()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _, err := s.ReserveQuota(ctx, "pool-1", limits, now)
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(25), allowed.Load())

	state, err := s.GetQuotaState(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, 25, state.WindowRequests)
	assert.True(t, state.IsThrottled)
}

func TestThrottleQuota(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	limits := quota.Limits{WindowLimit: 10, DailyLimit: 100}

	_, err := s.ThrottleQuota(ctx, "default", limits, now.Add(time.Minute), now)
	require.NoError(t, err)

	d, _, err := s.ReserveQuota(ctx, "default", limits, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, quota.ReasonThrottled, d.Reason)
}
