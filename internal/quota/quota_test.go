package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestAdmitCountsUpToWindowLimit(t *testing.T) {
	limits := Limits{WindowLimit: 3, DailyLimit: 100, Window: 15 * time.Minute}
	var s State

	for i := 1; i <= 3; i++ {
		var d Decision
		s, d = Admit(s, limits, t0.Add(time.Duration(i)*time.Second))
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, i, s.WindowRequests)
		assert.Equal(t, i, s.DailyRequests)
	}

	s, d := Admit(s, limits, t0.Add(10*time.Second))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonWindowExceeded, d.Reason)
	assert.Equal(t, 3, s.WindowRequests, "a denied request is not counted")
	assert.True(t, s.IsThrottled)
	assert.Equal(t, s.WindowStart.Add(15*time.Minute), s.RetryAfter)
}

func TestAdmitStaysDeniedWhileThrottled(t *testing.T) {
	limits := Limits{WindowLimit: 1, DailyLimit: 100, Window: 15 * time.Minute}
	s, _ := Admit(State{}, limits, t0)
	s, d := Admit(s, limits, t0.Add(time.Minute))
	require.False(t, d.Allowed)

	s, d = Admit(s, limits, t0.Add(5*time.Minute))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonThrottled, d.Reason)
	assert.Equal(t, 600, d.RetryAfterSeconds(t0.Add(5*time.Minute)))
	assert.Equal(t, 1, s.WindowRequests)
}

func TestAdmitWindowResetClearsCounterAndThrottle(t *testing.T) {
	limits := Limits{WindowLimit: 1, DailyLimit: 100, Window: 15 * time.Minute}
	s, _ := Admit(State{}, limits, t0)
	s, _ = Admit(s, limits, t0.Add(time.Minute))
	require.True(t, s.IsThrottled)

	later := t0.Add(15 * time.Minute)
	s, d := Admit(s, limits, later)
	assert.True(t, d.Allowed)
	assert.False(t, s.IsThrottled)
	assert.Equal(t, later, s.WindowStart)
	assert.Equal(t, 1, s.WindowRequests)
	assert.Equal(t, 2, s.DailyRequests, "daily counter spans windows")
}

func TestAdmitDailyLimit(t *testing.T) {
	limits := Limits{WindowLimit: 100, DailyLimit: 2, Window: 15 * time.Minute}
	s, _ := Admit(State{}, limits, t0)
	s, _ = Admit(s, limits, t0.Add(20*time.Minute))

	s, d := Admit(s, limits, t0.Add(40*time.Minute))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDailyExceeded, d.Reason)
	assert.Equal(t, t0.Add(Day), d.RetryAfter)

	s, d = Admit(s, limits, t0.Add(Day))
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, s.DailyRequests)
}

func TestAdmitZeroLimitsAreUnbounded(t *testing.T) {
	var s State
	for i := 0; i < 50; i++ {
		var d Decision
		s, d = Admit(s, Limits{}, t0)
		require.True(t, d.Allowed)
	}
	assert.Equal(t, 50, s.WindowRequests)
}

func TestThrottleKeepsLaterRetryAfter(t *testing.T) {
	limits := Limits{WindowLimit: 10, DailyLimit: 100}

	s := Throttle(State{}, limits, t0.Add(time.Minute), t0)
	assert.True(t, s.IsThrottled)
	assert.Equal(t, t0.Add(time.Minute), s.RetryAfter)

	s = Throttle(s, limits, t0.Add(30*time.Second), t0)
	assert.Equal(t, t0.Add(time.Minute), s.RetryAfter)

	s = Throttle(s, limits, t0.Add(2*time.Minute), t0)
	assert.Equal(t, t0.Add(2*time.Minute), s.RetryAfter)

	_, d := Admit(s, limits, t0.Add(time.Minute))
	assert.False(t, d.Allowed)
}

func TestSnapshot(t *testing.T) {
	limits := Limits{WindowLimit: 10, DailyLimit: 100, Window: 15 * time.Minute}
	s := State{WindowRequests: 4, WindowStart: t0, DailyRequests: 9, DailyWindowStart: t0, IsThrottled: true, RetryAfter: t0.Add(time.Minute)}

	snap := Snapshot(s, limits, t0.Add(2*time.Minute))
	assert.False(t, snap.IsThrottled)
	assert.Equal(t, 4, snap.WindowRequests)

	snap = Snapshot(s, limits, t0.Add(16*time.Minute))
	assert.Equal(t, 0, snap.WindowRequests)
	assert.Equal(t, 9, snap.DailyRequests)
}

func TestSecondsUntil(t *testing.T) {
	assert.Equal(t, 1, SecondsUntil(t0, t0))
	assert.Equal(t, 1, SecondsUntil(t0.Add(-time.Minute), t0))
	assert.Equal(t, 2, SecondsUntil(t0.Add(1500*time.Millisecond), t0))
}
