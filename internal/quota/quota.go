// Package quota implements the per-credential request budget as a pure state machine.
//
// Stores own the persistence and the serialization point; they load a State, apply
// Admit or Throttle under their lock or transaction, and write the result back.
package quota

import (
	"math"
	"time"
)

// Day is the length of the daily budget window.
const Day = 24 * time.Hour

// DefaultWindow is used when Limits.Window is not set.
const DefaultWindow = 15 * time.Minute

// Deny reasons.
const (
	ReasonThrottled      = "throttled"
	ReasonWindowExceeded = "window_exhausted"
	ReasonDailyExceeded  = "daily_exhausted"
)

// Limits is the budget of one credential. A zero limit disables that check.
type Limits struct {
	WindowLimit int
	DailyLimit  int
	Window      time.Duration
}

func (l Limits) window() time.Duration {
	if l.Window <= 0 {
		return DefaultWindow
	}
	return l.Window
}

// State is the persisted quota record of one credential.
type State struct {
	CredentialID     string    `json:"credential_id"`
	WindowRequests   int       `json:"window_requests"`
	WindowStart      time.Time `json:"window_start"`
	DailyRequests    int       `json:"daily_requests"`
	DailyWindowStart time.Time `json:"daily_window_start"`
	IsThrottled      bool      `json:"is_throttled"`
	RetryAfter       time.Time `json:"retry_after"`
}

// Decision is the outcome of one Admit call.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Time
}

// RetryAfterSeconds rounds the remaining wait up to whole seconds, never below 1.
func (d Decision) RetryAfterSeconds(now time.Time) int {
	return SecondsUntil(d.RetryAfter, now)
}

// SecondsUntil is the wait until t in whole seconds, rounded up, at least 1.
func SecondsUntil(t, now time.Time) int {
	secs := int(math.Ceil(t.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Admit decides whether one more request may be sent at now and returns the state to persist.
// The returned state must be written back whether or not the request was allowed.
func Admit(s State, l Limits, now time.Time) (State, Decision) {
	s = roll(s, l, now)

	if s.IsThrottled && now.Before(s.RetryAfter) {
		return s, Decision{Reason: ReasonThrottled, RetryAfter: s.RetryAfter}
	}
	s.IsThrottled = false
	s.RetryAfter = time.Time{}

	if l.WindowLimit > 0 && s.WindowRequests >= l.WindowLimit {
		s.IsThrottled = true
		s.RetryAfter = s.WindowStart.Add(l.window())
		return s, Decision{Reason: ReasonWindowExceeded, RetryAfter: s.RetryAfter}
	}
	if l.DailyLimit > 0 && s.DailyRequests >= l.DailyLimit {
		s.IsThrottled = true
		s.RetryAfter = s.DailyWindowStart.Add(Day)
		return s, Decision{Reason: ReasonDailyExceeded, RetryAfter: s.RetryAfter}
	}

	s.WindowRequests++
	s.DailyRequests++
	return s, Decision{Allowed: true}
}

// Throttle marks the credential unavailable until at least until.
// An existing later retry_after is kept.
func Throttle(s State, l Limits, until, now time.Time) State {
	s = roll(s, l, now)
	if !s.IsThrottled || until.After(s.RetryAfter) {
		s.RetryAfter = until
	}
	s.IsThrottled = true
	return s
}

// Snapshot returns the state as it would look at now without recording a request.
func Snapshot(s State, l Limits, now time.Time) State {
	s = roll(s, l, now)
	if s.IsThrottled && !now.Before(s.RetryAfter) {
		s.IsThrottled = false
		s.RetryAfter = time.Time{}
	}
	return s
}

// roll initialises empty windows and resets counters whose window has ended.
func roll(s State, l Limits, now time.Time) State {
	if s.WindowStart.IsZero() {
		s.WindowStart = now
	}
	if s.DailyWindowStart.IsZero() {
		s.DailyWindowStart = now
	}
	if !now.Before(s.WindowStart.Add(l.window())) {
		s.WindowRequests = 0
		s.WindowStart = now
	}
	if !now.Before(s.DailyWindowStart.Add(Day)) {
		s.DailyRequests = 0
		s.DailyWindowStart = now
	}
	return s
}
