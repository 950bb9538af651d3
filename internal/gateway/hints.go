package gateway

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// providerWindow is the provider's own short window; it resets on quarter-hour boundaries.
const providerWindow = 15 * time.Minute

// usage is the provider's view of a credential's budget, from X-RateLimit-* headers.
type usage struct {
	shortUsed, dailyUsed   int
	shortLimit, dailyLimit int
}

// parseUsage reads "X-RateLimit-Usage: 34,512" and "X-RateLimit-Limit: 100,1000".
func parseUsage(h http.Header) (usage, bool) {
	shortUsed, dailyUsed, ok1 := parsePair(h.Get("X-RateLimit-Usage"))
	shortLimit, dailyLimit, ok2 := parsePair(h.Get("X-RateLimit-Limit"))
	if !ok1 || !ok2 {
		return usage{}, false
	}
	return usage{shortUsed: shortUsed, dailyUsed: dailyUsed, shortLimit: shortLimit, dailyLimit: dailyLimit}, true
}

func parsePair(v string) (int, int, bool) {
	parts := strings.Split(v, ",")
	if len(parts) < 2 {
		return 0, 0, false
	}
	a, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	b, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, false
	}
	return a, b, true
}

// exhaustedUntil returns when the provider will accept requests again, if a budget is used up.
func (u usage) exhaustedUntil(now time.Time) (time.Time, bool) {
	now = now.UTC()
	if u.dailyLimit > 0 && u.dailyUsed >= u.dailyLimit {
		return now.Truncate(24 * time.Hour).Add(24 * time.Hour), true
	}
	if u.shortLimit > 0 && u.shortUsed >= u.shortLimit {
		return now.Truncate(providerWindow).Add(providerWindow), true
	}
	return time.Time{}, false
}

// retryAfter parses a Retry-After header given as seconds or an HTTP date.
func retryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
