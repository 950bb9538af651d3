package gateway

import (
	"fmt"
	"time"
)

// Throttle sources.
const (
	SourceLocal    = "local"
	SourceProvider = "provider"
)

// RateLimitedError means no request was (or will be) sent until RetryAfter seconds have passed.
type RateLimitedError struct {
	CredentialID string
	RetryAfter   int // seconds, at least 1
	Until        time.Time
	Source       string // local | provider
	Reason       string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("credential %s rate limited (%s), retry after %ds", e.CredentialID, e.Source, e.RetryAfter)
}

// UpstreamError is any provider failure other than throttling. It is never retried.
type UpstreamError struct {
	CredentialID string
	StatusCode   int // 0 for transport errors
	Body         string
	Cause        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upstream request failed: %v", e.Cause)
	}
	if e.Body != "" {
		return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("upstream returned %d", e.StatusCode)
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}
