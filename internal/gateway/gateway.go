// Package gateway brokers every outbound provider call through the credential's quota.
//
// Each attempt reserves one unit of quota before dispatch, so a 429 retry costs quota too.
// Counters are never given back on success. Retry sleeps happen outside the quota store's
// serialization point; the next attempt reserves again.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fdg312/trailmate/internal/credentials"
	"github.com/fdg312/trailmate/internal/logging"
	"github.com/fdg312/trailmate/internal/quota"
	"github.com/fdg312/trailmate/internal/storage"
)

const maxErrorBody = 512

// RequestFunc performs one HTTP call with the given credential. It is called once per attempt
// and must build a fresh request each time.
type RequestFunc func(ctx context.Context, cred storage.CredentialConfig) (*http.Response, error)

// CredentialSource looks credentials up by id and resolves users to credentials.
type CredentialSource interface {
	Lookup(ctx context.Context, credentialID string) (storage.CredentialConfig, error)
	Resolve(ctx context.Context, userID string) credentials.Resolution
}

type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MinInterval time.Duration
	Window      time.Duration
}

type Option func(*Gateway)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithSleep replaces the context-aware sleep used between 429 retries.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gateway) { g.sleep = sleep }
}

type Gateway struct {
	quotas storage.QuotaStorage
	creds  CredentialSource
	cfg    Config
	logger *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	pacersMu sync.Mutex
	pacers   map[string]*rate.Limiter
}

func New(quotas storage.QuotaStorage, creds CredentialSource, cfg Config, logger *zap.Logger, opts ...Option) *Gateway {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = quota.DefaultWindow
	}

	g := &Gateway{
		quotas: quotas,
		creds:  creds,
		cfg:    cfg,
		logger: logging.OrNop(logger),
		now:    time.Now,
		sleep:  sleepContext,
		pacers: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Limits returns the quota limits applied to cred.
func (g *Gateway) Limits(cred storage.CredentialConfig) quota.Limits {
	return quota.Limits{
		WindowLimit: cred.WindowLimit,
		DailyLimit:  cred.DailyLimit,
		Window:      g.cfg.Window,
	}
}

// InvokeForUser resolves the user's credential and invokes fn with it.
// Unresolvable assignments fall back to the shared default credential; the fallback is still enforced.
func (g *Gateway) InvokeForUser(ctx context.Context, userID string, fn RequestFunc) (*http.Response, credentials.Resolution, error) {
	res := g.creds.Resolve(ctx, userID)
	resp, err := g.invoke(ctx, res.Config, fn)
	return resp, res, err
}

// Invoke sends fn through the quota of credentialID.
func (g *Gateway) Invoke(ctx context.Context, credentialID string, fn RequestFunc) (*http.Response, error) {
	cred, err := g.creds.Lookup(ctx, credentialID)
	if err != nil {
		return nil, fmt.Errorf("lookup credential: %w", err)
	}
	return g.invoke(ctx, cred, fn)
}

func (g *Gateway) invoke(ctx context.Context, cred storage.CredentialConfig, fn RequestFunc) (*http.Response, error) {
	limits := g.Limits(cred)
	log := g.logger.With(zap.String("credential_id", cred.ID))

	var lastDelay time.Duration
	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		decision, state, err := g.quotas.ReserveQuota(ctx, cred.ID, limits, g.now())
		if err != nil {
			return nil, fmt.Errorf("reserve quota: %w", err)
		}
		if !decision.Allowed {
			recordThrottled(SourceLocal)
			log.Info("gateway_throttled",
				zap.String("source", SourceLocal),
				zap.String("reason", decision.Reason),
				zap.Int("window_requests", state.WindowRequests),
				zap.Int("daily_requests", state.DailyRequests),
				zap.Time("retry_after", decision.RetryAfter),
			)
			return nil, &RateLimitedError{
				CredentialID: cred.ID,
				RetryAfter:   decision.RetryAfterSeconds(g.now()),
				Until:        decision.RetryAfter,
				Source:       SourceLocal,
				Reason:       decision.Reason,
			}
		}

		if err := g.pace(ctx, cred.ID); err != nil {
			return nil, err
		}

		// In-flight calls complete even if the caller gives up.
		resp, err := fn(context.WithoutCancel(ctx), cred)
		if err != nil {
			recordOutcome(outcomeUpstreamError)
			log.Warn("gateway_upstream_error", zap.Int("attempt", attempt+1), zap.Error(err))
			return nil, &UpstreamError{CredentialID: cred.ID, Cause: err}
		}

		g.applyUsageHints(ctx, cred.ID, limits, resp.Header)

		if resp.StatusCode == http.StatusTooManyRequests {
			delay, ok := retryAfter(resp.Header, g.now())
			if !ok {
				delay = g.cfg.BaseDelay << attempt
			}
			drain(resp)
			lastDelay = delay

			if attempt == g.cfg.MaxAttempts-1 {
				break
			}

			recordOutcome(outcomeRetried)
			log.Info("gateway_provider_429", zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
			if err := g.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			resp.Body.Close()
			recordOutcome(outcomeUpstreamError)
			log.Warn("gateway_upstream_status", zap.Int("status", resp.StatusCode))
			return nil, &UpstreamError{
				CredentialID: cred.ID,
				StatusCode:   resp.StatusCode,
				Body:         string(body),
				Cause:        fmt.Errorf("status %d", resp.StatusCode),
			}
		}

		recordOutcome(outcomeSuccess)
		return resp, nil
	}

	// Retries exhausted: everyone sharing the credential backs off for the provider's delay.
	now := g.now()
	until := now.Add(lastDelay)
	if _, err := g.quotas.ThrottleQuota(ctx, cred.ID, limits, until, now); err != nil {
		log.Error("gateway_throttle_persist_failed", zap.Error(err))
	}
	recordOutcome(outcomeRateLimited)
	recordThrottled(SourceProvider)
	log.Warn("gateway_throttled",
		zap.String("source", SourceProvider),
		zap.Int("attempts", g.cfg.MaxAttempts),
		zap.Duration("delay", lastDelay),
	)

	return nil, &RateLimitedError{
		CredentialID: cred.ID,
		RetryAfter:   quota.SecondsUntil(until, now),
		Until:        until,
		Source:       SourceProvider,
		Reason:       "provider_429",
	}
}

// applyUsageHints throttles the credential locally when the provider reports its budget used up.
func (g *Gateway) applyUsageHints(ctx context.Context, credentialID string, limits quota.Limits, h http.Header) {
	u, ok := parseUsage(h)
	if !ok {
		return
	}
	now := g.now()
	until, exhausted := u.exhaustedUntil(now)
	if !exhausted {
		return
	}
	if _, err := g.quotas.ThrottleQuota(ctx, credentialID, limits, until, now); err != nil {
		g.logger.Error("gateway_throttle_persist_failed", zap.String("credential_id", credentialID), zap.Error(err))
		return
	}
	g.logger.Info("gateway_provider_budget_exhausted",
		zap.String("credential_id", credentialID),
		zap.Int("short_used", u.shortUsed),
		zap.Int("daily_used", u.dailyUsed),
		zap.Time("until", until),
	)
}

// pace enforces the minimum interval between dispatches on one credential.
func (g *Gateway) pace(ctx context.Context, credentialID string) error {
	if g.cfg.MinInterval <= 0 {
		return nil
	}

	g.pacersMu.Lock()
	lim, ok := g.pacers[credentialID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(g.cfg.MinInterval), 1)
		g.pacers[credentialID] = lim
	}
	g.pacersMu.Unlock()

	return lim.Wait(ctx)
}

// QuotaState returns the credential's quota as of now, without consuming any.
func (g *Gateway) QuotaState(ctx context.Context, credentialID string) (quota.State, error) {
	cred, err := g.creds.Lookup(ctx, credentialID)
	if err != nil {
		return quota.State{}, err
	}
	state, err := g.quotas.GetQuotaState(ctx, credentialID)
	if err != nil {
		return quota.State{}, err
	}
	return quota.Snapshot(state, g.Limits(cred), g.now()), nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRateLimited reports whether err carries a RateLimitedError.
func IsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
