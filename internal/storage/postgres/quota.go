package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fdg312/trailmate/internal/quota"
)

// quotaStorage serializes updates with a row lock, so it is safe across processes.
type quotaStorage struct {
	pool *pgxpool.Pool
}

type quotaRow struct {
	windowRequests   int
	windowStart      *time.Time
	dailyRequests    int
	dailyWindowStart *time.Time
	isThrottled      bool
	retryAfter       *time.Time
}

func (r quotaRow) state(credentialID string) quota.State {
	s := quota.State{
		CredentialID:   credentialID,
		WindowRequests: r.windowRequests,
		DailyRequests:  r.dailyRequests,
		IsThrottled:    r.isThrottled,
	}
	if r.windowStart != nil {
		s.WindowStart = *r.windowStart
	}
	if r.dailyWindowStart != nil {
		s.DailyWindowStart = *r.dailyWindowStart
	}
	if r.retryAfter != nil {
		s.RetryAfter = *r.retryAfter
	}
	return s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (p *quotaStorage) ReserveQuota(ctx context.Context, credentialID string, limits quota.Limits, now time.Time) (quota.Decision, quota.State, error) {
	var decision quota.Decision
	state, err := p.update(ctx, credentialID, func(s quota.State) quota.State {
		var next quota.State
		next, decision = quota.Admit(s, limits, now)
		return next
	})
	return decision, state, err
}

func (p *quotaStorage) ThrottleQuota(ctx context.Context, credentialID string, limits quota.Limits, until, now time.Time) (quota.State, error) {
	return p.update(ctx, credentialID, func(s quota.State) quota.State {
		return quota.Throttle(s, limits, until, now)
	})
}

func (p *quotaStorage) GetQuotaState(ctx context.Context, credentialID string) (quota.State, error) {
	var row quotaRow
	err := p.pool.QueryRow(ctx, `
		SELECT window_requests, window_start, daily_requests, daily_window_start, is_throttled, retry_after
		FROM quota_states
		WHERE credential_id = $1
	`, credentialID).Scan(&row.windowRequests, &row.windowStart, &row.dailyRequests, &row.dailyWindowStart, &row.isThrottled, &row.retryAfter)
	if errors.Is(err, pgx.ErrNoRows) {
		return quota.State{CredentialID: credentialID}, nil
	}
	if err != nil {
		return quota.State{}, err
	}
	return row.state(credentialID), nil
}

// update runs fn on the locked row inside one transaction.
func (p *quotaStorage) update(ctx context.Context, credentialID string, fn func(quota.State) quota.State) (quota.State, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return quota.State{}, fmt.Errorf("begin quota tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Make sure the row exists so FOR UPDATE has something to lock.
	if _, err := tx.Exec(ctx, `
		INSERT INTO quota_states (credential_id) VALUES ($1)
		ON CONFLICT (credential_id) DO NOTHING
	`, credentialID); err != nil {
		return quota.State{}, fmt.Errorf("ensure quota row: %w", err)
	}

	var row quotaRow
	err = tx.QueryRow(ctx, `
		SELECT window_requests, window_start, daily_requests, daily_window_start, is_throttled, retry_after
		FROM quota_states
		WHERE credential_id = $1
		FOR UPDATE
	`, credentialID).Scan(&row.windowRequests, &row.windowStart, &row.dailyRequests, &row.dailyWindowStart, &row.isThrottled, &row.retryAfter)
	if err != nil {
		return quota.State{}, fmt.Errorf("lock quota row: %w", err)
	}

	next := fn(row.state(credentialID))

	if _, err := tx.Exec(ctx, `
		UPDATE quota_states
		SET window_requests = $2, window_start = $3, daily_requests = $4, daily_window_start = $5,
			is_throttled = $6, retry_after = $7, updated_at = NOW()
		WHERE credential_id = $1
	`, credentialID, next.WindowRequests, nullableTime(next.WindowStart), next.DailyRequests,
		nullableTime(next.DailyWindowStart), next.IsThrottled, nullableTime(next.RetryAfter)); err != nil {
		return quota.State{}, fmt.Errorf("write quota row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return quota.State{}, fmt.Errorf("commit quota tx: %w", err)
	}
	return next, nil
}
