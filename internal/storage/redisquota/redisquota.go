// Package redisquota keeps quota state in Redis so several API processes share one budget.
package redisquota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fdg312/trailmate/internal/logging"
	"github.com/fdg312/trailmate/internal/quota"
)

const (
	keyPrefix = "trailmate:quota:"

	// A state untouched for this long has rolled both windows anyway.
	stateTTL = 2 * quota.Day

	maxTxRetries = 10
)

// ErrContention is returned when the optimistic transaction kept losing races.
var ErrContention = errors.New("quota state contended, retries exhausted")

// Store implements storage.QuotaStorage with WATCH/MULTI optimistic transactions.
type Store struct {
	client *redis.Client
	logger *zap.Logger
}

func New(client *redis.Client, logger *zap.Logger) *Store {
	return &Store{client: client, logger: logging.OrNop(logger)}
}

// Connect builds a client from address settings and pings it.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func key(credentialID string) string {
	return keyPrefix + credentialID
}

func (s *Store) ReserveQuota(ctx context.Context, credentialID string, limits quota.Limits, now time.Time) (quota.Decision, quota.State, error) {
	var decision quota.Decision
	state, err := s.update(ctx, credentialID, func(st quota.State) quota.State {
		var next quota.State
		next, decision = quota.Admit(st, limits, now)
		return next
	})
	return decision, state, err
}

func (s *Store) ThrottleQuota(ctx context.Context, credentialID string, limits quota.Limits, until, now time.Time) (quota.State, error) {
	return s.update(ctx, credentialID, func(st quota.State) quota.State {
		return quota.Throttle(st, limits, until, now)
	})
}

func (s *Store) GetQuotaState(ctx context.Context, credentialID string) (quota.State, error) {
	return load(ctx, s.client, credentialID)
}

func load(ctx context.Context, c redis.Cmdable, credentialID string) (quota.State, error) {
	raw, err := c.Get(ctx, key(credentialID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return quota.State{CredentialID: credentialID}, nil
	}
	if err != nil {
		return quota.State{}, err
	}

	var st quota.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return quota.State{}, fmt.Errorf("decode quota state: %w", err)
	}
	st.CredentialID = credentialID
	return st, nil
}

func (s *Store) update(ctx context.Context, credentialID string, fn func(quota.State) quota.State) (quota.State, error) {
	k := key(credentialID)
	var next quota.State

	txf := func(tx *redis.Tx) error {
		current, err := load(ctx, tx, credentialID)
		if err != nil {
			return err
		}
		next = fn(current)

		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, payload, stateTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, k)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("quota_tx_retry", zap.String("credential_id", credentialID), zap.Int("attempt", i+1))
			continue
		}
		return quota.State{}, err
	}

	s.logger.Warn("quota_tx_contention", zap.String("credential_id", credentialID))
	return quota.State{}, ErrContention
}
