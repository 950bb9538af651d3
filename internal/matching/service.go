package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fdg312/trailmate/internal/gateway"
	"github.com/fdg312/trailmate/internal/logging"
	"github.com/fdg312/trailmate/internal/storage"
	"github.com/fdg312/trailmate/internal/syncer"
)

var ErrInvalidRequest = errors.New("invalid request")

type Storage interface {
	storage.MetricsStorage
	storage.ConnectionsStorage
}

type MetricsRecomputer interface {
	Recompute(ctx context.Context, userID string) (*storage.ActivityMetrics, error)
}

// Syncer refreshes a user's provider data.
type Syncer interface {
	SyncAll(ctx context.Context, userID string, forceRefresh bool) (*syncer.Result, error)
}

// Service loads metrics, keeps the target's fresh and runs the matcher.
type Service struct {
	store      Storage
	aggregator MetricsRecomputer
	syncer     Syncer
	matcher    *Matcher
	defaults   Options
	logger     *zap.Logger
}

func NewService(store Storage, aggregator MetricsRecomputer, sync Syncer, matcher *Matcher, defaults Options, logger *zap.Logger) *Service {
	if matcher == nil {
		matcher = NewMatcher(nil)
	}
	if defaults.MaxResults <= 0 {
		defaults.MaxResults = DefaultOptions().MaxResults
	}
	return &Service{
		store:      store,
		aggregator: aggregator,
		syncer:     sync,
		matcher:    matcher,
		defaults:   defaults,
		logger:     logging.OrNop(logger).With(zap.String("component", "matching")),
	}
}

// Defaults are the options used when a request leaves them unset.
func (s *Service) Defaults() Options {
	return s.defaults
}

// FindMatches ranks every user with metrics against userID.
func (s *Service) FindMatches(ctx context.Context, userID string, opts Options) ([]Match, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidRequest
	}

	if opts.Refresh && s.syncer != nil {
		if err := s.refresh(ctx, userID); err != nil {
			return nil, err
		}
	}

	target, err := s.freshMetrics(ctx, userID)
	if err != nil {
		return nil, err
	}

	pool, err := s.store.ListActivityMetrics(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}

	matches, err := s.matcher.FindMatches(target, pool, opts)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("matches_ranked",
		zap.String("user_id", userID),
		zap.Int("pool", len(pool)),
		zap.Int("matches", len(matches)),
	)
	return matches, nil
}

// freshMetrics returns the target's metrics, recomputing them first when
// a provider synced after they were calculated.
func (s *Service) freshMetrics(ctx context.Context, userID string) (*storage.ActivityMetrics, error) {
	target, err := s.store.GetActivityMetrics(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get metrics: %w", err)
	}

	conns, err := s.store.ListConnections(ctx, userID, false)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	stale := false
	for _, c := range conns {
		if c.LastSyncedAt == nil {
			continue
		}
		if target == nil || target.LastCalculatedAt.Before(*c.LastSyncedAt) {
			stale = true
			break
		}
	}

	if stale {
		s.logger.Debug("metrics_stale", zap.String("user_id", userID))
		target, err = s.aggregator.Recompute(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("recompute metrics: %w", err)
		}
	}

	if target == nil {
		return nil, ErrNoMetrics
	}
	return target, nil
}

// refresh syncs the user's providers. It fails only when every provider was rate limited.
func (s *Service) refresh(ctx context.Context, userID string) error {
	res, err := s.syncer.SyncAll(ctx, userID, false)
	if errors.Is(err, syncer.ErrNoConnections) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	var limited *gateway.RateLimitedError
	for _, o := range res.Outcomes {
		switch {
		case o.Status == syncer.StatusOK:
			return nil
		case o.ErrorCode == syncer.CodeRateLimited:
			if limited == nil || o.RetryAfterSeconds > limited.RetryAfter {
				limited = &gateway.RateLimitedError{RetryAfter: o.RetryAfterSeconds, Reason: "refresh"}
			}
		}
	}
	if limited != nil {
		return limited
	}
	return nil
}
