package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fdg312/trailmate/internal/gateway"
	"github.com/fdg312/trailmate/internal/logging"
	"github.com/fdg312/trailmate/internal/storage"
)

// DefaultOverlap is how far before last_synced_at an incremental fetch starts.
// Providers filter on activity start time, so anything uploaded late within
// this window is fetched again and deduplicated by the upsert.
const DefaultOverlap = 7 * 24 * time.Hour

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrNoConnections      = errors.New("no active provider connections")
	ErrConnectionNotFound = errors.New("connection not found")
)

// Storage is what the orchestrator reads and writes.
type Storage interface {
	storage.ActivitiesStorage
	storage.MetricsStorage
	storage.ConnectionsStorage
}

type Option func(*Service)

// WithArchiver stores each raw batch before it is normalized.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithOverlap sets the look-back window for incremental fetches. Zero disables it.
func WithOverlap(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.overlap = d
		}
	}
}

// WithMaxParallel bounds how many providers sync at once.
func WithMaxParallel(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxParallel = n
		}
	}
}

// Service runs one independent task per connected provider and settles them all.
type Service struct {
	store       Storage
	aggregator  MetricsRecomputer
	adapters    map[string]Adapter
	archiver    Archiver
	logger      *zap.Logger
	now         func() time.Time
	maxParallel int
	overlap     time.Duration
}

func NewService(store Storage, aggregator MetricsRecomputer, adapters []Adapter, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:       store,
		aggregator:  aggregator,
		adapters:    make(map[string]Adapter, len(adapters)),
		logger:      logging.OrNop(logger).With(zap.String("component", "syncer")),
		now:         time.Now,
		maxParallel: 4,
		overlap:     DefaultOverlap,
	}
	for _, a := range adapters {
		s.adapters[a.Provider()] = a
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncAll syncs every active connection of the user.
func (s *Service) SyncAll(ctx context.Context, userID string, forceRefresh bool) (*Result, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidRequest
	}

	conns, err := s.store.ListConnections(ctx, userID, false)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	if len(conns) == 0 {
		return nil, ErrNoConnections
	}
	return s.SyncConnections(ctx, userID, conns, forceRefresh)
}

// SyncConnections runs the given connections concurrently. A failing provider
// never aborts the others; its error is reported in its outcome and on the connection.
func (s *Service) SyncConnections(ctx context.Context, userID string, conns []storage.ProviderConnection, forceRefresh bool) (*Result, error) {
	outcomes := make([]ProviderOutcome, len(conns))

	var g errgroup.Group
	g.SetLimit(s.maxParallel)
	for i, conn := range conns {
		g.Go(func() error {
			outcomes[i] = s.syncProvider(ctx, conn, forceRefresh)
			return nil
		})
	}
	_ = g.Wait()

	result := &Result{UserID: userID, Outcomes: make(map[string]ProviderOutcome, len(outcomes))}
	succeeded := 0
	for _, o := range outcomes {
		result.Outcomes[o.Provider] = o
		recordOutcome(o)
		if o.Status == StatusOK {
			succeeded++
		}
	}

	if succeeded > 0 {
		m, err := s.store.GetActivityMetrics(ctx, userID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("metrics_read_failed", zap.String("user_id", userID), zap.Error(err))
		}
		result.Metrics = metricsDTO(m)
	}

	result.Summary = summarize(result, succeeded)
	s.logger.Info("sync_completed",
		zap.String("user_id", userID),
		zap.Int("providers", len(conns)),
		zap.Int("succeeded", succeeded),
		zap.Strings("failed", result.Failed()),
		zap.Bool("force_refresh", forceRefresh),
	)
	return result, nil
}

func (s *Service) syncProvider(ctx context.Context, conn storage.ProviderConnection, forceRefresh bool) ProviderOutcome {
	out := ProviderOutcome{Provider: conn.Provider}
	logger := s.logger.With(zap.String("user_id", conn.UserID), zap.String("provider", conn.Provider))

	adapter, ok := s.adapters[conn.Provider]
	if !ok {
		out.Status = StatusFailed
		out.ErrorCode = CodeUnsupportedProvider
		out.Message = "provider is not supported"
		return out
	}

	// Taken before the fetch so activities created meanwhile are picked up next time.
	startedAt := s.now()
	var since *time.Time
	if !forceRefresh && conn.LastSyncedAt != nil {
		from := conn.LastSyncedAt.Add(-s.overlap)
		since = &from
	}

	raws, err := adapter.FetchRaw(ctx, conn, since)
	if err != nil {
		return s.fail(ctx, logger, conn, out, err)
	}

	if s.archiver != nil {
		if key, err := s.archiver.ArchiveRawBatch(ctx, conn.Provider, conn.UserID, startedAt, raws); err != nil {
			logger.Warn("raw_archive_failed", zap.Error(err))
		} else {
			logger.Debug("raw_archived", zap.String("key", key), zap.Int("items", len(raws)))
		}
	}

	records, skipped := adapter.Normalize(conn.UserID, raws)
	for _, e := range skipped {
		logger.Debug("activity_skipped", zap.Error(e))
	}
	out.Skipped = len(skipped)

	n, err := s.store.UpsertActivityRecords(ctx, records)
	if err != nil {
		return s.fail(ctx, logger, conn, out, fmt.Errorf("upsert records: %w", err))
	}
	if err := s.store.MarkConnectionSynced(ctx, conn.UserID, conn.Provider, startedAt); err != nil {
		logger.Warn("mark_synced_failed", zap.Error(err))
	}

	// Records are stored; a failed recompute is retried by the next sync or match.
	if _, err := s.aggregator.Recompute(ctx, conn.UserID); err != nil {
		logger.Warn("metrics_recompute_failed", zap.Error(err))
	}

	out.Status = StatusOK
	out.Records = n
	logger.Info("provider_synced", zap.Int("records", n), zap.Int("skipped", out.Skipped))
	return out
}

func (s *Service) fail(ctx context.Context, logger *zap.Logger, conn storage.ProviderConnection, out ProviderOutcome, err error) ProviderOutcome {
	out.Status = StatusFailed
	out.Message = err.Error()

	var upstream *gateway.UpstreamError
	switch rl, limited := gateway.IsRateLimited(err); {
	case limited:
		out.ErrorCode = CodeRateLimited
		out.RetryAfterSeconds = rl.RetryAfter
		out.Message = fmt.Sprintf("rate limited, try again in %d seconds", rl.RetryAfter)
	case errors.As(err, &upstream):
		out.ErrorCode = CodeUpstreamError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		out.ErrorCode = CodeCanceled
	default:
		out.ErrorCode = CodeStorageError
	}

	logger.Warn("provider_sync_failed", zap.String("code", out.ErrorCode), zap.Error(err))

	// Recorded even if the caller went away.
	if serr := s.store.SetConnectionError(context.WithoutCancel(ctx), conn.UserID, conn.Provider, out.Message); serr != nil {
		logger.Warn("set_connection_error_failed", zap.Error(serr))
	}
	return out
}

func summarize(r *Result, succeeded int) string {
	failed := r.Failed()
	switch {
	case len(failed) == 0:
		return "sync completed"
	case succeeded == 0:
		return fmt.Sprintf("sync failed for %s", strings.Join(failed, ", "))
	default:
		return fmt.Sprintf("sync failed for provider %s, others succeeded", strings.Join(failed, ", "))
	}
}

// Disconnect soft-deletes the connection and recomputes the user's metrics without it.
func (s *Service) Disconnect(ctx context.Context, userID, provider string) (*storage.ActivityMetrics, error) {
	userID = strings.TrimSpace(userID)
	provider = strings.TrimSpace(provider)
	if userID == "" || provider == "" {
		return nil, ErrInvalidRequest
	}

	if err := s.store.DisconnectConnection(ctx, userID, provider, s.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("disconnect: %w", err)
	}
	s.logger.Info("provider_disconnected", zap.String("user_id", userID), zap.String("provider", provider))

	m, err := s.aggregator.Recompute(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("recompute metrics: %w", err)
	}
	return m, nil
}
