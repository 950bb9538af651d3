package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fdg312/trailmate/internal/activities"
	"github.com/fdg312/trailmate/internal/blob"
	"github.com/fdg312/trailmate/internal/config"
	"github.com/fdg312/trailmate/internal/credentials"
	"github.com/fdg312/trailmate/internal/gateway"
	"github.com/fdg312/trailmate/internal/logging"
	"github.com/fdg312/trailmate/internal/matching"
	"github.com/fdg312/trailmate/internal/storage"
	"github.com/fdg312/trailmate/internal/storage/memory"
	"github.com/fdg312/trailmate/internal/storage/postgres"
	"github.com/fdg312/trailmate/internal/storage/redisquota"
	"github.com/fdg312/trailmate/internal/strava"
	"github.com/fdg312/trailmate/internal/syncer"
)

// Server wires storage, the gateway and the HTTP handlers together.
type Server struct {
	config  *config.Config
	logger  *zap.Logger
	mux     *http.ServeMux
	storage storage.Storage
	quotas  storage.QuotaStorage
	redis   *redis.Client
	archive blob.Store

	// Effective backends after fallbacks.
	storageBackend string
	quotaBackend   string
}

// New builds the server. Storage falls back to memory when Postgres is unreachable;
// the quota store falls back to the main storage when Redis is.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{
		config: cfg,
		logger: logging.OrNop(logger),
		mux:    http.NewServeMux(),
	}

	ctx := context.Background()
	s.initStorage(ctx)
	s.initQuotaStore(ctx)

	archive, mode, err := blob.NewArchiveStore(ctx, cfg.Archive, s.logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.archive = archive
	s.logger.Info("archive_mode", zap.String("effective", mode))

	s.routes()
	return s, nil
}

func (s *Server) initStorage(ctx context.Context) {
	if s.config.DatabaseURL == "" {
		s.logger.Info("storage_selected", zap.String("backend", config.QuotaStoreMemory))
		s.storage, s.storageBackend = memory.New(), config.QuotaStoreMemory
		return
	}

	pg, err := postgres.New(ctx, s.config.DatabaseURL)
	if err != nil {
		s.logger.Warn("postgres_unavailable", zap.Error(err), zap.String("fallback", config.QuotaStoreMemory))
		s.storage, s.storageBackend = memory.New(), config.QuotaStoreMemory
		return
	}
	s.logger.Info("storage_selected", zap.String("backend", config.QuotaStorePostgres))
	s.storage, s.storageBackend = pg, config.QuotaStorePostgres
}

func (s *Server) initQuotaStore(ctx context.Context) {
	requested := s.config.QuotaStore
	s.quotas, s.quotaBackend = s.storage, s.storageBackend

	switch requested {
	case config.QuotaStoreRedis:
		client, err := redisquota.Connect(ctx, s.config.Redis.URL, s.config.Redis.Password, s.config.Redis.DB)
		if err != nil {
			s.logger.Warn("redis_unavailable", zap.Error(err), zap.String("fallback", s.storageBackend))
			break
		}
		s.redis = client
		s.quotas, s.quotaBackend = redisquota.New(client, s.logger), config.QuotaStoreRedis
	case config.QuotaStoreMemory:
		if s.storageBackend != config.QuotaStoreMemory {
			s.quotas, s.quotaBackend = memory.New(), config.QuotaStoreMemory
		}
	case config.QuotaStorePostgres:
		if s.storageBackend != config.QuotaStorePostgres {
			s.logger.Warn("quota_store_unavailable", zap.String("requested", requested), zap.String("fallback", s.storageBackend))
		}
	}

	s.logger.Info("quota_store_selected", zap.String("requested", requested), zap.String("backend", s.quotaBackend))
}

func (s *Server) defaultCredential() storage.CredentialConfig {
	p := s.config.Provider
	return storage.CredentialConfig{
		ID:           config.DefaultCredentialID,
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		DailyLimit:   p.DailyLimit,
		WindowLimit:  p.WindowLimit,
		IsActive:     true,
	}
}

func (s *Server) routes() {
	cfg := s.config

	credentials.RegisterMetrics(prometheus.DefaultRegisterer)
	gateway.RegisterMetrics(prometheus.DefaultRegisterer)
	syncer.RegisterMetrics(prometheus.DefaultRegisterer)

	resolver := credentials.NewResolver(s.storage, s.defaultCredential(), s.logger)
	gw := gateway.New(s.quotas, resolver, gateway.Config{
		MaxAttempts: cfg.Gateway.MaxAttempts,
		BaseDelay:   cfg.Gateway.BaseDelay,
		MinInterval: cfg.Gateway.MinInterval,
		Window:      cfg.Provider.WindowDuration,
	}, s.logger.With(zap.String("component", "gateway")))

	stravaAdapter := strava.NewAdapter(gw, s.storage, strava.Options{
		BaseURL:  cfg.Provider.BaseURL,
		PageSize: cfg.Sync.PageSize,
		MaxPages: cfg.Sync.MaxPages,
	}, s.logger.With(zap.String("provider", strava.Provider)))

	aggregator := activities.NewAggregator(s.storage, s.storage, s.storage, s.logger)

	syncOpts := []syncer.Option{
		syncer.WithMaxParallel(cfg.Sync.MaxParallel),
		syncer.WithOverlap(cfg.Sync.Overlap),
	}
	if archiver := blob.NewArchiver(s.archive); archiver != nil {
		syncOpts = append(syncOpts, syncer.WithArchiver(archiver))
	}
	syncService := syncer.NewService(s.storage, aggregator, []syncer.Adapter{stravaAdapter}, s.logger, syncOpts...)

	matchService := matching.NewService(s.storage, aggregator, syncService, matching.NewMatcher(nil), matching.Options{
		MaxResults: cfg.Match.DefaultMaxResults,
		MinScore:   cfg.Match.DefaultMinScore,
	}, s.logger)

	credentialHandlers := credentials.NewHandlers(resolver)
	gatewayHandlers := gateway.NewHandlers(gw)
	syncHandlers := syncer.NewHandlers(syncService)
	matchHandlers := matching.NewHandlers(matchService)

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("POST /v1/sync", syncHandlers.HandleSync)
	s.mux.HandleFunc("DELETE /v1/connections/{provider}", syncHandlers.HandleDisconnect)

	s.mux.HandleFunc("GET /v1/matches", matchHandlers.HandleFindMatches)

	s.mux.HandleFunc("GET /v1/quota/{credential_id}", gatewayHandlers.HandleGetQuota)

	s.mux.HandleFunc("POST /v1/admin/credentials/assign", credentialHandlers.HandleAssign)
	s.mux.HandleFunc("POST /v1/admin/credentials/cache/clear", credentialHandlers.HandleClearCache)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

// Handler is the mux wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return RateLimitMiddleware(s.config, s.logger, s.mux)
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server_listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.logger.Info("server_shutting_down")
	return srv.Shutdown(shutdownCtx)
}

// Close releases storage connections.
func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.storage != nil {
		errs = append(errs, s.storage.Close())
	}
	return errors.Join(errs...)
}
