package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fdg312/trailmate/internal/storage"
)

// PostgresStorage implements storage.Storage on a pgx pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
	*activitiesStorage
	*metricsStorage
	*connectionsStorage
	*credentialsStorage
	*quotaStorage
}

var _ storage.Storage = (*PostgresStorage)(nil)

// New connects to databaseURL and verifies the connection.
func New(ctx context.Context, databaseURL string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStorage{
		pool:               pool,
		activitiesStorage:  &activitiesStorage{pool: pool},
		metricsStorage:     &metricsStorage{pool: pool},
		connectionsStorage: &connectionsStorage{pool: pool},
		credentialsStorage: &credentialsStorage{pool: pool},
		quotaStorage:       &quotaStorage{pool: pool},
	}, nil
}

// Pool exposes the pool for health checks.
func (p *PostgresStorage) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *PostgresStorage) Close() error {
	p.pool.Close()
	return nil
}
