package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fdg312/trailmate/internal/storage"
)

type connectionsStorage struct {
	pool *pgxpool.Pool
}

const connectionColumns = `id, user_id, provider, access_token, refresh_token, token_expiry, last_synced_at, last_error, connected_at, disconnected_at`

func scanConnection(row pgx.Row) (storage.ProviderConnection, error) {
	var c storage.ProviderConnection
	err := row.Scan(&c.ID, &c.UserID, &c.Provider, &c.AccessToken, &c.RefreshToken, &c.TokenExpiry,
		&c.LastSyncedAt, &c.LastError, &c.ConnectedAt, &c.DisconnectedAt)
	return c, err
}

func (p *connectionsStorage) UpsertConnection(ctx context.Context, conn *storage.ProviderConnection) error {
	query := `
		INSERT INTO provider_connections (id, user_id, provider, access_token, refresh_token, token_expiry, connected_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, provider)
		DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expiry = EXCLUDED.token_expiry,
			disconnected_at = NULL
		RETURNING ` + connectionColumns

	id := conn.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	saved, err := scanConnection(p.pool.QueryRow(ctx, query, id, conn.UserID, conn.Provider, conn.AccessToken, conn.RefreshToken, conn.TokenExpiry))
	if err != nil {
		return err
	}
	*conn = saved
	return nil
}

func (p *connectionsStorage) GetConnection(ctx context.Context, userID, provider string) (*storage.ProviderConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM provider_connections WHERE user_id = $1 AND provider = $2`

	c, err := scanConnection(p.pool.QueryRow(ctx, query, userID, provider))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (p *connectionsStorage) ListConnections(ctx context.Context, userID string, includeDisconnected bool) ([]storage.ProviderConnection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM provider_connections
		WHERE user_id = $1 AND ($2 OR disconnected_at IS NULL)
		ORDER BY provider ASC
	`

	rows, err := p.pool.Query(ctx, query, userID, includeDisconnected)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []storage.ProviderConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}

	return results, rows.Err()
}

func (p *connectionsStorage) UpdateConnectionTokens(ctx context.Context, userID, provider, accessToken, refreshToken string, expiry *time.Time) error {
	return p.exec(ctx, `
		UPDATE provider_connections
		SET access_token = $3, refresh_token = $4, token_expiry = $5
		WHERE user_id = $1 AND provider = $2
	`, userID, provider, accessToken, refreshToken, expiry)
}

func (p *connectionsStorage) MarkConnectionSynced(ctx context.Context, userID, provider string, at time.Time) error {
	return p.exec(ctx, `
		UPDATE provider_connections
		SET last_synced_at = $3, last_error = ''
		WHERE user_id = $1 AND provider = $2
	`, userID, provider, at)
}

func (p *connectionsStorage) SetConnectionError(ctx context.Context, userID, provider, message string) error {
	return p.exec(ctx, `
		UPDATE provider_connections
		SET last_error = $3
		WHERE user_id = $1 AND provider = $2
	`, userID, provider, message)
}

func (p *connectionsStorage) DisconnectConnection(ctx context.Context, userID, provider string, at time.Time) error {
	return p.exec(ctx, `
		UPDATE provider_connections
		SET disconnected_at = COALESCE(disconnected_at, $3)
		WHERE user_id = $1 AND provider = $2
	`, userID, provider, at)
}

func (p *connectionsStorage) exec(ctx context.Context, query string, args ...any) error {
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
