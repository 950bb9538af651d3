package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fdg312/trailmate/internal/storage"
)

const foreignKeyViolation = "23503"

type credentialsStorage struct {
	pool *pgxpool.Pool
}

const credentialColumns = `id, client_id, client_secret, daily_limit, window_limit, is_active, created_at`

func scanCredential(row pgx.Row) (storage.CredentialConfig, error) {
	var c storage.CredentialConfig
	err := row.Scan(&c.ID, &c.ClientID, &c.ClientSecret, &c.DailyLimit, &c.WindowLimit, &c.IsActive, &c.CreatedAt)
	return c, err
}

func (p *credentialsStorage) GetCredentialConfig(ctx context.Context, id string) (*storage.CredentialConfig, error) {
	c, err := scanCredential(p.pool.QueryRow(ctx, `SELECT `+credentialColumns+` FROM credential_configs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (p *credentialsStorage) ListCredentialConfigs(ctx context.Context) ([]storage.CredentialConfig, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+credentialColumns+` FROM credential_configs ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []storage.CredentialConfig
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func (p *credentialsStorage) UpsertCredentialConfig(ctx context.Context, cfg *storage.CredentialConfig) error {
	query := `
		INSERT INTO credential_configs (` + credentialColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id)
		DO UPDATE SET
			client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret,
			daily_limit = EXCLUDED.daily_limit,
			window_limit = EXCLUDED.window_limit,
			is_active = EXCLUDED.is_active
		RETURNING created_at
	`

	return p.pool.QueryRow(ctx, query,
		cfg.ID, cfg.ClientID, cfg.ClientSecret, cfg.DailyLimit, cfg.WindowLimit, cfg.IsActive,
	).Scan(&cfg.CreatedAt)
}

func (p *credentialsStorage) GetCredentialAssignment(ctx context.Context, userID string) (*storage.CredentialAssignment, error) {
	var a storage.CredentialAssignment
	err := p.pool.QueryRow(ctx, `
		SELECT user_id, credential_id, assigned_at
		FROM credential_assignments
		WHERE user_id = $1
	`, userID).Scan(&a.UserID, &a.CredentialID, &a.AssignedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (p *credentialsStorage) AssignCredential(ctx context.Context, userID, credentialID string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO credential_assignments (user_id, credential_id, assigned_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET credential_id = EXCLUDED.credential_id, assigned_at = NOW()
	`, userID, credentialID)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return storage.ErrNotFound
	}
	return err
}
