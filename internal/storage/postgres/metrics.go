package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fdg312/trailmate/internal/storage"
)

type metricsStorage struct {
	pool *pgxpool.Pool
}

const metricsColumns = `user_id, activity_level_score, preferred_activity_types, preferred_workout_times, fitness_level, last_calculated_at`

func scanMetrics(row pgx.Row) (storage.ActivityMetrics, error) {
	var m storage.ActivityMetrics
	var level string
	err := row.Scan(&m.UserID, &m.ActivityLevelScore, &m.PreferredActivityTypes, &m.PreferredWorkoutTimes, &level, &m.LastCalculatedAt)
	m.FitnessLevel = storage.FitnessLevel(level)
	return m, err
}

func (p *metricsStorage) GetActivityMetrics(ctx context.Context, userID string) (*storage.ActivityMetrics, error) {
	query := `SELECT ` + metricsColumns + ` FROM activity_metrics WHERE user_id = $1`

	m, err := scanMetrics(p.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (p *metricsStorage) ListActivityMetrics(ctx context.Context, userIDs []string) ([]storage.ActivityMetrics, error) {
	query := `
		SELECT ` + metricsColumns + `
		FROM activity_metrics
		WHERE cardinality($1::text[]) = 0 OR user_id = ANY($1)
		ORDER BY user_id ASC
	`

	if userIDs == nil {
		userIDs = []string{}
	}

	rows, err := p.pool.Query(ctx, query, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []storage.ActivityMetrics
	for rows.Next() {
		m, err := scanMetrics(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}

	return results, rows.Err()
}

func (p *metricsStorage) UpsertActivityMetrics(ctx context.Context, m *storage.ActivityMetrics) error {
	query := `
		INSERT INTO activity_metrics (` + metricsColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id)
		DO UPDATE SET
			activity_level_score = EXCLUDED.activity_level_score,
			preferred_activity_types = EXCLUDED.preferred_activity_types,
			preferred_workout_times = EXCLUDED.preferred_workout_times,
			fitness_level = EXCLUDED.fitness_level,
			last_calculated_at = EXCLUDED.last_calculated_at
	`

	types := m.PreferredActivityTypes
	if types == nil {
		types = []string{}
	}
	hours := m.PreferredWorkoutTimes
	if hours == nil {
		hours = []int{}
	}

	_, err := p.pool.Exec(ctx, query, m.UserID, m.ActivityLevelScore, types, hours, string(m.FitnessLevel), m.LastCalculatedAt)
	return err
}

func (p *metricsStorage) DeleteActivityMetrics(ctx context.Context, userID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM activity_metrics WHERE user_id = $1`, userID)
	return err
}
