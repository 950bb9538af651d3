package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fdg312/trailmate/internal/storage"
)

type activitiesStorage struct {
	pool *pgxpool.Pool
}

func (p *activitiesStorage) UpsertActivityRecords(ctx context.Context, records []storage.ActivityRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO activity_records (
			id, user_id, provider, provider_activity_id, activity_type, start_time, utc_offset_seconds,
			duration_seconds, distance_meters, calories, steps, heart_rate_avg, heart_rate_max,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		ON CONFLICT (user_id, provider, provider_activity_id)
		DO UPDATE SET
			activity_type = EXCLUDED.activity_type,
			start_time = EXCLUDED.start_time,
			utc_offset_seconds = EXCLUDED.utc_offset_seconds,
			duration_seconds = EXCLUDED.duration_seconds,
			distance_meters = EXCLUDED.distance_meters,
			calories = EXCLUDED.calories,
			steps = EXCLUDED.steps,
			heart_rate_avg = EXCLUDED.heart_rate_avg,
			heart_rate_max = EXCLUDED.heart_rate_max,
			updated_at = NOW()
	`

	batch := &pgx.Batch{}
	for _, r := range records {
		id := r.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		batch.Queue(query,
			id, r.UserID, r.Provider, r.ProviderActivityID, r.ActivityType, r.StartTime, r.UTCOffsetSeconds,
			r.DurationSeconds, r.DistanceMeters, r.Calories, r.Steps, r.HeartRateAvg, r.HeartRateMax,
		)
	}

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range records {
		if _, err := br.Exec(); err != nil {
			return i, fmt.Errorf("upsert activity %s/%s: %w", records[i].Provider, records[i].ProviderActivityID, err)
		}
	}

	return len(records), nil
}

func (p *activitiesStorage) ListActivityRecords(ctx context.Context, userID string, providers []string) ([]storage.ActivityRecord, error) {
	query := `
		SELECT id, user_id, provider, provider_activity_id, activity_type, start_time, utc_offset_seconds,
			duration_seconds, distance_meters, calories, steps, heart_rate_avg, heart_rate_max,
			created_at, updated_at
		FROM activity_records
		WHERE user_id = $1 AND (cardinality($2::text[]) = 0 OR provider = ANY($2))
		ORDER BY start_time DESC, provider_activity_id ASC
	`

	if providers == nil {
		providers = []string{}
	}

	rows, err := p.pool.Query(ctx, query, userID, providers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []storage.ActivityRecord
	for rows.Next() {
		var r storage.ActivityRecord
		err := rows.Scan(
			&r.ID, &r.UserID, &r.Provider, &r.ProviderActivityID, &r.ActivityType, &r.StartTime, &r.UTCOffsetSeconds,
			&r.DurationSeconds, &r.DistanceMeters, &r.Calories, &r.Steps, &r.HeartRateAvg, &r.HeartRateMax,
			&r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	return results, rows.Err()
}
