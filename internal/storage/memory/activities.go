package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fdg312/trailmate/internal/storage"
)

type activityKey struct {
	userID             string
	provider           string
	providerActivityID string
}

type activitiesStore struct {
	mu      sync.RWMutex
	records map[activityKey]storage.ActivityRecord
}

func newActivitiesStore() *activitiesStore {
	return &activitiesStore{records: make(map[activityKey]storage.ActivityRecord)}
}

func (s *activitiesStore) UpsertActivityRecords(ctx context.Context, records []storage.ActivityRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, rec := range records {
		key := activityKey{rec.UserID, rec.Provider, rec.ProviderActivityID}
		if existing, ok := s.records[key]; ok {
			rec.ID = existing.ID
			rec.CreatedAt = existing.CreatedAt
		} else {
			if rec.ID == uuid.Nil {
				rec.ID = uuid.New()
			}
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		s.records[key] = rec
	}

	return len(records), nil
}

func (s *activitiesStore) ListActivityRecords(ctx context.Context, userID string, providers []string) ([]storage.ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := make(map[string]bool, len(providers))
	for _, p := range providers {
		allowed[p] = true
	}

	var out []storage.ActivityRecord
	for key, rec := range s.records {
		if key.userID != userID {
			continue
		}
		if len(allowed) > 0 && !allowed[key.provider] {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ProviderActivityID < out[j].ProviderActivityID
	})

	return out, nil
}
