package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/fdg312/trailmate/internal/storage"
)

type metricsStore struct {
	mu      sync.RWMutex
	metrics map[string]storage.ActivityMetrics
}

func newMetricsStore() *metricsStore {
	return &metricsStore{metrics: make(map[string]storage.ActivityMetrics)}
}

func (s *metricsStore) GetActivityMetrics(ctx context.Context, userID string) (*storage.ActivityMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.metrics[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	m = cloneMetrics(m)
	return &m, nil
}

func (s *metricsStore) ListActivityMetrics(ctx context.Context, userIDs []string) ([]storage.ActivityMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.ActivityMetrics
	if len(userIDs) == 0 {
		for _, m := range s.metrics {
			out = append(out, cloneMetrics(m))
		}
	} else {
		seen := make(map[string]bool, len(userIDs))
		for _, id := range userIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			if m, ok := s.metrics[id]; ok {
				out = append(out, cloneMetrics(m))
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *metricsStore) UpsertActivityMetrics(ctx context.Context, m *storage.ActivityMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics[m.UserID] = cloneMetrics(*m)
	return nil
}

func (s *metricsStore) DeleteActivityMetrics(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.metrics, userID)
	return nil
}

// cloneMetrics copies the slices so callers cannot mutate stored state.
func cloneMetrics(m storage.ActivityMetrics) storage.ActivityMetrics {
	m.PreferredActivityTypes = append([]string(nil), m.PreferredActivityTypes...)
	m.PreferredWorkoutTimes = append([]int(nil), m.PreferredWorkoutTimes...)
	return m
}
