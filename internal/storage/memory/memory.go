package memory

import (
	"github.com/fdg312/trailmate/internal/storage"
)

// MemoryStorage is the in-memory Storage used for local runs and tests.
// Each concern has its own lock; quota state is additionally locked per credential.
type MemoryStorage struct {
	*activitiesStore
	*metricsStore
	*connectionsStore
	*credentialsStore
	*quotaStore
}

var _ storage.Storage = (*MemoryStorage)(nil)

// New creates an empty MemoryStorage.
func New() *MemoryStorage {
	return &MemoryStorage{
		activitiesStore:  newActivitiesStore(),
		metricsStore:     newMetricsStore(),
		connectionsStore: newConnectionsStore(),
		credentialsStore: newCredentialsStore(),
		quotaStore:       newQuotaStore(),
	}
}

// Close is a no-op.
func (m *MemoryStorage) Close() error {
	return nil
}
