package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fdg312/trailmate/internal/storage"
)

type credentialsStore struct {
	mu          sync.RWMutex
	configs     map[string]storage.CredentialConfig
	assignments map[string]storage.CredentialAssignment
}

func newCredentialsStore() *credentialsStore {
	return &credentialsStore{
		configs:     make(map[string]storage.CredentialConfig),
		assignments: make(map[string]storage.CredentialAssignment),
	}
}

func (s *credentialsStore) GetCredentialConfig(ctx context.Context, id string) (*storage.CredentialConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &cfg, nil
}

func (s *credentialsStore) ListCredentialConfigs(ctx context.Context) ([]storage.CredentialConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.CredentialConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *credentialsStore) UpsertCredentialConfig(ctx context.Context, cfg *storage.CredentialConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.configs[cfg.ID]; ok {
		cfg.CreatedAt = existing.CreatedAt
	} else if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now()
	}
	s.configs[cfg.ID] = *cfg
	return nil
}

func (s *credentialsStore) GetCredentialAssignment(ctx context.Context, userID string) (*storage.CredentialAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &a, nil
}

func (s *credentialsStore) AssignCredential(ctx context.Context, userID, credentialID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.configs[credentialID]; !ok {
		return storage.ErrNotFound
	}
	s.assignments[userID] = storage.CredentialAssignment{
		UserID:       userID,
		CredentialID: credentialID,
		AssignedAt:   time.Now(),
	}
	return nil
}
