package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fdg312/trailmate/internal/storage"
)

type connectionKey struct {
	userID   string
	provider string
}

type connectionsStore struct {
	mu          sync.RWMutex
	connections map[connectionKey]storage.ProviderConnection
}

func newConnectionsStore() *connectionsStore {
	return &connectionsStore{connections: make(map[connectionKey]storage.ProviderConnection)}
}

// UpsertConnection (re)connects a provider. Reconnecting clears DisconnectedAt.
func (s *connectionsStore) UpsertConnection(ctx context.Context, conn *storage.ProviderConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := connectionKey{conn.UserID, conn.Provider}
	if existing, ok := s.connections[key]; ok {
		conn.ID = existing.ID
		if conn.LastSyncedAt == nil {
			conn.LastSyncedAt = existing.LastSyncedAt
		}
	}
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = time.Now()
	}
	conn.DisconnectedAt = nil

	s.connections[key] = *conn
	return nil
}

func (s *connectionsStore) GetConnection(ctx context.Context, userID, provider string) (*storage.ProviderConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.connections[connectionKey{userID, provider}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &conn, nil
}

func (s *connectionsStore) ListConnections(ctx context.Context, userID string, includeDisconnected bool) ([]storage.ProviderConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.ProviderConnection
	for key, conn := range s.connections {
		if key.userID != userID {
			continue
		}
		if !includeDisconnected && !conn.Active() {
			continue
		}
		out = append(out, conn)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (s *connectionsStore) UpdateConnectionTokens(ctx context.Context, userID, provider, accessToken, refreshToken string, expiry *time.Time) error {
	return s.update(userID, provider, func(c *storage.ProviderConnection) {
		c.AccessToken = accessToken
		c.RefreshToken = refreshToken
		c.TokenExpiry = expiry
	})
}

func (s *connectionsStore) MarkConnectionSynced(ctx context.Context, userID, provider string, at time.Time) error {
	return s.update(userID, provider, func(c *storage.ProviderConnection) {
		c.LastSyncedAt = &at
		c.LastError = ""
	})
}

func (s *connectionsStore) SetConnectionError(ctx context.Context, userID, provider, message string) error {
	return s.update(userID, provider, func(c *storage.ProviderConnection) {
		c.LastError = message
	})
}

func (s *connectionsStore) DisconnectConnection(ctx context.Context, userID, provider string, at time.Time) error {
	return s.update(userID, provider, func(c *storage.ProviderConnection) {
		if c.DisconnectedAt == nil {
			c.DisconnectedAt = &at
		}
	})
}

func (s *connectionsStore) update(userID, provider string, fn func(*storage.ProviderConnection)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := connectionKey{userID, provider}
	conn, ok := s.connections[key]
	if !ok {
		return storage.ErrNotFound
	}
	fn(&conn)
	s.connections[key] = conn
	return nil
}
