package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fdg312/trailmate/internal/quota"
)

type quotaEntry struct {
	mu    sync.Mutex
	state quota.State
}

// quotaStore serializes read-modify-write per credential; different credentials never contend.
type quotaStore struct {
	mu      sync.Mutex
	entries map[string]*quotaEntry
}

func newQuotaStore() *quotaStore {
	return &quotaStore{entries: make(map[string]*quotaEntry)}
}

func (s *quotaStore) entry(credentialID string) *quotaEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[credentialID]
	if !ok {
		e = &quotaEntry{state: quota.State{CredentialID: credentialID}}
		s.entries[credentialID] = e
	}
	return e
}

func (s *quotaStore) ReserveQuota(ctx context.Context, credentialID string, limits quota.Limits, now time.Time) (quota.Decision, quota.State, error) {
	if err := ctx.Err(); err != nil {
		return quota.Decision{}, quota.State{}, err
	}

	e := s.entry(credentialID)
	e.mu.Lock()
	defer e.mu.Unlock()

	next, decision := quota.Admit(e.state, limits, now)
	e.state = next
	return decision, next, nil
}

func (s *quotaStore) ThrottleQuota(ctx context.Context, credentialID string, limits quota.Limits, until, now time.Time) (quota.State, error) {
	if err := ctx.Err(); err != nil {
		return quota.State{}, err
	}

	e := s.entry(credentialID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = quota.Throttle(e.state, limits, until, now)
	return e.state, nil
}

func (s *quotaStore) GetQuotaState(ctx context.Context, credentialID string) (quota.State, error) {
	e := s.entry(credentialID)
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state, nil
}
