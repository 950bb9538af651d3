// Package credentials maps application users to the provider credential their calls are billed to.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fdg312/trailmate/internal/logging"
	"github.com/fdg312/trailmate/internal/storage"
)

// ErrUnknownCredential is returned by Lookup for ids that are neither stored nor the default.
var ErrUnknownCredential = errors.New("unknown credential")

// Source tells whether a resolution used the user's own assignment.
type Source string

const (
	SourceAssigned Source = "assigned"
	SourceFallback Source = "fallback"
)

// Fallback reasons.
const (
	ReasonNoAssignment   = "no_assignment"
	ReasonConfigMissing  = "config_missing"
	ReasonConfigInactive = "config_inactive"
	ReasonLookupFailed   = "lookup_failed"
)

// Resolution is the credential to use for a user and how it was chosen.
type Resolution struct {
	Config storage.CredentialConfig
	Source Source
	Reason string // empty for SourceAssigned
}

func (r Resolution) IsFallback() bool {
	return r.Source == SourceFallback
}

// Resolver resolves users to credentials and caches the result per user.
// Resolve never fails: anything unresolvable falls back to the shared default credential.
type Resolver struct {
	store  storage.CredentialsStorage
	def    storage.CredentialConfig
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]Resolution
	// gen is bumped on every invalidation. A lookup that started before one is not cached.
	gen uint64
}

func NewResolver(store storage.CredentialsStorage, def storage.CredentialConfig, logger *zap.Logger) *Resolver {
	def.IsActive = true
	return &Resolver{
		store:  store,
		def:    def,
		logger: logging.OrNop(logger),
		cache:  make(map[string]Resolution),
	}
}

// Default returns the shared fallback credential.
func (r *Resolver) Default() storage.CredentialConfig {
	return r.def
}

func (r *Resolver) Resolve(ctx context.Context, userID string) Resolution {
	r.mu.RLock()
	cached, ok := r.cache[userID]
	gen := r.gen
	r.mu.RUnlock()
	if ok {
		return cached
	}

	res, cacheable := r.resolve(ctx, userID)
	if res.IsFallback() {
		recordFallback(res.Reason)
		r.logger.Warn("credential_fallback",
			zap.String("user_id", userID),
			zap.String("reason", res.Reason),
			zap.String("credential_id", res.Config.ID),
		)
	}

	if cacheable {
		r.mu.Lock()
		if r.gen == gen {
			r.cache[userID] = res
		}
		r.mu.Unlock()
	}
	return res
}

// resolve reports whether the result may be cached; transient lookup failures are not.
func (r *Resolver) resolve(ctx context.Context, userID string) (Resolution, bool) {
	assignment, err := r.store.GetCredentialAssignment(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return r.fallback(ReasonNoAssignment), true
	}
	if err != nil {
		r.logger.Error("credential_assignment_lookup_failed", zap.String("user_id", userID), zap.Error(err))
		return r.fallback(ReasonLookupFailed), false
	}

	if assignment.CredentialID == r.def.ID {
		return Resolution{Config: r.def, Source: SourceAssigned}, true
	}

	cfg, err := r.store.GetCredentialConfig(ctx, assignment.CredentialID)
	if errors.Is(err, storage.ErrNotFound) {
		return r.fallback(ReasonConfigMissing), true
	}
	if err != nil {
		r.logger.Error("credential_config_lookup_failed", zap.String("credential_id", assignment.CredentialID), zap.Error(err))
		return r.fallback(ReasonLookupFailed), false
	}
	if !cfg.IsActive {
		return r.fallback(ReasonConfigInactive), true
	}

	return Resolution{Config: *cfg, Source: SourceAssigned}, true
}

func (r *Resolver) fallback(reason string) Resolution {
	return Resolution{Config: r.def, Source: SourceFallback, Reason: reason}
}

// Lookup returns a credential by id. Inactive stored configs are still returned.
func (r *Resolver) Lookup(ctx context.Context, credentialID string) (storage.CredentialConfig, error) {
	if credentialID == r.def.ID {
		return r.def, nil
	}
	cfg, err := r.store.GetCredentialConfig(ctx, credentialID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.CredentialConfig{}, fmt.Errorf("%w: %s", ErrUnknownCredential, credentialID)
	}
	if err != nil {
		return storage.CredentialConfig{}, err
	}
	return *cfg, nil
}

// Assign stores a user's assignment and drops their cached resolution.
func (r *Resolver) Assign(ctx context.Context, userID, credentialID string) error {
	if credentialID == r.def.ID {
		if err := r.ensureDefaultStored(ctx); err != nil {
			return err
		}
	}
	if err := r.store.AssignCredential(ctx, userID, credentialID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownCredential, credentialID)
		}
		return err
	}

	r.ClearCache(userID)
	return nil
}

// ensureDefaultStored makes the default credential assignable in stores that enforce references.
func (r *Resolver) ensureDefaultStored(ctx context.Context) error {
	if _, err := r.store.GetCredentialConfig(ctx, r.def.ID); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	def := r.def
	return r.store.UpsertCredentialConfig(ctx, &def)
}

func (r *Resolver) ClearCache(userID string) {
	r.mu.Lock()
	delete(r.cache, userID)
	r.gen++
	r.mu.Unlock()
}

func (r *Resolver) ClearAll() {
	r.mu.Lock()
	r.cache = make(map[string]Resolution)
	r.gen++
	r.mu.Unlock()
}
