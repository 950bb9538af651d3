package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RawBatchKey is where one provider batch for one user is archived.
func RawBatchKey(provider, userID string, at time.Time) string {
	return fmt.Sprintf("raw/%s/%s/%d.json", provider, userID, at.Unix())
}

// Archiver writes raw provider batches before they are normalized.
type Archiver struct {
	store Store
}

// NewArchiver returns nil for a nil store, which disables archiving.
func NewArchiver(store Store) *Archiver {
	if store == nil {
		return nil
	}
	return &Archiver{store: store}
}

// ArchiveRawBatch stores raws as one JSON array and returns the object key.
func (a *Archiver) ArchiveRawBatch(ctx context.Context, provider, userID string, at time.Time, raws []json.RawMessage) (string, error) {
	if raws == nil {
		raws = []json.RawMessage{}
	}
	data, err := json.Marshal(raws)
	if err != nil {
		return "", fmt.Errorf("encode raw batch: %w", err)
	}

	key := RawBatchKey(provider, userID, at)
	if _, err := a.store.PutObject(ctx, key, data, "application/json"); err != nil {
		return "", err
	}
	return key, nil
}
