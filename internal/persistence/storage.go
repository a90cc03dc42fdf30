package persistence

import (
	"context"
	"time"

	"github.com/systmms/secretgov/pkg/secret"
)

// SnapshotVersion is the current on-disk snapshot format.
const SnapshotVersion = 1

// Storage is the durable store for secret metadata and the access log.
// It never receives raw secret values.
type Storage interface {
	// Load returns the last saved snapshot, or nil when nothing was saved yet.
	Load(ctx context.Context) (*Snapshot, error)

	// Save replaces the stored state with snap.
	Save(ctx context.Context, snap *Snapshot) error

	// Close releases any resources used by the storage.
	Close() error
}

// Snapshot is the persisted view of the store at one point in its
// mutation sequence.
type Snapshot struct {
	Version    int                     `json:"version"`
	Seq        uint64                  `json:"seq"`
	SavedAt    time.Time               `json:"saved_at"`
	Secrets    []secret.Record         `json:"secrets"`
	AccessLogs []secret.AccessLogEntry `json:"access_logs"`
}

// NopStorage keeps nothing. It backs stores configured without persistence.
type NopStorage struct{}

// Load implements Storage.
func (NopStorage) Load(ctx context.Context) (*Snapshot, error) { return nil, nil }

// Save implements Storage.
func (NopStorage) Save(ctx context.Context, snap *Snapshot) error { return nil }

// Close implements Storage.
func (NopStorage) Close() error { return nil }
