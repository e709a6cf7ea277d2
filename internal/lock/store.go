// Package lock provides the distributed per-key lock that guarantees a
// processing key is handled by at most one run. Acquisition is the creation
// of a record; a second creation attempt for the same key is denied.
package lock

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotLocked is returned when a status update targets a key without a record.
	ErrNotLocked = errors.New("key is not locked")
	// ErrVersionConflict is returned when the record changed between read and write.
	ErrVersionConflict = errors.New("lock record version conflict")
)

// Record is the persisted lock state for one processing key.
type Record struct {
	Key     string
	Status  string
	Version string
}

// Acquisition is the result of a TryAcquire call. When Acquired is false,
// Holder carries the current record if it could be read and Cause carries the
// storage error if the attempt failed rather than lost the race.
type Acquisition struct {
	Acquired bool
	Holder   *Record
	Cause    error
}

// Store is the lock store contract shared by the Postgres and in-memory
// implementations.
type Store interface {
	TryAcquire(ctx context.Context, key, initialStatus string) Acquisition
	Read(ctx context.Context, key string) (Record, bool, error)
	UpdateStatus(ctx context.Context, key, status string) error
	Release(ctx context.Context, key string) error
}

func newVersion() string {
	return uuid.Must(uuid.NewV7()).String()
}
