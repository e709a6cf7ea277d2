package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Memory is an in-process Store for tests and local dry runs.
type Memory struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) TryAcquire(ctx context.Context, key, initialStatus string) Acquisition {
	m.mu.Lock()
	defer m.mu.Unlock()

	if holder, ok := m.records[key]; ok {
		return Acquisition{Holder: &holder}
	}
	m.records[key] = Record{Key: key, Status: initialStatus, Version: newVersion()}
	return Acquisition{Acquired: true}
}

func (m *Memory) Read(ctx context.Context, key string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	return rec, ok, nil
}

func (m *Memory) UpdateStatus(ctx context.Context, key, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return fmt.Errorf("update %s: %w", key, ErrNotLocked)
	}
	rec.Status = status
	rec.Version = newVersion()
	m.records[key] = rec
	return nil
}

func (m *Memory) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[key]; !ok {
		slog.WarnContext(ctx, "released lock was not held", "processing_key", key)
		return nil
	}
	delete(m.records, key)
	return nil
}
