// Package store provides settings and command-history persistence. Every
// store keeps settings as opaque blobs keyed by name; callers own the format.
package store

import (
	"context"
	"sync"

	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
)

// Compile-time interface checks.
var (
	_ domain.SettingsStore = (*MemoryStore)(nil)
	_ domain.HistoryStore  = (*MemoryStore)(nil)
)

// MemoryStore keeps everything in process memory. Safe for concurrent access.
type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	records []domain.CommandRecord
	log     *logger.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(log *logger.Logger) *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
		log:   log,
	}
}

// Save stores a copy of blob under key, replacing any previous value.
func (s *MemoryStore) Save(ctx context.Context, key string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Debug("store: saving %s (%d bytes)", key, len(blob))
	s.blobs[key] = append([]byte(nil), blob...)
	return nil
}

// Load returns the blob stored under key.
func (s *MemoryStore) Load(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[key]
	if !ok {
		s.log.Debug("store: %s not found", key)
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

// Delete removes key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[key]; !ok {
		return domain.ErrNotFound
	}
	delete(s.blobs, key)
	s.log.Debug("store: deleted %s", key)
	return nil
}

// Append records a dispatched command.
func (s *MemoryStore) Append(ctx context.Context, rec domain.CommandRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Recent returns up to limit records, oldest first. A non-positive limit
// returns everything.
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]domain.CommandRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.records
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return append([]domain.CommandRecord(nil), recs...), nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
