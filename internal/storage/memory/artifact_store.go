// Package memory keeps artifacts and checkpoints in-memory for development
// and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/codesearch-harvester/internal/harvest"
)

// ArtifactStore implements harvest.Repository in memory.
type ArtifactStore struct {
	mu      sync.RWMutex
	nextID  int64
	records []harvest.Record
	index   map[string]int

	// FailInserts, when set, is returned by every insert.
	FailInserts error
}

// NewArtifactStore creates an empty store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{index: make(map[string]int)}
}

// CreateSchemaIfAbsent is a no-op.
func (s *ArtifactStore) CreateSchemaIfAbsent(context.Context) error {
	return nil
}

// ExistsByIdentifier reports whether identifier has been stored.
func (s *ArtifactStore) ExistsByIdentifier(_ context.Context, identifier string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[identifier]
	return ok, nil
}

// InsertIgnoringConflict stores record unless its identifier exists.
func (s *ArtifactStore) InsertIgnoringConflict(_ context.Context, record harvest.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInserts != nil {
		return false, s.FailInserts
	}
	return s.insertLocked(record), nil
}

// InsertBatch stores all records atomically, skipping known identifiers.
func (s *ArtifactStore) InsertBatch(_ context.Context, records []harvest.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInserts != nil {
		return 0, s.FailInserts
	}
	added := 0
	for _, rec := range records {
		if s.insertLocked(rec) {
			added++
		}
	}
	return added, nil
}

// Count returns the number of stored records.
func (s *ArtifactStore) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

// Records returns a copy of the stored rows in insertion order.
func (s *ArtifactStore) Records() []harvest.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]harvest.Record(nil), s.records...)
}

// Close is a no-op.
func (s *ArtifactStore) Close() error {
	return nil
}

func (s *ArtifactStore) insertLocked(rec harvest.Record) bool {
	if _, ok := s.index[rec.Identifier]; ok {
		return false
	}
	s.nextID++
	rec.ID = s.nextID
	rec.Content = append([]byte(nil), rec.Content...)
	s.index[rec.Identifier] = len(s.records)
	s.records = append(s.records, rec)
	return true
}
