package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/codesearch-harvester/internal/harvest"
)

// CheckpointStore keeps the crawl state in memory.
type CheckpointStore struct {
	mu    sync.Mutex
	state harvest.CrawlState
	saved bool
	saves []harvest.CrawlState

	// FailSaves, when set, is returned by Save.
	FailSaves error
}

// NewCheckpointStore creates an empty checkpoint.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{}
}

// Load returns the last saved state.
func (s *CheckpointStore) Load(context.Context) (harvest.CrawlState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.saved, nil
}

// Save records state.
func (s *CheckpointStore) Save(_ context.Context, state harvest.CrawlState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaves != nil {
		return s.FailSaves
	}
	s.state = state
	s.saved = true
	s.saves = append(s.saves, state)
	return nil
}

// History returns every saved state in order.
func (s *CheckpointStore) History() []harvest.CrawlState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]harvest.CrawlState(nil), s.saves...)
}
