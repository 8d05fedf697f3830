package risk

import (
	"context"
	"sync"
)

// MemoryStateStore keeps governor state in process memory. Used when no
// Redis backend is configured and in tests. State does not survive a
// restart.
type MemoryStateStore struct {
	mu    sync.Mutex
	state *State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

func (s *MemoryStateStore) Save(_ context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.state = &cp
	return nil
}

func (s *MemoryStateStore) Load(_ context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, nil
	}
	cp := *s.state
	return &cp, nil
}
