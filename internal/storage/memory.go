package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps state for the lifetime of the process.
type MemoryStore struct {
	mu    sync.Mutex
	state map[string]bool
}

func NewMemory() *MemoryStore { return &MemoryStore{state: map[string]bool{}} }

func (s *MemoryStore) Driver() string { return "memory" }

func (s *MemoryStore) Load(ctx context.Context) (map[string]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneState(s.state), nil
}

func (s *MemoryStore) Save(ctx context.Context, state map[string]bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = cloneState(state)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
