package infra

import (
	"sync"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// MemoryKV implements domain.KVStore in memory. Used by `simulate` and tests.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]string
	commits int
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]string)}
}

// Load returns a copy of every entry.
func (s *MemoryKV) Load() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}

// Commit applies set and del.
func (s *MemoryKV) Commit(set map[string]string, del []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range set {
		s.entries[k] = v
	}
	for _, k := range del {
		delete(s.entries, k)
	}
	s.commits++
	return nil
}

// Commits returns how many commits have been applied.
func (s *MemoryKV) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Location implements domain.KVStore.
func (s *MemoryKV) Location() string {
	return "memory"
}

// Close implements domain.KVStore.
func (s *MemoryKV) Close() error {
	return nil
}

var _ domain.KVStore = (*MemoryKV)(nil)
