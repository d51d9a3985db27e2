package grid

import (
	"sort"
	"sync"
)

// Store keeps at most one grid per pair.
type Store interface {
	Get(pair string) (*PairGrid, bool)
	Put(g *PairGrid)
	Pairs() []string
}

// MemoryStore is a process-local Store. Each engine owns its own instance.
type MemoryStore struct {
	mu    sync.RWMutex
	grids map[string]*PairGrid
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{grids: make(map[string]*PairGrid)}
}

func (s *MemoryStore) Get(pair string) (*PairGrid, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grids[pair]
	return g, ok
}

// Put replaces the grid stored for g.Pair.
func (s *MemoryStore) Put(g *PairGrid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grids[g.Pair] = g
}

// Pairs returns the stored pair identifiers in sorted order.
func (s *MemoryStore) Pairs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.grids))
	for p := range s.grids {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
