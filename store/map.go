package store

import (
	"context"
	"sync"
)

// Map is an unbounded in-process Store guarded by a RWMutex. It is the
// default backend when none is configured; production deployments with
// large key spaces should prefer a bounded backend (ristretto, bigcache,
// lru) so eviction keeps memory in check.
type Map struct {
	mu sync.RWMutex
	m  map[string][]byte
}

var _ Store = (*Map)(nil)

func NewMap() *Map {
	return &Map{m: make(map[string][]byte)}
}

func (s *Map) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	return v, ok, nil
}

func (s *Map) Set(_ context.Context, key string, value []byte) (bool, error) {
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
	return true, nil
}

func (s *Map) Del(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

func (s *Map) Close(_ context.Context) error {
	s.mu.Lock()
	s.m = make(map[string][]byte)
	s.mu.Unlock()
	return nil
}

// Len reports the current entry count. Intended for tests and metrics.
func (s *Map) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
