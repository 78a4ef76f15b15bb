// Package lru adapts hashicorp/golang-lru's expirable LRU as a bounded
// near-cache store with per-store TTL.
package lru

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/unkn0wn-root/nearcache/store"
)

type Store struct {
	c *expirable.LRU[string, []byte]
}

var _ store.Store = (*Store)(nil)

type Config struct {
	// MaxEntries bounds the cache; the least recently used entry is
	// evicted when full.
	MaxEntries int
	// TTL expires entries after a fixed duration; 0 disables expiry.
	TTL time.Duration
}

func New(cfg Config) (*Store, error) {
	if cfg.MaxEntries <= 0 {
		return nil, errors.New("lru store: MaxEntries must be positive")
	}
	return &Store{c: expirable.NewLRU[string, []byte](cfg.MaxEntries, nil, cfg.TTL)}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := s.c.Get(key)
	return b, ok, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) (bool, error) {
	s.c.Add(key, value)
	return true, nil
}

func (s *Store) Del(_ context.Context, key string) error {
	s.c.Remove(key)
	return nil
}

func (s *Store) Close(_ context.Context) error {
	s.c.Purge()
	return nil
}
