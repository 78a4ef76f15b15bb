// Package store defines the byte store backing the near cache.
//
// Implementations MUST be byte-for-byte transparent: Get must return
// exactly the []byte previously passed to Set for the same key — no
// prepended metadata, no transcoding, no mutation. The coherence layer
// validates a ticket embedded in the stored frame, so any transform that
// alters bytes will be treated as corruption and deleted.
//
// Stores own eviction. Evicting an entry is always safe: the coherence
// protocol treats an evicted slot as a miss, never as stale data.
package store

import "context"

// Store is a minimal concurrent byte store.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value. Returns ok=false when the store rejected the
	// write under pressure; the entry is then simply not cached.
	Set(ctx context.Context, key string, value []byte) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
