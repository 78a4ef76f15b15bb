package nearcache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/nearcache/codec"
	"github.com/unkn0wn-root/nearcache/future"
	"github.com/unkn0wn-root/nearcache/invocation"
	"github.com/unkn0wn-root/nearcache/routing"
	"github.com/unkn0wn-root/nearcache/stats"
	"github.com/unkn0wn-root/nearcache/store"
)

// Value carries an optional result: Found is false when the key had no
// value. Used by operations that may return "nothing".
type Value[V any] struct {
	Value V
	Found bool
}

// Void is the result type of operations that only report completion.
type Void struct{}

// Cache is the client-side operation surface of one named remote cache.
// Every operation exists in a blocking form and a non-blocking form
// returning a future; the blocking form awaits the same async core. When
// an async future resolves, near-cache reconciliation for the operation
// has already happened.
//
// All methods are safe for concurrent use.
type Cache[K comparable, V any] interface {
	// Reads.
	Get(ctx context.Context, key K) (V, bool, error)
	GetAsync(ctx context.Context, key K) *future.Future[Value[V]]
	GetAll(ctx context.Context, keys []K) (map[K]V, error)
	GetAllAsync(ctx context.Context, keys []K) *future.Future[map[K]V]

	// Writes.
	Put(ctx context.Context, key K, value V) error
	PutAsync(ctx context.Context, key K, value V) *future.Future[Void]
	GetAndPut(ctx context.Context, key K, value V) (V, bool, error)
	GetAndPutAsync(ctx context.Context, key K, value V) *future.Future[Value[V]]
	PutIfAbsent(ctx context.Context, key K, value V) (bool, error)
	PutIfAbsentAsync(ctx context.Context, key K, value V) *future.Future[bool]
	PutAll(ctx context.Context, entries map[K]V) error
	PutAllAsync(ctx context.Context, entries map[K]V) *future.Future[Void]

	// Replacements. Replace applies only when a value exists;
	// ReplaceIfSame additionally requires the current value to match.
	Replace(ctx context.Context, key K, value V) (bool, error)
	ReplaceAsync(ctx context.Context, key K, value V) *future.Future[bool]
	ReplaceIfSame(ctx context.Context, key K, oldValue, newValue V) (bool, error)
	ReplaceIfSameAsync(ctx context.Context, key K, oldValue, newValue V) *future.Future[bool]
	GetAndReplace(ctx context.Context, key K, value V) (V, bool, error)
	GetAndReplaceAsync(ctx context.Context, key K, value V) *future.Future[Value[V]]

	// Removals.
	Remove(ctx context.Context, key K) (bool, error)
	RemoveAsync(ctx context.Context, key K) *future.Future[bool]
	RemoveIfSame(ctx context.Context, key K, oldValue V) (bool, error)
	RemoveIfSameAsync(ctx context.Context, key K, oldValue V) *future.Future[bool]
	GetAndRemove(ctx context.Context, key K) (V, bool, error)
	GetAndRemoveAsync(ctx context.Context, key K) *future.Future[Value[V]]

	// Size reports the server-side entry count; no near-cache interaction.
	Size(ctx context.Context) (int64, error)
	SizeAsync(ctx context.Context) *future.Future[int64]

	// Stats returns a snapshot of local counters. ok is false when the
	// configured recorder does not support snapshots.
	Stats() (stats.Snapshot, bool)

	Close(ctx context.Context) error
}

// Options configure one cache client. Name, Invoker, Resolver, KeyCodec
// and ValueCodec are required; the rest have sensible defaults.
type Options[K comparable, V any] struct {
	// Required.
	Name       string // remote cache name; namespaces keys
	Invoker    invocation.Invoker
	Resolver   routing.Resolver
	KeyCodec   c.Codec[K] // must encode deterministically
	ValueCodec c.Codec[V]

	// Near-cache policy.
	NearCache     bool        // keep a local copy of entries
	CacheOnUpdate bool        // admit own writes locally instead of invalidating
	Store         store.Store // nil => unbounded store.Map (when NearCache)

	// Slot record housekeeping; bounds ticket-map growth on churny
	// key spaces. Zero values pick the defaults.
	SweepInterval time.Duration // 0 => 1h
	SlotRetention time.Duration // 0 => 24h

	// Ambient.
	Statistics bool           // count hits/misses/puts and latencies
	Stats      stats.Recorder // overrides Statistics when set
	Logger     Logger         // nil => NopLogger
	Hooks      Hooks          // nil => NopHooks
}

// New builds a cache client from opts.
func New[K comparable, V any](opts Options[K, V]) (Cache[K, V], error) {
	return newClient[K, V](opts)
}
