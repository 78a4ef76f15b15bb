package nearcache

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/unkn0wn-root/nearcache/internal/wire"
	"github.com/unkn0wn-root/nearcache/store"
)

// NotReserved is the sentinel ticket meaning "no reservation was taken";
// callers holding it must not attempt to commit.
const NotReserved int64 = -1

const (
	slotShardCount = 64 // power of two

	defaultSweep     = time.Hour
	defaultRetention = 24 * time.Hour
)

type slotState uint8

const (
	slotReserved slotState = iota + 1
	slotCached
	slotInvalid
)

// slotRec is the per-key coherence record. ticket is monotonic for the
// lifetime of the record; state says whether the byte store may hold a
// valid frame for the key. An absent record reads as EMPTY (ticket 0).
type slotRec struct {
	ticket  int64
	state   slotState
	touched time.Time
}

type slotShard struct {
	mu sync.Mutex
	m  map[string]*slotRec
}

// nearStore drives the reserve/commit/invalidate protocol over a sharded
// ticket map plus a byte store. Tickets and slot state live in the shard
// under its mutex; value bytes live in the store framed with the ticket
// they were committed under. The store write happens outside the shard
// lock, so a frame can momentarily carry a superseded ticket - the read
// path re-validates the embedded ticket and self-heals on mismatch.
//
// Engine operations never fail: store I/O errors degrade to a miss.
type nearStore struct {
	name    string
	enabled bool
	store   store.Store
	log     Logger
	hooks   Hooks

	shards [slotShardCount]slotShard

	retention time.Duration
	ticker    *time.Ticker
	stopCh    chan struct{}
	closeWg   sync.WaitGroup
	closeOnce sync.Once
}

func newNearStore(name string, st store.Store, enabled bool, sweep, retention time.Duration, log Logger, hooks Hooks) *nearStore {
	n := &nearStore{
		name:      name,
		enabled:   enabled,
		store:     st,
		log:       log,
		hooks:     hooks,
		retention: retention,
	}
	for i := range n.shards {
		n.shards[i].m = make(map[string]*slotRec)
	}
	if enabled && sweep > 0 && retention > 0 {
		n.ticker = time.NewTicker(sweep)
		n.stopCh = make(chan struct{})
		n.closeWg.Add(1)
		go n.sweepLoop()
	}
	return n
}

func (n *nearStore) storageKey(keyBlob []byte) string {
	return "near:" + n.name + ":" + string(keyBlob)
}

func (n *nearStore) shard(sk string) *slotShard {
	return &n.shards[xxhash.Sum64String(sk)&(slotShardCount-1)]
}

// Lookup returns the cached payload for sk, with absent=true when the
// slot holds a committed "no value" marker. ok=false is a miss: no slot,
// reserved or invalid slot, store miss, or a frame that failed ticket
// validation (deleted on the way out).
func (n *nearStore) Lookup(ctx context.Context, sk string) (payload []byte, absent bool, ok bool) {
	if !n.enabled {
		return nil, false, false
	}

	sh := n.shard(sk)
	sh.mu.Lock()
	rec, exists := sh.m[sk]
	var ticket int64
	if exists {
		ticket = rec.ticket
	}
	cached := exists && rec.state == slotCached
	sh.mu.Unlock()

	if !cached {
		return nil, false, false
	}

	raw, found, err := n.store.Get(ctx, sk)
	if err != nil || !found {
		return nil, false, false
	}

	frameTicket, absent, payload, err := wire.Decode(raw)
	if err != nil {
		_ = n.store.Del(ctx, sk)
		n.hooks.SelfHeal(sk, "corrupt")
		return nil, false, false
	}
	if frameTicket != ticket {
		// frame written under a superseded ticket
		_ = n.store.Del(ctx, sk)
		n.hooks.SelfHeal(sk, "ticket_mismatch")
		return nil, false, false
	}
	return payload, absent, true
}

// Reserve takes a fresh ticket for sk ahead of a remote fetch. Returns
// NotReserved when the near cache is disabled; callers must then skip
// the commit entirely.
func (n *nearStore) Reserve(sk string) int64 {
	if !n.enabled {
		return NotReserved
	}

	sh := n.shard(sk)
	sh.mu.Lock()
	rec := sh.m[sk]
	if rec == nil {
		rec = &slotRec{}
		sh.m[sk] = rec
	}
	rec.ticket++
	rec.state = slotReserved
	rec.touched = time.Now()
	t := rec.ticket
	sh.mu.Unlock()
	return t
}

// Commit admits a remotely-fetched value only while ticket is still the
// slot's live ticket. A superseded ticket means a newer reservation,
// invalidation or own write happened while the fetch was in flight; the
// commit is dropped silently - that is the protocol, not a fault.
func (n *nearStore) Commit(ctx context.Context, sk string, payload []byte, absent bool, ticket int64) bool {
	if !n.enabled || ticket == NotReserved {
		return false
	}

	sh := n.shard(sk)
	sh.mu.Lock()
	rec := sh.m[sk]
	if rec == nil || rec.ticket != ticket {
		sh.mu.Unlock()
		n.hooks.StaleCommitDropped(sk)
		n.log.Debug("stale commit dropped", Fields{"key": sk, "ticket": ticket})
		return false
	}
	rec.state = slotCached
	rec.touched = time.Now()
	sh.mu.Unlock()

	ok, err := n.store.Set(ctx, sk, wire.Encode(ticket, absent, payload))
	if err != nil {
		// store outcome unknown; force a miss rather than risk a torn frame
		n.Invalidate(ctx, sk)
		n.log.Warn("store set failed after commit", Fields{"key": sk, "err": err})
		return false
	}
	if !ok {
		n.hooks.StoreSetRejected(sk)
	}
	return true
}

// Invalidate unconditionally advances the ticket and clears any cached
// value, forcing subsequent lookups to miss. Used whenever a remote
// outcome is unknown or known to supersede the slot.
func (n *nearStore) Invalidate(ctx context.Context, sk string) {
	if !n.enabled {
		return
	}

	sh := n.shard(sk)
	sh.mu.Lock()
	rec := sh.m[sk]
	if rec == nil {
		rec = &slotRec{}
		sh.m[sk] = rec
	}
	rec.ticket++
	rec.state = slotInvalid
	rec.touched = time.Now()
	sh.mu.Unlock()

	_ = n.store.Del(ctx, sk)
}

// Release advances past a reservation that turned out to be unnecessary
// (e.g. a batched fetch did not return the key). A no-op if the ticket
// was already superseded. Nothing was written under the ticket, so the
// store is untouched.
func (n *nearStore) Release(sk string, ticket int64) {
	if !n.enabled || ticket == NotReserved {
		return
	}

	sh := n.shard(sk)
	sh.mu.Lock()
	if rec := sh.m[sk]; rec != nil && rec.ticket == ticket {
		rec.ticket++
		rec.state = slotInvalid
		rec.touched = time.Now()
	}
	sh.mu.Unlock()
}

// Publish admits a confirmed own write: bump the ticket and cache the
// value under the new one, in one shard-lock critical section. Any
// in-flight read reservation is thereby superseded; its later commit
// carries a stale ticket and gets dropped.
func (n *nearStore) Publish(ctx context.Context, sk string, payload []byte, absent bool) {
	if !n.enabled {
		return
	}

	sh := n.shard(sk)
	sh.mu.Lock()
	rec := sh.m[sk]
	if rec == nil {
		rec = &slotRec{}
		sh.m[sk] = rec
	}
	rec.ticket++
	rec.state = slotCached
	rec.touched = time.Now()
	t := rec.ticket
	sh.mu.Unlock()

	ok, err := n.store.Set(ctx, sk, wire.Encode(t, absent, payload))
	if err != nil {
		n.Invalidate(ctx, sk)
		n.log.Warn("store set failed after publish", Fields{"key": sk, "err": err})
		return
	}
	if !ok {
		n.hooks.StoreSetRejected(sk)
	}
}

func (n *nearStore) Close(ctx context.Context) error {
	n.closeOnce.Do(func() {
		if n.stopCh != nil {
			close(n.stopCh)
			n.closeWg.Wait()
			n.ticker.Stop()
		}
	})
	if n.store != nil {
		return n.store.Close(ctx)
	}
	return nil
}

func (n *nearStore) sweepLoop() {
	defer n.closeWg.Done()
	for {
		select {
		case <-n.ticker.C:
			n.sweep(n.retention)
		case <-n.stopCh:
			return
		}
	}
}

// sweep prunes slot records idle longer than retention, deleting the
// stored frame along with the record so a future record (restarting at
// ticket 1) can never validate against leftover bytes. Reserved slots
// are never pruned; their fetch is still in flight.
func (n *nearStore) sweep(retention time.Duration) {
	cutoff := time.Now().Add(-retention)
	removed := 0

	for i := range n.shards {
		sh := &n.shards[i]
		var expired []string

		sh.mu.Lock()
		for k, rec := range sh.m {
			if rec.state != slotReserved && rec.touched.Before(cutoff) {
				delete(sh.m, k)
				expired = append(expired, k)
			}
		}
		sh.mu.Unlock()

		for _, k := range expired {
			_ = n.store.Del(context.Background(), k)
		}
		removed += len(expired)
	}

	if removed > 0 {
		n.log.Debug("slot sweep removed idle entries", Fields{"removed": removed})
	}
}
