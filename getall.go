package nearcache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/nearcache/future"
	"github.com/unkn0wn-root/nearcache/invocation"
	"github.com/unkn0wn-root/nearcache/routing"
)

// fetchKey tracks one reserved to-fetch key through a batched read.
type fetchKey[K comparable] struct {
	key    K
	blob   []byte
	sk     string
	ticket int64
}

func (cl *client[K, V]) GetAll(ctx context.Context, keys []K) (map[K]V, error) {
	return cl.GetAllAsync(ctx, keys).Await(ctx)
}

// GetAllAsync serves what it can from the near cache, reserves the rest,
// fetches them in one batched invocation and commits each returned entry
// against its reservation. Reservations for keys the response omitted
// (absent or expired server-side) are released so they cannot block
// future caching of those keys.
func (cl *client[K, V]) GetAllAsync(ctx context.Context, keys []K) *future.Future[map[K]V] {
	start := time.Now()
	if cl.closed.Load() {
		return future.Failed[map[K]V](ErrClosed)
	}

	out := make(map[K]V, len(keys))
	if len(keys) == 0 {
		return future.Completed(out)
	}

	// Encode everything first: validation failures must precede any
	// reservation or remote call.
	encoded := make([]fetchKey[K], 0, len(keys))
	dedup := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		kb, sk, err := cl.encodeKey(k)
		if err != nil {
			return future.Failed[map[K]V](err)
		}
		if _, dup := dedup[sk]; dup {
			continue
		}
		dedup[sk] = struct{}{}
		encoded = append(encoded, fetchKey[K]{key: k, blob: kb, sk: sk})
	}

	var fetch []fetchKey[K]
	for _, fk := range encoded {
		payload, absent, ok := cl.near.Lookup(ctx, fk.sk)
		if ok {
			cl.stats.Hit()
			if absent {
				continue // cached "no value": key simply missing from result
			}
			if v, derr := cl.valc.Decode(payload); derr == nil {
				out[fk.key] = v
				continue
			}
			cl.near.Invalidate(ctx, fk.sk)
			cl.hooks.SelfHeal(fk.sk, "value_decode")
		}
		cl.stats.Miss()
		fk.ticket = cl.near.Reserve(fk.sk)
		fetch = append(fetch, fk)
	}

	if len(fetch) == 0 {
		return future.Completed(out)
	}

	blobs := make([][]byte, len(fetch))
	pending := make(map[string]fetchKey[K], len(fetch))
	for i, fk := range fetch {
		blobs[i] = fk.blob
		pending[string(fk.blob)] = fk
	}

	req := &invocation.Request{Op: invocation.OpGetAll, Name: cl.name, Keys: blobs}
	f := cl.inv.Invoke(ctx, req, routing.PartitionAny)
	return future.Then(f, func(resp *invocation.Response, err error) (map[K]V, error) {
		// whatever happens, no reservation may dangle
		defer func() {
			for _, fk := range pending {
				cl.near.Release(fk.sk, fk.ticket)
			}
		}()

		if err != nil {
			for _, fk := range pending {
				cl.near.Invalidate(ctx, fk.sk)
			}
			pending = map[string]fetchKey[K]{}
			return nil, err
		}

		for _, e := range resp.Entries {
			fk, ok := pending[string(e.Key)]
			if !ok {
				continue // unsolicited entry
			}
			delete(pending, string(e.Key))

			cl.near.Commit(ctx, fk.sk, e.Value, false, fk.ticket)
			v, derr := cl.valc.Decode(e.Value)
			if derr != nil {
				cl.near.Invalidate(ctx, fk.sk)
				return nil, derr
			}
			out[fk.key] = v
		}

		cl.stats.AddGetLatency(time.Since(start))
		return out, nil
	})
}
