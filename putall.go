package nearcache

import (
	"context"
	"sort"
	"time"

	"github.com/unkn0wn-root/nearcache/future"
	"github.com/unkn0wn-root/nearcache/invocation"
)

// partitionGroup is the per-partition slice of one batched write, built
// for a single PutAll call and discarded after reconciliation.
type partitionGroup struct {
	partition int32
	entries   []invocation.Entry
	slots     []string // storage keys, parallel to entries
}

// pendingWrite correlates an in-flight per-partition request with the
// entries it carries.
type pendingWrite struct {
	group *partitionGroup
	f     *future.Future[*invocation.Response]
}

func (cl *client[K, V]) PutAll(ctx context.Context, entries map[K]V) error {
	_, err := cl.PutAllAsync(ctx, entries).Await(ctx)
	return err
}

// PutAllAsync fans a multi-entry write out to one request per non-empty
// partition group, joins them all, and reconciles the near cache for
// every entry whether its group succeeded or failed. The first failure
// (in partition order) is surfaced; the rest are logged only.
func (cl *client[K, V]) PutAllAsync(ctx context.Context, entries map[K]V) *future.Future[Void] {
	start := time.Now()
	if cl.closed.Load() {
		return future.Failed[Void](ErrClosed)
	}
	if len(entries) == 0 {
		return future.Completed(Void{})
	}

	// Encode and group first: a validation failure must leave no side
	// effects, local or remote.
	groups := make(map[int32]*partitionGroup)
	for k, v := range entries {
		kb, sk, err := cl.encodeKey(k)
		if err != nil {
			return future.Failed[Void](err)
		}
		vb, err := cl.encodeValue(v)
		if err != nil {
			return future.Failed[Void](err)
		}

		pid := cl.resolver.PartitionOf(kb)
		g := groups[pid]
		if g == nil {
			g = &partitionGroup{partition: pid}
			groups[pid] = g
		}
		g.entries = append(g.entries, invocation.Entry{Key: kb, Value: vb})
		g.slots = append(g.slots, sk)
	}

	// Deterministic group order keeps "first error" stable under test.
	pids := make([]int32, 0, len(groups))
	for pid := range groups {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	pend := make([]pendingWrite, 0, len(pids))
	for _, pid := range pids {
		g := groups[pid]
		req := &invocation.Request{Op: invocation.OpPutAll, Name: cl.name, Entries: g.entries}
		pend = append(pend, pendingWrite{group: g, f: cl.inv.Invoke(ctx, req, pid)})
	}

	return future.Go(func() (Void, error) {
		var firstErr error
		for _, pw := range pend {
			g := pw.group
			_, err := pw.f.Await(ctx)

			// Reconciliation runs on failure too: the write may have
			// partially landed server-side, and a stale local copy must
			// not survive it.
			if err != nil {
				for _, sk := range g.slots {
					cl.near.Invalidate(ctx, sk)
				}
				cl.hooks.PartitionWriteFailed(g.partition, len(g.entries), err)
				cl.log.Warn("partition batch write failed", Fields{
					"partition": g.partition,
					"entries":   len(g.entries),
					"err":       err,
				})
				if firstErr == nil {
					firstErr = &PartitionError{Partition: g.partition, Entries: len(g.entries), Err: err}
				}
				continue
			}

			for i, e := range g.entries {
				cl.reconcileWrite(ctx, g.slots[i], e.Value)
			}
			// acknowledged entries only; failed groups may have partially
			// landed but their count is unknowable
			cl.stats.Put(len(g.entries))
		}

		cl.stats.AddPutLatency(time.Since(start))
		return Void{}, firstErr
	})
}
