// Package asynchook decouples hook consumers from cache hot paths with a
// bounded queue and a small worker pool. Events are dropped when the
// queue is full rather than blocking the cache.
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/nearcache"
)

type Hooks struct {
	inner nearcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ nearcache.Hooks = (*Hooks)(nil)

func New(inner nearcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) SelfHeal(k, reason string) { h.try(func() { h.inner.SelfHeal(k, reason) }) }
func (h *Hooks) StaleCommitDropped(k string) {
	h.try(func() { h.inner.StaleCommitDropped(k) })
}
func (h *Hooks) StoreSetRejected(k string) {
	h.try(func() { h.inner.StoreSetRejected(k) })
}
func (h *Hooks) PartitionWriteFailed(p int32, n int, err error) {
	h.try(func() { h.inner.PartitionWriteFailed(p, n, err) })
}
