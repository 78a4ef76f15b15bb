// Package stats collects process-local operation counters for the cache
// client. Recorders are passive: they never fail and never block.
package stats

import (
	"sync/atomic"
	"time"
)

// Recorder receives operation events from the cache client.
// Implementations must be safe for concurrent use and cheap; they are
// called on hot paths.
type Recorder interface {
	Hit()
	Miss()
	Put(n int)
	AddGetLatency(d time.Duration)
	AddPutLatency(d time.Duration)
}

// Snapshot is a point-in-time copy of accumulated counters.
type Snapshot struct {
	Hits   int64
	Misses int64
	Puts   int64
	// Cumulative wall time spent in remote get/put paths.
	GetTime time.Duration
	PutTime time.Duration
}

// Nop discards all events. Used when statistics are disabled.
type Nop struct{}

func (Nop) Hit()                        {}
func (Nop) Miss()                       {}
func (Nop) Put(int)                     {}
func (Nop) AddGetLatency(time.Duration) {}
func (Nop) AddPutLatency(time.Duration) {}

// Atomic counts events with atomic counters. Counters are monotonic and
// never reset for the lifetime of the recorder.
type Atomic struct {
	hits     atomic.Int64
	misses   atomic.Int64
	puts     atomic.Int64
	getNanos atomic.Int64
	putNanos atomic.Int64
}

var _ Recorder = (*Atomic)(nil)

func NewAtomic() *Atomic { return &Atomic{} }

func (a *Atomic) Hit()  { a.hits.Add(1) }
func (a *Atomic) Miss() { a.misses.Add(1) }

func (a *Atomic) Put(n int) {
	if n > 0 {
		a.puts.Add(int64(n))
	}
}
func (a *Atomic) AddGetLatency(d time.Duration) { a.getNanos.Add(int64(d)) }
func (a *Atomic) AddPutLatency(d time.Duration) { a.putNanos.Add(int64(d)) }

func (a *Atomic) Snapshot() Snapshot {
	return Snapshot{
		Hits:    a.hits.Load(),
		Misses:  a.misses.Load(),
		Puts:    a.puts.Load(),
		GetTime: time.Duration(a.getNanos.Load()),
		PutTime: time.Duration(a.putNanos.Load()),
	}
}
