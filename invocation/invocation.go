// Package invocation defines the remote-call boundary of the cache client.
// Requests and responses carry canonical serialized blobs only; encoding of
// keys and values happens above this layer, wire/transport framing below it.
package invocation

import (
	"context"

	"github.com/unkn0wn-root/nearcache/future"
)

type Op uint8

const (
	OpGet Op = iota + 1
	OpGetAll
	OpPut
	OpPutAll
	OpPutIfAbsent
	OpReplace
	OpReplaceIfSame
	OpRemove
	OpRemoveIfSame
	OpSize
)

func (o Op) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpGetAll:
		return "getAll"
	case OpPut:
		return "put"
	case OpPutAll:
		return "putAll"
	case OpPutIfAbsent:
		return "putIfAbsent"
	case OpReplace:
		return "replace"
	case OpReplaceIfSame:
		return "replaceIfSame"
	case OpRemove:
		return "remove"
	case OpRemoveIfSame:
		return "removeIfSame"
	case OpSize:
		return "size"
	default:
		return "unknown"
	}
}

// Entry is one serialized key/value pair in a batch request or response.
type Entry struct {
	Key   []byte
	Value []byte
}

// Request describes one remote cache operation. Only the fields relevant
// to Op are populated: Key/Value/OldValue for single-key ops, Keys for
// batched reads, Entries for batched writes.
type Request struct {
	Op       Op
	Name     string // cache name; namespaces keys on the remote side
	Key      []byte
	Value    []byte
	OldValue []byte // expected current value for CAS variants
	Keys     [][]byte
	Entries  []Entry
	WantOld  bool // return the previous value where the op supports it
}

// Response is the remote outcome. Found reports whether a value was
// present (Value is meaningful only when Found). Applied reports whether
// a conditional mutation took effect. Entries holds batched-read results;
// the remote side may omit requested keys that were absent or expired.
type Response struct {
	Value   []byte
	Found   bool
	Applied bool
	Entries []Entry
	Count   int64
}

// Invoker executes requests against the remote cluster. Invoke never
// blocks the caller; the returned future settles when the remote call
// completes, on whatever goroutine the transport uses. Any failure means
// "outcome unknown" to the caller. Retry and timeout policy belong to
// the implementation, not to callers.
type Invoker interface {
	Invoke(ctx context.Context, req *Request, partition int32) *future.Future[*Response]
}
