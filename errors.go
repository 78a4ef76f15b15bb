package nearcache

import (
	"errors"
	"fmt"
)

var (
	// ErrNilKey is returned before any remote call or cache mutation when
	// a nil key is supplied.
	ErrNilKey = errors.New("nearcache: nil key")

	// ErrNilValue is returned before any remote call or cache mutation
	// when a nil value is supplied to a write operation.
	ErrNilValue = errors.New("nearcache: nil value")

	// ErrClosed is returned by operations after Close.
	ErrClosed = errors.New("nearcache: cache is closed")
)

// PartitionError reports a failed per-partition write inside a batched
// operation. Only the first failure is surfaced; the rest are logged.
type PartitionError struct {
	Partition int32
	Entries   int
	Err       error
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("nearcache: partition %d batch write (%d entries) failed: %v",
		e.Partition, e.Entries, e.Err)
}

func (e *PartitionError) Unwrap() error { return e.Err }
