// Package routing maps serialized keys to remote partitions.
package routing

import (
	"errors"

	"github.com/cespare/xxhash/v2"
)

// PartitionAny marks a request that is not bound to a single partition
// (batched reads, size queries). Invokers may route it to any member.
const PartitionAny int32 = -1

// Resolver derives the owning partition for a serialized key.
// Implementations must be pure functions of the key blob so that
// concurrent callers agree on ownership without coordination.
type Resolver interface {
	PartitionOf(keyBlob []byte) int32
	PartitionCount() int32
}

// HashResolver assigns partitions by hashing the key blob with xxhash.
type HashResolver struct {
	count int32
}

var _ Resolver = (*HashResolver)(nil)

func NewHashResolver(partitionCount int32) (*HashResolver, error) {
	if partitionCount <= 0 {
		return nil, errors.New("routing: partition count must be positive")
	}
	return &HashResolver{count: partitionCount}, nil
}

func (r *HashResolver) PartitionOf(keyBlob []byte) int32 {
	return int32(xxhash.Sum64(keyBlob) % uint64(r.count))
}

func (r *HashResolver) PartitionCount() int32 { return r.count }
