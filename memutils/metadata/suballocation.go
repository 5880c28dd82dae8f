package metadata

import "math"

// BlockAllocationHandle identifies a single live range within one BlockMetadata. Handles are never reused
// by the metadata that issued them.
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)

// Suballocation is the range and allocation type an AllocationRequest will occupy
type Suballocation struct {
	Offset int
	Size   int
	Type   uint32
}
