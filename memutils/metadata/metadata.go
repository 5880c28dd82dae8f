package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arsenal/batchmem/memutils"
)

// BlockMetadata represents a single large allocation of memory within some system. It manages
// suballocations within the block, allowing ranges to be requested, committed and freed, as well as
// enumerated and queried. BlockMetadata never touches the memory itself.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. It informs the implementation of the
	// size in bytes of the block of memory it will be managing.
	Init(size int)
	// Size retrieves the size in bytes that the block was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata. When the implementation is functioning
	// correctly, it should not be possible for this method to return an error.
	Validate() error
	// AllocationCount returns the number of suballocations currently live in the implementation
	AllocationCount() int
	// FreeRegionsCount returns the number of unique regions of free memory in the block. Adjacent
	// free regions are always counted as one.
	FreeRegionsCount() int
	// SumFreeSize returns the number of free bytes of memory in the block.
	SumFreeSize() int
	// IsEmpty will return true if this block has no live suballocations
	IsEmpty() bool

	// VisitAllRegions will call the provided callback once for each allocation and free region in
	// the block, in offset order. Free regions are reported with the handle NoAllocation.
	VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error

	// AllocationOffset returns the offset of a live allocation. It returns an error if the
	// handle does not map to a live allocation within this block.
	AllocationOffset(allocHandle BlockAllocationHandle) (int, error)
	// AllocationSize returns the size of a live allocation.
	AllocationSize(allocHandle BlockAllocationHandle) (int, error)
	// AllocationUserData returns the userdata value provided by the consumer for a live allocation.
	AllocationUserData(allocHandle BlockAllocationHandle) (any, error)
	// SetAllocationUserData replaces the userdata of a live allocation.
	SetAllocationUserData(allocHandle BlockAllocationHandle, userData any) error

	// AddDetailedStatistics sums this block's allocation statistics into the provided object
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this block's allocation statistics into the provided object
	AddStatistics(stats *memutils.Statistics)

	// Clear instantly frees all allocations
	Clear()
	// BlockJsonData populates a json object with information about this block
	BlockJsonData(json *jwriter.ObjectState)

	// CreateAllocationRequest retrieves an AllocationRequest object indicating where the implementation
	// would place the requested memory. It does not modify the metadata; the request can be passed to
	// Alloc to commit it. The boolean return is false when no free range can hold the allocation.
	//
	// allocSize - the size in bytes of the requested allocation
	// allocAlignment - the alignment of the requested offset. Any positive value is accepted.
	// allocType - memory-system-dependent allocation type value, passed on to the GranularityCheck
	// strategy - whether to prioritize memory usage or allocation speed
	CreateAllocationRequest(
		allocSize int, allocAlignment uint,
		allocType uint32,
		strategy AllocationStrategy,
	) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest object and returns the handle of the new suballocation. The
	// implementation must return an error if the requested range is out of bounds or overlaps a live
	// allocation.
	Alloc(request AllocationRequest, allocType uint32, userData any) (BlockAllocationHandle, error)

	// Free frees a suballocation within the block, causing it to become a free region once again.
	//
	// The implementation must return an error if the provided handle does not map to a live allocation
	// within this block.
	Free(allocHandle BlockAllocationHandle) error
}

// BlockMetadataBase is a simple struct that provides a few shared utilities for BlockMetadata
// implementations in the memutils module.
type BlockMetadataBase struct {
	size                  int
	allocationGranularity int
	granularityHandler    GranularityCheck
}

// NewBlockMetadata creates a new BlockMetadataBase from a granularity value and handler. These
// are memory-system-specific and should have been provided by the consumer. See GranularityCheck
// for more information. If your memory system does not have granularity requirements,
// then allocationGranularity should be 1.
func NewBlockMetadata(allocationGranularity int, granularityHandler GranularityCheck) BlockMetadataBase {
	return BlockMetadataBase{
		size:                  0,
		allocationGranularity: allocationGranularity,
		granularityHandler:    granularityHandler,
	}
}

// Init prepares this structure for allocations and sizes the block in bytes based on the parameter size.
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the block in bytes
func (m *BlockMetadataBase) Size() int { return m.size }

// AllocationGranularity returns the granularity value the metadata was created with
func (m *BlockMetadataBase) AllocationGranularity() int { return m.allocationGranularity }

func (m *BlockMetadataBase) blockJsonData(json *jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
