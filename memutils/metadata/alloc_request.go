package metadata

// AllocationRequestType is an enum that indicates how an AllocationRequest was produced.
type AllocationRequestType uint32

const (
	// AllocationRequestFirstFit indicates the request is the lowest-offset free range that fits
	AllocationRequestFirstFit AllocationRequestType = iota
	// AllocationRequestBestFit indicates the request is the smallest free range that fits
	AllocationRequestBestFit
	// AllocationRequestPlaced indicates the consumer chose the offset itself, see PlacedRequest
	AllocationRequestPlaced
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestFirstFit: "FirstFit",
	AllocationRequestBestFit:  "BestFit",
	AllocationRequestPlaced:   "Placed",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where
// the metadata intends to place new memory. This allocation can be applied to the actual memory system
// consuming memutils, and then committed to the metadata with BlockMetadata.Alloc
type AllocationRequest struct {
	// BlockAllocationHandle is NoAllocation until the request has been committed
	BlockAllocationHandle BlockAllocationHandle
	// Size is the total size of the allocation
	Size int
	// Item is a Suballocation object indicating basic information about the allocation
	Item Suballocation
	// Type identifies the way the request was produced
	Type AllocationRequestType

	// AllocType is the value passed into CreateAllocationRequest by the consumer to generate
	// this request
	AllocType uint32
	// AlgorithmData is arbitrary data used by the BlockMetadata implementation for internal
	// purposes
	AlgorithmData uint64
}

// PlacedRequest builds an AllocationRequest for a range whose offset was computed by the consumer.
// BlockMetadata.Alloc still rejects the request if the range is not free.
func PlacedRequest(offset, size int, allocType uint32) AllocationRequest {
	return AllocationRequest{
		BlockAllocationHandle: NoAllocation,
		Size:                  size,
		Item: Suballocation{
			Offset: offset,
			Size:   size,
			Type:   allocType,
		},
		Type:      AllocationRequestPlaced,
		AllocType: allocType,
	}
}
