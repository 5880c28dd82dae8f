package backend

import (
	"unsafe"
)

//go:generate mockgen -source backend.go -destination ./mocks/backend.go -package mock_backend

// BlockHandle is the backend's own object for one block of memory: a core1_0.DeviceMemory for the
// Vulkan backend, a byte slice owner for the host backend. The allocator never inspects it.
type BlockHandle any

// Backend is everything the allocator consumes from the graphics API: memory type properties,
// block creation and destruction, resource binding and host mapping.
//
// All methods are called from whichever goroutine is driving the allocator that owns the backend.
type Backend interface {
	// MemoryTypes returns the memory types available, indexed by memory type index. The result must
	// not change over the lifetime of the backend.
	MemoryTypes() []MemoryType
	// MemoryHeaps returns the heaps that memory types draw from, indexed by heap index
	MemoryHeaps() []MemoryHeap
	// PlacementGranularity returns the distance in bytes that must separate linear resources from
	// optimally-tiled images in the same block. It must be a power of two, 1 if the backend does not care.
	PlacementGranularity() int
	// MaxBlockCount returns the maximum number of simultaneously live blocks, 0 if unlimited
	MaxBlockCount() int

	// CreateMemoryBlock allocates a block of exactly size bytes from the provided memory type
	CreateMemoryBlock(memoryTypeIndex int, size int) (BlockHandle, error)
	// DestroyMemoryBlock releases a block returned from CreateMemoryBlock
	DestroyMemoryBlock(block BlockHandle)
	// BindResource attaches a resource (buffer, image) to a range of a block, starting at offset
	BindResource(resource any, block BlockHandle, offset int) error

	// MapMemory makes [offset, offset+size) of a host-visible block available to the host
	MapMemory(block BlockHandle, offset, size int) (unsafe.Pointer, error)
	// UnmapMemory invalidates the pointer returned by the last MapMemory on the block
	UnmapMemory(block BlockHandle)
}
