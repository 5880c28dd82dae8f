package batchmem

import "github.com/vkngwrapper/arsenal/batchmem/backend"

// AllocateBlockCallback is called after the allocator creates a new block from the backend
type AllocateBlockCallback func(
	allocator *Allocator,
	memoryType int,
	block backend.BlockHandle,
	size int,
	userData interface{},
)

// FreeBlockCallback is called before the allocator returns a block to the backend
type FreeBlockCallback func(
	allocator *Allocator,
	memoryType int,
	block backend.BlockHandle,
	size int,
	userData interface{},
)

type MemoryCallbackOptions struct {
	Allocate AllocateBlockCallback
	Free     FreeBlockCallback
	UserData interface{}
}

type memoryCallbacks struct {
	Callbacks *MemoryCallbackOptions
	Allocator *Allocator
}

func (c *memoryCallbacks) Allocate(memoryType int, block backend.BlockHandle, size int) {
	if c.Callbacks != nil && c.Callbacks.Allocate != nil {
		c.Callbacks.Allocate(c.Allocator, memoryType, block, size, c.Callbacks.UserData)
	}
}

func (c *memoryCallbacks) Free(memoryType int, block backend.BlockHandle, size int) {
	if c.Callbacks != nil && c.Callbacks.Free != nil {
		c.Callbacks.Free(c.Allocator, memoryType, block, size, c.Callbacks.UserData)
	}
}
