package batchmem

import (
	"sync/atomic"
	"unsafe"
)

// MemoryMapping is a live host mapping of part of a MemoryBlock. The block stays mapped for as long
// as at least one MemoryMapping on it has not been unmapped.
type MemoryMapping struct {
	block    *MemoryBlock
	data     unsafe.Pointer
	offset   int
	size     int
	unmapped atomic.Bool
}

// Pointer is the host address of the first mapped byte
func (m *MemoryMapping) Pointer() unsafe.Pointer {
	return m.data
}

// Bytes exposes the mapped range as a byte slice. The slice must not be used after Unmap.
func (m *MemoryMapping) Bytes() []byte {
	return unsafe.Slice((*byte)(m.data), m.size)
}

// Offset is the offset of the mapped range within its block
func (m *MemoryMapping) Offset() int {
	return m.offset
}

func (m *MemoryMapping) Size() int {
	return m.size
}

func (m *MemoryMapping) Block() *MemoryBlock {
	return m.block
}

// Unmap releases this mapping. Unmapping the same MemoryMapping twice panics.
func (m *MemoryMapping) Unmap() {
	if !m.unmapped.CompareAndSwap(false, true) {
		panic("memory mapping was already unmapped")
	}

	m.block.unmap()
	m.data = nil
}
