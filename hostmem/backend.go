package hostmem

import (
	"context"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/arsenal/batchmem/backend"
	"github.com/vkngwrapper/arsenal/batchmem/memutils"
)

// Options describes the memory layout the host backend pretends to have
type Options struct {
	MemoryTypes []backend.MemoryType
	MemoryHeaps []backend.MemoryHeap
	// Granularity is reported as the placement granularity. 0 is treated as 1.
	Granularity int
	// MaxBlockCount is reported as the backend's block limit. 0 means unlimited.
	MaxBlockCount int
}

// DiscreteGPUOptions returns a layout shaped like a typical discrete GPU: device-local memory, a small
// host-visible window into it, and two host memory types.
func DiscreteGPUOptions() Options {
	return Options{
		MemoryTypes: []backend.MemoryType{
			{PropertyFlags: backend.MemoryPropertyDeviceLocal, HeapIndex: 0},
			{PropertyFlags: backend.MemoryPropertyHostVisible | backend.MemoryPropertyHostCoherent, HeapIndex: 1},
			{PropertyFlags: backend.MemoryPropertyHostVisible | backend.MemoryPropertyHostCoherent | backend.MemoryPropertyHostCached, HeapIndex: 1},
			{PropertyFlags: backend.MemoryPropertyDeviceLocal | backend.MemoryPropertyHostVisible | backend.MemoryPropertyHostCoherent, HeapIndex: 2},
		},
		MemoryHeaps: []backend.MemoryHeap{
			{Size: 8 << 30, DeviceLocal: true},
			{Size: 16 << 30},
			{Size: 256 << 20, DeviceLocal: true},
		},
		Granularity: 1024,
	}
}

// Block is one block of host memory
type Block struct {
	id              int
	memoryTypeIndex int
	data            []byte
	mapped          bool
}

func (b *Block) ID() int { return b.id }

func (b *Block) MemoryTypeIndex() int { return b.memoryTypeIndex }

func (b *Block) Size() int { return len(b.data) }

func (b *Block) Mapped() bool { return b.mapped }

// Bytes exposes the block's memory directly, without mapping it
func (b *Block) Bytes() []byte { return b.data }

// Binding records one BindResource call
type Binding struct {
	Resource any
	Block    *Block
	Offset   int
}

// Backend implements backend.Backend with Go byte slices. Resources are never touched; binding a
// resource only records the binding, which makes the backend useful for tests and simulations.
type Backend struct {
	logger  *slog.Logger
	options Options

	mutex       sync.Mutex
	nextBlockID int
	liveBlocks  *swiss.Map[int, *Block]
	bindings    []Binding
}

var _ backend.Backend = &Backend{}

func New(logger *slog.Logger, options Options) (*Backend, error) {
	if len(options.MemoryTypes) == 0 {
		return nil, errors.New("at least one memory type is required")
	}
	if len(options.MemoryTypes) > 32 {
		return nil, errors.Newf("%d memory types were provided, but at most 32 are supported", len(options.MemoryTypes))
	}

	for typeIndex, memoryType := range options.MemoryTypes {
		if memoryType.HeapIndex < 0 || memoryType.HeapIndex >= len(options.MemoryHeaps) {
			return nil, errors.Newf("memory type %d refers to heap %d, but %d heaps were provided", typeIndex, memoryType.HeapIndex, len(options.MemoryHeaps))
		}
	}

	if options.Granularity < 1 {
		options.Granularity = 1
	}
	err := memutils.CheckPow2(options.Granularity, "hostmem.Options.Granularity")
	if err != nil {
		return nil, err
	}

	return &Backend{
		logger:     logger,
		options:    options,
		liveBlocks: swiss.NewMap[int, *Block](8),
	}, nil
}

func (b *Backend) MemoryTypes() []backend.MemoryType {
	return b.options.MemoryTypes
}

func (b *Backend) MemoryHeaps() []backend.MemoryHeap {
	return b.options.MemoryHeaps
}

func (b *Backend) PlacementGranularity() int {
	return b.options.Granularity
}

func (b *Backend) MaxBlockCount() int {
	return b.options.MaxBlockCount
}

func (b *Backend) CreateMemoryBlock(memoryTypeIndex int, size int) (backend.BlockHandle, error) {
	if memoryTypeIndex < 0 || memoryTypeIndex >= len(b.options.MemoryTypes) {
		return nil, errors.Newf("invalid memory type index %d", memoryTypeIndex)
	}
	if size < 1 {
		return nil, errors.Newf("invalid block size %d", size)
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	block := &Block{
		id:              b.nextBlockID,
		memoryTypeIndex: memoryTypeIndex,
		data:            make([]byte, size),
	}
	b.nextBlockID++
	b.liveBlocks.Put(block.id, block)

	b.logger.LogAttrs(context.Background(), slog.LevelDebug, "hostmem::CreateMemoryBlock",
		slog.Int("block", block.id),
		slog.Int("memoryTypeIndex", memoryTypeIndex),
		slog.Int("size", size),
	)

	return block, nil
}

func (b *Backend) liveBlock(handle backend.BlockHandle) (*Block, error) {
	block, ok := handle.(*Block)
	if !ok {
		return nil, errors.Newf("block handle of type %T was not created by the host backend", handle)
	}

	live, ok := b.liveBlocks.Get(block.id)
	if !ok || live != block {
		return nil, errors.Newf("block %d has been destroyed", block.id)
	}

	return block, nil
}

func (b *Backend) DestroyMemoryBlock(handle backend.BlockHandle) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	block, err := b.liveBlock(handle)
	if err != nil {
		panic(err)
	}

	b.liveBlocks.Delete(block.id)
	block.data = nil

	b.logger.LogAttrs(context.Background(), slog.LevelDebug, "hostmem::DestroyMemoryBlock", slog.Int("block", block.id))
}

func (b *Backend) BindResource(resource any, handle backend.BlockHandle, offset int) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	block, err := b.liveBlock(handle)
	if err != nil {
		return err
	}

	if offset < 0 || offset >= len(block.data) {
		return errors.Newf("offset %d is outside block %d of size %d", offset, block.id, len(block.data))
	}

	b.bindings = append(b.bindings, Binding{Resource: resource, Block: block, Offset: offset})
	return nil
}

func (b *Backend) MapMemory(handle backend.BlockHandle, offset, size int) (unsafe.Pointer, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	block, err := b.liveBlock(handle)
	if err != nil {
		return nil, err
	}

	if !b.options.MemoryTypes[block.memoryTypeIndex].HostVisible() {
		return nil, errors.Newf("block %d is in memory type %d, which is not host visible", block.id, block.memoryTypeIndex)
	}
	if block.mapped {
		return nil, errors.Newf("block %d is already mapped", block.id)
	}
	if offset < 0 || size < 1 || offset+size > len(block.data) {
		return nil, errors.Newf("cannot map range [%d, %d) of block %d of size %d", offset, offset+size, block.id, len(block.data))
	}

	block.mapped = true
	return unsafe.Pointer(&block.data[offset]), nil
}

func (b *Backend) UnmapMemory(handle backend.BlockHandle) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	block, err := b.liveBlock(handle)
	if err != nil {
		panic(err)
	}

	block.mapped = false
}

// Bindings returns every binding recorded so far, in the order they were made
func (b *Backend) Bindings() []Binding {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	bindings := make([]Binding, len(b.bindings))
	copy(bindings, b.bindings)
	return bindings
}

// LiveBlockCount is the number of blocks that have been created and not yet destroyed
func (b *Backend) LiveBlockCount() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.liveBlocks.Count()
}
