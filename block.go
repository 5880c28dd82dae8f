package batchmem

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arsenal/batchmem/backend"
	"github.com/vkngwrapper/arsenal/batchmem/internal/device"
	"github.com/vkngwrapper/arsenal/batchmem/internal/utils"
	"github.com/vkngwrapper/arsenal/batchmem/memutils"
	"github.com/vkngwrapper/arsenal/batchmem/memutils/metadata"
)

// MemoryBlock is one contiguous region of backend memory of a single memory type. Blocks are created by
// the allocator sized exactly to a packed batch, are never resized or merged, and live until the
// allocator is destroyed.
type MemoryBlock struct {
	id              int
	memoryTypeIndex int
	handle          backend.BlockHandle
	logger          *slog.Logger
	deviceMemory    *device.MemoryProperties
	strategy        metadata.AllocationStrategy

	metadata           metadata.BlockMetadata
	granularityHandler blockGranularity

	mapMutex      utils.OptionalMutex
	mapReferences int
	mapData       unsafe.Pointer
}

func (b *MemoryBlock) init(
	logger *slog.Logger,
	deviceMemory *device.MemoryProperties,
	newMemoryTypeIndex int,
	newHandle backend.BlockHandle,
	newSize int,
	id int,
	strategy metadata.AllocationStrategy,
	useMutex bool,
) {
	if b.handle != nil {
		panic("attempting to initialize a memory block that is already in use")
	}

	b.id = id
	b.memoryTypeIndex = newMemoryTypeIndex
	b.handle = newHandle
	b.logger = logger
	b.deviceMemory = deviceMemory
	b.strategy = strategy
	b.mapMutex.UseMutex = useMutex

	granularity := deviceMemory.Granularity()
	b.granularityHandler.Init(granularity, newSize)
	b.metadata = metadata.NewFirstFitBlockMetadata(granularity, &b.granularityHandler)
	b.metadata.Init(newSize)
}

// ID is the block's creation index within its allocator
func (b *MemoryBlock) ID() int { return b.id }

func (b *MemoryBlock) MemoryTypeIndex() int { return b.memoryTypeIndex }

// Handle returns the backend's object for this block
func (b *MemoryBlock) Handle() backend.BlockHandle { return b.handle }

func (b *MemoryBlock) Size() int { return b.metadata.Size() }

func (b *MemoryBlock) IsEmpty() bool { return b.metadata.IsEmpty() }

func (b *MemoryBlock) AllocationCount() int { return b.metadata.AllocationCount() }

func (b *MemoryBlock) SumFreeSize() int { return b.metadata.SumFreeSize() }

// Mappable reports whether the block's memory type is host visible
func (b *MemoryBlock) Mappable() bool {
	return b.deviceMemory.IsMemoryTypeHostVisible(b.memoryTypeIndex)
}

// Allocatable searches the block's free space for a range of size bytes at the provided alignment
// that does not share a granularity page with a conflicting kind. It does not modify the block.
// The same free space always produces the same offset.
func (b *MemoryBlock) Allocatable(size int, alignment int, kind Kind) (int, bool) {
	if size < 1 || !kind.valid() {
		return 0, false
	}

	success, request, err := b.metadata.CreateAllocationRequest(size, uint(max(alignment, 1)), uint32(kind), b.strategy)
	if err != nil || !success {
		return 0, false
	}

	return request.Item.Offset, true
}

// commit marks [offset, offset+size) as occupied. The range must be free; anything else means the
// caller lost track of the block and is a fault.
func (b *MemoryBlock) commit(offset, size int, kind Kind, userData any) metadata.BlockAllocationHandle {
	handle, err := b.metadata.Alloc(metadata.PlacedRequest(offset, size, uint32(kind)), uint32(kind), userData)
	if err != nil {
		panic(fmt.Sprintf("failed to commit range [%d, %d) in block %d: %+v", offset, offset+size, b.id, err))
	}

	heapIndex := b.deviceMemory.MemoryTypeIndexToHeapIndex(b.memoryTypeIndex)
	b.deviceMemory.AddAllocation(heapIndex, size)
	memutils.DebugValidate(b)

	return handle
}

// release returns a committed range to the block's free space
func (b *MemoryBlock) release(handle metadata.BlockAllocationHandle) error {
	size, err := b.metadata.AllocationSize(handle)
	if err != nil {
		return err
	}

	err = b.metadata.Free(handle)
	if err != nil {
		return err
	}

	heapIndex := b.deviceMemory.MemoryTypeIndexToHeapIndex(b.memoryTypeIndex)
	b.deviceMemory.RemoveAllocation(heapIndex, size)
	memutils.DebugValidate(b)

	return nil
}

// Map maps [offset, offset+size) of the block for host access. The backend mapping is shared by all
// live MemoryMapping objects on the block and released when the last of them is unmapped.
func (b *MemoryBlock) Map(offset, size int) (*MemoryMapping, error) {
	if !b.Mappable() {
		return nil, errors.Wrapf(ErrNotMappable, "memory type %d", b.memoryTypeIndex)
	}

	if offset < 0 || size < 1 || offset+size > b.Size() {
		return nil, errors.Newf("cannot map range [%d, %d) of a block of size %d", offset, offset+size, b.Size())
	}

	b.mapMutex.Lock()
	defer b.mapMutex.Unlock()

	if b.mapReferences == 0 {
		data, err := b.deviceMemory.Backend().MapMemory(b.handle, 0, b.Size())
		if err != nil {
			return nil, backendFailure(err, "failed to map block %d", b.id)
		}
		b.mapData = data
	}
	b.mapReferences++

	return &MemoryMapping{
		block:  b,
		data:   unsafe.Add(b.mapData, offset),
		offset: offset,
		size:   size,
	}, nil
}

func (b *MemoryBlock) unmap() {
	b.mapMutex.Lock()
	defer b.mapMutex.Unlock()

	if b.mapReferences == 0 {
		panic(fmt.Sprintf("unmapping block %d, which is not mapped", b.id))
	}

	b.mapReferences--
	if b.mapReferences == 0 {
		b.deviceMemory.Backend().UnmapMemory(b.handle)
		b.mapData = nil
	}
}

// MapReferences is the number of live MemoryMapping objects on the block
func (b *MemoryBlock) MapReferences() int {
	b.mapMutex.Lock()
	defer b.mapMutex.Unlock()

	return b.mapReferences
}

func (b *MemoryBlock) destroy() error {
	if b.handle == nil {
		panic("attempting to destroy a memory block, but it did not have a backend memory handle")
	}

	var unreleasedErr error
	if !b.metadata.IsEmpty() {
		// Log all remaining allocations
		err := b.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			if free {
				return nil
			}

			b.logUnreleasedMemory(offset, size, userData)
			return nil
		})
		if err != nil {
			b.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}

		unreleasedErr = errors.Newf("%d ranges of memory block %d were not freed before the block was destroyed", b.metadata.AllocationCount(), b.id)
	}

	b.mapMutex.Lock()
	if b.mapReferences > 0 {
		b.logger.LogAttrs(context.Background(), slog.LevelWarn, "MemoryBlock::destroy unmapping block with live mappings",
			slog.Int("block", b.id),
			slog.Int("mapReferences", b.mapReferences),
		)
		b.deviceMemory.Backend().UnmapMemory(b.handle)
		b.mapReferences = 0
		b.mapData = nil
	}
	b.mapMutex.Unlock()

	b.deviceMemory.DestroyBlock(b.memoryTypeIndex, b.metadata.Size(), b.handle)
	b.granularityHandler.Destroy()

	b.handle = nil
	return unreleasedErr
}

func (b *MemoryBlock) logUnreleasedMemory(offset, size int, userData any) {
	attrs := []slog.Attr{
		slog.Int("block", b.id),
		slog.Int("offset", offset),
		slog.Int("size", size),
	}

	if id, isEntry := userData.(entryID); isEntry {
		attrs = append(attrs, slog.String("entry", id.String()))
	}

	b.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation", attrs...)
}

func (b *MemoryBlock) Validate() error {
	if b.handle == nil {
		return errors.New("no valid memory for this memory block")
	}
	if b.metadata.Size() < 1 {
		return errors.New("this memory block's metadata has an invalid size")
	}

	err := b.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset, size int, userData any, free bool) error {
		_, isEntry := userData.(entryID)
		if free && isEntry {
			return errors.Newf("a range at offset %d is marked as free but belongs to an entry", offset)
		} else if !free && !isEntry {
			return errors.Newf("a range at offset %d is marked as committed but has no entry", offset)
		}

		return nil
	})

	if err != nil {
		return err
	}

	return b.metadata.Validate()
}

func (b *MemoryBlock) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	b.metadata.AddDetailedStatistics(stats)
}

func (b *MemoryBlock) AddStatistics(stats *memutils.Statistics) {
	b.metadata.AddStatistics(stats)
}

func (b *MemoryBlock) printDetailedMap(json *jwriter.ObjectState) {
	blockObj := json.Name(strconv.Itoa(b.id)).Object()
	defer blockObj.End()

	blockObj.Name("MapReferences").Int(b.MapReferences())
	b.metadata.BlockJsonData(&blockObj)

	arrayState := blockObj.Name("Suballocations").Array()
	defer arrayState.End()

	_ = b.metadata.VisitAllRegions(
		func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			obj := arrayState.Object()
			defer obj.End()

			obj.Name("Offset").Int(offset)
			obj.Name("Size").Int(size)
			if free {
				obj.Name("Type").String(kindFree.String())
				return nil
			}

			if id, isEntry := userData.(entryID); isEntry {
				obj.Name("Entry").String(id.String())
			}

			return nil
		})
}
