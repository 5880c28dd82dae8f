package vulkan

import (
	"context"
	"log/slog"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/batchmem/backend"
	"github.com/vkngwrapper/arsenal/batchmem/memutils"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
)

// Backend implements backend.Backend on top of a vkngwrapper core1_0.Device. Block handles are
// core1_0.DeviceMemory objects, and resources passed to BindResource must be core1_0.Buffer or
// core1_0.Image objects created from the same device.
type Backend struct {
	logger              *slog.Logger
	device              core1_0.Device
	allocationCallbacks *driver.AllocationCallbacks

	memoryTypes   []backend.MemoryType
	memoryHeaps   []backend.MemoryHeap
	granularity   int
	maxBlockCount int
}

var _ backend.Backend = &Backend{}

// New reads the physical device's memory layout and limits. allocationCallbacks may be nil.
func New(logger *slog.Logger, device core1_0.Device, physicalDevice core1_0.PhysicalDevice, allocationCallbacks *driver.AllocationCallbacks) (*Backend, error) {
	properties, err := physicalDevice.Properties()
	if err != nil {
		return nil, errors.Wrap(err, "failed to retrieve physical device properties")
	}
	if properties.Limits == nil {
		return nil, errors.New("physical device properties did not include limits")
	}

	granularity := max(properties.Limits.BufferImageGranularity, 1)
	err = memutils.CheckPow2(granularity, "device bufferImageGranularity")
	if err != nil {
		return nil, err
	}

	memoryProperties := physicalDevice.MemoryProperties()
	if len(memoryProperties.MemoryTypes) == 0 {
		return nil, errors.New("physical device reported no memory types")
	}

	b := &Backend{
		logger:              logger,
		device:              device,
		allocationCallbacks: allocationCallbacks,
		granularity:         granularity,
		maxBlockCount:       properties.Limits.MaxMemoryAllocationCount,
	}

	for _, memoryType := range memoryProperties.MemoryTypes {
		b.memoryTypes = append(b.memoryTypes, ConvertMemoryType(memoryType))
	}

	for _, heap := range memoryProperties.MemoryHeaps {
		b.memoryHeaps = append(b.memoryHeaps, backend.MemoryHeap{
			Size:        heap.Size,
			DeviceLocal: heap.Flags&core1_0.MemoryHeapDeviceLocal != 0,
		})
	}

	return b, nil
}

// ConvertMemoryType translates a Vulkan memory type into the allocator's representation. Property
// flags the allocator does not know about are dropped.
func ConvertMemoryType(memoryType core1_0.MemoryType) backend.MemoryType {
	var flags backend.MemoryPropertyFlags
	for vulkanFlag, flag := range propertyFlagMapping {
		if memoryType.PropertyFlags&vulkanFlag != 0 {
			flags |= flag
		}
	}

	return backend.MemoryType{
		PropertyFlags: flags,
		HeapIndex:     memoryType.HeapIndex,
	}
}

var propertyFlagMapping = map[core1_0.MemoryPropertyFlags]backend.MemoryPropertyFlags{
	core1_0.MemoryPropertyDeviceLocal:     backend.MemoryPropertyDeviceLocal,
	core1_0.MemoryPropertyHostVisible:     backend.MemoryPropertyHostVisible,
	core1_0.MemoryPropertyHostCoherent:    backend.MemoryPropertyHostCoherent,
	core1_0.MemoryPropertyHostCached:      backend.MemoryPropertyHostCached,
	core1_0.MemoryPropertyLazilyAllocated: backend.MemoryPropertyLazilyAllocated,
}

func (b *Backend) MemoryTypes() []backend.MemoryType {
	return b.memoryTypes
}

func (b *Backend) MemoryHeaps() []backend.MemoryHeap {
	return b.memoryHeaps
}

func (b *Backend) PlacementGranularity() int {
	return b.granularity
}

func (b *Backend) MaxBlockCount() int {
	return b.maxBlockCount
}

func (b *Backend) CreateMemoryBlock(memoryTypeIndex int, size int) (backend.BlockHandle, error) {
	memory, _, err := b.device.AllocateMemory(b.allocationCallbacks, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return nil, err
	}

	b.logger.LogAttrs(context.Background(), slog.LevelDebug, "vulkan::AllocateMemory",
		slog.Int("MemoryTypeIndex", memoryTypeIndex),
		slog.Int("Size", size),
	)

	return memory, nil
}

func deviceMemory(block backend.BlockHandle) core1_0.DeviceMemory {
	memory, ok := block.(core1_0.DeviceMemory)
	if !ok {
		panic(errors.Newf("block handle of type %T is not a core1_0.DeviceMemory", block))
	}
	return memory
}

func (b *Backend) DestroyMemoryBlock(block backend.BlockHandle) {
	deviceMemory(block).Free(b.allocationCallbacks)

	b.logger.LogAttrs(context.Background(), slog.LevelDebug, "vulkan::FreeMemory")
}

func (b *Backend) BindResource(resource any, block backend.BlockHandle, offset int) error {
	memory := deviceMemory(block)

	var err error
	switch r := resource.(type) {
	case core1_0.Buffer:
		_, err = r.BindBufferMemory(memory, offset)
	case core1_0.Image:
		_, err = r.BindImageMemory(memory, offset)
	default:
		return errors.Newf("cannot bind resource of type %T, expected core1_0.Buffer or core1_0.Image", resource)
	}

	return err
}

func (b *Backend) MapMemory(block backend.BlockHandle, offset, size int) (unsafe.Pointer, error) {
	pointer, _, err := deviceMemory(block).Map(offset, size, 0)
	return pointer, err
}

func (b *Backend) UnmapMemory(block backend.BlockHandle) {
	deviceMemory(block).Unmap()
}
