package device

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/batchmem/backend"
	"github.com/vkngwrapper/arsenal/batchmem/memutils"
)

// MaxMemoryTypes is the width of a memory type bitmask
const MaxMemoryTypes = 32

var (
	ErrTooManyBlocks = errors.New("the maximum number of live memory blocks has been reached")
	ErrHeapLimit     = errors.New("the memory heap size limit has been reached")
)

type MemoryCallbacks interface {
	Allocate(memoryType int, block backend.BlockHandle, size int)
	Free(memoryType int, block backend.BlockHandle, size int)
}

type heapCounters struct {
	// Number of blocks that have been created from the backend
	blockCount int32
	// Number of ranges that have been committed inside those blocks
	allocationCount int32
	blockBytes      int64
	allocationBytes int64
}

// MemoryProperties caches the backend's memory type layout and tracks per-heap usage. Every block
// the allocator creates or destroys passes through here so that heap limits, the block count limit
// and memory callbacks are applied in one place.
type MemoryProperties struct {
	heaps       []heapCounters
	memoryCount uint32

	heapLimits      []int
	maxBlockCount   int
	memoryCallbacks MemoryCallbacks

	backend     backend.Backend
	memoryTypes []backend.MemoryType
	memoryHeaps []backend.MemoryHeap
	granularity int
}

func NewMemoryProperties(
	memoryBackend backend.Backend,
	memoryCallbacks MemoryCallbacks,
	heapSizeLimits []int,
	maxBlockCount int,
) (*MemoryProperties, error) {
	properties := &MemoryProperties{
		backend:         memoryBackend,
		memoryCallbacks: memoryCallbacks,
		memoryTypes:     memoryBackend.MemoryTypes(),
		memoryHeaps:     memoryBackend.MemoryHeaps(),
	}

	typeCount := len(properties.memoryTypes)
	if typeCount == 0 {
		return nil, errors.New("the backend did not report any memory types")
	}
	if typeCount > MaxMemoryTypes {
		return nil, errors.Newf("the backend reported %d memory types, but at most %d are supported", typeCount, MaxMemoryTypes)
	}

	for typeIndex, memoryType := range properties.memoryTypes {
		if memoryType.HeapIndex < 0 || memoryType.HeapIndex >= len(properties.memoryHeaps) {
			return nil, errors.Newf("memory type %d refers to heap %d, but the backend reported %d heaps", typeIndex, memoryType.HeapIndex, len(properties.memoryHeaps))
		}
	}

	properties.granularity = memoryBackend.PlacementGranularity()
	if properties.granularity < 1 {
		properties.granularity = 1
	}
	err := memutils.CheckPow2(properties.granularity, "backend placement granularity")
	if err != nil {
		return nil, err
	}

	heapLimitCount := len(heapSizeLimits)
	if heapLimitCount > 0 && heapLimitCount != len(properties.memoryHeaps) {
		return nil, errors.New("batchmem.CreateOptions.HeapSizeLimits was provided, but the length does not equal the number of backend heaps")
	}
	properties.heapLimits = make([]int, len(properties.memoryHeaps))
	copy(properties.heapLimits, heapSizeLimits)
	properties.heaps = make([]heapCounters, len(properties.memoryHeaps))

	properties.maxBlockCount = maxBlockCount
	backendMax := memoryBackend.MaxBlockCount()
	if backendMax > 0 && (properties.maxBlockCount <= 0 || backendMax < properties.maxBlockCount) {
		properties.maxBlockCount = backendMax
	}

	return properties, nil
}

func (m *MemoryProperties) Backend() backend.Backend {
	return m.backend
}

func (m *MemoryProperties) MemoryTypeCount() int {
	return len(m.memoryTypes)
}

func (m *MemoryProperties) MemoryHeapCount() int {
	return len(m.memoryHeaps)
}

func (m *MemoryProperties) MemoryTypeProperties(memoryTypeIndex int) backend.MemoryType {
	return m.memoryTypes[memoryTypeIndex]
}

func (m *MemoryProperties) MemoryTypeIndexToHeapIndex(memoryTypeIndex int) int {
	return m.memoryTypes[memoryTypeIndex].HeapIndex
}

func (m *MemoryProperties) IsMemoryTypeHostVisible(memoryTypeIndex int) bool {
	return m.memoryTypes[memoryTypeIndex].HostVisible()
}

// Granularity is the backend's placement granularity, at least 1 and always a power of two
func (m *MemoryProperties) Granularity() int {
	return m.granularity
}

// CalculateGlobalMemoryTypeBits returns a mask with one bit set for every memory type the backend reports
func (m *MemoryProperties) CalculateGlobalMemoryTypeBits() uint32 {
	var typeBits uint32

	for memoryTypeIndex := 0; memoryTypeIndex < len(m.memoryTypes); memoryTypeIndex++ {
		typeBits |= 1 << memoryTypeIndex
	}

	return typeBits
}

func (m *MemoryProperties) heapMaximum(heapIndex int) int {
	limit := m.heapLimits[heapIndex]
	heapSize := m.memoryHeaps[heapIndex].Size

	if limit <= 0 {
		if heapSize <= 0 {
			return math.MaxInt
		}
		return heapSize
	}

	if heapSize > 0 && heapSize < limit {
		return heapSize
	}
	return limit
}

func (m *MemoryProperties) addBlockAllocationWithBudget(heapIndex, size, maxAllocatable int) error {
	counters := &m.heaps[heapIndex]
	for {
		currentVal := atomic.LoadInt64(&counters.blockBytes)
		targetVal := currentVal + int64(size)

		if targetVal > int64(maxAllocatable) {
			return errors.Wrapf(ErrHeapLimit, "heap %d holds %d bytes, a %d byte block would pass the limit of %d", heapIndex, currentVal, size, maxAllocatable)
		}

		if atomic.CompareAndSwapInt64(&counters.blockBytes, currentVal, targetVal) {
			break
		}
	}

	atomic.AddInt32(&counters.blockCount, 1)
	return nil
}

func (m *MemoryProperties) removeBlockAllocation(heapIndex, size int) {
	counters := &m.heaps[heapIndex]
	newVal := atomic.AddInt64(&counters.blockBytes, int64(-size))
	if newVal < 0 {
		panic(fmt.Sprintf("block bytes for heapIndex %d went negative", heapIndex))
	}

	newCountVal := atomic.AddInt32(&counters.blockCount, -1)
	if newCountVal < 0 {
		panic(fmt.Sprintf("block count for heapIndex %d went negative", heapIndex))
	}
}

// CreateBlock checks the block count and heap limits and then asks the backend for a new block.
// Limit errors wrap ErrTooManyBlocks or ErrHeapLimit; backend errors are returned unchanged.
// Nothing is counted when an error is returned.
func (m *MemoryProperties) CreateBlock(memoryTypeIndex int, size int) (block backend.BlockHandle, err error) {
	newDeviceCount := atomic.AddUint32(&m.memoryCount, 1)
	defer func() {
		// If we failed out, roll back the block count
		if err != nil {
			atomic.AddUint32(&m.memoryCount, ^uint32(0))
		}
	}()

	if m.maxBlockCount > 0 && int(newDeviceCount) > m.maxBlockCount {
		return nil, errors.Wrapf(ErrTooManyBlocks, "limit is %d", m.maxBlockCount)
	}

	heapIndex := m.MemoryTypeIndexToHeapIndex(memoryTypeIndex)
	err = m.addBlockAllocationWithBudget(heapIndex, size, m.heapMaximum(heapIndex))
	if err != nil {
		return nil, err
	}
	defer func() {
		// If we failed out, roll back the heap usage
		if err != nil {
			m.removeBlockAllocation(heapIndex, size)
		}
	}()

	block, err = m.backend.CreateMemoryBlock(memoryTypeIndex, size)
	if err != nil {
		return nil, err
	}

	if m.memoryCallbacks != nil {
		m.memoryCallbacks.Allocate(memoryTypeIndex, block, size)
	}

	return block, nil
}

func (m *MemoryProperties) DestroyBlock(memoryTypeIndex int, size int, block backend.BlockHandle) {
	if m.memoryCallbacks != nil {
		m.memoryCallbacks.Free(memoryTypeIndex, block, size)
	}

	m.backend.DestroyMemoryBlock(block)

	heapIndex := m.MemoryTypeIndexToHeapIndex(memoryTypeIndex)
	m.removeBlockAllocation(heapIndex, size)
	// Decrement
	atomic.AddUint32(&m.memoryCount, ^uint32(0))
}

func (m *MemoryProperties) AddAllocation(heapIndex int, size int) {
	counters := &m.heaps[heapIndex]
	atomic.AddInt64(&counters.allocationBytes, int64(size))
	atomic.AddInt32(&counters.allocationCount, 1)
}

func (m *MemoryProperties) RemoveAllocation(heapIndex int, size int) {
	counters := &m.heaps[heapIndex]
	newSizeVal := atomic.AddInt64(&counters.allocationBytes, int64(-size))
	if newSizeVal < 0 {
		panic(fmt.Sprintf("allocation bytes for heapIndex %d went negative", heapIndex))
	}

	newCountVal := atomic.AddInt32(&counters.allocationCount, -1)
	if newCountVal < 0 {
		panic(fmt.Sprintf("allocation count for heapIndex %d went negative", heapIndex))
	}
}

// HeapStatistics reports the current usage of one heap
func (m *MemoryProperties) HeapStatistics(heapIndex int) memutils.Statistics {
	counters := &m.heaps[heapIndex]
	return memutils.Statistics{
		BlockCount:      int(atomic.LoadInt32(&counters.blockCount)),
		AllocationCount: int(atomic.LoadInt32(&counters.allocationCount)),
		BlockBytes:      int(atomic.LoadInt64(&counters.blockBytes)),
		AllocationBytes: int(atomic.LoadInt64(&counters.allocationBytes)),
	}
}

// BlockCount is the number of live blocks across all heaps
func (m *MemoryProperties) BlockCount() int {
	return int(atomic.LoadUint32(&m.memoryCount))
}
