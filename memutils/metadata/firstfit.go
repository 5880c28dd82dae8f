package metadata

import (
	"cmp"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/arsenal/batchmem/memutils"
	"golang.org/x/exp/slices"
)

type firstFitRange struct {
	offset    int
	size      int
	allocType uint32
	userData  any
	handle    BlockAllocationHandle
}

func (r *firstFitRange) end() int {
	return r.offset + r.size
}

// FirstFitBlockMetadata keeps live ranges in a slice sorted by offset. Free space is the set of gaps
// between live ranges, so freeing a range coalesces with its free neighbors without any extra work.
//
// Placement is deterministic: for the same sequence of requests, commits and frees the same offsets
// will always be produced.
type FirstFitBlockMetadata struct {
	BlockMetadataBase

	ranges      []*firstFitRange
	sumFreeSize int

	nextAllocationHandle BlockAllocationHandle
	handleKey            *swiss.Map[BlockAllocationHandle, *firstFitRange]
}

var _ BlockMetadata = &FirstFitBlockMetadata{}

func NewFirstFitBlockMetadata(allocationGranularity int, granularityHandler GranularityCheck) *FirstFitBlockMetadata {
	return &FirstFitBlockMetadata{
		BlockMetadataBase: NewBlockMetadata(allocationGranularity, granularityHandler),
	}
}

func (m *FirstFitBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
	m.handleKey = swiss.NewMap[BlockAllocationHandle, *firstFitRange](42)
	m.ranges = nil
	m.sumFreeSize = size
}

func (m *FirstFitBlockMetadata) getRange(handle BlockAllocationHandle) (*firstFitRange, error) {
	r, ok := m.handleKey.Get(handle)
	if !ok {
		return nil, errors.New("received a handle that was incompatible with this metadata")
	}
	return r, nil
}

// searchOffset returns the index of the first live range whose offset is >= offset
func (m *FirstFitBlockMetadata) searchOffset(offset int) int {
	index, _ := slices.BinarySearchFunc(m.ranges, offset, func(r *firstFitRange, target int) int {
		return cmp.Compare(r.offset, target)
	})
	return index
}

// gapBefore returns the bounds of the free region that directly precedes the range at index. Passing
// len(m.ranges) returns the region at the tail of the block.
func (m *FirstFitBlockMetadata) gapBefore(index int) (int, int) {
	start := 0
	if index > 0 {
		start = m.ranges[index-1].end()
	}

	end := m.size
	if index < len(m.ranges) {
		end = m.ranges[index].offset
	}

	return start, end
}

func (m *FirstFitBlockMetadata) Validate() error {
	if m.sumFreeSize > m.size || m.sumFreeSize < 0 {
		return errors.Errorf("invalid metadata free size %d for a block of size %d", m.sumFreeSize, m.size)
	}

	if m.handleKey.Count() != len(m.ranges) {
		return errors.Errorf("the handle table holds %d ranges, but the offset list holds %d", m.handleKey.Count(), len(m.ranges))
	}

	validateCtx := m.granularityHandler.StartValidation()
	calculatedFreeSize := 0
	nextOffset := 0

	for _, r := range m.ranges {
		if r.size < 1 {
			return errors.Errorf("range at offset %d has invalid size %d", r.offset, r.size)
		}

		if r.offset < nextOffset {
			return errors.Errorf("range at offset %d overlaps the range before it, which ends at %d", r.offset, nextOffset)
		}

		calculatedFreeSize += r.offset - nextOffset
		nextOffset = r.end()

		keyed, ok := m.handleKey.Get(r.handle)
		if !ok || keyed != r {
			return errors.Errorf("range at offset %d is not registered under its handle %d", r.offset, r.handle)
		}

		err := m.granularityHandler.Validate(validateCtx, r.offset, r.size)
		if err != nil {
			return err
		}
	}

	if nextOffset > m.size {
		return errors.Errorf("the last range ends at %d, past the end of the block at %d", nextOffset, m.size)
	}
	calculatedFreeSize += m.size - nextOffset

	if calculatedFreeSize != m.sumFreeSize {
		return errors.Errorf("the free size of the metadata is %d, but the free regions only added up to %d", m.sumFreeSize, calculatedFreeSize)
	}

	return m.granularityHandler.FinishValidation(validateCtx)
}

func (m *FirstFitBlockMetadata) AllocationCount() int {
	return len(m.ranges)
}

func (m *FirstFitBlockMetadata) FreeRegionsCount() int {
	count := 0
	for index := 0; index <= len(m.ranges); index++ {
		start, end := m.gapBefore(index)
		if end > start {
			count++
		}
	}
	return count
}

func (m *FirstFitBlockMetadata) SumFreeSize() int {
	return m.sumFreeSize
}

func (m *FirstFitBlockMetadata) IsEmpty() bool {
	return len(m.ranges) == 0
}

func (m *FirstFitBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	for index := 0; index <= len(m.ranges); index++ {
		start, end := m.gapBefore(index)
		if end > start {
			err := handleBlock(NoAllocation, start, end-start, nil, true)
			if err != nil {
				return err
			}
		}

		if index < len(m.ranges) {
			r := m.ranges[index]
			err := handleBlock(r.handle, r.offset, r.size, r.userData, false)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func (m *FirstFitBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	r, err := m.getRange(allocHandle)
	if err != nil {
		return 0, err
	}
	return r.offset, nil
}

func (m *FirstFitBlockMetadata) AllocationSize(allocHandle BlockAllocationHandle) (int, error) {
	r, err := m.getRange(allocHandle)
	if err != nil {
		return 0, err
	}
	return r.size, nil
}

func (m *FirstFitBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	r, err := m.getRange(allocHandle)
	if err != nil {
		return nil, err
	}
	return r.userData, nil
}

func (m *FirstFitBlockMetadata) SetAllocationUserData(allocHandle BlockAllocationHandle, userData any) error {
	r, err := m.getRange(allocHandle)
	if err != nil {
		return err
	}
	r.userData = userData
	return nil
}

func (m *FirstFitBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += m.size

	_ = m.VisitAllRegions(func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		if free {
			stats.AddUnusedRange(size)
		} else {
			stats.AddAllocation(size)
		}
		return nil
	})
}

func (m *FirstFitBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += len(m.ranges)
	stats.BlockBytes += m.size
	stats.AllocationBytes += m.size - m.sumFreeSize
}

func (m *FirstFitBlockMetadata) Clear() {
	m.ranges = nil
	m.sumFreeSize = m.size
	m.handleKey = swiss.NewMap[BlockAllocationHandle, *firstFitRange](42)
	m.granularityHandler.Clear()
}

func (m *FirstFitBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	m.blockJsonData(json, m.sumFreeSize, len(m.ranges), m.FreeRegionsCount())
}

func (m *FirstFitBlockMetadata) CreateAllocationRequest(
	allocSize int, allocAlignment uint,
	allocType uint32,
	strategy AllocationStrategy,
) (bool, AllocationRequest, error) {
	if allocSize < 1 {
		return false, AllocationRequest{}, errors.Errorf("invalid allocation size %d", allocSize)
	}

	if allocSize > m.sumFreeSize {
		return false, AllocationRequest{}, nil
	}

	bestFit := strategy&AllocationStrategyMinMemory != 0
	found := false
	var bestOffset, bestRegionSize, bestIndex int

	for index := 0; index <= len(m.ranges); index++ {
		start, end := m.gapBefore(index)
		offset, fits := m.fitInRegion(start, end, allocSize, allocAlignment, allocType)
		if !fits {
			continue
		}

		if !found || end-start < bestRegionSize {
			found = true
			bestOffset = offset
			bestRegionSize = end - start
			bestIndex = index
		}

		if !bestFit {
			break
		}
	}

	if !found {
		return false, AllocationRequest{}, nil
	}

	requestType := AllocationRequestFirstFit
	if bestFit {
		requestType = AllocationRequestBestFit
	}

	return true, AllocationRequest{
		BlockAllocationHandle: NoAllocation,
		Size:                  allocSize,
		Item: Suballocation{
			Offset: bestOffset,
			Size:   allocSize,
			Type:   allocType,
		},
		Type:          requestType,
		AllocType:     allocType,
		AlgorithmData: uint64(bestIndex),
	}, nil
}

func (m *FirstFitBlockMetadata) fitInRegion(regionStart, regionEnd, allocSize int, allocAlignment uint, allocType uint32) (int, bool) {
	if regionEnd-regionStart < allocSize {
		return 0, false
	}

	offset := memutils.AlignUp(regionStart, allocAlignment)
	for offset+allocSize <= regionEnd {
		granularOffset, conflict := m.granularityHandler.CheckConflictAndAlignUp(offset, allocSize, regionStart, regionEnd-regionStart, allocType)
		if conflict {
			return 0, false
		}

		if granularOffset == offset {
			return offset, true
		}

		offset = memutils.AlignUp(granularOffset, allocAlignment)
	}

	return 0, false
}

func (m *FirstFitBlockMetadata) Alloc(request AllocationRequest, allocType uint32, userData any) (BlockAllocationHandle, error) {
	offset := request.Item.Offset
	size := request.Size

	if size < 1 || offset < 0 || offset+size > m.size {
		return NoAllocation, errors.Errorf("range [%d, %d) does not fit in a block of size %d", offset, offset+size, m.size)
	}

	index := m.searchOffset(offset)
	start, end := m.gapBefore(index)
	if offset < start || offset+size > end {
		return NoAllocation, errors.Wrapf(memutils.OverlapError, "range [%d, %d) is not inside the free region [%d, %d)", offset, offset+size, start, end)
	}

	m.nextAllocationHandle++
	r := &firstFitRange{
		offset:    offset,
		size:      size,
		allocType: allocType,
		userData:  userData,
		handle:    m.nextAllocationHandle,
	}

	m.ranges = slices.Insert(m.ranges, index, r)
	m.handleKey.Put(r.handle, r)
	m.sumFreeSize -= size
	m.granularityHandler.AllocPages(allocType, offset, size)

	return r.handle, nil
}

func (m *FirstFitBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	r, err := m.getRange(allocHandle)
	if err != nil {
		return err
	}

	index := m.searchOffset(r.offset)
	if index >= len(m.ranges) || m.ranges[index] != r {
		return errors.Errorf("range at offset %d is registered but missing from the offset list", r.offset)
	}

	m.ranges = slices.Delete(m.ranges, index, index+1)
	m.handleKey.Delete(allocHandle)
	m.sumFreeSize += r.size
	m.granularityHandler.FreePages(r.offset, r.size)

	return nil
}
