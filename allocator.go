package batchmem

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arsenal/batchmem/internal/device"
	"github.com/vkngwrapper/arsenal/batchmem/internal/utils"
	"github.com/vkngwrapper/arsenal/batchmem/memutils"
	"github.com/vkngwrapper/arsenal/batchmem/memutils/metadata"
)

// RequestInfo describes the memory a resource needs, as reported by the backend's graphics API
type RequestInfo struct {
	// Size in bytes. Must be greater than 0.
	Size int
	// Alignment of the range's offset. 0 is treated as 1. Powers of two are not required.
	Alignment int
	// MemoryTypeBits has one bit set for every memory type the resource can live in
	MemoryTypeBits uint32
	Kind           Kind
	// Resource is passed unchanged to the backend's BindResource when the entry is bound
	Resource any
}

// Allocator defers memory requests until they are needed and then places as many of them as it can
// into a single exactly-sized block per memory type.
type Allocator struct {
	logger   *slog.Logger
	mutex    utils.OptionalMutex
	flags    CreateFlags
	strategy metadata.AllocationStrategy

	deviceMemory         *device.MemoryProperties
	memoryCallbacks      memoryCallbacks
	globalMemoryTypeBits uint32

	ledger      requirementLedger
	entries     entryArena
	blocks      []*MemoryBlock
	nextBlockID int
	destroyed   bool
}

// Request records a resource's memory requirement and returns its pending Entry. No memory is created.
func (a *Allocator) Request(info RequestInfo) (Entry, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		return Entry{}, ErrAllocatorDestroyed
	}

	if info.Size < 1 {
		return Entry{}, errors.Wrapf(ErrInvalidRequirement, "size %d", info.Size)
	}
	if info.Alignment < 0 {
		return Entry{}, errors.Wrapf(ErrInvalidRequirement, "alignment %d", info.Alignment)
	}
	if !info.Kind.valid() {
		return Entry{}, errors.Wrapf(ErrInvalidRequirement, "kind %d", uint32(info.Kind))
	}

	typeBits := info.MemoryTypeBits & a.globalMemoryTypeBits
	if typeBits == 0 {
		return Entry{}, errors.Wrapf(ErrInvalidRequirement, "memory type bits %#x select none of the backend's memory types %#x", info.MemoryTypeBits, a.globalMemoryTypeBits)
	}

	alignment := info.Alignment
	if alignment == 0 {
		alignment = 1
	}

	id := a.entries.acquire()
	req := &requirement{
		size:      info.Size,
		alignment: alignment,
		typeBits:  typeBits,
		kind:      info.Kind,
		resource:  info.Resource,
		entry:     id,
	}

	slot := &a.entries.slots[id.index]
	slot.state = entryStatePending
	slot.requirement = req
	a.ledger.push(req)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::Request",
		slog.String("entry", id.String()),
		slog.Int("size", info.Size),
		slog.Int("alignment", alignment),
		slog.String("typeBits", fmt.Sprintf("%#x", typeBits)),
		slog.String("kind", info.Kind.String()),
	)

	return Entry{allocator: a, id: id}, nil
}

// Cancel withdraws a pending entry's requirement. The entry becomes stale. Cancelling an entry that
// is already bound fails with ErrEntryNotPending.
func (a *Allocator) Cancel(entry Entry) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	slot, err := a.liveSlot(entry)
	if err != nil {
		return err
	}

	if slot.state != entryStatePending {
		return errors.Wrapf(ErrEntryNotPending, "entry %s", entry.id)
	}

	a.cancel(entry.id, slot)
	return nil
}

func (a *Allocator) cancel(id entryID, slot *entrySlot) {
	if !a.ledger.remove(slot.requirement) {
		panic(fmt.Sprintf("pending entry %s has no requirement in the ledger", id))
	}
	a.entries.release(id)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::Cancel", slog.String("entry", id.String()))
}

func (a *Allocator) free(entry Entry) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	slot, err := a.liveSlot(entry)
	if err != nil {
		return err
	}

	return a.release(entry.id, slot)
}

// release cancels a pending slot or returns a bound slot's range to its block
func (a *Allocator) release(id entryID, slot *entrySlot) error {
	if slot.state == entryStatePending {
		a.cancel(id, slot)
		return nil
	}

	err := slot.blockData.block.release(slot.blockData.handle)
	if err != nil {
		return err
	}
	a.entries.release(id)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::Free", slog.String("entry", id.String()))
	return nil
}

func (a *Allocator) liveSlot(entry Entry) (*entrySlot, error) {
	if a.destroyed {
		return nil, ErrAllocatorDestroyed
	}
	if entry.allocator != a {
		return nil, errors.Wrapf(ErrStaleEntry, "entry %s was issued by a different allocator", entry.id)
	}

	return a.entries.get(entry.id)
}

// Relocate moves the entry in src to dst. Afterward dst refers to the same pending requirement or bound
// range src did, src is the zero Entry, and every other copy of the old entry is stale.
//
// A live entry already held by dst is freed first. dst may not hold a live entry from another allocator.
func (a *Allocator) Relocate(dst, src *Entry) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	slot, err := a.liveSlot(*src)
	if err != nil {
		return err
	}

	if dst == src {
		return nil
	}

	if dst.allocator != nil && dst.allocator != a && dst.IsValid() {
		return errors.Wrapf(ErrStaleEntry, "destination entry %s was issued by a different allocator", dst.id)
	}

	if dst.allocator == a && dst.id != src.id {
		dstSlot, err := a.entries.get(dst.id)
		if err == nil {
			err = a.release(dst.id, dstSlot)
			if err != nil {
				return err
			}
		}
	}

	newID := a.entries.rename(src.id)
	switch slot.state {
	case entryStatePending:
		slot.requirement.entry = newID
	case entryStateBound:
		err = slot.blockData.block.metadata.SetAllocationUserData(slot.blockData.handle, newID)
		if err != nil {
			panic(errors.Wrapf(err, "bound entry %s has no range in block %d", src.id, slot.blockData.block.id))
		}
	}

	*dst = Entry{allocator: a, id: newID}
	*src = Entry{}

	return nil
}

// AllocateOne makes sure one entry is bound. It first looks for room in existing blocks of a
// compatible type. If there is none, it creates a block for the memory type the most other pending
// requirements can use and packs all of those requirements into it along with this one.
//
// Returns false if the entry was not pending.
func (a *Allocator) AllocateOne(entry Entry) (bool, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	slot, err := a.liveSlot(entry)
	if err != nil {
		return false, err
	}

	if slot.state != entryStatePending {
		return false, nil
	}
	req := slot.requirement

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::AllocateOne",
		slog.String("entry", entry.id.String()),
		slog.Int("pending", a.ledger.Len()),
	)

	for _, block := range a.blocks {
		if !req.supportsType(block.memoryTypeIndex) {
			continue
		}

		offset, ok := block.Allocatable(req.size, req.alignment, req.kind)
		if !ok {
			continue
		}

		err = a.deviceMemory.Backend().BindResource(req.resource, block.handle, offset)
		if err != nil {
			return false, backendFailure(err, "failed to bind entry %s at offset %d of block %d", entry.id, offset, block.id)
		}

		a.bindEntry(block, offset, req)
		a.ledger.remove(req)
		return true, nil
	}

	memoryTypeIndex := a.findBestType(req)
	batch := a.ledger.compatibleWith(memoryTypeIndex)

	err = a.packBatch(memoryTypeIndex, batch)
	if err != nil {
		return false, err
	}
	a.ledger.removeAll(batch)

	return true, nil
}

// findBestType returns the memory type supported by req that the most other pending requirements
// also support, preferring the lowest index on ties
func (a *Allocator) findBestType(req *requirement) int {
	bestType := -1
	bestCount := -1

	for memoryTypeIndex := 0; memoryTypeIndex < device.MaxMemoryTypes; memoryTypeIndex++ {
		if !req.supportsType(memoryTypeIndex) {
			continue
		}

		count := a.ledger.countSupporting(memoryTypeIndex, req)
		if count > bestCount {
			bestCount = count
			bestType = memoryTypeIndex
		}
	}

	return bestType
}

// AllocateAll binds every pending entry, creating at most one block per memory type
func (a *Allocator) AllocateAll() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		return ErrAllocatorDestroyed
	}

	return a.allocateAll()
}

func (a *Allocator) allocateAll() error {
	if a.ledger.Len() == 0 {
		return nil
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::AllocateAll", slog.Int("pending", a.ledger.Len()))

	batches, err := selectTypes(a.ledger.requirements)
	if err != nil {
		return err
	}

	for _, batch := range batches {
		err = a.packBatch(batch.memoryTypeIndex, batch.requirements)
		if err != nil {
			return err
		}
		a.ledger.removeAll(batch.requirements)
	}

	return nil
}

func (a *Allocator) createBlock(memoryTypeIndex int, size int) (*MemoryBlock, error) {
	handle, err := a.deviceMemory.CreateBlock(memoryTypeIndex, size)
	if err != nil {
		return nil, backendFailure(err, "failed to create a block of %d bytes in memory type %d", size, memoryTypeIndex)
	}

	block := &MemoryBlock{}
	block.init(
		a.logger,
		a.deviceMemory,
		memoryTypeIndex,
		handle,
		size,
		a.nextBlockID,
		a.strategy,
		a.mutex.UseMutex,
	)
	a.nextBlockID++
	a.blocks = append(a.blocks, block)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::createBlock",
		slog.Int("block", block.id),
		slog.Int("memoryTypeIndex", memoryTypeIndex),
		slog.Int("size", size),
	)

	return block, nil
}

func (a *Allocator) destroyBlock(block *MemoryBlock) error {
	for index, candidate := range a.blocks {
		if candidate == block {
			a.blocks = append(a.blocks[:index], a.blocks[index+1:]...)
			break
		}
	}

	return block.destroy()
}

// Destroy binds every entry that is still pending and then returns all blocks to the backend. Every
// entry issued by the allocator should have been freed first. Ranges still in use are logged and
// reported in the returned error, but their blocks are destroyed anyway.
func (a *Allocator) Destroy() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		return ErrAllocatorDestroyed
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::Destroy",
		slog.Int("pending", a.ledger.Len()),
		slog.Int("blocks", len(a.blocks)),
	)

	err := a.allocateAll()
	for _, block := range a.blocks {
		err = errors.CombineErrors(err, block.destroy())
	}

	a.blocks = nil
	a.destroyed = true
	return err
}

// Blocks returns the allocator's live blocks in creation order
func (a *Allocator) Blocks() []*MemoryBlock {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	blocks := make([]*MemoryBlock, len(a.blocks))
	copy(blocks, a.blocks)
	return blocks
}

// PendingCount is the number of entries waiting for a block
func (a *Allocator) PendingCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.ledger.Len()
}

// HeapStatistics reports block and allocation usage for each backend heap
func (a *Allocator) HeapStatistics() ([]memutils.Statistics, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		return nil, ErrAllocatorDestroyed
	}

	stats := make([]memutils.Statistics, a.deviceMemory.MemoryHeapCount())
	for heapIndex := range stats {
		stats[heapIndex] = a.deviceMemory.HeapStatistics(heapIndex)
	}
	return stats, nil
}

// AllocatorStatistics is the allocator's usage summed per memory type, per heap and in total
type AllocatorStatistics struct {
	MemoryTypes []memutils.DetailedStatistics
	MemoryHeaps []memutils.DetailedStatistics
	Total       memutils.DetailedStatistics
}

// CalculateStatistics walks every block and reports detailed usage
func (a *Allocator) CalculateStatistics(stats *AllocatorStatistics) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		return ErrAllocatorDestroyed
	}

	a.calculateStatistics(stats)
	return nil
}

func (a *Allocator) calculateStatistics(stats *AllocatorStatistics) {
	stats.Total.Clear()
	stats.MemoryTypes = make([]memutils.DetailedStatistics, a.deviceMemory.MemoryTypeCount())
	stats.MemoryHeaps = make([]memutils.DetailedStatistics, a.deviceMemory.MemoryHeapCount())
	for index := range stats.MemoryTypes {
		stats.MemoryTypes[index].Clear()
	}
	for index := range stats.MemoryHeaps {
		stats.MemoryHeaps[index].Clear()
	}

	for _, block := range a.blocks {
		block.AddDetailedStatistics(&stats.MemoryTypes[block.memoryTypeIndex])
	}

	for memoryTypeIndex := range stats.MemoryTypes {
		heapIndex := a.deviceMemory.MemoryTypeIndexToHeapIndex(memoryTypeIndex)
		stats.MemoryHeaps[heapIndex].AddDetailedStatistics(&stats.MemoryTypes[memoryTypeIndex])
	}

	for heapIndex := range stats.MemoryHeaps {
		stats.Total.AddDetailedStatistics(&stats.MemoryHeaps[heapIndex])
	}
}

// BuildStatsString produces a JSON document describing the allocator's heaps, memory types and blocks.
// With detailed set, every block's committed and free ranges are included.
func (a *Allocator) BuildStatsString(detailed bool) (string, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		return "", ErrAllocatorDestroyed
	}

	var stats AllocatorStatistics
	a.calculateStatistics(&stats)

	writer := jwriter.NewWriter()
	rootObj := writer.Object()

	totalObj := rootObj.Name("Total").Object()
	stats.Total.PrintJson(&totalObj)
	totalObj.End()

	rootObj.Name("Pending").Int(a.ledger.Len())
	rootObj.Name("Blocks").Int(len(a.blocks))

	heapsObj := rootObj.Name("MemoryHeaps").Object()
	for heapIndex := 0; heapIndex < a.deviceMemory.MemoryHeapCount(); heapIndex++ {
		heapObj := heapsObj.Name(fmt.Sprintf("Heap %d", heapIndex)).Object()
		heapObj.Name("Size").Int(a.deviceMemory.Backend().MemoryHeaps()[heapIndex].Size)

		statsObj := heapObj.Name("Stats").Object()
		stats.MemoryHeaps[heapIndex].PrintJson(&statsObj)
		statsObj.End()

		typesObj := heapObj.Name("MemoryTypes").Object()
		for memoryTypeIndex := 0; memoryTypeIndex < a.deviceMemory.MemoryTypeCount(); memoryTypeIndex++ {
			if a.deviceMemory.MemoryTypeIndexToHeapIndex(memoryTypeIndex) != heapIndex {
				continue
			}

			memoryType := a.deviceMemory.MemoryTypeProperties(memoryTypeIndex)
			typeObj := typesObj.Name(fmt.Sprintf("Type %d", memoryTypeIndex)).Object()
			typeObj.Name("Flags").String(memoryType.PropertyFlags.String())

			typeStatsObj := typeObj.Name("Stats").Object()
			stats.MemoryTypes[memoryTypeIndex].PrintJson(&typeStatsObj)
			typeStatsObj.End()

			if detailed {
				blocksObj := typeObj.Name("Blocks").Object()
				for _, block := range a.blocks {
					if block.memoryTypeIndex == memoryTypeIndex {
						block.printDetailedMap(&blocksObj)
					}
				}
				blocksObj.End()
			}

			typeObj.End()
		}
		typesObj.End()

		heapObj.End()
	}
	heapsObj.End()

	rootObj.End()

	return string(writer.Bytes()), nil
}

// Validate checks every block and confirms that the ledger, the entries and the blocks agree with
// one another
func (a *Allocator) Validate() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		return ErrAllocatorDestroyed
	}

	boundCount := 0
	for _, block := range a.blocks {
		err := block.Validate()
		if err != nil {
			return errors.Wrapf(err, "block %d", block.id)
		}

		err = block.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			if free {
				return nil
			}

			boundCount++
			id := userData.(entryID)
			slot, err := a.entries.get(id)
			if err != nil {
				return err
			}

			if slot.state != entryStateBound || slot.blockData.block != block || slot.blockData.handle != handle || slot.offset != offset || slot.size != size {
				return errors.Newf("entry %s does not match the range at offset %d", id, offset)
			}

			return nil
		})
		if err != nil {
			return errors.Wrapf(err, "block %d", block.id)
		}
	}

	for _, req := range a.ledger.requirements {
		slot, err := a.entries.get(req.entry)
		if err != nil {
			return errors.Wrap(err, "pending requirement")
		}

		if slot.state != entryStatePending || slot.requirement != req {
			return errors.Newf("entry %s does not match its pending requirement", req.entry)
		}
	}

	if live := a.entries.liveCount(); live != boundCount+a.ledger.Len() {
		return errors.Newf("%d entries are live, but %d are bound and %d are pending", live, boundCount, a.ledger.Len())
	}

	return nil
}
