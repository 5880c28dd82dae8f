package batchmem

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/batchmem/backend"
	"github.com/vkngwrapper/arsenal/batchmem/memutils/metadata"
)

type entryState byte

const (
	entryStateFree entryState = iota
	entryStatePending
	entryStateBound
)

var entryStateMapping = map[entryState]string{
	entryStateFree:    "entryStateFree",
	entryStatePending: "entryStatePending",
	entryStateBound:   "entryStateBound",
}

func (s entryState) String() string {
	return entryStateMapping[s]
}

// entryID names one slot in the allocator's entry arena. The generation changes every time the slot
// is freed or relocated, so an old entryID can never reach whatever occupies the slot next.
type entryID struct {
	index      uint32
	generation uint32
}

func (id entryID) String() string {
	return fmt.Sprintf("%d:%d", id.index, id.generation)
}

type blockData struct {
	handle metadata.BlockAllocationHandle
	block  *MemoryBlock
}

type entrySlot struct {
	generation uint32
	state      entryState

	// Set while pending
	requirement *requirement

	// Set while bound
	blockData blockData
	offset    int
	size      int
	kind      Kind
	resource  any
}

func (s *entrySlot) bind(block *MemoryBlock, handle metadata.BlockAllocationHandle, offset int, req *requirement) {
	if s.state != entryStatePending {
		panic(fmt.Sprintf("attempting to bind an entry in state %s", s.state))
	}

	s.state = entryStateBound
	s.requirement = nil
	s.blockData = blockData{handle: handle, block: block}
	s.offset = offset
	s.size = req.size
	s.kind = req.kind
	s.resource = req.resource
}

type entryArena struct {
	slots     []entrySlot
	freeSlots []uint32
}

func (a *entryArena) acquire() entryID {
	if len(a.freeSlots) > 0 {
		index := a.freeSlots[len(a.freeSlots)-1]
		a.freeSlots = a.freeSlots[:len(a.freeSlots)-1]
		return entryID{index: index, generation: a.slots[index].generation}
	}

	a.slots = append(a.slots, entrySlot{})
	return entryID{index: uint32(len(a.slots) - 1)}
}

// get returns the live slot named by id. The pointer is only valid until the next acquire.
func (a *entryArena) get(id entryID) (*entrySlot, error) {
	if int(id.index) >= len(a.slots) {
		return nil, errors.Wrapf(ErrStaleEntry, "entry %s was never issued", id)
	}

	slot := &a.slots[id.index]
	if slot.generation != id.generation || slot.state == entryStateFree {
		return nil, errors.Wrapf(ErrStaleEntry, "entry %s", id)
	}

	return slot, nil
}

// release empties the slot and makes it available to acquire
func (a *entryArena) release(id entryID) {
	slot := &a.slots[id.index]
	*slot = entrySlot{generation: slot.generation + 1}
	a.freeSlots = append(a.freeSlots, id.index)
}

// rename issues a new id for the slot's contents, invalidating the old one
func (a *entryArena) rename(id entryID) entryID {
	slot := &a.slots[id.index]
	slot.generation++
	return entryID{index: id.index, generation: slot.generation}
}

func (a *entryArena) liveCount() int {
	return len(a.slots) - len(a.freeSlots)
}

// Entry is the caller's handle to one memory request. It is pending until the allocator places it in
// a block and bound from then on. Entry is a small value: copies share the same underlying state, and
// after Free, Cancel or a Relocate away from it every copy reports ErrStaleEntry.
type Entry struct {
	allocator *Allocator
	id        entryID
}

func (e Entry) slot() (*entrySlot, error) {
	if e.allocator == nil {
		return nil, errors.Wrap(ErrStaleEntry, "entry was not issued by an allocator")
	}
	if e.allocator.destroyed {
		return nil, ErrAllocatorDestroyed
	}

	return e.allocator.entries.get(e.id)
}

// Allocator returns the allocator that issued this entry, or nil for the zero Entry
func (e Entry) Allocator() *Allocator {
	return e.allocator
}

func (e Entry) state() entryState {
	if e.allocator == nil {
		return entryStateFree
	}

	e.allocator.mutex.Lock()
	defer e.allocator.mutex.Unlock()

	slot, err := e.slot()
	if err != nil {
		return entryStateFree
	}
	return slot.state
}

// IsBound reports whether the entry's memory has been placed in a block
func (e Entry) IsBound() bool {
	return e.state() == entryStateBound
}

// IsPending reports whether the entry is still waiting for a block
func (e Entry) IsPending() bool {
	return e.state() == entryStatePending
}

// IsValid reports whether the entry is pending or bound
func (e Entry) IsValid() bool {
	return e.state() != entryStateFree
}

// BlockAndOffset returns the backend block and offset that hold the entry's memory
func (e Entry) BlockAndOffset() (backend.BlockHandle, int, error) {
	block, offset, err := e.boundLocation()
	if err != nil {
		return nil, 0, err
	}

	return block.Handle(), offset, nil
}

// Block returns the block holding the entry's memory, or nil if the entry is not bound
func (e Entry) Block() *MemoryBlock {
	block, _, err := e.boundLocation()
	if err != nil {
		return nil
	}
	return block
}

func (e Entry) boundLocation() (*MemoryBlock, int, error) {
	if e.allocator == nil {
		return nil, 0, errors.Wrap(ErrStaleEntry, "entry was not issued by an allocator")
	}

	e.allocator.mutex.Lock()
	defer e.allocator.mutex.Unlock()

	slot, err := e.slot()
	if err != nil {
		return nil, 0, err
	}

	if slot.state != entryStateBound {
		return nil, 0, errors.Wrapf(ErrEntryNotBound, "entry %s", e.id)
	}

	return slot.blockData.block, slot.offset, nil
}

// Size is the size of the committed range, or 0 if the entry is not bound
func (e Entry) Size() int {
	if e.allocator == nil {
		return 0
	}

	e.allocator.mutex.Lock()
	defer e.allocator.mutex.Unlock()

	slot, err := e.slot()
	if err != nil || slot.state != entryStateBound {
		return 0
	}
	return slot.size
}

// Kind is the kind the entry was requested with
func (e Entry) Kind() Kind {
	if e.allocator == nil {
		return kindFree
	}

	e.allocator.mutex.Lock()
	defer e.allocator.mutex.Unlock()

	slot, err := e.slot()
	if err != nil {
		return kindFree
	}

	if slot.state == entryStatePending {
		return slot.requirement.kind
	}
	return slot.kind
}

// Mappable reports whether the entry is bound to host visible memory
func (e Entry) Mappable() bool {
	block := e.Block()
	return block != nil && block.Mappable()
}

// Map maps the entry's range for host access. The returned mapping must be unmapped by the caller.
func (e Entry) Map() (*MemoryMapping, error) {
	block, offset, err := e.boundLocation()
	if err != nil {
		return nil, err
	}

	return block.Map(offset, e.Size())
}

// Write copies data into the entry's memory at the provided offset within the entry's range
func (e Entry) Write(offset int, data []byte) error {
	mapping, err := e.Map()
	if err != nil {
		return err
	}
	defer mapping.Unmap()

	if offset < 0 || offset+len(data) > mapping.Size() {
		return errors.Newf("cannot write %d bytes at offset %d of an entry of size %d", len(data), offset, mapping.Size())
	}

	copy(mapping.Bytes()[offset:], data)
	return nil
}

// Free releases the entry. A pending entry's requirement is cancelled; a bound entry's range is
// returned to its block. The entry and all copies of it become stale.
func (e Entry) Free() error {
	if e.allocator == nil {
		return errors.Wrap(ErrStaleEntry, "entry was not issued by an allocator")
	}

	return e.allocator.free(e)
}
