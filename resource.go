package batchmem

import (
	"github.com/cockroachdb/errors"
)

// MemoryResource gives a buffer or image wrapper lazily bound memory. Embed it in the wrapper,
// call InitMemory once the resource's requirements are known, and call EnsureMemory before the
// resource is first used by the device.
type MemoryResource struct {
	entry Entry
}

// InitMemory requests memory for the resource from allocator. The resource must not already hold an entry.
func (r *MemoryResource) InitMemory(allocator *Allocator, info RequestInfo) error {
	if r.entry.allocator != nil {
		return errors.New("memory resource already holds a memory entry")
	}

	entry, err := allocator.Request(info)
	if err != nil {
		return err
	}

	r.entry = entry
	return nil
}

// EnsureMemory binds the resource's memory if it is still pending. It returns true once the memory
// is bound.
func (r *MemoryResource) EnsureMemory() (bool, error) {
	if r.entry.allocator == nil {
		return false, errors.Wrap(ErrStaleEntry, "memory resource has no memory entry")
	}

	_, err := r.entry.allocator.AllocateOne(r.entry)
	if err != nil {
		return false, err
	}

	return true, nil
}

// MemoryMap binds the resource's memory if needed and maps it for host access
func (r *MemoryResource) MemoryMap() (*MemoryMapping, error) {
	_, err := r.EnsureMemory()
	if err != nil {
		return nil, err
	}

	return r.entry.Map()
}

// Mappable reports whether the resource is bound to host visible memory
func (r *MemoryResource) Mappable() bool {
	return r.entry.Mappable()
}

// MemorySize is the size of the resource's bound range, or 0 while it is pending
func (r *MemoryResource) MemorySize() int {
	return r.entry.Size()
}

func (r *MemoryResource) MemoryEntry() *Entry {
	return &r.entry
}

// MoveTo transfers the resource's memory entry to dst, which must not hold one
func (r *MemoryResource) MoveTo(dst *MemoryResource) error {
	if dst.entry.allocator != nil {
		return errors.New("destination memory resource already holds a memory entry")
	}
	if r.entry.allocator == nil {
		return errors.Wrap(ErrStaleEntry, "memory resource has no memory entry")
	}

	return r.entry.allocator.Relocate(&dst.entry, &r.entry)
}

// Release frees the resource's memory entry, whether pending or bound
func (r *MemoryResource) Release() error {
	if r.entry.allocator == nil {
		return nil
	}

	err := r.entry.Free()
	r.entry = Entry{}
	return err
}
