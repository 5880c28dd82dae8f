package batchmem

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/batchmem/internal/device"
)

var (
	// ErrInvalidRequirement is returned from Allocator.Request for a zero size, a negative alignment,
	// an unknown Kind or a memory type mask that selects no memory type the backend reports
	ErrInvalidRequirement = errors.New("invalid memory requirement")
	// ErrNoCompatibleType indicates type selection could not place a pending requirement. It is an
	// internal fault and should never be seen.
	ErrNoCompatibleType = errors.New("no compatible memory type remains for requirement")
	// ErrNotMappable is returned when mapping memory whose type is not host visible
	ErrNotMappable = errors.New("memory is not host visible")
	// ErrBackendFailure marks every error that originated in the backend or in backend limits. It is
	// attached as a cockroachdb/errors mark, so test for it with that package's errors.Is.
	ErrBackendFailure = errors.New("memory backend failure")
	// ErrStaleEntry is returned when an Entry has been freed or relocated, or was never issued
	ErrStaleEntry = errors.New("stale memory entry")
	// ErrEntryNotPending is returned from Allocator.Cancel for an entry that is already bound
	ErrEntryNotPending = errors.New("memory entry is not pending")
	// ErrEntryNotBound is returned when asking a pending entry for its block or mapping
	ErrEntryNotBound = errors.New("memory entry is not bound")
	// ErrAllocatorDestroyed is returned from every operation on an allocator after Destroy
	ErrAllocatorDestroyed = errors.New("allocator has been destroyed")

	ErrTooManyBlocks = device.ErrTooManyBlocks
	ErrHeapLimit     = device.ErrHeapLimit
)

func backendFailure(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrBackendFailure)
}
