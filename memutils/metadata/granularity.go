package metadata

// GranularityCheck is implemented by the memory system consuming BlockMetadata to keep resources of
// conflicting allocation types off of shared pages. allocType values are opaque to the metadata and
// are only passed back to the GranularityCheck.
type GranularityCheck interface {
	// AllocPages records a new live range of the provided type
	AllocPages(allocType uint32, offset, size int)
	// FreePages removes a live range previously passed to AllocPages
	FreePages(offset, size int)
	Clear()
	// CheckConflictAndAlignUp accepts a candidate offset inside a free region and returns an offset,
	// possibly pushed forward, at which the allocation would not share a page with a conflicting
	// live range. The boolean return is true if no such offset exists inside the free region.
	CheckConflictAndAlignUp(allocOffset, allocSize, regionOffset, regionSize int, allocType uint32) (int, bool)
	AllocationsConflict(firstAllocType uint32, secondAllocType uint32) bool

	StartValidation() any
	Validate(ctx any, offset, size int) error
	FinishValidation(ctx any) error
}
