package metadata

// A granularity check that never reports conflicts
type FakeGranularityCheck struct{}

func (c FakeGranularityCheck) AllocPages(allocType uint32, offset, size int) {}
func (c FakeGranularityCheck) FreePages(offset, size int)                    {}
func (c FakeGranularityCheck) Clear()                                        {}
func (c FakeGranularityCheck) CheckConflictAndAlignUp(allocOffset, allocSize, regionOffset, regionSize int, allocType uint32) (int, bool) {
	return allocOffset, false
}
func (c FakeGranularityCheck) AllocationsConflict(firstAllocType uint32, secondAllocType uint32) bool {
	return false
}
func (c FakeGranularityCheck) StartValidation() any {
	return nil
}
func (c FakeGranularityCheck) Validate(ctx any, offset, size int) error {
	return nil
}
func (c FakeGranularityCheck) FinishValidation(ctx any) error {
	return nil
}

// A granularity check that pushes allocations of type 2 onto the next 256-byte page
// whenever the candidate offset is not already on a page boundary
type PageGranularityCheck struct{}

func (c PageGranularityCheck) AllocPages(allocType uint32, offset, size int) {}
func (c PageGranularityCheck) FreePages(offset, size int)                    {}
func (c PageGranularityCheck) Clear()                                        {}
func (c PageGranularityCheck) CheckConflictAndAlignUp(allocOffset, allocSize, regionOffset, regionSize int, allocType uint32) (int, bool) {
	if allocType != 2 || allocOffset%256 == 0 {
		return allocOffset, false
	}

	aligned := (allocOffset/256 + 1) * 256
	return aligned, aligned+allocSize > regionOffset+regionSize
}
func (c PageGranularityCheck) AllocationsConflict(firstAllocType uint32, secondAllocType uint32) bool {
	return firstAllocType != secondAllocType
}
func (c PageGranularityCheck) StartValidation() any {
	return nil
}
func (c PageGranularityCheck) Validate(ctx any, offset, size int) error {
	return nil
}
func (c PageGranularityCheck) FinishValidation(ctx any) error {
	return nil
}
