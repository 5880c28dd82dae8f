package batchmem

import (
	"math/bits"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/arsenal/batchmem/memutils"
)

type pageInfo struct {
	kind       Kind
	allocCount uint32
}

type validationContext struct {
	pageAllocs []uint32
}

// blockGranularity tracks the kind of the ranges touching the first and last page of every
// committed range, so that searches for free space in an existing block never put a linear
// resource on the same page as an optimal image.
type blockGranularity struct {
	granularity uint
	pages       []pageInfo
}

func (g *blockGranularity) Init(granularity int, size int) {
	memutils.DebugCheckPow2(granularity, "placement granularity")
	g.granularity = uint(granularity)
	if !g.IsEnabled() {
		g.pages = nil
		return
	}

	count := size / granularity
	if size%granularity > 0 {
		count++
	}

	g.pages = make([]pageInfo, count)
}

func (g *blockGranularity) Destroy() {
	g.pages = nil
}

func (g *blockGranularity) IsEnabled() bool {
	return g.granularity > 1
}

func (g *blockGranularity) AllocationsConflict(firstAllocType uint32, secondAllocType uint32) bool {
	first := Kind(firstAllocType)
	second := Kind(secondAllocType)

	if first == kindFree || second == kindFree {
		return false
	}

	return first.linear() != second.linear()
}

func (g *blockGranularity) CheckConflictAndAlignUp(
	allocOffset, allocSize, regionOffset, regionSize int,
	allocType uint32,
) (int, bool) {
	if !g.IsEnabled() {
		return allocOffset, false
	}

	startPage := g.getStartPage(allocOffset)
	if g.pageConflicts(startPage, allocType) {
		// Move to the start of the next page
		allocOffset = (startPage + 1) * int(g.granularity)

		if regionSize < allocSize+allocOffset-regionOffset {
			return allocOffset, true
		}

		startPage++
		if g.pageConflicts(startPage, allocType) {
			return allocOffset, true
		}
	}

	endPage := g.getEndPage(allocOffset, allocSize)
	if endPage != startPage && g.pageConflicts(endPage, allocType) {
		return allocOffset, true
	}

	return allocOffset, false
}

func (g *blockGranularity) pageConflicts(page int, allocType uint32) bool {
	return g.pages[page].allocCount > 0 && g.AllocationsConflict(uint32(g.pages[page].kind), allocType)
}

func (g *blockGranularity) AllocPages(allocType uint32, offset, size int) {
	if !g.IsEnabled() {
		return
	}

	startPage := g.getStartPage(offset)
	g.allocPage(&g.pages[startPage], Kind(allocType))

	endPage := g.getEndPage(offset, size)
	if startPage != endPage {
		g.allocPage(&g.pages[endPage], Kind(allocType))
	}
}

func (g *blockGranularity) FreePages(offset, size int) {
	if !g.IsEnabled() {
		return
	}

	startPage := g.getStartPage(offset)
	g.freePage(&g.pages[startPage])

	endPage := g.getEndPage(offset, size)
	if startPage != endPage {
		g.freePage(&g.pages[endPage])
	}
}

func (g *blockGranularity) Clear() {
	if g.pages != nil {
		g.pages = make([]pageInfo, len(g.pages))
	}
}

func (g *blockGranularity) StartValidation() any {
	context := &validationContext{}

	if g.IsEnabled() {
		context.pageAllocs = make([]uint32, len(g.pages))
	}

	return context
}

func (g *blockGranularity) Validate(anyCtx any, offset, size int) error {
	if !g.IsEnabled() {
		return nil
	}

	ctx := anyCtx.(*validationContext)
	start := g.getStartPage(offset)
	ctx.pageAllocs[start]++
	if g.pages[start].allocCount < 1 {
		return errors.Errorf("no allocations in start page %d", start)
	}

	end := g.getEndPage(offset, size)
	if start != end {
		ctx.pageAllocs[end]++
		if g.pages[end].allocCount < 1 {
			return errors.Errorf("no allocations in end page %d", end)
		}
	}

	return nil
}

func (g *blockGranularity) FinishValidation(anyCtx any) error {
	if !g.IsEnabled() {
		return nil
	}

	ctx := anyCtx.(*validationContext)

	for pageIndex, page := range g.pages {
		if ctx.pageAllocs[pageIndex] != page.allocCount {
			return errors.Errorf("allocation count mismatch on page %d", pageIndex)
		}
	}
	ctx.pageAllocs = nil

	return nil
}

func (g *blockGranularity) allocPage(page *pageInfo, kind Kind) {
	// A page shared by a linear and an optimal range can only come from a placement that
	// ignored granularity. Keep the first kind so the conflict stays visible.
	if page.allocCount == 0 || page.kind == kindFree {
		page.kind = kind
	}

	page.allocCount++
}

func (g *blockGranularity) freePage(page *pageInfo) {
	page.allocCount--
	if page.allocCount == 0 {
		page.kind = kindFree
	}
}

func (g *blockGranularity) getStartPage(offset int) int {
	return g.offsetToPageIndex(memutils.AlignDown(offset, g.granularity))
}

func (g *blockGranularity) getEndPage(offset int, size int) int {
	return g.offsetToPageIndex(memutils.AlignDown(offset+size-1, g.granularity))
}

func (g *blockGranularity) offsetToPageIndex(offset int) int {
	return offset >> (63 - bits.LeadingZeros64(uint64(g.granularity)))
}
