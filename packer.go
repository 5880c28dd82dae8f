package batchmem

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/batchmem/memutils"
)

type placement struct {
	requirement *requirement
	offset      int
}

// planBatch lays out a batch in a fresh block. Linear requirements come first, then optimal images,
// each group in the order provided. When both groups are present the optimal group starts on a new
// granularity page. The returned size is the exact size of the block the batch needs.
func planBatch(requirements []*requirement, granularity int) ([]placement, int) {
	placements := make([]placement, 0, len(requirements))
	offset := 0
	hasOptimal := false

	for _, req := range requirements {
		if !req.kind.linear() {
			hasOptimal = true
			continue
		}

		offset = memutils.AlignUp(offset, uint(req.alignment))
		placements = append(placements, placement{requirement: req, offset: offset})
		offset += req.size
	}

	if !hasOptimal {
		return placements, offset
	}

	if offset > 0 {
		offset = memutils.AlignUp(offset, uint(granularity))
	}

	for _, req := range requirements {
		if req.kind.linear() {
			continue
		}

		offset = memutils.AlignUp(offset, uint(req.alignment))
		placements = append(placements, placement{requirement: req, offset: offset})
		offset += req.size
	}

	return placements, offset
}

// packBatch creates one block for the batch and binds every requirement in it. Either the whole batch
// ends up bound or none of it does: on failure the block is destroyed and every requirement is left
// pending. The caller removes the batch from the ledger on success.
func (a *Allocator) packBatch(memoryTypeIndex int, requirements []*requirement) error {
	placements, size := planBatch(requirements, a.deviceMemory.Granularity())

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::packBatch",
		slog.Int("memoryTypeIndex", memoryTypeIndex),
		slog.Int("requirements", len(requirements)),
		slog.Int("size", size),
	)

	block, err := a.createBlock(memoryTypeIndex, size)
	if err != nil {
		return err
	}

	for _, place := range placements {
		err = a.deviceMemory.Backend().BindResource(place.requirement.resource, block.handle, place.offset)
		if err != nil {
			destroyErr := a.destroyBlock(block)
			return errors.CombineErrors(
				backendFailure(err, "failed to bind entry %s at offset %d of block %d", place.requirement.entry, place.offset, block.id),
				destroyErr,
			)
		}
	}

	for _, place := range placements {
		a.bindEntry(block, place.offset, place.requirement)
	}

	return nil
}

// bindEntry commits a requirement's range and moves its entry to the bound state
func (a *Allocator) bindEntry(block *MemoryBlock, offset int, req *requirement) {
	handle := block.commit(offset, req.size, req.kind, req.entry)

	slot, err := a.entries.get(req.entry)
	if err != nil {
		panic(errors.Wrapf(err, "pending requirement refers to a missing entry"))
	}
	slot.bind(block, handle, offset, req)
}
