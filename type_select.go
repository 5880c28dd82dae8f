package batchmem

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/batchmem/internal/device"
)

// typeBatch is the set of requirements that will share one block
type typeBatch struct {
	memoryTypeIndex int
	requirements    []*requirement
}

// selectTypes assigns every requirement to exactly one of the memory types it supports, trying to put
// all of them on as few types as possible. It repeatedly takes the type with the fewest remaining
// supporters (lowest index on ties). If every supporter of that type can go somewhere else, the type
// is dropped from their masks; otherwise all of its supporters are assigned to it.
//
// Batches are returned in ascending type order and keep the requirements in the order provided.
func selectTypes(requirements []*requirement) ([]typeBatch, error) {
	masks := make([]uint32, len(requirements))
	assigned := make([]bool, len(requirements))
	var assignments [device.MaxMemoryTypes][]*requirement

	for index, req := range requirements {
		masks[index] = req.typeBits
	}

	remaining := len(requirements)
	counts, considered := countTypes(masks, assigned)

	for remaining > 0 {
		for index, mask := range masks {
			if !assigned[index] && mask == 0 {
				return nil, errors.Wrapf(ErrNoCompatibleType, "requirement %d (entry %s)", index, requirements[index].entry)
			}
		}

		if considered == 0 {
			return nil, errors.Wrapf(ErrNoCompatibleType, "%d requirements could not be assigned", remaining)
		}

		memoryTypeIndex := -1
		for candidates := considered; candidates != 0; candidates &= candidates - 1 {
			candidate := bits.TrailingZeros32(candidates)
			if memoryTypeIndex < 0 || counts[candidate] < counts[memoryTypeIndex] {
				memoryTypeIndex = candidate
			}
		}
		typeBit := uint32(1) << memoryTypeIndex

		removable := true
		for index, mask := range masks {
			if !assigned[index] && mask&typeBit != 0 && mask&^typeBit == 0 {
				removable = false
				break
			}
		}

		if removable {
			for index := range masks {
				if !assigned[index] {
					masks[index] &^= typeBit
				}
			}
			considered &^= typeBit
			continue
		}

		for index, mask := range masks {
			if !assigned[index] && mask&typeBit != 0 {
				assigned[index] = true
				remaining--
				assignments[memoryTypeIndex] = append(assignments[memoryTypeIndex], requirements[index])
			}
		}
		counts, considered = countTypes(masks, assigned)
	}

	var batches []typeBatch
	for memoryTypeIndex, assignment := range assignments {
		if len(assignment) > 0 {
			batches = append(batches, typeBatch{
				memoryTypeIndex: memoryTypeIndex,
				requirements:    assignment,
			})
		}
	}

	return batches, nil
}

// countTypes counts, for every memory type, the unassigned requirements that still support it
func countTypes(masks []uint32, assigned []bool) ([device.MaxMemoryTypes]int, uint32) {
	var counts [device.MaxMemoryTypes]int
	var considered uint32

	for index, mask := range masks {
		if assigned[index] {
			continue
		}

		for remaining := mask; remaining != 0; remaining &= remaining - 1 {
			counts[bits.TrailingZeros32(remaining)]++
		}
		considered |= mask
	}

	return counts, considered
}
