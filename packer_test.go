package batchmem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type plannedRequirement struct {
	Size      int
	Alignment int
	Kind      Kind
}

func TestPlanBatch(t *testing.T) {
	testCases := map[string]struct {
		Granularity     int
		Requirements    []plannedRequirement
		ExpectedOffsets []int
		ExpectedSize    int
	}{
		"Buffer Then Optimal Image": {
			Granularity: 256,
			Requirements: []plannedRequirement{
				{Size: 100, Alignment: 4, Kind: KindBuffer},
				{Size: 500, Alignment: 64, Kind: KindImageOptimal},
			},
			ExpectedOffsets: []int{0, 256},
			ExpectedSize:    756,
		},
		"Optimal Image Listed First": {
			Granularity: 256,
			Requirements: []plannedRequirement{
				{Size: 500, Alignment: 64, Kind: KindImageOptimal},
				{Size: 100, Alignment: 4, Kind: KindBuffer},
			},
			ExpectedOffsets: []int{256, 0},
			ExpectedSize:    756,
		},
		"Linear Only": {
			Granularity: 256,
			Requirements: []plannedRequirement{
				{Size: 100, Alignment: 16, Kind: KindBuffer},
				{Size: 50, Alignment: 64, Kind: KindImageLinear},
				{Size: 10, Alignment: 1, Kind: KindBuffer},
			},
			ExpectedOffsets: []int{0, 128, 178},
			ExpectedSize:    188,
		},
		"Optimal Only Ignores Granularity": {
			Granularity: 1024,
			Requirements: []plannedRequirement{
				{Size: 100, Alignment: 32, Kind: KindImageOptimal},
				{Size: 100, Alignment: 32, Kind: KindImageOptimal},
			},
			ExpectedOffsets: []int{0, 128},
			ExpectedSize:    228,
		},
		"Non Power Of Two Alignment": {
			Granularity: 1,
			Requirements: []plannedRequirement{
				{Size: 10, Alignment: 1, Kind: KindBuffer},
				{Size: 10, Alignment: 12, Kind: KindBuffer},
				{Size: 5, Alignment: 1, Kind: KindImageOptimal},
			},
			ExpectedOffsets: []int{0, 12, 22},
			ExpectedSize:    27,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			requirements := make([]*requirement, 0, len(testCase.Requirements))
			for index, planned := range testCase.Requirements {
				requirements = append(requirements, &requirement{
					size:      planned.Size,
					alignment: planned.Alignment,
					typeBits:  1,
					kind:      planned.Kind,
					entry:     entryID{index: uint32(index)},
				})
			}

			placements, size := planBatch(requirements, testCase.Granularity)
			require.Equal(t, testCase.ExpectedSize, size)
			require.Len(t, placements, len(requirements))

			offsets := make([]int, len(requirements))
			for _, place := range placements {
				offsets[place.requirement.entry.index] = place.offset
			}
			require.Equal(t, testCase.ExpectedOffsets, offsets)
		})
	}
}

func TestPlanBatchKeepsGroupOrder(t *testing.T) {
	requirements := []*requirement{
		{size: 10, alignment: 1, kind: KindImageOptimal, entry: entryID{index: 0}},
		{size: 10, alignment: 1, kind: KindBuffer, entry: entryID{index: 1}},
		{size: 10, alignment: 1, kind: KindImageOptimal, entry: entryID{index: 2}},
		{size: 10, alignment: 1, kind: KindImageLinear, entry: entryID{index: 3}},
	}

	placements, _ := planBatch(requirements, 1)

	var order []uint32
	for _, place := range placements {
		order = append(order, place.requirement.entry.index)
	}
	require.Equal(t, []uint32{1, 3, 0, 2}, order)
}

func TestLedgerRemoveAllKeepsOrder(t *testing.T) {
	var ledger requirementLedger
	requirements := requirementsFromMasks(1, 1, 1, 1, 1)
	for _, req := range requirements {
		ledger.push(req)
	}

	ledger.removeAll([]*requirement{requirements[3], requirements[0]})
	require.Equal(t, []*requirement{requirements[1], requirements[2], requirements[4]}, ledger.requirements)

	require.True(t, ledger.remove(requirements[2]))
	require.False(t, ledger.remove(requirements[2]))
	require.Equal(t, []*requirement{requirements[1], requirements[4]}, ledger.requirements)
}

func TestEntryArenaGenerations(t *testing.T) {
	var arena entryArena

	first := arena.acquire()
	arena.slots[first.index].state = entryStatePending

	_, err := arena.get(first)
	require.NoError(t, err)

	renamed := arena.rename(first)
	_, err = arena.get(first)
	require.ErrorIs(t, err, ErrStaleEntry)
	_, err = arena.get(renamed)
	require.NoError(t, err)

	arena.release(renamed)
	_, err = arena.get(renamed)
	require.ErrorIs(t, err, ErrStaleEntry)

	reused := arena.acquire()
	require.Equal(t, renamed.index, reused.index)
	require.NotEqual(t, renamed.generation, reused.generation)
	require.Equal(t, 1, arena.liveCount())

	_, err = arena.get(entryID{index: 40})
	require.ErrorIs(t, err, ErrStaleEntry)
}
