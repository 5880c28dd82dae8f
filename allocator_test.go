package batchmem_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/batchmem"
	"github.com/vkngwrapper/arsenal/batchmem/backend"
	mock_backend "github.com/vkngwrapper/arsenal/batchmem/backend/mocks"
	"go.uber.org/mock/gomock"
)

const (
	deviceLocalBits uint32 = 0b01
	hostVisibleBits uint32 = 0b10
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func readyBackend(ctrl *gomock.Controller, granularity int) *mock_backend.MockBackend {
	mockBackend := mock_backend.NewMockBackend(ctrl)
	mockBackend.EXPECT().MemoryTypes().Return([]backend.MemoryType{
		{PropertyFlags: backend.MemoryPropertyDeviceLocal, HeapIndex: 0},
		{PropertyFlags: backend.MemoryPropertyHostVisible | backend.MemoryPropertyHostCoherent, HeapIndex: 1},
	}).AnyTimes()
	mockBackend.EXPECT().MemoryHeaps().Return([]backend.MemoryHeap{
		{Size: 1 << 30, DeviceLocal: true},
		{Size: 1 << 30},
	}).AnyTimes()
	mockBackend.EXPECT().PlacementGranularity().Return(granularity).AnyTimes()
	mockBackend.EXPECT().MaxBlockCount().Return(0).AnyTimes()
	return mockBackend
}

func createAllocator(t *testing.T, mockBackend *mock_backend.MockBackend, options batchmem.CreateOptions) *batchmem.Allocator {
	allocator, err := batchmem.New(testLogger(), mockBackend, options)
	require.NoError(t, err)
	return allocator
}

func request(t *testing.T, allocator *batchmem.Allocator, size, alignment int, typeBits uint32, kind batchmem.Kind, resource any) batchmem.Entry {
	entry, err := allocator.Request(batchmem.RequestInfo{
		Size:           size,
		Alignment:      alignment,
		MemoryTypeBits: typeBits,
		Kind:           kind,
		Resource:       resource,
	})
	require.NoError(t, err)
	require.True(t, entry.IsPending())
	return entry
}

func requireBoundAt(t *testing.T, entry batchmem.Entry, block backend.BlockHandle, offset int) {
	require.True(t, entry.IsBound())
	actualBlock, actualOffset, err := entry.BlockAndOffset()
	require.NoError(t, err)
	require.Equal(t, block, actualBlock)
	require.Equal(t, offset, actualOffset)
}

func TestAllocateAllPacksOneBlockPerType(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockBackend := readyBackend(ctrl, 256)
	allocator := createAllocator(t, mockBackend, batchmem.CreateOptions{})

	buffer0 := request(t, allocator, 100, 4, deviceLocalBits, batchmem.KindBuffer, "buffer0")
	image1 := request(t, allocator, 200, 64, deviceLocalBits, batchmem.KindImageOptimal, "image1")
	buffer2 := request(t, allocator, 60, 16, deviceLocalBits, batchmem.KindBuffer, "buffer2")
	staging := request(t, allocator, 64, 0, hostVisibleBits, batchmem.KindBuffer, "staging")
	require.Equal(t, 4, allocator.PendingCount())

	gomock.InOrder(
		mockBackend.EXPECT().CreateMemoryBlock(0, 456).Return("block0", nil),
		mockBackend.EXPECT().BindResource("buffer0", "block0", 0).Return(nil),
		mockBackend.EXPECT().BindResource("buffer2", "block0", 112).Return(nil),
		mockBackend.EXPECT().BindResource("image1", "block0", 256).Return(nil),
		mockBackend.EXPECT().CreateMemoryBlock(1, 64).Return("block1", nil),
		mockBackend.EXPECT().BindResource("staging", "block1", 0).Return(nil),
	)

	require.NoError(t, allocator.AllocateAll())
	require.Equal(t, 0, allocator.PendingCount())
	require.NoError(t, allocator.Validate())

	requireBoundAt(t, buffer0, "block0", 0)
	requireBoundAt(t, buffer2, "block0", 112)
	requireBoundAt(t, image1, "block0", 256)
	requireBoundAt(t, staging, "block1", 0)
	require.Equal(t, 200, image1.Size())
	require.Equal(t, batchmem.KindImageOptimal, image1.Kind())

	blocks := allocator.Blocks()
	require.Len(t, blocks, 2)
	require.Equal(t, 456, blocks[0].Size())
	require.Equal(t, 3, blocks[0].AllocationCount())

	// A second flush with nothing pending does nothing
	require.NoError(t, allocator.AllocateAll())

	for _, entry := range []batchmem.Entry{buffer0, image1, buffer2, staging} {
		require.NoError(t, entry.Free())
	}

	mockBackend.EXPECT().DestroyMemoryBlock("block0")
	mockBackend.EXPECT().DestroyMemoryBlock("block1")
	require.NoError(t, allocator.Destroy())
}

func TestAllocateOneUsesExistingBlock(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockBackend := readyBackend(ctrl, 1)
	allocator := createAllocator(t, mockBackend, batchmem.CreateOptions{})

	first := request(t, allocator, 256, 1, deviceLocalBits, batchmem.KindBuffer, "first")
	mockBackend.EXPECT().CreateMemoryBlock(0, 256).Return("block0", nil)
	mockBackend.EXPECT().BindResource("first", "block0", 0).Return(nil)
	require.NoError(t, allocator.AllocateAll())
	require.NoError(t, first.Free())

	second := request(t, allocator, 128, 64, deviceLocalBits|hostVisibleBits, batchmem.KindBuffer, "second")
	mockBackend.EXPECT().BindResource("second", "block0", 0).Return(nil)

	allocated, err := allocator.AllocateOne(second)
	require.NoError(t, err)
	require.True(t, allocated)
	requireBoundAt(t, second, "block0", 0)
	require.Len(t, allocator.Blocks(), 1)

	// Already bound
	allocated, err = allocator.AllocateOne(second)
	require.NoError(t, err)
	require.False(t, allocated)

	require.NoError(t, second.Free())
	require.NoError(t, allocator.Validate())

	mockBackend.EXPECT().DestroyMemoryBlock("block0")
	require.NoError(t, allocator.Destroy())
}

func TestAllocateOneRespectsGranularityInExistingBlock(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockBackend := readyBackend(ctrl, 256)
	allocator := createAllocator(t, mockBackend, batchmem.CreateOptions{})

	buffer := request(t, allocator, 100, 1, deviceLocalBits, batchmem.KindBuffer, "buffer")
	image := request(t, allocator, 100, 1, deviceLocalBits, batchmem.KindImageOptimal, "image")

	mockBackend.EXPECT().CreateMemoryBlock(0, 356).Return("block0", nil)
	mockBackend.EXPECT().BindResource("buffer", "block0", 0).Return(nil)
	mockBackend.EXPECT().BindResource("image", "block0", 256).Return(nil)
	require.NoError(t, allocator.AllocateAll())
	require.NoError(t, image.Free())

	// Offset 100 shares a page with the buffer, so the image is pushed to the next page
	nextImage := request(t, allocator, 50, 1, deviceLocalBits, batchmem.KindImageOptimal, "nextImage")
	mockBackend.EXPECT().BindResource("nextImage", "block0", 256).Return(nil)

	allocated, err := allocator.AllocateOne(nextImage)
	require.NoError(t, err)
	require.True(t, allocated)
	requireBoundAt(t, nextImage, "block0", 256)
	require.NoError(t, allocator.Validate())

	require.NoError(t, buffer.Free())
	require.NoError(t, nextImage.Free())
	mockBackend.EXPECT().DestroyMemoryBlock("block0")
	require.NoError(t, allocator.Destroy())
}

func TestAllocateOnePacksCompatiblePending(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockBackend := readyBackend(ctrl, 1)
	allocator := createAllocator(t, mockBackend, batchmem.CreateOptions{})

	either := request(t, allocator, 100, 1, deviceLocalBits|hostVisibleBits, batchmem.KindBuffer, "either")
	hostOnly := request(t, allocator, 100, 1, hostVisibleBits, batchmem.KindBuffer, "hostOnly")
	deviceOnly := request(t, allocator, 50, 1, deviceLocalBits, batchmem.KindBuffer, "deviceOnly")

	// Both memory types have one other supporter, so the lower index wins
	gomock.InOrder(
		mockBackend.EXPECT().CreateMemoryBlock(0, 150).Return("block0", nil),
		mockBackend.EXPECT().BindResource("either", "block0", 0).Return(nil),
		mockBackend.EXPECT().BindResource("deviceOnly", "block0", 100).Return(nil),
	)

	allocated, err := allocator.AllocateOne(either)
	require.NoError(t, err)
	require.True(t, allocated)
	require.True(t, deviceOnly.IsBound())
	require.True(t, hostOnly.IsPending())
	require.Equal(t, 1, allocator.PendingCount())
	require.NoError(t, allocator.Validate())

	require.NoError(t, hostOnly.Free())
	require.NoError(t, either.Free())
	require.NoError(t, deviceOnly.Free())

	mockBackend.EXPECT().DestroyMemoryBlock("block0")
	require.NoError(t, allocator.Destroy())
}

func TestCancelRoundTrip(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockBackend := readyBackend(ctrl, 1)
	allocator := createAllocator(t, mockBackend, batchmem.CreateOptions{})

	entry := request(t, allocator, 100, 1, deviceLocalBits, batchmem.KindBuffer, "buffer")
	require.NoError(t, allocator.Cancel(entry))
	require.Equal(t, 0, allocator.PendingCount())
	require.False(t, entry.IsValid())

	require.ErrorIs(t, allocator.Cancel(entry), batchmem.ErrStaleEntry)
	_, err := allocator.AllocateOne(entry)
	require.ErrorIs(t, err, batchmem.ErrStaleEntry)

	// Nothing is pending, so nothing is created
	require.NoError(t, allocator.AllocateAll())
	require.NoError(t, allocator.Validate())
	require.NoError(t, allocator.Destroy())
}

func TestCancelLeavesOtherPlacementsUnchanged(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockBackend := readyBackend(ctrl, 1)
	allocator := createAllocator(t, mockBackend, batchmem.CreateOptions{})

	first := request(t, allocator, 100, 4, deviceLocalBits, batchmem.KindBuffer, "first")
	cancelled := request(t, allocator, 200, 64, deviceLocalBits, batchmem.KindBuffer, "cancelled")
	last := request(t, allocator, 60, 16, deviceLocalBits, batchmem.KindBuffer, "last")
	require.NoError(t, allocator.Cancel(cancelled))

	// Placement is the same as if the cancelled request had never been made
	gomock.InOrder(
		mockBackend.EXPECT().CreateMemoryBlock(0, 172).Return("block0", nil),
		mockBackend.EXPECT().BindResource("first", "block0", 0).Return(nil),
		mockBackend.EXPECT().BindResource("last", "block0", 112).Return(nil),
	)
	require.NoError(t, allocator.AllocateAll())

	requireBoundAt(t, first, "block0", 0)
	requireBoundAt(t, last, "block0", 112)
	require.False(t, cancelled.IsValid())
	require.Len(t, allocator.Blocks(), 1)
	require.NoError(t, allocator.Validate())

	require.NoError(t, first.Free())
	require.NoError(t, last.Free())
	mockBackend.EXPECT().DestroyMemoryBlock("block0")
	require.NoError(t, allocator.Destroy())
}

func TestCancelBoundEntry(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockBackend := readyBackend(ctrl, 1)
	allocator := createAllocator(t, mockBackend, batchmem.CreateOptions{})

	entry := request(t, allocator, 100, 1, deviceLocalBits, batchmem.KindBuffer, "buffer")
	mockBackend.EXPECT().CreateMemoryBlock(0, 100).Return("block0", nil)
	mockBackend.EXPECT().BindResource("buffer", "block0", 0).Return(nil)
	require.NoError(t, allocator.AllocateAll())

	require.ErrorIs(t, allocator.Cancel(entry), batchmem.ErrEntryNotPending)
	require.True(t, entry.IsBound())

	require.NoError(t, entry.Free())
	require.ErrorIs(t, entry.Free(), batchmem.ErrStaleEntry)

	mockBackend.EXPECT().DestroyMemoryBlock("block0")
	require.NoError(t, allocator.Destroy())
}

func TestDestroyAfterFlushCreatesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockBackend := readyBackend(ctrl, 1)
	allocator := createAllocator(t, mockBackend, batchmem.CreateOptions{})

	entry := request(t, allocator, 100, 1, deviceLocalBits, batchmem.KindBuffer, "buffer")
	mockBackend.EXPECT().CreateMemoryBlock(0, 100).Return("block0", nil).Times(1)
	mockBackend.EXPECT().BindResource("buffer", "block0", 0).Return(nil)
	require.NoError(t, allocator.AllocateAll())
	require.NoError(t, entry.Free())

	mockBackend.EXPECT().DestroyMemoryBlock("block0")
	require.NoError(t, allocator.Destroy())

	require.ErrorIs(t, allocator.Destroy(), batchmem.ErrAllocatorDestroyed)
	_, err := allocator.Request(batchmem.RequestInfo{Size: 1, MemoryTypeBits: deviceLocalBits, Kind: batchmem.KindBuffer})
	require.ErrorIs(t, err, batchmem.ErrAllocatorDestroyed)
}

func TestDestroyFlushesPending(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockBackend := readyBackend(ctrl, 1)
	allocator := createAllocator(t, mockBackend, batchmem.CreateOptions{})

	request(t, allocator, 100, 1, deviceLocalBits, batchmem.KindBuffer, "buffer")

	gomock.InOrder(
		mockBackend.EXPECT().CreateMemoryBlock(0, 100).Return("block0", nil),
		mockBackend.EXPECT().BindResource("buffer", "block0", 0).Return(nil),
		mockBackend.EXPECT().DestroyMemoryBlock("block0"),
	)

	// The entry was never freed, so its range is reported
	err := allocator.Destroy()
	require.ErrorContains(t, err, "were not freed")
}

func TestBindFailureLeavesBatchPending(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockBackend := readyBackend(ctrl, 1)
	allocator := createAllocator(t, mockBackend, batchmem.CreateOptions{})

	first := request(t, allocator, 100, 1, deviceLocalBits, batchmem.KindBuffer, "first")
	second := request(t, allocator, 100, 1, deviceLocalBits, batchmem.KindBuffer, "second")

	gomock.InOrder(
		mockBackend.EXPECT().CreateMemoryBlock(0, 200).Return("block0", nil),
		mockBackend.EXPECT().BindResource("first", "block0", 0).Return(nil),
		mockBackend.EXPECT().BindResource("second", "block0", 100).Return(errors.New("device lost")),
		mockBackend.EXPECT().DestroyMemoryBlock("block0"),
	)

	err := allocator.AllocateAll()
	require.True(t, errors.Is(err, batchmem.ErrBackendFailure))
	require.ErrorContains(t, err, "device lost")

	require.True(t, first.IsPending())
	require.True(t, second.IsPending())
	require.Equal(t, 2, allocator.PendingCount())
	require.Empty(t, allocator.Blocks())
	require.NoError(t, allocator.Validate())

	require.NoError(t, allocator.Cancel(first))
	require.NoError(t, allocator.Cancel(second))
	require.NoError(t, allocator.Destroy())
}

func TestCreateBlockFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockBackend := readyBackend(ctrl, 1)
	allocator := createAllocator(t, mockBackend, batchmem.CreateOptions{
		HeapSizeLimits: []int{64, 0},
	})

	entry := request(t, allocator, 100, 1, deviceLocalBits, batchmem.KindBuffer, "buffer")

	_, err := allocator.AllocateOne(entry)
	require.True(t, errors.Is(err, batchmem.ErrBackendFailure))
	require.ErrorIs(t, err, batchmem.ErrHeapLimit)
	require.True(t, entry.IsPending())

	require.NoError(t, entry.Free())
	require.NoError(t, allocator.Destroy())
}

func TestInvalidRequirements(t *testing.T) {
	testCases := map[string]batchmem.RequestInfo{
		"Zero Size": {
			Size: 0, MemoryTypeBits: deviceLocalBits, Kind: batchmem.KindBuffer,
		},
		"Negative Alignment": {
			Size: 10, Alignment: -4, MemoryTypeBits: deviceLocalBits, Kind: batchmem.KindBuffer,
		},
		"Unknown Kind": {
			Size: 10, MemoryTypeBits: deviceLocalBits, Kind: batchmem.Kind(12),
		},
		"No Memory Types": {
			Size: 10, MemoryTypeBits: 0, Kind: batchmem.KindBuffer,
		},
		"Unknown Memory Types": {
			Size: 10, MemoryTypeBits: 0b1100, Kind: batchmem.KindBuffer,
		},
	}

	for name, info := range testCases {
		t.Run(name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			allocator := createAllocator(t, readyBackend(ctrl, 1), batchmem.CreateOptions{})

			_, err := allocator.Request(info)
			require.ErrorIs(t, err, batchmem.ErrInvalidRequirement)
			require.Equal(t, 0, allocator.PendingCount())
		})
	}
}

func TestMapDeviceLocalEntry(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockBackend := readyBackend(ctrl, 1)
	allocator := createAllocator(t, mockBackend, batchmem.CreateOptions{})

	entry := request(t, allocator, 100, 1, deviceLocalBits, batchmem.KindBuffer, "buffer")

	_, err := entry.Map()
	require.ErrorIs(t, err, batchmem.ErrEntryNotBound)

	mockBackend.EXPECT().CreateMemoryBlock(0, 100).Return("block0", nil)
	mockBackend.EXPECT().BindResource("buffer", "block0", 0).Return(nil)
	require.NoError(t, allocator.AllocateAll())

	require.False(t, entry.Mappable())
	_, err = entry.Map()
	require.ErrorIs(t, err, batchmem.ErrNotMappable)

	require.NoError(t, entry.Free())
	mockBackend.EXPECT().DestroyMemoryBlock("block0")
	require.NoError(t, allocator.Destroy())
}

func TestMapSharesBlockMapping(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockBackend := readyBackend(ctrl, 1)
	allocator := createAllocator(t, mockBackend, batchmem.CreateOptions{})

	first := request(t, allocator, 16, 1, hostVisibleBits, batchmem.KindBuffer, "first")
	second := request(t, allocator, 16, 1, hostVisibleBits, batchmem.KindBuffer, "second")

	mockBackend.EXPECT().CreateMemoryBlock(1, 32).Return("block0", nil)
	mockBackend.EXPECT().BindResource(gomock.Any(), "block0", gomock.Any()).Return(nil).Times(2)
	require.NoError(t, allocator.AllocateAll())

	hostMemory := make([]byte, 32)
	mockBackend.EXPECT().MapMemory("block0", 0, 32).Return(unsafe.Pointer(&hostMemory[0]), nil).Times(1)

	firstMapping, err := first.Map()
	require.NoError(t, err)
	secondMapping, err := second.Map()
	require.NoError(t, err)
	require.Equal(t, 2, first.Block().MapReferences())

	copy(secondMapping.Bytes(), "abcd")
	require.Equal(t, []byte("abcd"), hostMemory[16:20])

	require.NoError(t, first.Write(2, []byte{7, 8}))
	require.Equal(t, []byte{0, 0, 7, 8}, hostMemory[0:4])
	require.Error(t, first.Write(15, []byte{1, 2}))

	firstMapping.Unmap()
	require.Panics(t, firstMapping.Unmap)

	mockBackend.EXPECT().UnmapMemory("block0").Times(1)
	secondMapping.Unmap()
	require.Equal(t, 0, second.Block().MapReferences())

	require.NoError(t, first.Free())
	require.NoError(t, second.Free())
	mockBackend.EXPECT().DestroyMemoryBlock("block0")
	require.NoError(t, allocator.Destroy())
}

func TestRelocate(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockBackend := readyBackend(ctrl, 1)
	allocator := createAllocator(t, mockBackend, batchmem.CreateOptions{})

	pending := request(t, allocator, 100, 1, deviceLocalBits, batchmem.KindBuffer, "buffer")
	stale := pending

	var moved batchmem.Entry
	require.NoError(t, allocator.Relocate(&moved, &pending))
	require.Equal(t, batchmem.Entry{}, pending)
	require.False(t, stale.IsValid())
	require.True(t, moved.IsPending())
	require.Equal(t, 1, allocator.PendingCount())

	mockBackend.EXPECT().CreateMemoryBlock(0, 100).Return("block0", nil)
	mockBackend.EXPECT().BindResource("buffer", "block0", 0).Return(nil)
	require.NoError(t, allocator.AllocateAll())
	requireBoundAt(t, moved, "block0", 0)
	require.NoError(t, allocator.Validate())

	var movedAgain batchmem.Entry
	require.NoError(t, allocator.Relocate(&movedAgain, &moved))
	requireBoundAt(t, movedAgain, "block0", 0)
	require.NoError(t, allocator.Validate())

	require.ErrorIs(t, allocator.Relocate(&moved, &pending), batchmem.ErrStaleEntry)

	require.NoError(t, movedAgain.Free())
	mockBackend.EXPECT().DestroyMemoryBlock("block0")
	require.NoError(t, allocator.Destroy())
}

func TestRelocateFreesDestination(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockBackend := readyBackend(ctrl, 1)
	allocator := createAllocator(t, mockBackend, batchmem.CreateOptions{})

	source := request(t, allocator, 100, 1, deviceLocalBits, batchmem.KindBuffer, "source")
	destination := request(t, allocator, 50, 1, deviceLocalBits, batchmem.KindBuffer, "destination")
	overwritten := destination

	// A pending destination is cancelled
	require.NoError(t, allocator.Relocate(&destination, &source))
	require.Equal(t, 1, allocator.PendingCount())
	require.False(t, overwritten.IsValid())
	require.True(t, destination.IsPending())
	require.NoError(t, allocator.Validate())

	mockBackend.EXPECT().CreateMemoryBlock(0, 100).Return("block0", nil)
	mockBackend.EXPECT().BindResource("source", "block0", 0).Return(nil)
	require.NoError(t, allocator.AllocateAll())
	requireBoundAt(t, destination, "block0", 0)

	// A bound destination returns its range to the block
	replacement := request(t, allocator, 80, 1, deviceLocalBits, batchmem.KindBuffer, "replacement")
	require.NoError(t, allocator.Relocate(&destination, &replacement))
	require.True(t, destination.IsPending())
	require.True(t, allocator.Blocks()[0].IsEmpty())
	require.NoError(t, allocator.Validate())

	mockBackend.EXPECT().BindResource("replacement", "block0", 0).Return(nil)
	placed, err := allocator.AllocateOne(destination)
	require.NoError(t, err)
	require.True(t, placed)
	requireBoundAt(t, destination, "block0", 0)

	// A live destination from another allocator is refused and nothing moves
	other := createAllocator(t, readyBackend(ctrl, 1), batchmem.CreateOptions{})
	foreign := request(t, other, 10, 1, deviceLocalBits, batchmem.KindBuffer, "foreign")
	require.ErrorIs(t, allocator.Relocate(&foreign, &destination), batchmem.ErrStaleEntry)
	require.True(t, foreign.IsPending())
	requireBoundAt(t, destination, "block0", 0)
	require.NoError(t, other.Cancel(foreign))
	require.NoError(t, other.Destroy())

	require.NoError(t, destination.Free())
	mockBackend.EXPECT().DestroyMemoryBlock("block0")
	require.NoError(t, allocator.Destroy())
}

func TestEntriesFromOtherAllocator(t *testing.T) {
	ctrl := gomock.NewController(t)
	first := createAllocator(t, readyBackend(ctrl, 1), batchmem.CreateOptions{})
	second := createAllocator(t, readyBackend(ctrl, 1), batchmem.CreateOptions{})

	entry := request(t, first, 100, 1, deviceLocalBits, batchmem.KindBuffer, "buffer")
	require.ErrorIs(t, second.Cancel(entry), batchmem.ErrStaleEntry)

	require.ErrorIs(t, batchmem.Entry{}.Free(), batchmem.ErrStaleEntry)
	require.False(t, batchmem.Entry{}.IsValid())

	require.NoError(t, first.Cancel(entry))
}

func TestMemoryCallbacks(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockBackend := readyBackend(ctrl, 1)

	var allocated, freed []int
	allocator := createAllocator(t, mockBackend, batchmem.CreateOptions{
		MemoryCallbackOptions: &batchmem.MemoryCallbackOptions{
			Allocate: func(allocator *batchmem.Allocator, memoryType int, block backend.BlockHandle, size int, userData interface{}) {
				require.Equal(t, "user", userData)
				allocated = append(allocated, size)
			},
			Free: func(allocator *batchmem.Allocator, memoryType int, block backend.BlockHandle, size int, userData interface{}) {
				freed = append(freed, size)
			},
			UserData: "user",
		},
	})

	entry := request(t, allocator, 100, 1, deviceLocalBits, batchmem.KindBuffer, "buffer")
	mockBackend.EXPECT().CreateMemoryBlock(0, 100).Return("block0", nil)
	mockBackend.EXPECT().BindResource("buffer", "block0", 0).Return(nil)
	require.NoError(t, allocator.AllocateAll())
	require.NoError(t, entry.Free())

	mockBackend.EXPECT().DestroyMemoryBlock("block0")
	require.NoError(t, allocator.Destroy())

	require.Equal(t, []int{100}, allocated)
	require.Equal(t, []int{100}, freed)
}

func TestStatistics(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockBackend := readyBackend(ctrl, 1)
	allocator := createAllocator(t, mockBackend, batchmem.CreateOptions{Flags: batchmem.AllocatorCreateBestFit})

	first := request(t, allocator, 100, 1, deviceLocalBits, batchmem.KindBuffer, "first")
	second := request(t, allocator, 50, 1, deviceLocalBits, batchmem.KindImageOptimal, "second")
	request(t, allocator, 10, 1, hostVisibleBits, batchmem.KindBuffer, "later")

	mockBackend.EXPECT().CreateMemoryBlock(0, 150).Return("block0", nil)
	mockBackend.EXPECT().BindResource(gomock.Any(), "block0", gomock.Any()).Return(nil).Times(2)
	_, err := allocator.AllocateOne(first)
	require.NoError(t, err)
	require.NoError(t, first.Free())

	var stats batchmem.AllocatorStatistics
	require.NoError(t, allocator.CalculateStatistics(&stats))
	require.Equal(t, 1, stats.Total.BlockCount)
	require.Equal(t, 150, stats.Total.BlockBytes)
	require.Equal(t, 1, stats.Total.AllocationCount)
	require.Equal(t, 50, stats.Total.AllocationBytes)
	require.Equal(t, 1, stats.Total.UnusedRangeCount)
	require.Equal(t, stats.Total, stats.MemoryHeaps[0])
	require.Equal(t, 0, stats.MemoryTypes[1].BlockCount)

	heaps, err := allocator.HeapStatistics()
	require.NoError(t, err)
	require.Equal(t, 150, heaps[0].BlockBytes)
	require.Equal(t, 50, heaps[0].AllocationBytes)

	detailed, err := allocator.BuildStatsString(true)
	require.NoError(t, err)
	var document map[string]any
	require.NoError(t, json.Unmarshal([]byte(detailed), &document))
	require.Equal(t, float64(1), document["Pending"])
	require.Contains(t, document, "MemoryHeaps")

	summary, err := allocator.BuildStatsString(false)
	require.NoError(t, err)
	require.True(t, json.Valid([]byte(summary)))

	require.NoError(t, second.Free())
	mockBackend.EXPECT().DestroyMemoryBlock("block0")
	mockBackend.EXPECT().CreateMemoryBlock(1, 10).Return("block1", nil)
	mockBackend.EXPECT().BindResource("later", "block1", 0).Return(nil)
	mockBackend.EXPECT().DestroyMemoryBlock("block1")
	require.Error(t, allocator.Destroy())

	_, err = allocator.HeapStatistics()
	require.ErrorIs(t, err, batchmem.ErrAllocatorDestroyed)
	require.ErrorIs(t, allocator.CalculateStatistics(&stats), batchmem.ErrAllocatorDestroyed)
	_, err = allocator.BuildStatsString(false)
	require.ErrorIs(t, err, batchmem.ErrAllocatorDestroyed)
}
