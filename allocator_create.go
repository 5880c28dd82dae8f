package batchmem

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/batchmem/backend"
	"github.com/vkngwrapper/arsenal/batchmem/internal/device"
	"github.com/vkngwrapper/arsenal/batchmem/memutils/metadata"
	"github.com/vkngwrapper/core/v2/common"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var allocatorCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	allocatorCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return allocatorCreateFlagsMapping.FlagsToString(f)
}

const (
	// AllocatorCreateExternallySynchronized ensures that this allocator and all objects created from it
	// will not be synchronized internally. The consumer must guarantee they are used from only one
	// goroutine at a time or are synchronized by some other mechanism.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
	// AllocatorCreateBestFit makes searches of existing blocks choose the smallest free region that
	// fits instead of the first one. Either way, the same block contents always produce the same offset.
	AllocatorCreateBestFit
)

func init() {
	AllocatorCreateExternallySynchronized.Register("AllocatorCreateExternallySynchronized")
	AllocatorCreateBestFit.Register("AllocatorCreateBestFit")
}

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags

	// MemoryCallbackOptions is an optional set of callbacks that will be executed when the allocator
	// creates or destroys a block
	MemoryCallbackOptions *MemoryCallbackOptions

	// HeapSizeLimits can be left empty. If it is provided, it must have one entry per backend heap.
	// Each entry is either the maximum number of bytes of blocks the allocator may hold in that heap,
	// or 0 or less for no limit beyond the heap's size.
	HeapSizeLimits []int

	// MaxBlockCount caps the number of live blocks. 0 means only the backend's own limit applies.
	MaxBlockCount int
}

// New creates an allocator that will place resources in blocks obtained from memoryBackend
func New(logger *slog.Logger, memoryBackend backend.Backend, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		return nil, errors.New("a logger is required")
	}
	if memoryBackend == nil {
		return nil, errors.New("a memory backend is required")
	}

	allocator := &Allocator{
		logger:   logger,
		flags:    options.Flags,
		strategy: metadata.AllocationStrategyMinTime,
	}
	allocator.mutex.UseMutex = options.Flags&AllocatorCreateExternallySynchronized == 0
	if options.Flags&AllocatorCreateBestFit != 0 {
		allocator.strategy = metadata.AllocationStrategyMinMemory
	}

	allocator.memoryCallbacks = memoryCallbacks{
		Callbacks: options.MemoryCallbackOptions,
		Allocator: allocator,
	}

	var err error
	allocator.deviceMemory, err = device.NewMemoryProperties(
		memoryBackend,
		&allocator.memoryCallbacks,
		options.HeapSizeLimits,
		options.MaxBlockCount,
	)
	if err != nil {
		return nil, err
	}

	allocator.globalMemoryTypeBits = allocator.deviceMemory.CalculateGlobalMemoryTypeBits()

	return allocator, nil
}
