package batchmem

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/arsenal/batchmem/backend"
)

// Provider hands out one Allocator per key, all drawing from the same backend. Keys are chosen by the
// caller: a render thread ID, a frame index, a subsystem name. Allocators are created on first use.
type Provider[K comparable] struct {
	logger  *slog.Logger
	backend backend.Backend
	options CreateOptions

	mutex      sync.Mutex
	allocators *swiss.Map[K, *Allocator]
	closed     bool
}

func NewProvider[K comparable](logger *slog.Logger, memoryBackend backend.Backend, options CreateOptions) *Provider[K] {
	return &Provider[K]{
		logger:     logger,
		backend:    memoryBackend,
		options:    options,
		allocators: swiss.NewMap[K, *Allocator](8),
	}
}

// Get returns the allocator for key, creating it if this is the first request for it
func (p *Provider[K]) Get(key K) (*Allocator, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return nil, errors.New("provider has been closed")
	}

	allocator, ok := p.allocators.Get(key)
	if ok {
		return allocator, nil
	}

	allocator, err := New(p.logger.With(slog.String("allocatorKey", fmt.Sprint(key))), p.backend, p.options)
	if err != nil {
		return nil, err
	}

	p.allocators.Put(key, allocator)
	return allocator, nil
}

// Len is the number of allocators the provider has created
func (p *Provider[K]) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.allocators.Count()
}

// Close destroys every allocator the provider created
func (p *Provider[K]) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return nil
	}

	var err error
	p.allocators.Iter(func(key K, allocator *Allocator) bool {
		destroyErr := allocator.Destroy()
		if destroyErr != nil {
			err = errors.CombineErrors(err, errors.Wrapf(destroyErr, "allocator %v", key))
		}
		return false
	})

	p.allocators.Clear()
	p.closed = true
	return err
}
