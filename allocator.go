package osheap

import (
	"fmt"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/osheap/internal/sysmem"
	"github.com/vkngwrapper/osheap/internal/utils"
	"github.com/vkngwrapper/osheap/memutils"
	"github.com/vkngwrapper/osheap/metadata"
	"golang.org/x/exp/slog"
)

const (
	// MappingThreshold is the size boundary for the primary allocation paths:
	// a new block whose rounded header+payload footprint reaches it is backed
	// by an independent mapping instead of segment growth.
	MappingThreshold = 128 * 1024

	// InitialReservation is the amount the segment grows by on the very first
	// segment block, regardless of the triggering request's size. It amortizes
	// segment-growth calls for workloads made of many small allocations.
	InitialReservation = 128 * 1024
)

// Allocator is an explicit-control heap allocator layered directly on the OS
// memory primitives. It provides the four classic allocation operations over
// raw memory: Malloc, Calloc, Realloc, and Free.
//
// Small blocks are carved from a contiguous, monotonically growing data
// segment and recycled through a best-fit free list with lazy coalescing;
// large blocks get their own anonymous mapping and are returned to the OS the
// moment they are freed. All state lives in the Allocator, so independent
// Allocators are fully isolated from each other.
//
// An Allocator is not safe for concurrent use unless created with UseMutex.
type Allocator struct {
	logger *slog.Logger
	mutex  utils.OptionalMutex
	system sysmem.Provider
	list   *metadata.TrackingList

	// Consumed by the first segment growth only.
	segmentReserved       bool
	recoverSystemFailures bool
}

// Malloc allocates size bytes and returns the address of the new region. The
// region's contents are unspecified. A size of 0 performs no allocation and
// returns nil with no error.
func (a *Allocator) Malloc(size int) (unsafe.Pointer, error) {
	if size <= 0 {
		return nil, nil
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	p, err := a.allocate(size, MappingThreshold)
	if err != nil {
		return nil, a.systemFailure(err)
	}
	return p, nil
}

// Calloc allocates count*size bytes, zero-fills the full requested extent, and
// returns the address of the new region. Either argument being 0 performs no
// allocation and returns nil with no error.
//
// The count*size product is not checked for overflow.
func (a *Allocator) Calloc(count, size int) (unsafe.Pointer, error) {
	if count <= 0 || size <= 0 {
		return nil, nil
	}

	fullSize := count * size

	a.mutex.Lock()
	defer a.mutex.Unlock()

	// The page-size threshold makes zeroed allocations prefer independent
	// mappings far more aggressively than Malloc. Mapped pages already read as
	// zero, but the fill below is applied uniformly so that correctness never
	// depends on where the block came from.
	p, err := a.allocate(fullSize, a.system.PageSize())
	if err != nil {
		return nil, a.systemFailure(err)
	}

	memutils.Memzero(p, fullSize)
	return p, nil
}

// Free releases the region at ptr, which must be an address previously
// returned by this Allocator and not yet relocated or coalesced away. A nil
// ptr is a no-op. Freeing a segment block marks it reusable; freeing a mapped
// block returns its memory to the OS immediately.
func (a *Allocator) Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	h, ok := a.list.Lookup(ptr)
	if !ok {
		a.logger.Error("Allocator::Free called with an unknown pointer", slog.String("ptr", fmt.Sprintf("%p", ptr)))
		return cerrors.Wrapf(memutils.InvalidPointerError, "freeing %p", ptr)
	}

	err := a.release(h)
	if err != nil {
		return a.systemFailure(err)
	}
	return nil
}

// allocate is the shared allocation routine behind every entry point: it
// satisfies a request from the free list when possible, extends the tail
// segment block when the list has a free tail, and acquires a brand-new block
// otherwise.
func (a *Allocator) allocate(size int, threshold int) (unsafe.Pointer, error) {
	memutils.DebugValidate(a.list)

	if a.list.IsEmpty() {
		h, err := a.acquireBlock(metadata.NilHandle, size, threshold)
		if err != nil {
			return nil, err
		}
		return h.Payload(), nil
	}

	rounded := memutils.RoundUp(size)

	a.list.Coalesce()
	best, tail := a.list.FindBestFit(size)

	if !best.IsNil() {
		if metadata.ShouldSplit(best.Size(), rounded) {
			a.list.Split(best, rounded)
		}
		best.SetStatus(metadata.BlockAllocated)
		return best.Payload(), nil
	}

	if tail.Status() == metadata.BlockFree {
		// Only segment blocks are ever free, and a free tail ends exactly at
		// the segment boundary, so it can be extended by the shortfall instead
		// of creating a new block.
		_, err := a.system.Sbrk(rounded - tail.Size())
		if err != nil {
			return nil, err
		}
		a.list.GrowBlock(tail, rounded)
		tail.SetStatus(metadata.BlockAllocated)
		return tail.Payload(), nil
	}

	h, err := a.acquireBlock(tail, size, threshold)
	if err != nil {
		return nil, err
	}
	return h.Payload(), nil
}

// acquireBlock creates a brand-new block for size payload bytes and links it
// after tail. The block is carved from the segment when its total footprint
// stays below threshold and backed by its own mapping otherwise.
func (a *Allocator) acquireBlock(tail metadata.Handle, size int, threshold int) (metadata.Handle, error) {
	totalSize := memutils.RoundUp(size + metadata.HeaderSize)

	if totalSize < threshold {
		growth := totalSize
		if !a.segmentReserved {
			growth = InitialReservation
			a.segmentReserved = true
		}

		p, err := a.system.Sbrk(growth)
		if err != nil {
			return metadata.NilHandle, err
		}

		h := a.list.InitBlock(p, memutils.RoundUp(size), metadata.BlockAllocated)
		a.list.Append(tail, h)

		a.logger.Debug("Allocator::acquireBlock carved segment block",
			slog.Int("size", h.Size()),
			slog.Int("growth", growth))
		return h, nil
	}

	p, err := a.system.Mmap(totalSize)
	if err != nil {
		return metadata.NilHandle, err
	}

	h := a.list.InitBlock(p, memutils.RoundUp(size), metadata.BlockMapped)
	a.list.Append(tail, h)

	a.logger.Debug("Allocator::acquireBlock established mapping",
		slog.Int("size", h.Size()),
		slog.Int("totalSize", totalSize))
	return h, nil
}

// release frees a block the allocator has already resolved to a handle. Mapped
// blocks leave tracking and go back to the OS in one step; segment blocks are
// marked free and the chain is coalesced.
func (a *Allocator) release(h metadata.Handle) error {
	memutils.DebugValidate(a.list)

	if h.Status() == metadata.BlockMapped {
		base, totalSize := h.Region()

		// The mapping's memory ceases to exist, so it is removed from the
		// chain (re-pointing the anchors when it was the head) rather than
		// retained as a free block.
		err := a.list.Remove(h)
		if err != nil {
			return err
		}
		a.list.Coalesce()

		err = a.system.Munmap(base, totalSize)
		if err != nil {
			return err
		}

		a.logger.Debug("Allocator::release returned mapping to the OS",
			slog.Int("totalSize", totalSize))
		return nil
	}

	h.SetStatus(metadata.BlockFree)
	a.list.Coalesce()
	return nil
}

// systemFailure applies the configured fatal-tier policy to an error from the
// OS primitives: panic by default, pass it through when the consumer opted in.
func (a *Allocator) systemFailure(err error) error {
	if err == nil {
		return nil
	}
	if a.recoverSystemFailures || !cerrors.Is(err, memutils.SystemCallError) {
		return err
	}
	panic(err)
}
