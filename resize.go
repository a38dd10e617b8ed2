package osheap

import (
	"fmt"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/osheap/memutils"
	"github.com/vkngwrapper/osheap/metadata"
	"golang.org/x/exp/slog"
)

// Realloc changes the size of the region at ptr to size and returns its
// possibly new address. The region keeps its first min(old size, new size)
// bytes of content.
//
// A nil ptr behaves as Malloc(size). A size of 0 behaves as Free(ptr) and
// returns nil. Resizing a block that has already been freed performs nothing
// and returns nil with no error.
//
// The resize stays in place whenever it can: shrinking splits off the tail,
// growing first tries extending the segment under the block (tail blocks
// only), then absorbing a free neighbor. Only when no in-place option exists,
// or when the block's representation no longer suits its new size, is the
// region relocated into a fresh block and copied.
func (a *Allocator) Realloc(ptr unsafe.Pointer, size int) (unsafe.Pointer, error) {
	if ptr == nil {
		return a.Malloc(size)
	}
	if size <= 0 {
		return nil, a.Free(ptr)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	h, ok := a.list.Lookup(ptr)
	if !ok {
		a.logger.Error("Allocator::Realloc called with an unknown pointer", slog.String("ptr", fmt.Sprintf("%p", ptr)))
		return nil, cerrors.Wrapf(memutils.InvalidPointerError, "resizing %p", ptr)
	}

	if h.Status() == metadata.BlockFree {
		// Resizing an already-released block reports no result.
		return nil, nil
	}

	currentSize := h.Size()
	adjustedSize := memutils.RoundUp(size)

	if currentSize >= adjustedSize {
		if !a.representationMismatch(h, size) {
			// Mapped blocks are never split: a trailing free block inside a
			// mapping would be unmapped along with it. Oversized mappings keep
			// their slack until a real resize replaces them.
			if h.Status() == metadata.BlockAllocated && metadata.ShouldSplit(currentSize, adjustedSize) {
				a.list.Split(h, adjustedSize)
			}
			return ptr, nil
		}

		if currentSize == adjustedSize {
			// No actual resize is needed, so the wrong-sized representation is
			// left alone: representation only ever changes as a byproduct of a
			// real resize.
			return ptr, nil
		}
	} else {
		if h.Next().IsNil() && h.Status() == metadata.BlockAllocated && adjustedSize < MappingThreshold {
			_, err := a.system.Sbrk(adjustedSize - currentSize)
			if err != nil {
				return nil, a.systemFailure(err)
			}
			a.list.GrowBlock(h, adjustedSize)
			return ptr, nil
		}

		a.list.Coalesce()
		next := h.Next()
		// Only segment blocks may absorb a neighbor: list order is creation
		// order, so the block after a mapping is not adjacent to it in memory.
		if h.Status() == metadata.BlockAllocated &&
			!next.IsNil() && next.Status() == metadata.BlockFree &&
			currentSize+next.Size()+metadata.HeaderSize >= adjustedSize {
			a.list.Absorb(h)
			if metadata.ShouldSplit(h.Size(), adjustedSize) {
				a.list.Split(h, adjustedSize)
			}
			return ptr, nil
		}
	}

	return a.relocate(h, ptr, size, currentSize, adjustedSize)
}

// relocate is the universal fallback: allocate a fresh block for the new size,
// copy the surviving content across, and release the old block.
func (a *Allocator) relocate(h metadata.Handle, ptr unsafe.Pointer, size, currentSize, adjustedSize int) (unsafe.Pointer, error) {
	newPtr, err := a.allocate(size, MappingThreshold)
	if err != nil {
		return nil, a.systemFailure(err)
	}

	copySize := currentSize
	if adjustedSize < copySize {
		copySize = adjustedSize
	}
	memutils.Memcpy(newPtr, ptr, copySize)

	err = a.release(h)
	if err != nil {
		return nil, a.systemFailure(err)
	}

	a.logger.Debug("Allocator::Realloc relocated block",
		slog.Int("oldSize", currentSize),
		slog.Int("newSize", adjustedSize),
		slog.Int("copied", copySize))
	return newPtr, nil
}

// representationMismatch reports whether resizing the block to size would
// leave it with the wrong backing: a mapping small enough to live in the
// segment, or a segment block large enough to deserve its own mapping.
func (a *Allocator) representationMismatch(h metadata.Handle, size int) bool {
	requiredSize := memutils.RoundUp(size + metadata.HeaderSize)

	return (h.Status() == metadata.BlockMapped && requiredSize < MappingThreshold) ||
		(h.Status() == metadata.BlockAllocated && requiredSize >= MappingThreshold)
}
