package metadata

import (
	"unsafe"

	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/osheap/memutils"
)

// TrackingList is the singly-linked chain of all blocks known to the allocator,
// in creation order. It owns two anchors: the first block ever created, and the
// head used as the starting point for searches and coalescing passes. The two
// are re-pointed together when the first block is a released mapping, so they
// remain interchangeable; both are kept because consumers may hold the anchor
// across search-head updates.
//
// Alongside the intrusive chain, the list maintains an index from payload
// address to Handle. The index is the only supported way to turn a consumer
// pointer back into a block, which lets the allocator reject pointers it never
// handed out instead of trusting raw offset math on them.
type TrackingList struct {
	anchor     Handle
	searchHead Handle

	payloadIndex *swiss.Map[uintptr, Handle]
}

// NewTrackingList creates an empty TrackingList.
func NewTrackingList() *TrackingList {
	return &TrackingList{
		payloadIndex: swiss.NewMap[uintptr, Handle](42),
	}
}

// IsEmpty returns true when no block has ever been created (or every block has
// been removed again, which only happens when all blocks were mappings).
func (l *TrackingList) IsEmpty() bool {
	return l.anchor.IsNil()
}

// Anchor returns the first tracked block.
func (l *TrackingList) Anchor() Handle {
	return l.anchor
}

// Head returns the block searches begin from.
func (l *TrackingList) Head() Handle {
	return l.searchHead
}

// InitBlock writes a fresh header at p, claiming size payload bytes with the
// provided status, and registers the block's payload in the index. The block is
// not linked into the chain until Append is called. size must already be
// rounded to the allocation granularity.
func (l *TrackingList) InitBlock(p unsafe.Pointer, size int, status BlockStatus) Handle {
	h := handleAt(p)
	h.setSize(size)
	h.setStatus(status)
	h.setNext(NilHandle)
	l.payloadIndex.Put(uintptr(h.Payload()), h)
	return h
}

// Append links h after tail, which must be the current last block of the chain.
// When the list is empty, tail must be NilHandle and h becomes both anchors.
func (l *TrackingList) Append(tail, h Handle) {
	if tail.IsNil() {
		if !l.anchor.IsNil() {
			// Keep any surviving blocks reachable from the new head.
			h.setNext(l.searchHead)
		}
		l.anchor = h
		l.searchHead = h
		return
	}
	tail.setNext(h)
}

// Lookup recovers the block whose payload begins at p, if any.
func (l *TrackingList) Lookup(p unsafe.Pointer) (Handle, bool) {
	return l.payloadIndex.Get(uintptr(p))
}

// Coalesce merges every free block with an immediately following free block,
// in a single left-to-right pass. Merging absorbs the follower's header and
// payload into the leader, so one pass reaches a fixed point: after a merge the
// leader is compared against its new follower before the walk advances.
func (l *TrackingList) Coalesce() {
	h := l.searchHead
	for !h.IsNil() && !h.Next().IsNil() {
		next := h.Next()
		if h.Status() == BlockFree && next.Status() == BlockFree {
			l.payloadIndex.Delete(uintptr(next.Payload()))
			h.setSize(h.Size() + next.Size() + HeaderSize)
			h.setNext(next.Next())
		} else {
			h = next
		}
	}
}

// ShouldSplit reports whether shrinking a block of the given capacity down to
// size leaves enough room for a viable trailing free block.
func ShouldSplit(capacity, size int) bool {
	return capacity-size >= MinSplitLeftover
}

// Split carves the first size payload bytes out of h and turns the remainder
// into a new free block linked directly after it. size must already be rounded
// and strictly smaller than the block's capacity by at least MinSplitLeftover.
func (l *TrackingList) Split(h Handle, size int) Handle {
	trailing := handleAt(unsafe.Add(unsafe.Pointer(h.header), HeaderSize+size))
	trailing.setSize(h.Size() - size - HeaderSize)
	trailing.setStatus(BlockFree)
	trailing.setNext(h.Next())
	l.payloadIndex.Put(uintptr(trailing.Payload()), trailing)

	h.setNext(trailing)
	h.setSize(size)
	return trailing
}

// Absorb merges the block immediately following h into it, regardless of h's
// own status. The follower must be free. Used by the resize engine to grow an
// allocation forward in place.
func (l *TrackingList) Absorb(h Handle) {
	next := h.Next()
	l.payloadIndex.Delete(uintptr(next.Payload()))
	h.setSize(h.Size() + next.Size() + HeaderSize)
	h.setNext(next.Next())
}

// FindBestFit walks the chain and selects the free block with the smallest
// capacity that still satisfies size. Ties keep the earliest-created block,
// because only a strictly smaller capacity replaces the current best. The
// current tail of the chain is returned alongside, for the caller's
// tail-extension and append paths. Callers are expected to Coalesce first.
func (l *TrackingList) FindBestFit(size int) (best, tail Handle) {
	rounded := memutils.RoundUp(size)
	for h := l.searchHead; !h.IsNil(); h = h.Next() {
		if h.Status() == BlockFree && h.Size() >= rounded {
			if best.IsNil() || h.Size() < best.Size() {
				best = h
			}
		}
		tail = h
	}
	return best, tail
}

// GrowBlock extends h's claimed capacity to size without moving it. Only valid
// for the tail block, whose payload is the end of the segment.
func (l *TrackingList) GrowBlock(h Handle, size int) {
	h.setSize(size)
}

// Remove unlinks h from the chain and drops it from the payload index,
// re-pointing the anchors when h is the head. Used when a mapping is returned
// to the OS: unlike segment blocks, its memory ceases to exist, so it must not
// remain reachable from the chain.
func (l *TrackingList) Remove(h Handle) error {
	l.payloadIndex.Delete(uintptr(h.Payload()))

	if l.searchHead == h {
		l.searchHead = h.Next()
		if l.anchor == h {
			l.anchor = l.searchHead
		}
		return nil
	}

	for walk := l.searchHead; !walk.IsNil(); walk = walk.Next() {
		if walk.Next() == h {
			walk.setNext(h.Next())
			return nil
		}
	}

	return errors.Errorf("block %p is not linked into the tracking list", h.header)
}

// Len walks the chain and returns the number of tracked blocks.
func (l *TrackingList) Len() int {
	count := 0
	for h := l.searchHead; !h.IsNil(); h = h.Next() {
		count++
	}
	return count
}

// VisitBlocks calls visit once per tracked block, in tracking order. The
// callback must not mutate the chain.
func (l *TrackingList) VisitBlocks(visit func(h Handle) error) error {
	for h := l.searchHead; !h.IsNil(); h = h.Next() {
		err := visit(h)
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate performs internal consistency checks on the chain and the payload
// index. When the allocator is functioning correctly it should not be possible
// for this method to return an error, but it may assist in diagnosing issues
// with the engine.
func (l *TrackingList) Validate() error {
	if l.anchor != l.searchHead {
		return errors.Errorf("the anchor block %p and the search head %p have diverged", l.anchor.header, l.searchHead.header)
	}

	count := 0
	for h := l.searchHead; !h.IsNil(); h = h.Next() {
		count++

		if h.Size()%memutils.MemBound != 0 {
			return errors.Errorf("block %p has capacity %d, which is not a multiple of the allocation granularity", h.header, h.Size())
		}

		if _, ok := blockStatusMapping[h.Status()]; !ok {
			return errors.Errorf("block %p has an invalid status %d", h.header, uint32(h.Status()))
		}

		indexed, ok := l.payloadIndex.Get(uintptr(h.Payload()))
		if !ok {
			return errors.Errorf("block %p is linked into the chain but its payload is not indexed", h.header)
		}
		if indexed != h {
			return errors.Errorf("the payload of block %p is indexed to a different block %p", h.header, indexed.header)
		}

		next := h.Next()
		if !next.IsNil() && h.Status() == BlockFree && next.Status() == BlockFree {
			return errors.Errorf("blocks %p and %p are adjacent in the chain but both free", h.header, next.header)
		}

		if h == next {
			return errors.Errorf("block %p points to itself", h.header)
		}
	}

	if count != l.payloadIndex.Count() {
		return errors.Errorf("the chain holds %d blocks but the payload index holds %d", count, l.payloadIndex.Count())
	}

	return nil
}

var _ memutils.Validatable = &TrackingList{}
