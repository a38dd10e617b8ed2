package metadata_test

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/osheap/metadata"
)

// testArena hands out header+payload slots the way the real segment does:
// contiguously, in creation order, 8-byte aligned.
type testArena struct {
	buf  []uint64
	next int
}

func newTestArena(size int) *testArena {
	return &testArena{buf: make([]uint64, size/8)}
}

func (a *testArena) place(payloadSize int) unsafe.Pointer {
	p := unsafe.Add(unsafe.Pointer(&a.buf[0]), a.next)
	a.next += metadata.HeaderSize + payloadSize
	return p
}

func TestTrackingListAppend(t *testing.T) {
	arena := newTestArena(4096)
	defer runtime.KeepAlive(arena.buf)

	list := metadata.NewTrackingList()
	require.True(t, list.IsEmpty())

	first := list.InitBlock(arena.place(64), 64, metadata.BlockAllocated)
	list.Append(metadata.NilHandle, first)

	require.False(t, list.IsEmpty())
	require.Equal(t, first, list.Anchor())
	require.Equal(t, first, list.Head())
	require.Equal(t, 1, list.Len())

	second := list.InitBlock(arena.place(128), 128, metadata.BlockAllocated)
	list.Append(first, second)

	require.Equal(t, 2, list.Len())
	require.Equal(t, second, first.Next())
	require.True(t, second.Next().IsNil())

	looked, ok := list.Lookup(second.Payload())
	require.True(t, ok)
	require.Equal(t, second, looked)

	_, ok = list.Lookup(unsafe.Add(second.Payload(), 8))
	require.False(t, ok)

	require.NoError(t, list.Validate())
}

func TestTrackingListCoalesce(t *testing.T) {
	arena := newTestArena(4096)
	defer runtime.KeepAlive(arena.buf)

	list := metadata.NewTrackingList()

	first := list.InitBlock(arena.place(64), 64, metadata.BlockFree)
	list.Append(metadata.NilHandle, first)
	second := list.InitBlock(arena.place(64), 64, metadata.BlockFree)
	list.Append(first, second)
	third := list.InitBlock(arena.place(32), 32, metadata.BlockAllocated)
	list.Append(second, third)

	list.Coalesce()

	require.Equal(t, 2, list.Len())
	require.Equal(t, 64+metadata.HeaderSize+64, first.Size())
	require.Equal(t, third, first.Next())

	// The absorbed block's payload must no longer resolve.
	_, ok := list.Lookup(second.Payload())
	require.False(t, ok)

	require.NoError(t, list.Validate())
}

func TestTrackingListCoalesceRun(t *testing.T) {
	arena := newTestArena(4096)
	defer runtime.KeepAlive(arena.buf)

	list := metadata.NewTrackingList()

	prev := metadata.NilHandle
	var head metadata.Handle
	for i := 0; i < 4; i++ {
		h := list.InitBlock(arena.place(64), 64, metadata.BlockFree)
		list.Append(prev, h)
		if i == 0 {
			head = h
		}
		prev = h
	}

	// A run of free blocks collapses to a single block in one pass.
	list.Coalesce()

	require.Equal(t, 1, list.Len())
	require.Equal(t, 4*64+3*metadata.HeaderSize, head.Size())
	require.True(t, head.Next().IsNil())
	require.NoError(t, list.Validate())
}

func TestTrackingListSplit(t *testing.T) {
	arena := newTestArena(4096)
	defer runtime.KeepAlive(arena.buf)

	list := metadata.NewTrackingList()

	donor := list.InitBlock(arena.place(256), 256, metadata.BlockAllocated)
	list.Append(metadata.NilHandle, donor)

	require.True(t, metadata.ShouldSplit(256, 64))
	trailing := list.Split(donor, 64)

	require.Equal(t, 64, donor.Size())
	require.Equal(t, 256-64-metadata.HeaderSize, trailing.Size())
	require.Equal(t, metadata.BlockFree, trailing.Status())
	require.Equal(t, trailing, donor.Next())
	require.True(t, trailing.Next().IsNil())

	// The trailing header sits exactly at the end of the shrunk payload.
	require.Equal(t,
		uintptr(donor.Payload())+64+uintptr(metadata.HeaderSize),
		uintptr(trailing.Payload()))

	looked, ok := list.Lookup(trailing.Payload())
	require.True(t, ok)
	require.Equal(t, trailing, looked)

	require.Equal(t, 2, list.Len())
	require.NoError(t, list.Validate())
}

func TestShouldSplitThreshold(t *testing.T) {
	// The leftover must fit a header plus one granularity unit of payload.
	require.True(t, metadata.ShouldSplit(64+metadata.MinSplitLeftover, 64))
	require.False(t, metadata.ShouldSplit(64+metadata.MinSplitLeftover-8, 64))
	require.False(t, metadata.ShouldSplit(64, 64))
}

func TestTrackingListFindBestFit(t *testing.T) {
	arena := newTestArena(8192)
	defer runtime.KeepAlive(arena.buf)

	list := metadata.NewTrackingList()

	big := list.InitBlock(arena.place(256), 256, metadata.BlockFree)
	list.Append(metadata.NilHandle, big)
	barrier := list.InitBlock(arena.place(64), 64, metadata.BlockAllocated)
	list.Append(big, barrier)
	small := list.InitBlock(arena.place(64), 64, metadata.BlockFree)
	list.Append(barrier, small)
	tail := list.InitBlock(arena.place(64), 64, metadata.BlockAllocated)
	list.Append(small, tail)

	best, foundTail := list.FindBestFit(56)
	require.Equal(t, small, best)
	require.Equal(t, tail, foundTail)

	// Requests too large for the small block land in the big one.
	best, _ = list.FindBestFit(100)
	require.Equal(t, big, best)

	// Requests nothing can satisfy report no candidate but still report the tail.
	best, foundTail = list.FindBestFit(1024)
	require.True(t, best.IsNil())
	require.Equal(t, tail, foundTail)

	// Mapped and allocated blocks are never matched.
	best, _ = list.FindBestFit(56)
	require.NotEqual(t, barrier, best)
	require.NotEqual(t, tail, best)
}

func TestTrackingListBestFitTieKeepsEarliest(t *testing.T) {
	arena := newTestArena(4096)
	defer runtime.KeepAlive(arena.buf)

	list := metadata.NewTrackingList()

	first := list.InitBlock(arena.place(64), 64, metadata.BlockFree)
	list.Append(metadata.NilHandle, first)
	barrier := list.InitBlock(arena.place(8), 8, metadata.BlockAllocated)
	list.Append(first, barrier)
	second := list.InitBlock(arena.place(64), 64, metadata.BlockFree)
	list.Append(barrier, second)

	best, _ := list.FindBestFit(64)
	require.Equal(t, first, best)
}

func TestTrackingListRemove(t *testing.T) {
	arena := newTestArena(4096)
	defer runtime.KeepAlive(arena.buf)

	list := metadata.NewTrackingList()

	first := list.InitBlock(arena.place(64), 64, metadata.BlockMapped)
	list.Append(metadata.NilHandle, first)
	second := list.InitBlock(arena.place(64), 64, metadata.BlockAllocated)
	list.Append(first, second)
	third := list.InitBlock(arena.place(64), 64, metadata.BlockMapped)
	list.Append(second, third)

	// Removing the head re-points both anchors.
	require.NoError(t, list.Remove(first))
	require.Equal(t, second, list.Anchor())
	require.Equal(t, second, list.Head())
	require.Equal(t, 2, list.Len())
	_, ok := list.Lookup(first.Payload())
	require.False(t, ok)

	// Removing an interior block relinks its predecessor.
	require.NoError(t, list.Remove(third))
	require.Equal(t, 1, list.Len())
	require.True(t, second.Next().IsNil())

	require.NoError(t, list.Validate())
}

func TestTrackingListValidateAdjacentFree(t *testing.T) {
	arena := newTestArena(4096)
	defer runtime.KeepAlive(arena.buf)

	list := metadata.NewTrackingList()

	first := list.InitBlock(arena.place(64), 64, metadata.BlockFree)
	list.Append(metadata.NilHandle, first)
	second := list.InitBlock(arena.place(64), 64, metadata.BlockFree)
	list.Append(first, second)

	require.Error(t, list.Validate())

	list.Coalesce()
	require.NoError(t, list.Validate())
}

func TestTrackingListVisitBlocks(t *testing.T) {
	arena := newTestArena(4096)
	defer runtime.KeepAlive(arena.buf)

	list := metadata.NewTrackingList()

	first := list.InitBlock(arena.place(64), 64, metadata.BlockAllocated)
	list.Append(metadata.NilHandle, first)
	second := list.InitBlock(arena.place(128), 128, metadata.BlockFree)
	list.Append(first, second)

	var visited []metadata.Handle
	err := list.VisitBlocks(func(h metadata.Handle) error {
		visited = append(visited, h)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []metadata.Handle{first, second}, visited)

	// A visitor error stops the walk and is passed through.
	calls := 0
	err = list.VisitBlocks(func(h metadata.Handle) error {
		calls++
		return errors.New("stop")
	})
	require.EqualError(t, err, "stop")
	require.Equal(t, 1, calls)
}

func TestHandleRegion(t *testing.T) {
	arena := newTestArena(1024)
	defer runtime.KeepAlive(arena.buf)

	list := metadata.NewTrackingList()
	h := list.InitBlock(arena.place(128), 128, metadata.BlockMapped)

	base, totalSize := h.Region()
	require.Equal(t, uintptr(base)+uintptr(metadata.HeaderSize), uintptr(h.Payload()))
	require.Equal(t, metadata.HeaderSize+128, totalSize)
}
