package metadata

import (
	"unsafe"

	"github.com/vkngwrapper/osheap/memutils"
)

// BlockStatus describes the lifecycle state of a tracked block.
type BlockStatus uint32

const (
	// BlockFree indicates the block's payload is available for reuse by a future
	// allocation. Only segment blocks are ever free: released mappings are
	// returned to the OS and removed from tracking instead.
	BlockFree BlockStatus = iota
	// BlockAllocated indicates a live allocation carved from the segment.
	BlockAllocated
	// BlockMapped indicates a live allocation backed by its own anonymous mapping.
	BlockMapped
)

var blockStatusMapping = map[BlockStatus]string{
	BlockFree:      "Free",
	BlockAllocated: "Allocated",
	BlockMapped:    "Mapped",
}

func (s BlockStatus) String() string {
	return blockStatusMapping[s]
}

// blockHeader is the fixed-layout record physically prefixed to every payload.
// The payload begins exactly HeaderSize bytes after the header's own address.
type blockHeader struct {
	size   int
	status BlockStatus
	next   *blockHeader
}

// HeaderSize is the rounded size of the header record, used for all offset
// arithmetic between a block's start and its payload.
const HeaderSize = (int(unsafe.Sizeof(blockHeader{})) + memutils.MemBound - 1) /
	memutils.MemBound * memutils.MemBound

// MinSplitLeftover is the smallest leftover that is worth carving into its own
// free block: one header plus one granularity unit of payload. Leftovers below
// this stay inside the donor block as padding.
const MinSplitLeftover = (1 + HeaderSize + memutils.MemBound - 1) /
	memutils.MemBound * memutils.MemBound

// Handle identifies one tracked block. It is the single place in the module
// where header/payload pointer arithmetic happens: Payload derives the usable
// region from a handle, and TrackingList.Lookup recovers a handle from a
// payload address.
type Handle struct {
	header *blockHeader
}

// NilHandle is the zero Handle. It identifies no block.
var NilHandle = Handle{}

func handleAt(p unsafe.Pointer) Handle {
	return Handle{header: (*blockHeader)(p)}
}

// IsNil returns true if the handle does not identify a block.
func (h Handle) IsNil() bool {
	return h.header == nil
}

// Payload returns the address of the block's usable region, which begins
// immediately after the header.
func (h Handle) Payload() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(h.header), HeaderSize)
}

// Size returns the block's payload capacity in bytes. It is always a multiple
// of memutils.MemBound.
func (h Handle) Size() int {
	return h.header.size
}

// Status returns the block's lifecycle state.
func (h Handle) Status() BlockStatus {
	return h.header.status
}

// Next returns the following block in tracking order, or NilHandle for the tail.
func (h Handle) Next() Handle {
	return Handle{header: h.header.next}
}

func (h Handle) setSize(size int) {
	h.header.size = size
}

func (h Handle) setStatus(status BlockStatus) {
	h.header.status = status
}

func (h Handle) setNext(next Handle) {
	h.header.next = next.header
}

// SetStatus transitions the block between lifecycle states. The tracking list
// owns all other header mutation.
func (h Handle) SetStatus(status BlockStatus) {
	h.setStatus(status)
}

// Region returns the address and total length of the block's backing memory,
// header included. For mapped blocks this is exactly the region that was
// requested from the OS and must be handed back to it.
func (h Handle) Region() (unsafe.Pointer, int) {
	return unsafe.Pointer(h.header), HeaderSize + h.header.size
}
