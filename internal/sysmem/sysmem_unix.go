//go:build unix

package sysmem

import (
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/osheap/memutils"
	"golang.org/x/sys/unix"
)

// OSProvider is the production Provider.
//
// Mappings go straight to mmap/munmap. The segment is emulated: the Go runtime
// owns the real program break, so moving it with brk(2) would corrupt the
// runtime's own memory management. Instead a single large anonymous region is
// reserved up front with MAP_NORESERVE and the segment boundary advances
// through it monotonically, which preserves sbrk's contract (contiguous,
// zero-filled growth returning the prior boundary) without touching the break.
// Exhausting the reservation reports a segment-growth failure.
type OSProvider struct {
	segmentReserve int

	segment []byte
	brk     int
}

var _ Provider = &OSProvider{}

// NewOSProvider creates an OSProvider whose emulated segment can grow to at
// most segmentReserve bytes. A segmentReserve of 0 selects
// DefaultSegmentReserve. The reservation itself is made on the first Sbrk call,
// so a consumer that only ever uses mappings reserves nothing.
func NewOSProvider(segmentReserve int) *OSProvider {
	if segmentReserve <= 0 {
		segmentReserve = DefaultSegmentReserve
	}
	return &OSProvider{segmentReserve: segmentReserve}
}

func (p *OSProvider) Sbrk(delta int) (unsafe.Pointer, error) {
	if p.segment == nil {
		segment, err := unix.Mmap(-1, 0, p.segmentReserve,
			unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
		if err != nil {
			return nil, cerrors.Wrapf(memutils.SystemCallError, "reserving %d bytes of segment address space: %s", p.segmentReserve, err)
		}
		p.segment = segment
	}

	if p.brk+delta > len(p.segment) || p.brk+delta < 0 {
		return nil, cerrors.Wrapf(memutils.SystemCallError, "segment growth of %d bytes would exceed the %d-byte reservation", delta, len(p.segment))
	}

	prior := unsafe.Add(unsafe.Pointer(&p.segment[0]), p.brk)
	p.brk += delta
	return prior, nil
}

func (p *OSProvider) Mmap(size int) (unsafe.Pointer, error) {
	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, cerrors.Wrapf(memutils.SystemCallError, "anonymous mapping of %d bytes: %s", size, err)
	}
	return unsafe.Pointer(&mem[0]), nil
}

func (p *OSProvider) Munmap(ptr unsafe.Pointer, size int) error {
	err := unix.Munmap(unsafe.Slice((*byte)(ptr), size))
	if err != nil {
		return cerrors.Wrapf(memutils.SystemCallError, "unmapping %d bytes at %p: %s", size, ptr, err)
	}
	return nil
}

func (p *OSProvider) PageSize() int {
	return unix.Getpagesize()
}
