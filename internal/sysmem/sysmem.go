// Package sysmem wraps the two operating-system memory primitives the
// allocator is built on: incremental growth of a private data segment and
// on-demand anonymous mappings. The allocator treats both as assumed-correct
// collaborators; any failure they report is a terminal condition.
package sysmem

//go:generate mockgen -destination mock_sysmem/mock_sysmem.go github.com/vkngwrapper/osheap/internal/sysmem Provider

import "unsafe"

// DefaultSegmentReserve is the amount of address space reserved for the
// emulated data segment when no explicit size is configured (256 MiB). The
// reservation is address space only: pages are not committed until written.
const DefaultSegmentReserve = 256 * 1024 * 1024

// Provider supplies the OS memory primitives. The production implementation is
// OSProvider; tests substitute slice-backed fakes.
type Provider interface {
	// Sbrk extends the data segment by delta bytes and returns the address of
	// the prior segment boundary. The returned region is zero-filled and
	// contiguous with all earlier Sbrk results.
	Sbrk(delta int) (unsafe.Pointer, error)
	// Mmap establishes a fresh anonymous read/write mapping of exactly size
	// bytes and returns its address. The region reads as zero.
	Mmap(size int) (unsafe.Pointer, error)
	// Munmap releases a mapping previously obtained from Mmap. p and size must
	// exactly match the original request.
	Munmap(p unsafe.Pointer, size int) error
	// PageSize returns the OS page size in bytes.
	PageSize() int
}
