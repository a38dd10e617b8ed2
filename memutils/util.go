package memutils

import "unsafe"

// MemBound is the allocation granularity in bytes. Every block capacity the
// allocator hands out is a multiple of this value, and all offset arithmetic
// is performed on rounded sizes.
const MemBound = 8

// RoundUp maps any non-negative byte count to the smallest multiple of MemBound
// that is greater than or equal to it. It is idempotent and monotonic.
func RoundUp(size int) int {
	return (size + MemBound - 1) / MemBound * MemBound
}

// Memcpy copies size bytes from src to dst. The ranges may overlap.
func Memcpy(dst, src unsafe.Pointer, size int) {
	if size <= 0 {
		return
	}
	copy(unsafe.Slice((*byte)(dst), size), unsafe.Slice((*byte)(src), size))
}

// Memzero fills size bytes at p with zeroes.
func Memzero(p unsafe.Pointer, size int) {
	if size <= 0 {
		return
	}
	region := unsafe.Slice((*byte)(p), size)
	for i := range region {
		region[i] = 0
	}
}
