package osheap_test

import (
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/osheap/memutils"
)

// fakeProvider is a slice-backed stand-in for the OS primitives, so engine
// tests are deterministic and observable. Backing slices are held on the
// struct to keep them alive for the provider's lifetime.
type fakeProvider struct {
	segment []uint64
	brk     int

	mappings map[uintptr][]uint64

	sbrkCalls  int
	mmapCalls  int
	unmapCalls int

	failSbrk bool
	failMmap bool
}

const fakeSegmentSize = 8 * 1024 * 1024

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		mappings: map[uintptr][]uint64{},
	}
}

func (f *fakeProvider) Sbrk(delta int) (unsafe.Pointer, error) {
	f.sbrkCalls++

	if f.failSbrk {
		return nil, cerrors.Wrapf(memutils.SystemCallError, "segment growth of %d bytes refused", delta)
	}
	if f.segment == nil {
		f.segment = make([]uint64, fakeSegmentSize/8)
	}
	if f.brk+delta > fakeSegmentSize || f.brk+delta < 0 {
		return nil, cerrors.Wrapf(memutils.SystemCallError, "segment growth of %d bytes refused", delta)
	}

	prior := unsafe.Add(unsafe.Pointer(&f.segment[0]), f.brk)
	f.brk += delta
	return prior, nil
}

func (f *fakeProvider) Mmap(size int) (unsafe.Pointer, error) {
	f.mmapCalls++

	if f.failMmap {
		return nil, cerrors.Wrapf(memutils.SystemCallError, "anonymous mapping of %d bytes refused", size)
	}

	region := make([]uint64, (size+7)/8)
	p := unsafe.Pointer(&region[0])
	f.mappings[uintptr(p)] = region
	return p, nil
}

func (f *fakeProvider) Munmap(p unsafe.Pointer, size int) error {
	f.unmapCalls++

	region, ok := f.mappings[uintptr(p)]
	if !ok {
		return cerrors.Wrapf(memutils.SystemCallError, "unmapping %p, which is not a live mapping", p)
	}
	if len(region)*8 < size {
		return cerrors.Wrapf(memutils.SystemCallError, "unmapping %d bytes at %p, but the mapping is %d bytes", size, p, len(region)*8)
	}

	delete(f.mappings, uintptr(p))
	return nil
}

func (f *fakeProvider) PageSize() int {
	return 4096
}
