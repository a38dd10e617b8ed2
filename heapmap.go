package osheap

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// BuildHeapMapString returns a JSON description of every tracked block, in
// tracking order, with its address, capacity, and status. This is diagnostic
// output: it shows block placement and fragmentation, and is the easiest way
// to see how a sequence of operations reshaped the heap.
func (a *Allocator) BuildHeapMapString() string {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	writer := jwriter.NewWriter()
	a.list.WriteHeapMap(&writer)

	return string(writer.Bytes())
}

// Validate performs internal consistency checks on the allocator's tracking
// state. When the allocator is functioning correctly it never returns an
// error.
func (a *Allocator) Validate() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.list.Validate()
}
