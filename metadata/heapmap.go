package metadata

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// WriteHeapMap emits a JSON description of the chain's current layout: one
// entry per block with its address, capacity, and status. This is diagnostic
// output for inspecting fragmentation and block placement.
func (l *TrackingList) WriteHeapMap(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	obj.Name("BlockCount").Int(l.Len())

	blocks := obj.Name("Blocks").Array()
	defer blocks.End()

	_ = l.VisitBlocks(func(h Handle) error {
		blockObj := blocks.Object()

		blockObj.Name("Address").String(fmt.Sprintf("%p", h.header))
		blockObj.Name("Size").Int(h.Size())
		blockObj.Name("Status").String(h.Status().String())

		blockObj.End()
		return nil
	})
}
