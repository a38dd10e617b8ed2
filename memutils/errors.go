package memutils

import "github.com/pkg/errors"

// SystemCallError is the error wrapped by all failures of the underlying OS
// memory primitives: growing the segment, creating or releasing a mapping, and
// querying the page size. These represent resource exhaustion or OS-level
// invariant violations the allocator cannot recover from, so entry points abort
// on them unless the consumer has opted into receiving them.
var SystemCallError error = errors.New("system memory primitive failed")

// InvalidPointerError is the error wrapped by failures caused by the consumer
// passing a pointer that is not the payload address of any live block.
var InvalidPointerError error = errors.New("pointer does not belong to any tracked block")
