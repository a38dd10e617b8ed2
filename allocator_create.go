package osheap

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/osheap/internal/sysmem"
	"github.com/vkngwrapper/osheap/internal/utils"
	"github.com/vkngwrapper/osheap/metadata"
	"golang.org/x/exp/slog"
)

// CreateOptions contains optional settings for a created Allocator.
type CreateOptions struct {
	// Provider supplies the OS memory primitives the allocator is built on.
	// When nil, the real OS implementation is used. Substituting a Provider is
	// mainly useful for tests.
	Provider sysmem.Provider

	// SegmentReserveSize is the maximum number of bytes the data segment can
	// grow to over the allocator's lifetime. 0 selects
	// sysmem.DefaultSegmentReserve. Ignored when Provider is set.
	SegmentReserveSize int

	// UseMutex serializes every operation behind a single lock, making the
	// allocator safe for concurrent callers. Off by default: the allocator
	// assumes a single logical caller, and no finer-grained locking is
	// possible without redesigning the tracking list.
	UseMutex bool

	// RecoverSystemFailures changes how failures of the OS primitives are
	// surfaced. By default the allocator panics, treating them as fatal to the
	// process. When set, entry points instead return an error wrapping
	// memutils.SystemCallError and the allocator remains usable.
	RecoverSystemFailures bool
}

// New creates a new Allocator from the provided options. logger may be nil, in
// which case slog.Default() is used.
func New(logger *slog.Logger, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if options.SegmentReserveSize < 0 {
		return nil, errors.Errorf("invalid SegmentReserveSize: %d", options.SegmentReserveSize)
	}

	provider := options.Provider
	if provider == nil {
		provider = sysmem.NewOSProvider(options.SegmentReserveSize)
	}

	return &Allocator{
		logger: logger,
		mutex:  utils.OptionalMutex{UseMutex: options.UseMutex},
		system: provider,
		list:   metadata.NewTrackingList(),

		recoverSystemFailures: options.RecoverSystemFailures,
	}, nil
}
