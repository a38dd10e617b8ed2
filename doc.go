// Package osheap implements an explicit user-space heap allocator on top of
// two OS memory primitives: incremental growth of a private data segment, and
// on-demand anonymous mappings.
//
// It is intended for consumers that need direct control over allocation
// strategy and the exact moment memory is returned to the OS, control a
// garbage-collected runtime heap does not offer. Blocks below a size
// threshold are carved out of a contiguous segment
// and recycled through best-fit search with lazy coalescing of neighbors;
// blocks at or above the threshold receive their own mapping and go back to
// the OS as soon as they are freed.
//
// All memory handed out by an Allocator is invisible to the Go garbage
// collector. Payloads must not contain Go pointers, and the consumer is
// responsible for releasing every region it obtains.
package osheap
