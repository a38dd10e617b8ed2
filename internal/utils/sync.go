package utils

import (
	"sync"
)

// OptionalMutex serializes the entire allocation path when UseMutex is set and
// costs nothing when it is not. The allocator's list mutation is a multi-step
// sequence with no atomicity guarantee, so a single coarse lock around every
// operation is the only safe locking granularity.
type OptionalMutex struct {
	Mutex    sync.Mutex
	UseMutex bool
}

func (m *OptionalMutex) Lock() {
	if m.UseMutex {
		m.Mutex.Lock()
	}
}

func (m *OptionalMutex) Unlock() {
	if m.UseMutex {
		m.Mutex.Unlock()
	}
}
