package utils

import (
	"sync"
	"time"
)

// MaxTaskID bounds task ids; ids wrap back to zero before reaching it.
const MaxTaskID = 0x70000000

// IDAllocator hands out task ids from a monotonically increasing counter.
type IDAllocator struct {
	mu   sync.Mutex
	next uint32
}

// NewIDAllocator seeds the counter from the wall clock so ids differ across restarts.
func NewIDAllocator() *IDAllocator {
	return NewIDAllocatorFrom(uint32(time.Now().UnixMilli() % MaxTaskID))
}

func NewIDAllocatorFrom(seed uint32) *IDAllocator {
	return &IDAllocator{next: seed % MaxTaskID}
}

// Next returns the next id. inUse may be nil; otherwise ids it reports are skipped.
func (a *IDAllocator) Next(inUse func(uint32) bool) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < MaxTaskID; i++ {
		a.next = (a.next + 1) % MaxTaskID
		if inUse == nil || !inUse(a.next) {
			return a.next
		}
	}
	// every id is live; unreachable with bounded queues
	return a.next
}
