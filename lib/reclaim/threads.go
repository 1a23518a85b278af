package reclaim

import "sync/atomic"

// SlotPool hands out thread ids from a fixed range. Acquiring a slot beyond the
// configured thread count is a precondition violation.
type SlotPool struct {
	used   []atomic.Bool
	active atomic.Int32
}

// NewSlotPool creates a pool of n thread slots
func NewSlotPool(n int) *SlotPool {
	return &SlotPool{used: make([]atomic.Bool, n)}
}

// Acquire claims the lowest free slot and returns its id.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *SlotPool) Acquire() int {
	for i := range p.used {
		if p.used[i].CompareAndSwap(false, true) {
			p.active.Add(1)
			return i
		}
	}
	Panic(ErrCThreadLimit, "more than %d threads registered", len(p.used))
	return -1
}

// Release returns a slot to the pool
func (p *SlotPool) Release(id int) {
	if p.used[id].CompareAndSwap(true, false) {
		p.active.Add(-1)
	}
}

// InUse reports whether the slot is currently claimed
func (p *SlotPool) InUse(id int) bool {
	return id >= 0 && id < len(p.used) && p.used[id].Load()
}

// Active returns the number of claimed slots
func (p *SlotPool) Active() int {
	return int(p.active.Load())
}

// Size returns the number of slots
func (p *SlotPool) Size() int {
	return len(p.used)
}
