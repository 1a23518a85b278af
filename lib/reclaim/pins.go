package reclaim

import "sync/atomic"

// PinTable is a thread's table of currently pinned records. The owning thread is the
// only writer. Other threads read the published slots while scanning.
//
// A record pinned several times occupies one slot and a private count.
type PinTable struct {
	slots  []atomic.Uint32 // published record indices, 0 marks an empty slot
	held   []uint32        // private mirror of slots
	counts []int32
	used   int
}

// NewPinTable creates a table with room for size distinct records
func NewPinTable(size int) *PinTable {
	return &PinTable{
		slots:  make([]atomic.Uint32, size),
		held:   make([]uint32, size),
		counts: make([]int32, size),
	}
}

func (p *PinTable) find(index uint32) int {
	for i, h := range p.held {
		if h == index {
			return i
		}
	}
	return -1
}

// Acquire pins the record with the given index and reports whether it was newly
// published. It panics when the table is full.
func (p *PinTable) Acquire(index uint32) bool {
	if index == 0 {
		return false
	}
	if i := p.find(index); i >= 0 {
		p.counts[i]++
		return false
	}

	i := p.find(0)
	if i < 0 {
		Panic(ErrCPinLimit, "thread pins more than %d records", len(p.held))
	}
	p.held[i] = index
	p.counts[i] = 1
	p.used++
	p.slots[i].Store(index)
	return true
}

// Release drops one pin of the record and reports whether it was the last one
func (p *PinTable) Release(index uint32) bool {
	i := p.find(index)
	if i < 0 || index == 0 {
		Panic(ErrCNotPinned, "record %d is not pinned", index)
	}

	p.counts[i]--
	if p.counts[i] > 0 {
		return false
	}
	p.slots[i].Store(0)
	p.held[i] = 0
	p.used--
	return true
}

// Holds reports whether the owning thread pins the record
func (p *PinTable) Holds(index uint32) bool {
	return index != 0 && p.find(index) >= 0
}

// Count returns how often the owning thread pinned the record
func (p *PinTable) Count(index uint32) int {
	if i := p.find(index); i >= 0 && index != 0 {
		return int(p.counts[i])
	}
	return 0
}

// Len returns the number of distinct pinned records
func (p *PinTable) Len() int {
	return p.used
}

// Size returns the capacity of the table
func (p *PinTable) Size() int {
	return len(p.slots)
}

// Collect adds every published index to dst.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *PinTable) Collect(dst map[uint32]struct{}) {
	for i := range p.slots {
		if index := p.slots[i].Load(); index != 0 {
			dst[index] = struct{}{}
		}
	}
}
