package reclaim

import (
	"math"
	"sync/atomic"
)

const (
	refOne     = 1
	refVersion = 1 << 32
)

// Node is a shared record. Engines own all bookkeeping fields. Containers read the
// payload through Value and mutate structure through the record's links.
//
// The reference word holds the number of counted links pointing at the record in its
// lower 32 bits and an install version in its upper 32 bits. The version is bumped by
// every IncRef, so a reader can tell whether the record was re-linked in between two
// observations of a zero count.
type Node[T any] struct {
	id       atomic.Uint64
	owner    atomic.Int32
	refs     atomic.Uint64
	trace    atomic.Bool
	retired  atomic.Bool
	nextFree atomic.Uint32
	links    []Link

	// Value is the payload. It is written once by CreateRecord and is read-only while
	// the record is reachable.
	Value T
}

// ID returns the process-unique id assigned when the record was last created
func (n *Node[T]) ID() uint64 { return n.id.Load() }

// Owner returns the id of the thread that created the record
func (n *Node[T]) Owner() int { return int(n.owner.Load()) }

// Link returns the i-th link of the record
func (n *Node[T]) Link(i int) *Link { return &n.links[i] }

// Links returns the number of links of the record
func (n *Node[T]) Links() int { return len(n.links) }

// Refs returns the current reference count
func (n *Node[T]) Refs() uint32 { return uint32(n.refs.Load()) }

// RefState returns the reference count together with the install version
func (n *Node[T]) RefState() (count, version uint32) {
	w := n.refs.Load()
	return uint32(w), uint32(w >> 32)
}

// IncRef adds one counted reference and bumps the install version
func (n *Node[T]) IncRef() {
	n.refs.Add(refVersion + refOne)
}

// DecRef removes one counted reference
func (n *Node[T]) DecRef() {
	if uint32(n.refs.Add(math.MaxUint64)) == math.MaxUint32 {
		Panic(ErrCRefUnderflow, "reference count of record %d dropped below zero", n.ID())
	}
}

// Trace returns the scan trace flag
func (n *Node[T]) Trace() bool { return n.trace.Load() }

// SetTrace sets or clears the scan trace flag
func (n *Node[T]) SetTrace(v bool) { n.trace.Store(v) }

// Retired reports whether the record was handed to DeleteRecord
func (n *Node[T]) Retired() bool { return n.retired.Load() }

// MarkRetired sets the retired flag and reports whether it was clear before
func (n *Node[T]) MarkRetired() bool { return !n.retired.Swap(true) }

// NextFree returns the index of the next record in a free list or recycle channel
func (n *Node[T]) NextFree() uint32 { return n.nextFree.Load() }

// SetNextFree sets the free list successor
func (n *Node[T]) SetNextFree(index uint32) { n.nextFree.Store(index) }

// Prepare resets a record for a new life. Only the creating thread may call it,
// before the record is published.
func (n *Node[T]) Prepare(id uint64, owner int, value T) {
	_, version := n.RefState()
	n.refs.Store(uint64(version) << 32)
	n.trace.Store(false)
	n.retired.Store(false)
	n.nextFree.Store(0)
	for i := range n.links {
		n.links[i].reset()
	}
	n.owner.Store(int32(owner))
	n.Value = value
	n.id.Store(id)
}

// Release drops the payload of a reclaimed record
func (n *Node[T]) Release() {
	var zero T
	n.Value = zero
}
