package reclaim

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

const (
	// chunkBase is the number of records in the first arena chunk. Chunk k holds chunkBase<<k records.
	chunkBase = 64
	// maxChunks is enough chunks to cover every index a Ref can address
	maxChunks = 26
)

// Arena is a growable array of records addressed by index. Records are never moved or
// released to the Go runtime. Growing takes a mutex, every other operation is lock-free.
//
// Besides fresh allocation the arena keeps a shared free stack. Engines push records
// there when they have no better place for them (a full recycle channel, or an engine
// without recycling) and pop from it before growing the arena.
type Arena[T any] struct {
	links  int
	chunks [maxChunks]atomic.Pointer[[]Node[T]]
	next   atomic.Uint32 // next index never handed out
	growMu sync.Mutex

	free    atomic.Uint64 // free stack head: generation<<32 | index
	freeLen atomic.Int64
}

// NewArena creates an arena whose records carry the given number of links
func NewArena[T any](links int) *Arena[T] {
	a := &Arena[T]{links: links}
	a.next.Store(1) // index 0 is the nil record
	a.grow(0)
	return a
}

// locate maps an index to its chunk and the offset within that chunk
func locate(index uint32) (chunk int, offset uint32) {
	k := bits.Len32(index/chunkBase+1) - 1
	return k, index - chunkBase*(1<<k-1)
}

// grow makes sure that chunk k and all chunks before it exist
func (a *Arena[T]) grow(k int) {
	if a.chunks[k].Load() != nil {
		return
	}

	a.growMu.Lock()
	defer a.growMu.Unlock()

	for c := 0; c <= k; c++ {
		if a.chunks[c].Load() != nil {
			continue
		}

		size := chunkBase << c
		nodes := make([]Node[T], size)
		links := make([]Link, size*a.links)
		for i := range nodes {
			nodes[i].links = links[i*a.links : (i+1)*a.links : (i+1)*a.links]
		}
		a.chunks[c].Store(&nodes)
		log.Debugf("arena grew to %d chunks (%d records)", c+1, chunkBase*(1<<(c+1)-1))
	}
}

// Node returns the record stored at the given index
func (a *Arena[T]) Node(index uint32) *Node[T] {
	c, off := locate(index)
	return &(*a.chunks[c].Load())[off]
}

// Get returns the record a reference points to, or nil for a nil reference
func (a *Arena[T]) Get(r Ref) *Node[T] {
	if r.IsNil() {
		return nil
	}
	return a.Node(r.Index())
}

// Links returns the number of links per record
func (a *Arena[T]) Links() int {
	return a.links
}

// Len returns the number of records ever handed out by Allocate
func (a *Arena[T]) Len() int {
	return int(a.next.Load()) - 1
}

// Allocate reserves up to n never used consecutive records and returns the first
// index and the number reserved.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (a *Arena[T]) Allocate(n int) (first uint32, count int) {
	if n <= 0 {
		n = 1
	}

	for {
		cur := a.next.Load()
		if cur > MaxIndex {
			Panic(ErrCArenaExhausted, "arena exhausted after %d records", MaxIndex)
		}
		if remaining := MaxIndex - int(cur) + 1; n > remaining {
			n = remaining
		}

		if a.next.CompareAndSwap(cur, cur+uint32(n)) {
			last, _ := locate(cur + uint32(n) - 1)
			a.grow(last)
			return cur, n
		}
	}
}

// --------------------------------------------------------------------------
// Shared free stack
// --------------------------------------------------------------------------

// Push returns a reclaimed record to the shared free stack.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (a *Arena[T]) Push(index uint32) {
	n := a.Node(index)
	for {
		head := a.free.Load()
		n.nextFree.Store(uint32(head))
		if a.free.CompareAndSwap(head, (head>>32+1)<<32|uint64(index)) {
			a.freeLen.Add(1)
			return
		}
	}
}

// Pop takes a record from the shared free stack and returns its index, or 0 if the stack is empty.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (a *Arena[T]) Pop() uint32 {
	for {
		head := a.free.Load()
		index := uint32(head)
		if index == 0 {
			return 0
		}

		// the successor may be stale if the head was popped concurrently, the generation makes the CAS fail then
		next := a.Node(index).nextFree.Load()
		if a.free.CompareAndSwap(head, (head>>32+1)<<32|uint64(next)) {
			a.freeLen.Add(-1)
			return index
		}
	}
}

// FreeLen returns the approximate number of records on the shared free stack
func (a *Arena[T]) FreeLen() int {
	return int(a.freeLen.Load())
}

// --------------------------------------------------------------------------
// Counted link mutation
// --------------------------------------------------------------------------

// CasRef replaces old with new if the link currently holds old, regardless of the
// generation. On success the new target gains a counted reference and loses its trace
// flag, and the old target loses one. The new target is counted before the swap so a
// concurrent swap away from it can never drop its count below zero.
//
// The caller must pin the new target.
func (a *Arena[T]) CasRef(l *Link, old, new Ref) bool {
	if old.Same(new) {
		for {
			cur := l.LoadTagged()
			if cur.Ref() != old {
				return false
			}
			if l.CompareAndSwap(cur, new) {
				return true
			}
		}
	}
	a.acquire(new)
	for {
		cur := l.LoadTagged()
		if cur.Ref() != old {
			a.drop(new)
			return false
		}
		if l.CompareAndSwap(cur, new) {
			a.drop(old)
			return true
		}
	}
}

// CasTagged is CasRef with the generation included in the comparison. Use it when the
// old target is not pinned and may have been reclaimed and linked again meanwhile.
func (a *Arena[T]) CasTagged(l *Link, old Tagged, new Ref) bool {
	if old.Ref().Same(new) {
		return l.CompareAndSwap(old, new)
	}
	a.acquire(new)
	if l.CompareAndSwap(old, new) {
		a.drop(old.Ref())
		return true
	}
	a.drop(new)
	return false
}

// StoreRef replaces the link with a plain store. It must only be used while no other
// thread can write the link, for example while setting up a record before it is published.
func (a *Arena[T]) StoreRef(l *Link, new Ref) {
	old := l.LoadTagged()
	same := old.Ref().Same(new)
	if !same {
		a.acquire(new)
	}
	l.word.Store(uint64(makeTagged(old.Gen()+1, new)))
	if !same {
		a.drop(old.Ref())
	}
}

// acquire adds a counted reference to r and clears its trace flag
func (a *Arena[T]) acquire(r Ref) {
	if r.IsNil() {
		return
	}
	n := a.Node(r.Index())
	n.IncRef()
	n.trace.Store(false)
}

// drop removes a counted reference from r
func (a *Arena[T]) drop(r Ref) {
	if !r.IsNil() {
		a.Node(r.Index()).DecRef()
	}
}
