package refcount

import "sync/atomic"

// cacheLine is used to keep the producer and consumer sides of a channel apart
const cacheLine = 64

// recycleChan returns reclaimed records from one producer thread to the thread that
// created them. The records are chained through Node.nextFree.
//
// The producer only appends behind tail. The consumer only removes from head and never
// removes the entry that is currently the tail, so the producer can always write the
// successor of the tail without synchronizing with the consumer.
type recycleChan struct {
	// consumer side
	head  atomic.Uint32
	taken atomic.Uint64
	_     [cacheLine - 16]byte

	// producer side
	tail atomic.Uint32
	sent atomic.Uint64
	_    [cacheLine - 16]byte
}

// send appends a reclaimed record to the channel of its owner. It reports false if the
// channel is full. Only the thread with id p may send on inbox[p].
func (e *refCountEngine[T]) send(ch *recycleChan, index uint32) bool {
	if ch.sent.Load()-ch.taken.Load() >= e.recycleCap {
		return false
	}

	e.arena.Node(index).SetNextFree(0)
	if tail := ch.tail.Load(); tail == 0 {
		ch.head.Store(index)
	} else {
		e.arena.Node(tail).SetNextFree(index)
	}
	ch.tail.Store(index)
	ch.sent.Add(1)
	return true
}

// drain moves every entry but the tail from the channel to the private free list of c
// and returns the number of records moved.
func (e *refCountEngine[T]) drain(c *threadCtx[T], ch *recycleChan) int {
	h := ch.head.Load()
	if h == 0 {
		return 0
	}

	count := 0
	for {
		next := e.arena.Node(h).NextFree()
		if next == 0 {
			break
		}
		ch.head.Store(next)
		c.pushFree(h)
		h = next
		count++
	}

	if count > 0 {
		ch.taken.Add(uint64(count))
	}
	return count
}

// takeRecycled drains the next non-empty recycle channel and returns a record from it,
// or 0 if all channels are empty. Channels are visited round robin.
func (e *refCountEngine[T]) takeRecycled(c *threadCtx[T]) uint32 {
	for i := 0; i < len(c.inbox); i++ {
		p := (c.nextInbox + i) % len(c.inbox)
		if e.drain(c, &c.inbox[p]) > 0 {
			c.nextInbox = (p + 1) % len(c.inbox)
			return c.popFree()
		}
	}
	return 0
}
