package dlist

import (
	"github.com/ValentinKolb/lfmm/lib/reclaim"
)

// Iterator is a cursor into a list. It pins the record it is positioned on, so the record
// stays readable even if it is deleted concurrently. An iterator belongs to the thread
// that opened it and must be closed before the thread unregisters.
type Iterator[V any] struct {
	list   *List[V]
	t      reclaim.Thread
	node   reclaim.Ref
	closed bool
}

func (l *List[V]) newIterator(t reclaim.Thread, start reclaim.Ref) *Iterator[V] {
	if l.iters[t.ID()] >= l.iterMax {
		reclaim.Panic(reclaim.ErrCIterLimit, "thread %d opened more than %d iterators", t.ID(), l.iterMax)
	}
	l.iters[t.ID()]++
	return &Iterator[V]{list: l, t: t, node: l.copyRef(t, start)}
}

// Front returns an iterator on the first live record, or at the end if the list is empty
func (l *List[V]) Front(t reclaim.Thread) *Iterator[V] {
	it := l.newIterator(t, l.head)
	it.Next()
	return it
}

// Back returns an iterator on the last live record, or at the end if the list is empty
func (l *List[V]) Back(t reclaim.Thread) *Iterator[V] {
	it := l.newIterator(t, l.tail)
	it.Prev()
	return it
}

// Next moves the iterator to the next live record. It returns false once the iterator
// reached the tail of the list.
func (it *Iterator[V]) Next() bool {
	l, t := it.list, it.t

	for {
		if it.node == l.tail {
			return false
		}

		next := l.deref(t, l.nextLink(it.node)).Unmarked()
		deleted := l.isDeleted(next)
		if deleted && l.nextLink(it.node).Load() != next.WithMark() {
			// next is deleted but still linked behind a live record, unlink it
			l.prevLink(next).SetMark()
			next2 := l.deref(t, l.nextLink(next)).Unmarked()
			l.eng.CasRef(l.nextLink(it.node), next, next2)
			l.release(t, next2)
			l.release(t, next)
			continue
		}

		l.release(t, it.node)
		it.node = next
		if !deleted {
			return next != l.tail
		}
	}
}

// Prev moves the iterator to the previous live record. It returns false once the iterator
// reached the head of the list.
func (it *Iterator[V]) Prev() bool {
	l, t := it.list, it.t

	for {
		if it.node == l.head {
			return false
		}

		if l.isDeleted(it.node) {
			// continue from the live successor, its predecessor is the one we are looking for
			it.Next()
			continue
		}

		prev := l.deref(t, l.prevLink(it.node)).Unmarked()
		if l.nextLink(prev).Load() == it.node && !l.isDeleted(it.node) {
			l.release(t, it.node)
			it.node = prev
			return prev != l.head
		}

		prev = l.correctPrev(t, prev, it.node)
		l.release(t, prev)
	}
}

// Value returns the value of the current record. It returns false if the iterator is at
// either end of the list or the record has been deleted.
func (it *Iterator[V]) Value() (V, bool) {
	var zero V
	if it.AtEnd() {
		return zero, false
	}
	value := it.list.eng.Node(it.node).Value
	if it.list.isDeleted(it.node) {
		return zero, false
	}
	return value, true
}

// Valid reports whether the iterator is positioned on a live record
func (it *Iterator[V]) Valid() bool {
	return !it.AtEnd() && !it.list.isDeleted(it.node)
}

// AtEnd reports whether the iterator is positioned on the head or the tail sentinel
func (it *Iterator[V]) AtEnd() bool {
	return it.node == it.list.head || it.node == it.list.tail
}

// Close releases the record pinned by the iterator. Closing twice is a no-op.
func (it *Iterator[V]) Close() {
	if it.closed {
		return
	}
	it.list.release(it.t, it.node)
	it.list.iters[it.t.ID()]--
	it.closed = true
}

// --------------------------------------------------------------------------
// Iterator operations
// --------------------------------------------------------------------------

// Insert inserts value in front of the record the iterator is positioned on. If that
// record is deleted the value is inserted in front of its next live successor, and the
// iterator moves there. On the head sentinel Insert behaves like PushFront.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *List[V]) Insert(it *Iterator[V], value V) {
	t := it.t
	if it.node == l.head {
		l.PushFront(t, value)
		return
	}

	node := l.eng.CreateRecord(t, value)
	bo := l.backoff()

	for {
		if it.node != l.tail && l.isDeleted(it.node) {
			it.Next()
			continue
		}

		cur := it.node
		prev := l.deref(t, l.prevLink(cur)).Unmarked()
		if l.nextLink(prev).Load() != cur {
			l.release(t, l.correctPrev(t, prev, cur))
			continue
		}

		l.eng.StoreRef(l.prevLink(node), prev)
		l.eng.StoreRef(l.nextLink(node), cur)
		if l.eng.CasRef(l.nextLink(prev), cur, node) {
			l.size.Add(1)
			l.linkPrev(t, node, l.copyRef(t, cur))
			l.release(t, prev)
			return
		}
		l.release(t, prev)
		bo.Wait()
	}
}

// Erase deletes the record the iterator is positioned on. It returns false if the
// iterator is at either end or the record was already deleted. The iterator stays on the
// deleted record, Next moves it to the following live record.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *List[V]) Erase(it *Iterator[V]) bool {
	if it.AtEnd() {
		return false
	}

	t, node := it.t, it.node
	bo := l.backoff()
	for {
		link1 := l.nextLink(node).LoadTagged()
		if link1.Ref().Marked() {
			return false
		}
		if l.eng.CasTagged(l.nextLink(node), link1, link1.Ref().WithMark()) {
			break
		}
		bo.Wait()
	}

	l.prevLink(node).SetMark()
	prev := l.deref(t, l.prevLink(node)).Unmarked()
	next := l.deref(t, l.nextLink(node)).Unmarked()
	prev = l.correctPrev(t, prev, next)
	l.release(t, prev)
	l.release(t, next)

	// the iterator keeps its own pin, retire consumes an extra one
	l.copyRef(t, node)
	l.retire(t, node)
	return true
}
