package dlist

import (
	"github.com/ValentinKolb/lfmm/lib/backoff"
	"github.com/ValentinKolb/lfmm/lib/reclaim"
)

// --------------------------------------------------------------------------
// Link helpers
// --------------------------------------------------------------------------

func (l *List[V]) prevLink(r reclaim.Ref) *reclaim.Link {
	return l.eng.Node(r).Link(linkPrev)
}

func (l *List[V]) nextLink(r reclaim.Ref) *reclaim.Link {
	return l.eng.Node(r).Link(linkNext)
}

// deref pins and returns the target of link, the mark is kept
func (l *List[V]) deref(t reclaim.Thread, link *reclaim.Link) reclaim.Ref {
	return l.eng.PinDeref(t, link)
}

// copyRef pins a record the caller already keeps alive
func (l *List[V]) copyRef(t reclaim.Thread, r reclaim.Ref) reclaim.Ref {
	l.eng.Pin(t, r)
	return r.Unmarked()
}

func (l *List[V]) release(t reclaim.Thread, r reclaim.Ref) {
	l.eng.Unpin(t, r)
}

// isDeleted reports whether r is logically deleted, that is its next link is marked
func (l *List[V]) isDeleted(r reclaim.Ref) bool {
	return l.nextLink(r).Load().Marked()
}

func (l *List[V]) backoff() backoff.Backoff {
	return backoff.New(&l.bo)
}

// --------------------------------------------------------------------------
// Repair
// --------------------------------------------------------------------------

// correctPrev makes node.prev point at the closest live predecessor of node, starting
// the search at prev. Deleted records found on the way are unlinked from the next chain.
// It consumes the pin on prev and returns the pinned predecessor it ended on.
//
// The search gives up as soon as node itself gets deleted, in that case the thread
// deleting node continues the repair.
func (l *List[V]) correctPrev(t reclaim.Thread, prev, node reclaim.Ref) reclaim.Ref {
	var lastlink reclaim.Ref
	bo := l.backoff()

	for {
		link1 := l.prevLink(node).LoadTagged()
		if link1.Ref().Marked() {
			break
		}

		prev2 := l.deref(t, l.nextLink(prev))
		if prev2.IsNil() {
			// prev is the tail sentinel
			break
		}

		if prev2.Marked() {
			if !lastlink.IsNil() {
				// prev is deleted, unlink it from its live predecessor
				l.prevLink(prev).SetMark()
				l.eng.CasRef(l.nextLink(lastlink), prev, prev2.Unmarked())
				l.release(t, prev2)
				l.release(t, prev)
				prev, lastlink = lastlink, reclaim.Nil
				continue
			}

			// no live predecessor known yet, step back
			l.release(t, prev2)
			prev2 = l.deref(t, l.prevLink(prev))
			if prev2.IsNil() {
				break
			}
			l.release(t, prev)
			prev = prev2.Unmarked()
			continue
		}

		if prev2 != node {
			l.release(t, lastlink)
			lastlink, prev = prev, prev2
			continue
		}
		l.release(t, prev2)

		if l.eng.CasTagged(l.prevLink(node), link1, prev) {
			if l.prevLink(prev).Load().Marked() {
				continue
			}
			break
		}
		bo.Wait()
	}

	l.release(t, lastlink)
	return prev
}

// removeCrossReference retargets the links of the deleted record node past neighbours
// that are deleted as well, so chains of deleted records do not keep each other alive.
// node must be pinned by t.
func (l *List[V]) removeCrossReference(t reclaim.Thread, node reclaim.Ref) {
	for {
		prev := l.deref(t, l.prevLink(node))
		if !prev.IsNil() && l.isDeleted(prev) {
			prev2 := l.deref(t, l.prevLink(prev))
			if !prev2.IsNil() {
				l.eng.CasRef(l.prevLink(node), prev, prev2.WithMarkOf(prev))
			}
			l.release(t, prev2)
			l.release(t, prev)
			if !prev2.IsNil() {
				continue
			}
		} else {
			l.release(t, prev)
		}

		next := l.deref(t, l.nextLink(node))
		if !next.IsNil() && l.isDeleted(next) {
			next2 := l.deref(t, l.nextLink(next))
			if !next2.IsNil() {
				l.eng.CasRef(l.nextLink(node), next, next2.WithMarkOf(next))
			}
			l.release(t, next2)
			l.release(t, next)
			if !next2.IsNil() {
				continue
			}
		} else {
			l.release(t, next)
		}
		return
	}
}
