package dlist

import (
	"fmt"
	"github.com/ValentinKolb/lfmm/lib/backoff"
	"github.com/ValentinKolb/lfmm/lib/reclaim"
	"github.com/ValentinKolb/lfmm/lib/reclaim/engines"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"sync/atomic"
)

var log = logger.GetLogger("dlist")

const (
	linkPrev = 0
	linkNext = 1
	links    = 2

	// opPins is the number of records a single list operation pins at most, on top of
	// the records pinned by the thread's iterators
	opPins = 8

	DefaultIterMax = 4
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures a list
type Options struct {
	Engine  reclaim.Implementation // reclamation engine, refcount if empty
	Threads int                    // maximum number of concurrently registered threads
	IterMax int                    // maximum number of live iterators per thread
	Backoff *backoff.Options       // backoff for CAS retry loops, nil selects the defaults
}

// DefaultOptions returns the default list options
func DefaultOptions() *Options {
	return &Options{
		Engine:  reclaim.ImplRefCount,
		Threads: reclaim.DefaultThreads,
		IterMax: DefaultIterMax,
		Backoff: backoff.DefaultOptions(),
	}
}

// EngineConfig returns the engine config a list with these options needs
func (o *Options) EngineConfig() reclaim.Config {
	return reclaim.Config{
		Threads: o.Threads,
		PinMax:  o.IterMax + opPins,
		Links:   links,
		Backoff: o.Backoff,
	}
}

// --------------------------------------------------------------------------
// List
// --------------------------------------------------------------------------

// List is a lock-free doubly-linked list of values of type V
type List[V any] struct {
	eng     reclaim.Engine[V]
	head    reclaim.Ref
	tail    reclaim.Ref
	size    atomic.Int64
	iterMax int
	iters   []int // live iterators per thread slot, only written by the slot owner
	bo      backoff.Options
}

// New creates a list together with its reclamation engine
func New[V any](opts *Options) (*List[V], error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.IterMax <= 0 {
		return nil, fmt.Errorf("%w: iterator max must be positive, got %d", reclaim.ErrInvalidConfig, opts.IterMax)
	}

	eng, err := engines.New[V](opts.Engine, opts.EngineConfig())
	if err != nil {
		return nil, err
	}

	l, err := NewWithEngine(eng, opts.IterMax)
	if err != nil {
		_ = eng.Close()
		return nil, err
	}
	if opts.Backoff != nil {
		l.bo = *opts.Backoff
	}
	return l, nil
}

// NewWithEngine creates a list on an existing engine. The engine must have been created
// for records with at least two links and enough pins for iterMax iterators plus the pins
// of one operation. The list installs itself as the engine hooks.
func NewWithEngine[V any](eng reclaim.Engine[V], iterMax int) (*List[V], error) {
	if iterMax <= 0 {
		return nil, fmt.Errorf("%w: iterator max must be positive, got %d", reclaim.ErrInvalidConfig, iterMax)
	}

	l := &List[V]{
		eng:     eng,
		iterMax: iterMax,
		iters:   make([]int, eng.GetInfo().Threads),
		bo:      *backoff.DefaultOptions(),
	}
	eng.SetHooks(l)

	t := eng.Register()
	defer eng.Unregister(t)

	var zero V
	head := eng.CreateRecord(t, zero)
	tail := eng.CreateRecord(t, zero)
	defer eng.Unpin(t, head)
	defer eng.Unpin(t, tail)

	if eng.Node(head).Links() < links {
		return nil, fmt.Errorf("%w: list records need %d links, engine provides %d", reclaim.ErrInvalidConfig, links, eng.Node(head).Links())
	}

	eng.StoreRef(eng.Node(head).Link(linkNext), tail)
	eng.StoreRef(eng.Node(tail).Link(linkPrev), head)
	l.head, l.tail = head, tail

	log.Debugf("list created on %s engine (iter max %d)", eng.GetInfo().Engine, iterMax)
	return l, nil
}

// Register claims a thread slot of the list
func (l *List[V]) Register() reclaim.Thread {
	return l.eng.Register()
}

// Unregister releases the thread slot. All iterators of the thread must be closed.
func (l *List[V]) Unregister(t reclaim.Thread) {
	if n := l.iters[t.ID()]; n != 0 {
		reclaim.Panic(reclaim.ErrCPinsHeld, "thread %d unregistered with %d open iterators", t.ID(), n)
	}
	l.eng.Unregister(t)
}

// Len returns the number of records in the list. While operations are in flight the
// value may lag behind, once all threads are quiescent it is exact.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *List[V]) Len() int {
	if n := l.size.Load(); n > 0 {
		return int(n)
	}
	return 0
}

// Empty reports whether the list has no live records as seen from the head sentinel
func (l *List[V]) Empty(t reclaim.Thread) bool {
	it := l.Front(t)
	defer it.Close()
	return it.AtEnd()
}

// Range calls fn for every live value from front to back until fn returns false
func (l *List[V]) Range(t reclaim.Thread, fn func(V) bool) {
	it := l.Front(t)
	defer it.Close()

	for !it.AtEnd() {
		if v, ok := it.Value(); ok && !fn(v) {
			return
		}
		it.Next()
	}
}

// Values returns a snapshot of the live values from front to back
func (l *List[V]) Values(t reclaim.Thread) []V {
	values := make([]V, 0, l.Len())
	l.Range(t, func(v V) bool {
		values = append(values, v)
		return true
	})
	return values
}

// Engine returns the reclamation engine of the list
func (l *List[V]) Engine() reclaim.Engine[V] {
	return l.eng
}

// GetInfo returns a snapshot of the engine counters
func (l *List[V]) GetInfo() reclaim.Info {
	return l.eng.GetInfo()
}

// WriteMetrics writes the engine metrics in Prometheus text format
func (l *List[V]) WriteMetrics(w io.Writer) {
	l.eng.WriteMetrics(w)
}

// Close closes the engine of the list
func (l *List[V]) Close() error {
	log.Debugf("list closed with %d records", l.Len())
	return l.eng.Close()
}

// --------------------------------------------------------------------------
// Engine hooks
// --------------------------------------------------------------------------

// RepairRecord implements reclaim.Hooks
func (l *List[V]) RepairRecord(t reclaim.Thread, r reclaim.Ref) {
	l.removeCrossReference(t, r)
}

// Sever implements reclaim.Hooks
func (l *List[V]) Sever(t reclaim.Thread, r reclaim.Ref, concurrent bool) {
	reclaim.SeverLinks(l.eng, r, concurrent)
}

// --------------------------------------------------------------------------
// Push & Pop
// --------------------------------------------------------------------------

// PushFront inserts value at the front of the list.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *List[V]) PushFront(t reclaim.Thread, value V) {
	node := l.eng.CreateRecord(t, value)
	prev := l.copyRef(t, l.head)
	next := l.deref(t, l.nextLink(prev))
	bo := l.backoff()

	for {
		if l.nextLink(prev).Load() != next {
			l.release(t, next)
			next = l.deref(t, l.nextLink(prev))
			continue
		}

		l.eng.StoreRef(l.prevLink(node), prev)
		l.eng.StoreRef(l.nextLink(node), next)
		if l.eng.CasRef(l.nextLink(prev), next, node) {
			break
		}
		bo.Wait()
	}

	l.size.Add(1)
	l.linkPrev(t, node, next)
	l.release(t, prev)
}

// PushBack inserts value at the back of the list.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *List[V]) PushBack(t reclaim.Thread, value V) {
	node := l.eng.CreateRecord(t, value)
	next := l.copyRef(t, l.tail)
	prev := l.deref(t, l.prevLink(next)).Unmarked()
	bo := l.backoff()

	for {
		if l.nextLink(prev).Load() != next {
			prev = l.correctPrev(t, prev, next)
			continue
		}

		l.eng.StoreRef(l.prevLink(node), prev)
		l.eng.StoreRef(l.nextLink(node), next)
		if l.eng.CasRef(l.nextLink(prev), next, node) {
			break
		}
		bo.Wait()
	}

	l.size.Add(1)
	l.linkPrev(t, node, next)
	l.release(t, prev)
}

// linkPrev points next.prev at a freshly linked node. It consumes the pins on node and next.
func (l *List[V]) linkPrev(t reclaim.Thread, node, next reclaim.Ref) {
	bo := l.backoff()
	for {
		link1 := l.prevLink(next).LoadTagged()
		if link1.Ref().Marked() || l.nextLink(node).Load() != next {
			break
		}
		if l.eng.CasTagged(l.prevLink(next), link1, node) {
			if l.prevLink(node).Load().Marked() {
				prev := l.correctPrev(t, l.copyRef(t, node), next)
				l.release(t, prev)
			}
			break
		}
		bo.Wait()
	}
	l.release(t, next)
	l.release(t, node)
}

// PopFront removes the first record and returns its value. It returns false if the list is empty.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *List[V]) PopFront(t reclaim.Thread) (V, bool) {
	prev := l.copyRef(t, l.head)
	bo := l.backoff()

	for {
		node := l.deref(t, l.nextLink(prev))
		if node == l.tail {
			l.release(t, node)
			l.release(t, prev)
			var zero V
			return zero, false
		}

		link1 := l.nextLink(node).LoadTagged()
		if link1.Ref().Marked() {
			// another thread is deleting node, help unlinking it
			l.prevLink(node).SetMark()
			next := l.deref(t, l.nextLink(node)).Unmarked()
			l.eng.CasRef(l.nextLink(prev), node, next)
			l.release(t, next)
			l.release(t, node)
			continue
		}

		if l.eng.CasTagged(l.nextLink(node), link1, link1.Ref().WithMark()) {
			l.prevLink(node).SetMark()
			next := l.deref(t, l.nextLink(node)).Unmarked()
			prev = l.correctPrev(t, prev, next)
			l.release(t, prev)
			l.release(t, next)
			return l.retire(t, node), true
		}

		l.release(t, node)
		bo.Wait()
	}
}

// PopBack removes the last record and returns its value. It returns false if the list is empty.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *List[V]) PopBack(t reclaim.Thread) (V, bool) {
	next := l.copyRef(t, l.tail)
	node := l.deref(t, l.prevLink(next)).Unmarked()
	bo := l.backoff()

	for {
		if l.nextLink(node).Load() != next {
			node = l.correctPrev(t, node, next)
			continue
		}
		if node == l.head {
			l.release(t, node)
			l.release(t, next)
			var zero V
			return zero, false
		}

		if l.eng.CasRef(l.nextLink(node), next, next.WithMark()) {
			l.prevLink(node).SetMark()
			prev := l.deref(t, l.prevLink(node)).Unmarked()
			prev = l.correctPrev(t, prev, next)
			l.release(t, prev)
			l.release(t, next)
			return l.retire(t, node), true
		}
		bo.Wait()
	}
}

// retire hands a deleted and unlinked record to the engine and returns its value.
// It consumes the pin on node.
func (l *List[V]) retire(t reclaim.Thread, node reclaim.Ref) V {
	value := l.eng.Node(node).Value
	l.size.Add(-1)
	l.removeCrossReference(t, node)
	l.eng.DeleteRecord(t, node)
	return value
}
