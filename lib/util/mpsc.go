package util

import (
	"github.com/ValentinKolb/lfmm/lib/backoff"
	"sync"
	"sync/atomic"
)

// mpscNode is a queue cell, the zero cell is the sentinel
type mpscNode[T any] struct {
	value T
	next  atomic.Pointer[mpscNode[T]]
}

// MPSC is an unbounded lock-free multi-producer single-consumer queue.
//
// Producers append cells with a CAS on the last cell, a single background goroutine
// moves the values into the channel returned by Recv. Values pushed by one producer
// are delivered in push order, values of different producers interleave in the order
// their appends succeeded.
type MPSC[T any] struct {
	head    atomic.Pointer[mpscNode[T]] // consumer side, only moved by the consumer
	tail    atomic.Pointer[mpscNode[T]]
	out     chan T
	pending atomic.Int64
	closed  atomic.Bool
	bo      backoff.Options

	mu   sync.Mutex
	cond *sync.Cond
	done chan struct{}
}

// NewMPSC creates a queue and starts its consumer goroutine. bo controls the backoff of
// contended appends, nil selects the defaults.
func NewMPSC[T any](bo *backoff.Options) *MPSC[T] {
	q := &MPSC[T]{
		out:  make(chan T),
		done: make(chan struct{}),
		bo:   *backoff.DefaultOptions(),
	}
	if bo != nil {
		q.bo = *bo
	}
	q.cond = sync.NewCond(&q.mu)

	sentinel := &mpscNode[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.consume()
	return q
}

// Push appends value to the queue. It returns false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *MPSC[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	cell := &mpscNode[T]{value: value}
	bo := backoff.New(&q.bo)

	for {
		last := q.tail.Load()
		next := last.next.Load()
		if next != nil {
			// another producer appended but has not moved tail yet
			q.tail.CompareAndSwap(last, next)
			continue
		}
		if last.next.CompareAndSwap(nil, cell) {
			q.tail.CompareAndSwap(last, cell)
			break
		}
		bo.Wait()
	}

	q.pending.Add(1)
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
	return true
}

// consume moves values into the output channel until the queue is closed and drained
func (q *MPSC[T]) consume() {
	defer close(q.done)
	defer close(q.out)

	var zero T
	for {
		head := q.head.Load()
		if next := head.next.Load(); next != nil {
			q.head.Store(next)
			value := next.value
			next.value = zero
			q.out <- value
			q.pending.Add(-1)
			continue
		}

		q.mu.Lock()
		for q.head.Load().next.Load() == nil && !q.closed.Load() {
			q.cond.Wait()
		}
		drained := q.head.Load().next.Load() == nil
		q.mu.Unlock()

		if drained {
			return
		}
	}
}

// Recv returns the channel values are delivered on. It is closed once the queue is
// closed and every pushed value has been received.
func (q *MPSC[T]) Recv() <-chan T {
	return q.out
}

// Close stops accepting values. Values pushed before are still delivered.
func (q *MPSC[T]) Close() {
	q.closed.Store(true)
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Done is closed once the consumer goroutine exited
func (q *MPSC[T]) Done() <-chan struct{} {
	return q.done
}

// IsClosed returns true if the queue is closed
func (q *MPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Pending returns the number of pushed values that were not received yet
func (q *MPSC[T]) Pending() int {
	return int(q.pending.Load())
}
