package refcount

import (
	"fmt"
	"github.com/ValentinKolb/lfmm/lib/reclaim"
	"sync/atomic"
)

// threadCtx is the per-thread state of the engine. Only the thread owning the slot
// writes the private fields. Other threads read the pin table and the retire slots
// (dlNodes, dlDone) and update the claim counters.
type threadCtx[T any] struct {
	id   int
	eng  *refCountEngine[T]
	pins *reclaim.PinTable

	// private free list, linked through Node.nextFree
	free    uint32
	freeLen int
	batch   int

	// retire list: fixed slots, chained through dlNext
	dlNodes  []atomic.Uint32
	dlClaims []atomic.Int32
	dlDone   []atomic.Bool
	dlNext   []int32
	dlSpare  []int32
	dlHead   int32
	dlCount  int

	// inbox[p] is the recycle channel that thread p returns our records through
	inbox     []recycleChan
	nextInbox int

	scanSet map[uint32]struct{}
}

func newThreadCtx[T any](e *refCountEngine[T], id int) *threadCtx[T] {
	c := &threadCtx[T]{
		id:       id,
		eng:      e,
		pins:     reclaim.NewPinTable(e.cfg.PinMax),
		dlNodes:  make([]atomic.Uint32, e.threshScan),
		dlClaims: make([]atomic.Int32, e.threshScan),
		dlDone:   make([]atomic.Bool, e.threshScan),
		dlNext:   make([]int32, e.threshScan),
		dlSpare:  make([]int32, 0, e.threshScan),
		dlHead:   -1,
		inbox:    make([]recycleChan, e.cfg.Threads),
		scanSet:  make(map[uint32]struct{}, e.cfg.Threads*e.cfg.PinMax),
	}
	for s := e.threshScan - 1; s >= 0; s-- {
		c.dlSpare = append(c.dlSpare, int32(s))
	}
	return c
}

// ID implements reclaim.Thread
func (c *threadCtx[T]) ID() int {
	return c.id
}

func (c *threadCtx[T]) String() string {
	return fmt.Sprintf("refcount-thread-%d", c.id)
}

// --------------------------------------------------------------------------
// Private free list
// --------------------------------------------------------------------------

func (c *threadCtx[T]) popFree() uint32 {
	index := c.free
	if index == 0 {
		return 0
	}
	c.free = c.eng.arena.Node(index).NextFree()
	c.freeLen--
	return index
}

func (c *threadCtx[T]) pushFree(index uint32) {
	c.eng.arena.Node(index).SetNextFree(c.free)
	c.free = index
	c.freeLen++
}

// allocate takes a fresh batch from the arena, keeps the first record for the caller
// and puts the rest on the private free list. Batches grow geometrically.
func (e *refCountEngine[T]) allocate(c *threadCtx[T]) uint32 {
	if c.batch == 0 {
		c.batch = minBatch
	}

	first, n := e.arena.Allocate(c.batch)
	for i := n - 1; i >= 1; i-- {
		c.pushFree(first + uint32(i))
	}

	if c.batch < maxBatch {
		c.batch *= 2
	}
	return first
}

// --------------------------------------------------------------------------
// Retire list
// --------------------------------------------------------------------------

// retire appends the record to the retire list
func (c *threadCtx[T]) retire(index uint32) {
	if len(c.dlSpare) == 0 {
		reclaim.Panic(reclaim.ErrCRetireOverflow, "thread %d retire list exceeds %d records", c.id, len(c.dlNodes))
	}
	s := c.dlSpare[len(c.dlSpare)-1]
	c.dlSpare = c.dlSpare[:len(c.dlSpare)-1]

	// the claim counter is left alone, a late claimer of the previous record may still hold it
	c.dlDone[s].Store(false)
	c.dlNodes[s].Store(index)
	c.dlNext[s] = c.dlHead
	c.dlHead = s
	c.dlCount++
}

// releaseSlot returns a retire slot whose record was reclaimed
func (c *threadCtx[T]) releaseSlot(s int32) {
	c.dlNodes[s].Store(0)
	c.dlDone[s].Store(false)
	c.dlSpare = append(c.dlSpare, s)
}
