package refcount

import (
	"github.com/ValentinKolb/lfmm/lib/backoff"
	"github.com/ValentinKolb/lfmm/lib/reclaim"
)

// --------------------------------------------------------------------------
// Reclamation protocol
// --------------------------------------------------------------------------

// reclaimAll runs until the retire list of c is below the scan threshold again.
// Every round repairs the own retired records and scans, then also repairs the retired
// records of all other threads and scans again.
func (e *refCountEngine[T]) reclaimAll(c *threadCtx[T]) {
	bo := backoff.New(e.cfg.Backoff)

	for rounds := 1; c.dlCount >= e.threshScan; rounds++ {
		e.cleanUpLocal(c)
		e.scan(c)
		if c.dlCount < e.threshScan {
			return
		}

		e.cleanUpAll(c)
		e.scan(c)
		if c.dlCount < e.threshScan {
			return
		}

		if rounds == warnRounds {
			log.Warningf("thread %d still holds %d retired records after %d rounds, other threads pin them", c.id, c.dlCount, rounds)
		}
		bo.Wait()
	}
}

// cleanUpLocal asks the container to repair every record on the own retire list
func (e *refCountEngine[T]) cleanUpLocal(c *threadCtx[T]) {
	for s := c.dlHead; s != -1; s = c.dlNext[s] {
		if index := c.dlNodes[s].Load(); index != 0 && !c.dlDone[s].Load() {
			e.hooks.RepairRecord(c, reclaim.MakeRef(index, false))
		}
	}
}

// cleanUpAll repairs the records retired by every other thread. Each record is claimed
// first, so its owner severs it concurrently instead of reclaiming it while the repair runs.
func (e *refCountEngine[T]) cleanUpAll(c *threadCtx[T]) {
	e.stats.CleanUps.Inc()

	for _, o := range e.threads {
		if o == c {
			continue
		}
		for s := range o.dlNodes {
			index := o.dlNodes[s].Load()
			if index == 0 || o.dlDone[s].Load() {
				continue
			}

			o.dlClaims[s].Add(1)
			if o.dlNodes[s].Load() == index {
				e.hooks.RepairRecord(c, reclaim.MakeRef(index, false))
			}
			o.dlClaims[s].Add(-1)
		}
	}
}

// scan reclaims every retired record of c that has no counted references and is
// pinned by no thread.
func (e *refCountEngine[T]) scan(c *threadCtx[T]) {
	e.stats.Scans.Inc()

	// trace: a record linked again after this point clears the flag in CasRef
	for s := c.dlHead; s != -1; s = c.dlNext[s] {
		index := c.dlNodes[s].Load()
		if index == 0 || c.dlDone[s].Load() {
			continue
		}
		n := e.arena.Node(index)
		if n.Refs() == 0 {
			n.SetTrace(true)
			if n.Refs() != 0 {
				n.SetTrace(false)
			}
		}
	}

	clear(c.scanSet)
	for _, o := range e.threads {
		o.pins.Collect(c.scanSet)
	}

	before := c.dlCount
	head, count := int32(-1), 0
	for s := c.dlHead; s != -1; {
		next := c.dlNext[s]
		if e.tryReclaim(c, s) {
			c.releaseSlot(s)
		} else {
			c.dlNext[s] = head
			head = s
			count++
		}
		s = next
	}
	c.dlHead, c.dlCount = head, count

	log.Debugf("thread %d scan reclaimed %d of %d retired records", c.id, before-count, before)
}

// tryReclaim reclaims the record in retire slot s if that is safe and reports whether
// the slot can be released.
func (e *refCountEngine[T]) tryReclaim(c *threadCtx[T], s int32) bool {
	index := c.dlNodes[s].Load()
	r := reclaim.MakeRef(index, false)

	// already severed, waiting for the claims of other threads to drain
	if c.dlDone[s].Load() {
		c.dlNodes[s].Store(0)
		if c.dlClaims[s].Load() == 0 {
			e.free(c, index)
			return true
		}
		c.dlNodes[s].Store(index)
		return false
	}

	n := e.arena.Node(index)
	if n.Refs() != 0 || !n.Trace() {
		return false
	}
	if _, pinned := c.scanSet[index]; pinned {
		return false
	}

	// hide the slot from new claimers before looking at the claim counter
	c.dlNodes[s].Store(0)
	if c.dlClaims[s].Load() == 0 {
		e.hooks.Sever(c, r, false)
		e.free(c, index)
		return true
	}

	e.hooks.Sever(c, r, true)
	c.dlDone[s].Store(true)
	c.dlNodes[s].Store(index)
	return false
}

// free hands a reclaimed record back to the thread that created it
func (e *refCountEngine[T]) free(c *threadCtx[T], index uint32) {
	n := e.arena.Node(index)
	n.Release()
	e.stats.Reclaimed.Inc()

	owner := n.Owner()
	if owner == c.id {
		c.pushFree(index)
		return
	}
	if e.send(&e.threads[owner].inbox[c.id], index) {
		e.stats.Recycled.Inc()
		return
	}
	e.arena.Push(index)
	e.stats.Released.Inc()
}
