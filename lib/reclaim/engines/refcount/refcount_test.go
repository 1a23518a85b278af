package refcount

import (
	"github.com/ValentinKolb/lfmm/lib/reclaim"
	"testing"
)

// recorder captures hook invocations
type recorder struct {
	eng      reclaim.Engine[int]
	repaired map[reclaim.Ref]int
	severed  map[reclaim.Ref]bool
	// unlink lists the records whose links are dropped when they are repaired
	unlink map[reclaim.Ref]bool
}

func (r *recorder) RepairRecord(_ reclaim.Thread, ref reclaim.Ref) {
	r.repaired[ref]++
	if !r.unlink[ref] {
		return
	}
	n := r.eng.Node(ref)
	for i := 0; i < n.Links(); i++ {
		if cur := n.Link(i).Load(); !cur.IsNil() {
			r.eng.CasRef(n.Link(i), cur, reclaim.Nil)
		}
	}
}

func (r *recorder) Sever(_ reclaim.Thread, ref reclaim.Ref, concurrent bool) {
	r.severed[ref] = concurrent
	reclaim.SeverLinks(r.eng, ref, concurrent)
}

func newTestEngine(t *testing.T, cfg reclaim.Config) (*refCountEngine[int], *recorder) {
	eng, err := New[int](cfg)
	if err != nil {
		t.Fatalf("Expected engine to be created, got %v", err)
	}
	rec := &recorder{eng: eng, repaired: map[reclaim.Ref]int{}, severed: map[reclaim.Ref]bool{}, unlink: map[reclaim.Ref]bool{}}
	eng.SetHooks(rec)
	return eng.(*refCountEngine[int]), rec
}

func testConfig() reclaim.Config {
	return reclaim.Config{Threads: 4, PinMax: 4, Links: 2}
}

func TestFreshBatchesGrow(t *testing.T) {
	e, _ := newTestEngine(t, testConfig())
	th := e.Register()
	c := e.ctx(th)

	r := e.CreateRecord(th, 1)
	if c.freeLen != minBatch-1 {
		t.Errorf("Expected %d records left from the first batch, got %d", minBatch-1, c.freeLen)
	}
	if c.batch != 2*minBatch {
		t.Errorf("Expected the next batch to double to %d, got %d", 2*minBatch, c.batch)
	}
	if e.arena.Len() != minBatch {
		t.Errorf("Expected %d arena records, got %d", minBatch, e.arena.Len())
	}
	e.Unpin(th, r)
}

func TestRecycleChannelKeepsTail(t *testing.T) {
	e, _ := newTestEngine(t, testConfig())
	first, _ := e.arena.Allocate(4)

	owner := e.threads[0]
	ch := &owner.inbox[1]

	for i := uint32(0); i < 3; i++ {
		if !e.send(ch, first+i) {
			t.Fatalf("Expected send %d to succeed", i)
		}
	}

	if n := e.drain(owner, ch); n != 2 {
		t.Errorf("Expected 2 records drained while the tail stays, got %d", n)
	}
	if ch.head.Load() != first+2 || ch.tail.Load() != first+2 {
		t.Errorf("Expected head and tail at the last record")
	}

	if !e.send(ch, first+3) {
		t.Fatalf("Expected send after drain to succeed")
	}
	if n := e.drain(owner, ch); n != 1 {
		t.Errorf("Expected 1 record drained, got %d", n)
	}
	if got := ch.sent.Load() - ch.taken.Load(); got != 1 {
		t.Errorf("Expected 1 record in flight, got %d", got)
	}

	// the drained records are on the private free list in LIFO order
	if got := owner.popFree(); got != first+2 {
		t.Errorf("Expected record %d from the free list, got %d", first+2, got)
	}
}

func TestRecycleChannelFull(t *testing.T) {
	cfg := testConfig()
	cfg.RecycleCap = 2
	e, _ := newTestEngine(t, cfg)
	first, _ := e.arena.Allocate(3)

	ch := &e.threads[0].inbox[1]
	if !e.send(ch, first) || !e.send(ch, first+1) {
		t.Fatalf("Expected the first two sends to succeed")
	}
	if e.send(ch, first+2) {
		t.Errorf("Expected send on a full channel to fail")
	}
}

func TestForeignRecordsReturnToOwner(t *testing.T) {
	e, _ := newTestEngine(t, testConfig())
	a := e.Register()
	b := e.Register()

	r := e.CreateRecord(a, 1)
	e.Pin(b, r)
	e.Unpin(a, r)
	e.DeleteRecord(b, r)

	e.cleanUpLocal(e.ctx(b))
	e.scan(e.ctx(b))

	ch := &e.ctx(a).inbox[b.ID()]
	if ch.tail.Load() != r.Index() {
		t.Errorf("Expected record %d in the recycle channel of its owner", r.Index())
	}
	if e.stats.Recycled.Value() != 1 {
		t.Errorf("Expected one recycled record, got %d", e.stats.Recycled.Value())
	}
}

func TestCleanUpAllRepairsForeignRecords(t *testing.T) {
	e, rec := newTestEngine(t, testConfig())
	a := e.Register()
	b := e.Register()

	holder := e.CreateRecord(a, 0)
	x := e.CreateRecord(a, 1)
	e.StoreRef(e.Node(holder).Link(0), x)
	e.DeleteRecord(a, x)

	e.cleanUpAll(e.ctx(b))

	if rec.repaired[x] != 1 {
		t.Errorf("Expected record %v to be repaired once by another thread, got %d", x, rec.repaired[x])
	}
	ca := e.ctx(a)
	for s := range ca.dlClaims {
		if ca.dlClaims[s].Load() != 0 {
			t.Errorf("Expected claims to be released, slot %d holds %d", s, ca.dlClaims[s].Load())
		}
	}

	// a linked record survives the scan
	e.scan(ca)
	if _, ok := rec.severed[x]; ok {
		t.Errorf("Expected linked record not to be severed")
	}
	e.Unpin(a, holder)
}

func TestFullRetireListRepairsOtherThreads(t *testing.T) {
	e, rec := newTestEngine(t, testConfig())
	a := e.Register()
	b := e.Register()

	// b retires a record that still links to the first record of a chain retired by a
	hub := e.CreateRecord(b, 0)
	rec.unlink[hub] = true

	chain := make([]reclaim.Ref, 0, e.threshScan)
	cur := e.CreateRecord(a, 1)
	e.StoreRef(e.Node(hub).Link(0), cur)
	e.DeleteRecord(b, hub)

	for i := 0; i < e.threshScan; i++ {
		chain = append(chain, cur)
		if i < e.threshScan-1 {
			next := e.CreateRecord(a, i+2)
			e.StoreRef(e.Node(cur).Link(0), next)
			e.DeleteRecord(a, cur)
			cur = next
			continue
		}
		e.DeleteRecord(a, cur)
	}

	t.Run("CleanUpAll", func(t *testing.T) {
		if got := e.GetInfo().CleanUps; got == 0 {
			t.Errorf("Expected the full retire list to repair the records of other threads")
		}
		if rec.repaired[hub] == 0 {
			t.Errorf("Expected record %v of the other thread to be repaired", hub)
		}
		if !e.Node(hub).Link(0).Load().IsNil() {
			t.Errorf("Expected the repair to drop the link into the chain")
		}
	})

	t.Run("RetireList", func(t *testing.T) {
		if c := e.ctx(a); c.dlCount >= e.threshScan {
			t.Errorf("Expected retire list below %d, got %d", e.threshScan, c.dlCount)
		}
		if concurrent, ok := rec.severed[chain[0]]; !ok || concurrent {
			t.Errorf("Expected the first chain record to be reclaimed")
		}
		if e.stats.Reclaimed.Value() == 0 {
			t.Errorf("Expected reclaimed records, got none")
		}
	})
}

func TestClaimedRecordIsSeveredConcurrently(t *testing.T) {
	e, rec := newTestEngine(t, testConfig())
	th := e.Register()
	c := e.ctx(th)

	x := e.CreateRecord(th, 1)
	e.DeleteRecord(th, x)

	// simulate another thread in the middle of repairing x
	slot := c.dlHead
	c.dlClaims[slot].Add(1)

	e.scan(c)
	if concurrent, ok := rec.severed[x]; !ok || !concurrent {
		t.Fatalf("Expected claimed record to be severed concurrently")
	}
	if !c.dlDone[slot].Load() || c.dlCount != 1 {
		t.Fatalf("Expected the record to stay on the retire list as done")
	}
	if e.stats.Reclaimed.Value() != 0 {
		t.Errorf("Expected no reclamation while claimed")
	}

	c.dlClaims[slot].Add(-1)
	e.scan(c)
	if c.dlCount != 0 {
		t.Errorf("Expected the done record to be freed once the claim is released")
	}
	if e.stats.Reclaimed.Value() != 1 {
		t.Errorf("Expected one reclaimed record, got %d", e.stats.Reclaimed.Value())
	}
}

func TestRetireListStaysBelowScanThreshold(t *testing.T) {
	e, _ := newTestEngine(t, testConfig())
	th := e.Register()
	c := e.ctx(th)

	for i := 0; i < 10*e.threshScan; i++ {
		r := e.CreateRecord(th, i)
		e.DeleteRecord(th, r)
		if c.dlCount >= e.threshScan {
			t.Fatalf("Expected retire list below %d, got %d", e.threshScan, c.dlCount)
		}
	}

	// reclaimed records are reused, the arena stops growing
	if e.arena.Len() > e.threshClean+2*minBatch {
		t.Errorf("Expected the arena to stay small, got %d records", e.arena.Len())
	}
}

func TestSlotContextSurvivesReuse(t *testing.T) {
	e, _ := newTestEngine(t, testConfig())
	th := e.Register()

	holder := e.CreateRecord(th, 0)
	x := e.CreateRecord(th, 1)
	e.StoreRef(e.Node(holder).Link(1), x)
	e.DeleteRecord(th, x)
	e.Unpin(th, holder)
	e.Unregister(th)

	again := e.Register()
	if again.ID() != th.ID() {
		t.Fatalf("Expected slot %d to be reused, got %d", th.ID(), again.ID())
	}
	if e.ctx(again).dlCount != 1 {
		t.Errorf("Expected the pending retired record to stay with the slot")
	}
}
