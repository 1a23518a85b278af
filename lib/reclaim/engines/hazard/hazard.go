package hazard

import (
	"fmt"
	"github.com/ValentinKolb/lfmm/lib/reclaim"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"sync/atomic"
)

var log = logger.GetLogger("reclaim")

// hazardEngine implements reclaim.Engine with hazard slots
type hazardEngine[T any] struct {
	cfg       reclaim.Config
	threshold int

	arena   *reclaim.Arena[T]
	slots   *reclaim.SlotPool
	threads []*threadCtx[T]
	hooks   reclaim.Hooks

	// orphans holds retired records left behind by unregistered threads until a
	// registered thread adopts them in its next scan
	orphans *xsync.MPMCQueueOf[uint32]

	ids     atomic.Uint64
	stats   *reclaim.Stats
	metrics *metrics.Set
	closed  atomic.Bool
}

// threadCtx is the per-thread state. The hazard slots are the only part other threads read.
type threadCtx[T any] struct {
	id      int
	eng     *hazardEngine[T]
	hazards *reclaim.PinTable
	retired []uint32
	cands   []candidate
	scanSet map[uint32]struct{}
}

// candidate is a retired record that had no counted references when the scan started
type candidate struct {
	index   uint32
	version uint32
}

// ID implements reclaim.Thread
func (c *threadCtx[T]) ID() int {
	return c.id
}

func (c *threadCtx[T]) String() string {
	return fmt.Sprintf("hazard-thread-%d", c.id)
}

// New creates a hazard slot engine sized by cfg
func New[T any](cfg reclaim.Config) (reclaim.Engine[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clean, _ := cfg.Thresholds()
	e := &hazardEngine[T]{
		cfg:       cfg,
		threshold: clean,
		arena:     reclaim.NewArena[T](cfg.Links),
		slots:     reclaim.NewSlotPool(cfg.Threads),
		threads:   make([]*threadCtx[T], cfg.Threads),
		stats:     reclaim.NewStats(),
		orphans:   xsync.NewMPMCQueueOf[uint32](cfg.Threads * clean),
	}
	e.hooks = severHooks[T]{eng: e}

	for i := range e.threads {
		e.threads[i] = &threadCtx[T]{
			id:      i,
			eng:     e,
			hazards: reclaim.NewPinTable(cfg.PinMax),
			retired: make([]uint32, 0, clean),
			cands:   make([]candidate, 0, clean),
			scanSet: make(map[uint32]struct{}, cfg.Threads*cfg.PinMax),
		}
	}
	e.metrics = reclaim.NewMetricSet(reclaim.ImplHazard, e.stats, e.arena, e.slots)

	log.Debugf("hazard engine created: threads=%d hazards=%d threshold=%d", cfg.Threads, cfg.PinMax, clean)
	return e, nil
}

// severHooks is used until the container installs its own hooks
type severHooks[T any] struct {
	eng reclaim.Engine[T]
}

func (h severHooks[T]) RepairRecord(reclaim.Thread, reclaim.Ref) {}

func (h severHooks[T]) Sever(_ reclaim.Thread, r reclaim.Ref, concurrent bool) {
	reclaim.SeverLinks(h.eng, r, concurrent)
}

func (e *hazardEngine[T]) ctx(t reclaim.Thread) *threadCtx[T] {
	c, ok := t.(*threadCtx[T])
	if !ok || c.eng != e {
		reclaim.Panic(reclaim.ErrCInvalidThread, "thread %v does not belong to this engine", t)
	}
	return c
}

// --------------------------------------------------------------------------
// Interface Methods (docu see reclaim.Engine)
// --------------------------------------------------------------------------

func (e *hazardEngine[T]) Register() reclaim.Thread {
	id := e.slots.Acquire()
	log.Debugf("thread %d registered", id)
	return e.threads[id]
}

func (e *hazardEngine[T]) Unregister(t reclaim.Thread) {
	c := e.ctx(t)
	if c.hazards.Len() != 0 {
		reclaim.Panic(reclaim.ErrCPinsHeld, "thread %d unregistered while holding %d hazards", c.id, c.hazards.Len())
	}
	if len(c.retired) > 0 {
		e.scan(c)
	}
	e.orphan(c)
	e.slots.Release(c.id)
}

func (e *hazardEngine[T]) SetHooks(h reclaim.Hooks) {
	if h == nil {
		h = severHooks[T]{eng: e}
	}
	e.hooks = h
}

// CreateRecord takes a record from the arena free stack or grows the arena.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *hazardEngine[T]) CreateRecord(t reclaim.Thread, value T) reclaim.Ref {
	c := e.ctx(t)

	index := e.arena.Pop()
	if index == 0 {
		index, _ = e.arena.Allocate(1)
	}

	e.arena.Node(index).Prepare(e.ids.Add(1), c.id, value)
	c.hazards.Acquire(index)
	e.stats.Created.Inc()
	return reclaim.MakeRef(index, false)
}

// DeleteRecord retires r and scans once the retire list reaches the threshold.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *hazardEngine[T]) DeleteRecord(t reclaim.Thread, r reclaim.Ref) {
	c := e.ctx(t)
	index := r.Index()

	if !c.hazards.Holds(index) {
		reclaim.Panic(reclaim.ErrCNotPinned, "thread %d retires record %d without a hazard on it", c.id, index)
	}
	if !e.arena.Node(index).MarkRetired() {
		reclaim.Panic(reclaim.ErrCDoubleRetire, "record %d retired twice", index)
	}

	c.hazards.Release(index)
	c.retired = append(c.retired, index)
	e.stats.Retired.Inc()

	if len(c.retired) >= e.threshold {
		e.scan(c)
	}
}

func (e *hazardEngine[T]) Node(r reclaim.Ref) *reclaim.Node[T] {
	return e.arena.Get(r)
}

// PinDeref publishes a hazard on the target of l and validates that l still points at it.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *hazardEngine[T]) PinDeref(t reclaim.Thread, l *reclaim.Link) reclaim.Ref {
	c := e.ctx(t)
	for {
		r := l.Load()
		if r.IsNil() {
			return r
		}
		c.hazards.Acquire(r.Index())
		if cur := l.Load(); cur.Same(r) {
			return cur
		}
		c.hazards.Release(r.Index())
	}
}

func (e *hazardEngine[T]) Pin(t reclaim.Thread, r reclaim.Ref) {
	if !r.IsNil() {
		e.ctx(t).hazards.Acquire(r.Index())
	}
}

func (e *hazardEngine[T]) Unpin(t reclaim.Thread, r reclaim.Ref) {
	if !r.IsNil() {
		e.ctx(t).hazards.Release(r.Index())
	}
}

func (e *hazardEngine[T]) CasRef(l *reclaim.Link, old, new reclaim.Ref) bool {
	return e.arena.CasRef(l, old, new)
}

func (e *hazardEngine[T]) CasTagged(l *reclaim.Link, old reclaim.Tagged, new reclaim.Ref) bool {
	return e.arena.CasTagged(l, old, new)
}

func (e *hazardEngine[T]) StoreRef(l *reclaim.Link, new reclaim.Ref) {
	e.arena.StoreRef(l, new)
}

func (e *hazardEngine[T]) SupportsFeature(feature reclaim.Feature) bool {
	return feature&reclaim.FeatureVersionCheck == feature
}

func (e *hazardEngine[T]) GetInfo() reclaim.Info {
	info := reclaim.Info{
		Engine:            reclaim.ImplHazard,
		Threads:           e.cfg.Threads,
		ActiveThreads:     e.slots.Active(),
		ArenaRecords:      e.arena.Len(),
		ArenaFree:         e.arena.FreeLen(),
		SupportedFeatures: []reclaim.Feature{reclaim.FeatureVersionCheck},
	}
	e.stats.Fill(&info)
	return info
}

func (e *hazardEngine[T]) WriteMetrics(w io.Writer) {
	e.metrics.WritePrometheus(w)
}

func (e *hazardEngine[T]) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("hazard engine already closed")
	}
	return nil
}

// --------------------------------------------------------------------------
// Scan
// --------------------------------------------------------------------------

// scan repairs the own retired records, adopted orphans included, and reclaims those
// that are neither hazarded nor linked by any counted reference.
func (e *hazardEngine[T]) scan(c *threadCtx[T]) {
	e.stats.Scans.Inc()
	e.adopt(c)

	for _, index := range c.retired {
		e.hooks.RepairRecord(c, reclaim.MakeRef(index, false))
	}

	c.cands = c.cands[:0]
	for _, index := range c.retired {
		if count, version := e.arena.Node(index).RefState(); count == 0 {
			c.cands = append(c.cands, candidate{index: index, version: version})
		}
	}
	if len(c.cands) == 0 {
		return
	}

	clear(c.scanSet)
	for _, o := range e.threads {
		o.hazards.Collect(c.scanSet)
	}

	before := len(c.retired)
	reclaimed := make(map[uint32]struct{}, len(c.cands))
	for _, cand := range c.cands {
		if _, hazarded := c.scanSet[cand.index]; hazarded {
			continue
		}
		n := e.arena.Node(cand.index)
		if count, version := n.RefState(); count != 0 || version != cand.version {
			continue
		}

		e.hooks.Sever(c, reclaim.MakeRef(cand.index, false), false)
		n.Release()
		e.arena.Push(cand.index)
		e.stats.Reclaimed.Inc()
		e.stats.Released.Inc()
		reclaimed[cand.index] = struct{}{}
	}

	kept := c.retired[:0]
	for _, index := range c.retired {
		if _, ok := reclaimed[index]; !ok {
			kept = append(kept, index)
		}
	}
	c.retired = kept

	log.Debugf("thread %d scan reclaimed %d of %d retired records", c.id, before-len(c.retired), before)
}

// orphan hands the records c could not reclaim to the shared orphan queue. Records that
// do not fit stay with the slot until it is registered again.
func (e *hazardEngine[T]) orphan(c *threadCtx[T]) {
	handed := 0
	for _, index := range c.retired {
		if !e.orphans.TryEnqueue(index) {
			break
		}
		handed++
	}
	if handed == 0 {
		return
	}
	c.retired = append(c.retired[:0], c.retired[handed:]...)
	log.Debugf("thread %d left %d retired records to other threads", c.id, handed)
}

// adopt moves the records left behind by unregistered threads to the retire list of c
func (e *hazardEngine[T]) adopt(c *threadCtx[T]) {
	for {
		index, ok := e.orphans.TryDequeue()
		if !ok {
			return
		}
		c.retired = append(c.retired, index)
	}
}
