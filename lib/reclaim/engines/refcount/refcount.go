package refcount

import (
	"fmt"
	"github.com/ValentinKolb/lfmm/lib/reclaim"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"sync/atomic"
)

var log = logger.GetLogger("reclaim")

const (
	// minBatch is the first number of fresh records a thread takes from the arena
	minBatch = 16
	// maxBatch caps the geometric growth of fresh record batches
	maxBatch = 4096
	// warnRounds is the number of reclamation rounds after which a stuck thread is logged
	warnRounds = 64
)

// refCountEngine implements reclaim.Engine with reference counts and trace scans
type refCountEngine[T any] struct {
	cfg         reclaim.Config
	threshClean int
	threshScan  int
	recycleCap  uint64

	arena   *reclaim.Arena[T]
	slots   *reclaim.SlotPool
	threads []*threadCtx[T]
	hooks   reclaim.Hooks

	ids     atomic.Uint64
	stats   *reclaim.Stats
	metrics *metrics.Set
	closed  atomic.Bool
}

// New creates a reference-counting engine sized by cfg
func New[T any](cfg reclaim.Config) (reclaim.Engine[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clean, scan := cfg.Thresholds()
	e := &refCountEngine[T]{
		cfg:         cfg,
		threshClean: clean,
		threshScan:  scan,
		recycleCap:  uint64(cfg.RecycleCapacity()),
		arena:       reclaim.NewArena[T](cfg.Links),
		slots:       reclaim.NewSlotPool(cfg.Threads),
		threads:     make([]*threadCtx[T], cfg.Threads),
		stats:       reclaim.NewStats(),
	}
	e.hooks = severHooks[T]{eng: e}

	for i := range e.threads {
		e.threads[i] = newThreadCtx(e, i)
	}
	e.metrics = reclaim.NewMetricSet(reclaim.ImplRefCount, e.stats, e.arena, e.slots)

	log.Debugf("refcount engine created: threads=%d pins=%d links=%d clean=%d scan=%d",
		cfg.Threads, cfg.PinMax, cfg.Links, clean, scan)
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

// ctx returns the thread context behind t and panics if t belongs to another engine
func (e *refCountEngine[T]) ctx(t reclaim.Thread) *threadCtx[T] {
	c, ok := t.(*threadCtx[T])
	if !ok || c.eng != e {
		reclaim.Panic(reclaim.ErrCInvalidThread, "thread %v does not belong to this engine", t)
	}
	return c
}

// --------------------------------------------------------------------------
// Interface Methods (docu see reclaim.Engine)
// --------------------------------------------------------------------------

// Register claims a thread slot. The context of a slot, including retired records
// left behind by its previous owner, survives reuse.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *refCountEngine[T]) Register() reclaim.Thread {
	id := e.slots.Acquire()
	log.Debugf("thread %d registered", id)
	return e.threads[id]
}

// Unregister runs one local clean-up and scan and releases the slot.
func (e *refCountEngine[T]) Unregister(t reclaim.Thread) {
	c := e.ctx(t)
	if c.pins.Len() != 0 {
		reclaim.Panic(reclaim.ErrCPinsHeld, "thread %d unregistered while pinning %d records", c.id, c.pins.Len())
	}
	if c.dlCount > 0 {
		e.cleanUpLocal(c)
		e.scan(c)
	}
	e.slots.Release(c.id)
	log.Debugf("thread %d unregistered with %d retired records pending", c.id, c.dlCount)
}

func (e *refCountEngine[T]) SetHooks(h reclaim.Hooks) {
	if h == nil {
		h = severHooks[T]{eng: e}
	}
	e.hooks = h
}

// CreateRecord takes a record from the private free list, then from the recycle
// channels, then from the arena free stack and finally from a fresh arena batch.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *refCountEngine[T]) CreateRecord(t reclaim.Thread, value T) reclaim.Ref {
	c := e.ctx(t)

	index := c.popFree()
	if index == 0 {
		index = e.takeRecycled(c)
	}
	if index == 0 {
		index = e.arena.Pop()
	}
	if index == 0 {
		index = e.allocate(c)
	}

	e.arena.Node(index).Prepare(e.ids.Add(1), c.id, value)
	c.pins.Acquire(index)
	e.stats.Created.Inc()
	return reclaim.MakeRef(index, false)
}

// DeleteRecord retires r and reclaims once the retire list crosses a threshold.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *refCountEngine[T]) DeleteRecord(t reclaim.Thread, r reclaim.Ref) {
	c := e.ctx(t)
	index := r.Index()

	if !c.pins.Holds(index) {
		reclaim.Panic(reclaim.ErrCNotPinned, "thread %d retires record %d without pinning it", c.id, index)
	}
	n := e.arena.Node(index)
	if !n.MarkRetired() {
		reclaim.Panic(reclaim.ErrCDoubleRetire, "record %d retired twice", index)
	}

	c.pins.Release(index)
	n.SetTrace(false)
	c.retire(index)
	e.stats.Retired.Inc()

	if c.dlCount == e.threshClean {
		e.cleanUpLocal(c)
		e.scan(c)
	}
	if c.dlCount >= e.threshScan {
		e.reclaimAll(c)
	}
}

func (e *refCountEngine[T]) Node(r reclaim.Ref) *reclaim.Node[T] {
	return e.arena.Get(r)
}

// PinDeref pins the target of l and validates that l still points at it.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *refCountEngine[T]) PinDeref(t reclaim.Thread, l *reclaim.Link) reclaim.Ref {
	c := e.ctx(t)
	for {
		r := l.Load()
		if r.IsNil() {
			return r
		}
		c.pins.Acquire(r.Index())
		if cur := l.Load(); cur.Same(r) {
			return cur
		}
		c.pins.Release(r.Index())
	}
}

func (e *refCountEngine[T]) Pin(t reclaim.Thread, r reclaim.Ref) {
	if !r.IsNil() {
		e.ctx(t).pins.Acquire(r.Index())
	}
}

func (e *refCountEngine[T]) Unpin(t reclaim.Thread, r reclaim.Ref) {
	if !r.IsNil() {
		e.ctx(t).pins.Release(r.Index())
	}
}

func (e *refCountEngine[T]) CasRef(l *reclaim.Link, old, new reclaim.Ref) bool {
	return e.arena.CasRef(l, old, new)
}

func (e *refCountEngine[T]) CasTagged(l *reclaim.Link, old reclaim.Tagged, new reclaim.Ref) bool {
	return e.arena.CasTagged(l, old, new)
}

func (e *refCountEngine[T]) StoreRef(l *reclaim.Link, new reclaim.Ref) {
	e.arena.StoreRef(l, new)
}

func (e *refCountEngine[T]) SupportsFeature(feature reclaim.Feature) bool {
	supportedFeatures := reclaim.FeatureRecycle | reclaim.FeatureTrace | reclaim.FeatureCleanUpAll
	return feature&supportedFeatures == feature
}

func (e *refCountEngine[T]) GetInfo() reclaim.Info {
	info := reclaim.Info{
		Engine:        reclaim.ImplRefCount,
		Threads:       e.cfg.Threads,
		ActiveThreads: e.slots.Active(),
		ArenaRecords:  e.arena.Len(),
		ArenaFree:     e.arena.FreeLen(),
		SupportedFeatures: []reclaim.Feature{
			reclaim.FeatureRecycle,
			reclaim.FeatureTrace,
			reclaim.FeatureCleanUpAll,
		},
	}
	e.stats.Fill(&info)
	return info
}

func (e *refCountEngine[T]) WriteMetrics(w io.Writer) {
	e.metrics.WritePrometheus(w)
}

func (e *refCountEngine[T]) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("refcount engine already closed")
	}
	info := e.GetInfo()
	log.Debugf("refcount engine closed: created=%d reclaimed=%d pending=%d", info.Created, info.Reclaimed, info.Pending)
	return nil
}
