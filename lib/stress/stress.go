package stress

import (
	"context"
	"github.com/ValentinKolb/lfmm/lib/dlist"
	"github.com/ValentinKolb/lfmm/lib/reclaim"
	"github.com/ValentinKolb/lfmm/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"math/rand"
	"strings"
	"sync"
	"time"
)

var log = logger.GetLogger("stress")

// maxSteps bounds how far a worker walks into the list before an insert or erase
const maxSteps = 4

// event is the outcome of one operation
type event struct {
	worker  int
	op      Op
	ok      bool
	latency time.Duration
}

// harness is the state shared by the workers of one run
type harness struct {
	cfg        *Config
	seed       int64
	list       *dlist.List[int64]
	events     *util.MPSC[event]
	removed    *xsync.MapOf[int64, int] // removed value -> worker that removed it
	duplicates *xsync.Counter
}

// Run executes the workload described by cfg and returns the report. It only returns an
// error for an invalid config, a failed check is reported by Report.Check.
func Run(ctx context.Context, cfg *Config) (*Report, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = util.GenerateSeed()
	}

	// one extra slot for the verifying traversal
	list, err := dlist.New[int64](&dlist.Options{
		Engine:  cfg.Engine,
		Threads: cfg.Threads + 1,
		IterMax: cfg.IterMax,
		Backoff: cfg.Backoff,
	})
	if err != nil {
		return nil, err
	}
	defer list.Close()

	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	h := &harness{
		cfg:        cfg,
		seed:       seed,
		list:       list,
		events:     util.NewMPSC[event](cfg.Backoff),
		removed:    xsync.NewMapOf[int64, int](),
		duplicates: xsync.NewCounter(),
	}

	log.Infof("starting stress run: engine=%s threads=%d ops=%d duration=%s seed=%d mix=%s",
		list.GetInfo().Engine, cfg.Threads, cfg.OpsPerThread, cfg.Duration, seed, cfg.Mix)

	col := newCollector(cfg.Threads)
	go col.run(h.events.Recv())

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < cfg.Threads; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			h.worker(ctx, w)
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	h.events.Close()
	<-col.done

	report := col.report()
	report.Engine = list.GetInfo().Engine
	report.Seed = seed
	report.Threads = cfg.Threads
	report.Elapsed = elapsed
	h.verify(report)
	report.Info = list.GetInfo()

	var metrics strings.Builder
	list.WriteMetrics(&metrics)
	report.EngineMetrics = metrics.String()

	log.Infof("stress run finished after %s: %d ops, net %d, len %d, traversed %d/%d, duplicates %d",
		elapsed, report.Ops, report.Net, report.Len, report.Traversed, report.TraversedBack, report.Duplicates)
	return report, nil
}

// worker performs random operations until its budget is used up or ctx is done
func (h *harness) worker(ctx context.Context, w int) {
	th := h.list.Register()
	defer h.list.Unregister(th)

	rng := rand.New(rand.NewSource(util.WorkerSeed(h.seed, w)))
	var seq int64

	for i := 0; h.cfg.OpsPerThread == 0 || i < h.cfg.OpsPerThread; i++ {
		if ctx.Err() != nil {
			break
		}

		op := h.cfg.Mix.pick(rng)
		value := int64(w)<<32 | seq
		seq++

		start := time.Now()
		ok := h.do(th, rng, w, op, value)
		h.events.Push(event{worker: w, op: op, ok: ok, latency: time.Since(start)})
	}
}

// do performs a single operation and reports whether it changed the list
func (h *harness) do(th reclaim.Thread, rng *rand.Rand, w int, op Op, value int64) bool {
	l := h.list

	switch op {
	case OpPushFront:
		l.PushFront(th, value)
		return true
	case OpPushBack:
		l.PushBack(th, value)
		return true
	case OpPopFront:
		v, ok := l.PopFront(th)
		if ok {
			h.remove(v, w)
		}
		return ok
	case OpPopBack:
		v, ok := l.PopBack(th)
		if ok {
			h.remove(v, w)
		}
		return ok
	case OpInsert:
		it := h.walk(th, rng)
		defer it.Close()
		l.Insert(it, value)
		return true
	case OpErase:
		it := h.walk(th, rng)
		defer it.Close()
		v, ok := it.Value()
		if !ok || !l.Erase(it) {
			return false
		}
		h.remove(v, w)
		return true
	}
	return false
}

// walk returns an iterator a random number of steps from the front
func (h *harness) walk(th reclaim.Thread, rng *rand.Rand) *dlist.Iterator[int64] {
	it := h.list.Front(th)
	for steps := rng.Intn(maxSteps); steps > 0 && it.Next(); steps-- {
	}
	return it
}

func (h *harness) remove(v int64, w int) {
	if prev, loaded := h.removed.LoadOrStore(v, w); loaded {
		log.Errorf("value %d removed by worker %d was already removed by worker %d", v, w, prev)
		h.duplicates.Inc()
	}
}

// verify traverses the quiescent list and fills the consistency fields of r
func (h *harness) verify(r *Report) {
	th := h.list.Register()
	defer h.list.Unregister(th)

	seen := make(map[int64]struct{}, h.list.Len())
	h.list.Range(th, func(v int64) bool {
		r.Traversed++
		if _, ok := seen[v]; ok {
			log.Errorf("value %d is linked twice", v)
			h.duplicates.Inc()
		}
		seen[v] = struct{}{}
		if _, ok := h.removed.Load(v); ok {
			log.Errorf("value %d was removed but is still linked", v)
			h.duplicates.Inc()
		}
		return true
	})

	it := h.list.Back(th)
	for !it.AtEnd() {
		if it.Valid() {
			r.TraversedBack++
		}
		if !it.Prev() {
			break
		}
	}
	it.Close()

	r.Len = h.list.Len()
	r.Duplicates = h.duplicates.Value()
}
