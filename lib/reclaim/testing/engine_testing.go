package testing

import (
	"bytes"
	"github.com/ValentinKolb/lfmm/lib/reclaim"
	"github.com/puzpuzpuz/xsync/v3"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
)

// Payload is the record payload used by the suite
type Payload struct {
	Owner int
	Seq   uint64
}

// EngineFactory is a function that creates a new engine sized by cfg
type EngineFactory func(cfg reclaim.Config) (reclaim.Engine[Payload], error)

// SuiteConfig returns the config every suite test runs with
func SuiteConfig() reclaim.Config {
	return reclaim.Config{
		Threads: 8,
		PinMax:  8,
		Links:   4,
	}
}

// RunEngineTests runs the conformance suite for an engine implementation.
func RunEngineTests(t *testing.T, name string, factory EngineFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("InvalidConfig", func(t *testing.T) {
			testInvalidConfig(t, factory)
		})

		t.Run("Register", func(t *testing.T) {
			testRegister(t, newEngine(t, factory))
		})

		t.Run("InvalidThread", func(t *testing.T) {
			testInvalidThread(t, factory)
		})

		t.Run("CreateRecord", func(t *testing.T) {
			testCreateRecord(t, newEngine(t, factory))
		})

		t.Run("PinLimit", func(t *testing.T) {
			testPinLimit(t, newEngine(t, factory))
		})

		t.Run("CasRef", func(t *testing.T) {
			testCasRef(t, newEngine(t, factory))
		})

		t.Run("PinDeref", func(t *testing.T) {
			testPinDeref(t, newEngine(t, factory))
		})

		t.Run("DoubleRetire", func(t *testing.T) {
			testDoubleRetire(t, newEngine(t, factory))
		})

		t.Run("NoReuseWhilePinned", func(t *testing.T) {
			testNoReuseWhilePinned(t, newEngine(t, factory))
		})

		t.Run("NoReuseWhileLinked", func(t *testing.T) {
			testNoReuseWhileLinked(t, newEngine(t, factory))
		})

		t.Run("SeverOnReclaim", func(t *testing.T) {
			testSeverOnReclaim(t, newEngine(t, factory))
		})

		t.Run("Recycle", func(t *testing.T) {
			testRecycle(t, newEngine(t, factory))
		})

		t.Run("InfoAndMetrics", func(t *testing.T) {
			testInfoAndMetrics(t, newEngine(t, factory))
		})

		t.Run("ConcurrentSafety", func(t *testing.T) {
			testConcurrentSafety(t, newEngine(t, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// tracker installs itself as the engine hooks and records every reclaimed record id
type tracker struct {
	eng       reclaim.Engine[Payload]
	created   *xsync.MapOf[uint64, Payload]
	reclaimed *xsync.MapOf[uint64, struct{}]
	repairs   atomic.Int64
}

func newEngine(t *testing.T, factory EngineFactory) *tracker {
	e, err := factory(SuiteConfig())
	if err != nil {
		t.Fatalf("Expected engine to be created, got %v", err)
	}
	tr := &tracker{
		eng:       e,
		created:   xsync.NewMapOf[uint64, Payload](),
		reclaimed: xsync.NewMapOf[uint64, struct{}](),
	}
	e.SetHooks(tr)
	return tr
}

func (tr *tracker) RepairRecord(reclaim.Thread, reclaim.Ref) {
	tr.repairs.Add(1)
}

func (tr *tracker) Sever(t reclaim.Thread, r reclaim.Ref, concurrent bool) {
	tr.reclaimed.Store(tr.eng.Node(r).ID(), struct{}{})
	reclaim.SeverLinks(tr.eng, r, concurrent)
}

func (tr *tracker) isReclaimed(id uint64) bool {
	_, ok := tr.reclaimed.Load(id)
	return ok
}

// Checks if the engine supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, e reclaim.Engine[Payload], feature reclaim.Feature) {
	if !e.SupportsFeature(feature) {
		t.Skip()
	}
}

// expectViolation runs fn and fails the test unless it panics with an *reclaim.Error of the given code
func expectViolation(t testing.TB, code reclaim.ErrCode, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		err, ok := r.(*reclaim.Error)
		if !ok {
			t.Errorf("Expected panic with code %s, got %v", code, r)
			return
		}
		if err.Code != code {
			t.Errorf("Expected violation code %s, got %s", code, err.Code)
		}
	}()
	fn()
}

// churn creates and immediately retires n records on t and fails if one of them reuses avoid
func churn(t testing.TB, e reclaim.Engine[Payload], th reclaim.Thread, n int, avoid reclaim.Ref) {
	t.Helper()
	for i := 0; i < n; i++ {
		r := e.CreateRecord(th, Payload{Owner: th.ID(), Seq: uint64(i)})
		if !avoid.IsNil() && r.Same(avoid) {
			t.Fatalf("Expected record %v not to be reused", avoid)
		}
		e.DeleteRecord(th, r)
	}
}

func scanThreshold() int {
	_, scan := SuiteConfig().Thresholds()
	return scan
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testInvalidConfig(t *testing.T, factory EngineFactory) {
	invalid := []reclaim.Config{
		{Threads: 0, PinMax: 1, Links: 1},
		{Threads: 1, PinMax: 0, Links: 1},
		{Threads: 1, PinMax: 1, Links: -1},
		{Threads: 1, PinMax: 1, Links: reclaim.MaxLinks + 1},
		{Threads: reclaim.MaxThreads + 1, PinMax: 1, Links: 1},
	}

	for _, cfg := range invalid {
		if _, err := factory(cfg); err == nil {
			t.Errorf("Expected config %+v to be rejected", cfg)
		}
	}
}

func testRegister(t *testing.T, tr *tracker) {
	e := tr.eng
	defer e.Close()

	cfg := SuiteConfig()
	threads := make([]reclaim.Thread, 0, cfg.Threads)
	seen := make(map[int]bool)
	for i := 0; i < cfg.Threads; i++ {
		th := e.Register()
		if th.ID() < 0 || th.ID() >= cfg.Threads {
			t.Errorf("Expected thread id in [0, %d), got %d", cfg.Threads, th.ID())
		}
		if seen[th.ID()] {
			t.Errorf("Expected unique thread ids, got %d twice", th.ID())
		}
		seen[th.ID()] = true
		threads = append(threads, th)
	}

	expectViolation(t, reclaim.ErrCThreadLimit, func() {
		e.Register()
	})

	if info := e.GetInfo(); info.ActiveThreads != cfg.Threads {
		t.Errorf("Expected %d active threads, got %d", cfg.Threads, info.ActiveThreads)
	}

	// a released slot is handed out again
	released := threads[3].ID()
	e.Unregister(threads[3])
	again := e.Register()
	if again.ID() != released {
		t.Errorf("Expected released slot %d to be reused, got %d", released, again.ID())
	}
	threads[3] = again

	// a thread holding pins must not leave
	r := e.CreateRecord(threads[0], Payload{})
	expectViolation(t, reclaim.ErrCPinsHeld, func() {
		e.Unregister(threads[0])
	})
	e.Unpin(threads[0], r)

	for _, th := range threads {
		e.Unregister(th)
	}
	if info := e.GetInfo(); info.ActiveThreads != 0 {
		t.Errorf("Expected no active threads, got %d", info.ActiveThreads)
	}
}

func testInvalidThread(t *testing.T, factory EngineFactory) {
	a := newEngine(t, factory).eng
	b := newEngine(t, factory).eng
	defer a.Close()
	defer b.Close()

	foreign := b.Register()
	expectViolation(t, reclaim.ErrCInvalidThread, func() {
		a.CreateRecord(foreign, Payload{})
	})
	b.Unregister(foreign)
}

func testCreateRecord(t *testing.T, tr *tracker) {
	e := tr.eng
	defer e.Close()

	th := e.Register()
	defer e.Unregister(th)

	ids := make(map[uint64]bool)
	refs := make([]reclaim.Ref, 0, 4)
	for i := 0; i < 4; i++ {
		r := e.CreateRecord(th, Payload{Owner: th.ID(), Seq: uint64(i)})
		if r.IsNil() || r.Marked() {
			t.Fatalf("Expected an unmarked non-nil record, got %v", r)
		}

		n := e.Node(r)
		if n.Value.Seq != uint64(i) || n.Value.Owner != th.ID() {
			t.Errorf("Expected payload {%d %d}, got %+v", th.ID(), i, n.Value)
		}
		if n.Owner() != th.ID() {
			t.Errorf("Expected owner %d, got %d", th.ID(), n.Owner())
		}
		if n.Refs() != 0 {
			t.Errorf("Expected fresh record without references, got %d", n.Refs())
		}
		if n.Retired() {
			t.Errorf("Expected fresh record not to be retired")
		}
		if n.Links() != SuiteConfig().Links {
			t.Errorf("Expected %d links, got %d", SuiteConfig().Links, n.Links())
		}
		for l := 0; l < n.Links(); l++ {
			if !n.Link(l).Load().IsNil() {
				t.Errorf("Expected link %d of a fresh record to be nil", l)
			}
		}
		if ids[n.ID()] {
			t.Errorf("Expected unique record ids, got %d twice", n.ID())
		}
		ids[n.ID()] = true
		refs = append(refs, r)
	}

	if e.Node(reclaim.Nil) != nil {
		t.Errorf("Expected nil node for a nil reference")
	}

	// the record is pinned exactly once
	for _, r := range refs {
		e.Unpin(th, r)
	}
	expectViolation(t, reclaim.ErrCNotPinned, func() {
		e.Unpin(th, refs[0])
	})
}

func testPinLimit(t *testing.T, tr *tracker) {
	e := tr.eng
	defer e.Close()

	th := e.Register()
	defer e.Unregister(th)

	refs := make([]reclaim.Ref, 0, SuiteConfig().PinMax)
	for i := 0; i < SuiteConfig().PinMax; i++ {
		refs = append(refs, e.CreateRecord(th, Payload{}))
	}

	expectViolation(t, reclaim.ErrCPinLimit, func() {
		e.CreateRecord(th, Payload{})
	})

	// pinning an already pinned record needs no new slot
	e.Pin(th, refs[0])
	e.Unpin(th, refs[0])

	for _, r := range refs {
		e.Unpin(th, r)
	}
}

func testCasRef(t *testing.T, tr *tracker) {
	e := tr.eng
	defer e.Close()

	th := e.Register()
	defer e.Unregister(th)

	holder := e.CreateRecord(th, Payload{Seq: 1})
	a := e.CreateRecord(th, Payload{Seq: 2})
	b := e.CreateRecord(th, Payload{Seq: 3})
	link := e.Node(holder).Link(0)

	e.StoreRef(link, a)
	if got := e.Node(a).Refs(); got != 1 {
		t.Errorf("Expected 1 reference after StoreRef, got %d", got)
	}

	if !e.CasRef(link, a, b) {
		t.Fatalf("Expected CasRef from a to b to succeed")
	}
	if e.Node(a).Refs() != 0 || e.Node(b).Refs() != 1 {
		t.Errorf("Expected counts a=0 b=1, got a=%d b=%d", e.Node(a).Refs(), e.Node(b).Refs())
	}

	if e.CasRef(link, a, b) {
		t.Errorf("Expected CasRef with a stale old value to fail")
	}
	if e.Node(b).Refs() != 1 {
		t.Errorf("Expected failed CasRef to keep counts, got %d", e.Node(b).Refs())
	}

	// marking keeps the target and the count
	if !e.CasRef(link, b, b.WithMark()) {
		t.Fatalf("Expected marking CasRef to succeed")
	}
	if got := link.Load(); got != b.WithMark() {
		t.Errorf("Expected link %v, got %v", b.WithMark(), got)
	}
	if e.Node(b).Refs() != 1 {
		t.Errorf("Expected marking to keep the count, got %d", e.Node(b).Refs())
	}

	// a tagged compare value goes stale once the link changed, even if it changed back
	stale := link.LoadTagged()
	if !e.CasRef(link, b.WithMark(), a) || !e.CasRef(link, a, b.WithMark()) {
		t.Fatalf("Expected CasRef round trip to succeed")
	}
	if link.Load() != stale.Ref() {
		t.Fatalf("Expected the link to hold the old reference again")
	}
	if e.CasTagged(link, stale, reclaim.Nil) {
		t.Errorf("Expected CasTagged with a stale generation to fail")
	}
	if !e.CasTagged(link, link.LoadTagged(), reclaim.Nil) {
		t.Errorf("Expected CasTagged with a fresh generation to succeed")
	}
	if e.Node(a).Refs() != 0 || e.Node(b).Refs() != 0 {
		t.Errorf("Expected no references left, got a=%d b=%d", e.Node(a).Refs(), e.Node(b).Refs())
	}

	for _, r := range []reclaim.Ref{holder, a, b} {
		e.Unpin(th, r)
	}
}

func testPinDeref(t *testing.T, tr *tracker) {
	e := tr.eng
	defer e.Close()

	th := e.Register()
	defer e.Unregister(th)

	holder := e.CreateRecord(th, Payload{})
	target := e.CreateRecord(th, Payload{Seq: 7})
	link := e.Node(holder).Link(1)

	if got := e.PinDeref(th, link); !got.IsNil() {
		t.Errorf("Expected nil from an empty link, got %v", got)
	}

	e.StoreRef(link, target)
	e.Unpin(th, target)

	got := e.PinDeref(th, link)
	if got != target {
		t.Fatalf("Expected %v, got %v", target, got)
	}
	if e.Node(got).Value.Seq != 7 {
		t.Errorf("Expected payload 7, got %d", e.Node(got).Value.Seq)
	}

	// the mark is returned with the reference
	if _, ok := link.SetMark(); !ok {
		t.Fatalf("Expected SetMark to set the mark")
	}
	again := e.PinDeref(th, link)
	if again != target.WithMark() {
		t.Errorf("Expected marked %v, got %v", target.WithMark(), again)
	}

	e.Unpin(th, again)
	e.Unpin(th, got)
	e.Unpin(th, holder)
}

func testDoubleRetire(t *testing.T, tr *tracker) {
	e := tr.eng
	defer e.Close()

	th := e.Register()

	r := e.CreateRecord(th, Payload{})
	e.Pin(th, r)
	e.DeleteRecord(th, r)
	expectViolation(t, reclaim.ErrCDoubleRetire, func() {
		e.DeleteRecord(th, r)
	})

	unpinned := e.CreateRecord(th, Payload{})
	e.Unpin(th, unpinned)
	expectViolation(t, reclaim.ErrCNotPinned, func() {
		e.DeleteRecord(th, unpinned)
	})
}

func testNoReuseWhilePinned(t *testing.T, tr *tracker) {
	e := tr.eng
	defer e.Close()

	a := e.Register()
	b := e.Register()
	defer e.Unregister(a)
	defer e.Unregister(b)

	x := e.CreateRecord(a, Payload{Seq: 99})
	id := e.Node(x).ID()
	e.Pin(b, x)
	e.DeleteRecord(a, x)

	churn(t, e, a, 3*scanThreshold(), x)

	if tr.isReclaimed(id) {
		t.Fatalf("Expected pinned record %d not to be reclaimed", id)
	}
	if e.Node(x).ID() != id || e.Node(x).Value.Seq != 99 {
		t.Fatalf("Expected pinned record to keep id and payload")
	}

	e.Unpin(b, x)
	churn(t, e, a, 3*scanThreshold(), reclaim.Nil)

	if !tr.isReclaimed(id) {
		t.Errorf("Expected record %d to be reclaimed after the last pin was dropped", id)
	}
	if info := e.GetInfo(); info.Reclaimed == 0 || info.Reclaimed > info.Retired {
		t.Errorf("Expected 0 < reclaimed <= retired, got %d of %d", info.Reclaimed, info.Retired)
	}
}

func testNoReuseWhileLinked(t *testing.T, tr *tracker) {
	e := tr.eng
	defer e.Close()

	th := e.Register()
	defer e.Unregister(th)

	holder := e.CreateRecord(th, Payload{})
	x := e.CreateRecord(th, Payload{Seq: 5})
	id := e.Node(x).ID()
	link := e.Node(holder).Link(0)

	e.StoreRef(link, x)
	e.DeleteRecord(th, x)

	churn(t, e, th, 3*scanThreshold(), x)
	if tr.isReclaimed(id) {
		t.Fatalf("Expected linked record %d not to be reclaimed", id)
	}

	if !e.CasRef(link, x, reclaim.Nil) {
		t.Fatalf("Expected unlinking CasRef to succeed")
	}
	churn(t, e, th, 3*scanThreshold(), reclaim.Nil)
	if !tr.isReclaimed(id) {
		t.Errorf("Expected record %d to be reclaimed once unlinked", id)
	}

	e.Unpin(th, holder)
}

func testSeverOnReclaim(t *testing.T, tr *tracker) {
	e := tr.eng
	defer e.Close()

	th := e.Register()
	defer e.Unregister(th)

	x := e.CreateRecord(th, Payload{})
	y := e.CreateRecord(th, Payload{})
	e.StoreRef(e.Node(x).Link(2), y)
	if e.Node(y).Refs() != 1 {
		t.Fatalf("Expected y to be referenced once")
	}

	e.DeleteRecord(th, x)
	churn(t, e, th, 3*scanThreshold(), reclaim.Nil)

	if e.Node(y).Refs() != 0 {
		t.Errorf("Expected severing x to drop the reference to y, got %d", e.Node(y).Refs())
	}
	e.Unpin(th, y)
}

func testRecycle(t *testing.T, tr *tracker) {
	e := tr.eng
	defer e.Close()

	requireFeature(t, e, reclaim.FeatureRecycle)

	a := e.Register()
	b := e.Register()
	defer e.Unregister(a)
	defer e.Unregister(b)

	// a creates records, b retires them
	handed := make(map[uint32]bool)
	for i := 0; i < 8; i++ {
		r := e.CreateRecord(a, Payload{Owner: a.ID()})
		e.Pin(b, r)
		e.Unpin(a, r)
		e.DeleteRecord(b, r)
		handed[r.Index()] = true
	}
	churn(t, e, b, 2*scanThreshold(), reclaim.Nil)

	if info := e.GetInfo(); info.Recycled == 0 {
		t.Fatalf("Expected records to travel through a recycle channel")
	}

	// the records come back to a once its own free records run out
	found := false
	for i := 0; i < 64 && !found; i++ {
		r := e.CreateRecord(a, Payload{})
		found = handed[r.Index()]
		e.Unpin(a, r)
	}
	if !found {
		t.Errorf("Expected a recycled record to be handed out to its creator again")
	}
}

func testInfoAndMetrics(t *testing.T, tr *tracker) {
	e := tr.eng
	defer e.Close()

	th := e.Register()
	churn(t, e, th, 10, reclaim.Nil)
	e.Unregister(th)

	info := e.GetInfo()
	if info.Engine == "" {
		t.Errorf("Expected engine name in info")
	}
	if info.Created != 10 || info.Retired != 10 {
		t.Errorf("Expected 10 created and retired records, got %d and %d", info.Created, info.Retired)
	}
	if info.Pending != info.Retired-info.Reclaimed {
		t.Errorf("Expected pending = retired - reclaimed, got %d", info.Pending)
	}
	if info.ArenaRecords < 10 {
		t.Errorf("Expected at least 10 arena records, got %d", info.ArenaRecords)
	}
	for _, f := range info.SupportedFeatures {
		if !e.SupportsFeature(f) {
			t.Errorf("Expected listed feature %s to be supported", f)
		}
	}

	var buf bytes.Buffer
	e.WriteMetrics(&buf)
	if !bytes.Contains(buf.Bytes(), []byte("lfmm_records_created_total")) {
		t.Errorf("Expected created counter in metrics output, got %q", buf.String())
	}
}

// testConcurrentSafety lets writers swap records in and out of shared links while
// readers pin and inspect them. A reader must never see a record after its reclamation.
func testConcurrentSafety(t *testing.T, tr *tracker) {
	e := tr.eng
	defer e.Close()

	// one slot stays with the setup thread
	workers := SuiteConfig().Threads - 1
	iterations := 25_000
	if testing.Short() {
		iterations = 500
	}

	setup := e.Register()
	root := e.CreateRecord(setup, Payload{})
	links := SuiteConfig().Links

	var violations atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			th := e.Register()
			defer e.Unregister(th)

			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < iterations; i++ {
				link := e.Node(root).Link(rng.Intn(links))

				if rng.Intn(2) == 0 {
					p := Payload{Owner: th.ID(), Seq: uint64(i)}
					r := e.CreateRecord(th, p)
					tr.created.Store(e.Node(r).ID(), p)
					for {
						old := e.PinDeref(th, link)
						if e.CasRef(link, old, r) {
							e.Unpin(th, r)
							if !old.IsNil() {
								e.DeleteRecord(th, old)
							}
							break
						}
						e.Unpin(th, old)
					}
					continue
				}

				x := e.PinDeref(th, link)
				if x.IsNil() {
					continue
				}
				n := e.Node(x)
				id := n.ID()
				if tr.isReclaimed(id) {
					violations.Add(1)
				}
				if want, ok := tr.created.Load(id); !ok || want != n.Value {
					violations.Add(1)
				}
				e.Unpin(th, x)
			}
		}(int64(w) + 1)
	}
	wg.Wait()

	if v := violations.Load(); v != 0 {
		t.Errorf("Expected no reads of reclaimed records, got %d violations", v)
	}

	for i := 0; i < links; i++ {
		link := e.Node(root).Link(i)
		if old := e.PinDeref(setup, link); !old.IsNil() {
			if !e.CasRef(link, old, reclaim.Nil) {
				t.Fatalf("Expected clearing link %d to succeed", i)
			}
			e.DeleteRecord(setup, old)
		}
	}
	e.Unpin(setup, root)
	e.Unregister(setup)

	info := e.GetInfo()
	if info.Reclaimed > info.Retired || info.Retired > info.Created {
		t.Errorf("Expected reclaimed <= retired <= created, got %d, %d, %d", info.Reclaimed, info.Retired, info.Created)
	}
	if info.Retired != info.Created-1 {
		t.Errorf("Expected every record but the root to be retired, got %d of %d", info.Retired, info.Created)
	}
}
