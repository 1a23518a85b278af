package testing

import (
	"github.com/ValentinKolb/lfmm/lib/reclaim"
	"math/rand"
	"runtime"
	"testing"
)

// benchConfig sizes the engine for one thread per RunParallel goroutine plus a setup thread
func benchConfig() reclaim.Config {
	cfg := SuiteConfig()
	cfg.Threads = runtime.GOMAXPROCS(0) + 1
	return cfg
}

// RunEngineBenchmarks runs all benchmarks for an engine implementation
func RunEngineBenchmarks(b *testing.B, name string, factory EngineFactory) {

	b.Run("CreateDelete", func(b *testing.B) {
		benchmarkCreateDelete(b, newBenchEngine(b, factory))
	})

	b.Run("PinDeref", func(b *testing.B) {
		benchmarkPinDeref(b, newBenchEngine(b, factory))
	})

	b.Run("Swap", func(b *testing.B) {
		benchmarkSwap(b, newBenchEngine(b, factory))
	})
}

func newBenchEngine(b *testing.B, factory EngineFactory) reclaim.Engine[Payload] {
	e, err := factory(benchConfig())
	if err != nil {
		b.Fatalf("Expected engine to be created, got %v", err)
	}
	return e
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for a create followed by a delete of the same record
func benchmarkCreateDelete(b *testing.B, e reclaim.Engine[Payload]) {

	b.Cleanup(func() {
		_ = e.Close()
	})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		th := e.Register()
		defer e.Unregister(th)

		seq := uint64(0)
		for pb.Next() {
			r := e.CreateRecord(th, Payload{Owner: th.ID(), Seq: seq})
			e.DeleteRecord(th, r)
			seq++
		}
	})
}

// Benchmark for pinning the target of a shared link
func benchmarkPinDeref(b *testing.B, e reclaim.Engine[Payload]) {

	setup := e.Register()
	root := e.CreateRecord(setup, Payload{})
	target := e.CreateRecord(setup, Payload{})
	e.StoreRef(e.Node(root).Link(0), target)
	e.Unpin(setup, target)

	b.Cleanup(func() {
		e.Unpin(setup, root)
		e.Unregister(setup)
		_ = e.Close()
	})

	link := e.Node(root).Link(0)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		th := e.Register()
		defer e.Unregister(th)

		for pb.Next() {
			r := e.PinDeref(th, link)
			e.Unpin(th, r)
		}
	})
}

// Benchmark for replacing the target of random shared links and retiring the old target
func benchmarkSwap(b *testing.B, e reclaim.Engine[Payload]) {

	setup := e.Register()
	root := e.CreateRecord(setup, Payload{})
	links := SuiteConfig().Links

	b.Cleanup(func() {
		for i := 0; i < links; i++ {
			link := e.Node(root).Link(i)
			if old := e.PinDeref(setup, link); !old.IsNil() {
				e.CasRef(link, old, reclaim.Nil)
				e.DeleteRecord(setup, old)
			}
		}
		e.Unpin(setup, root)
		e.Unregister(setup)
		_ = e.Close()
	})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		th := e.Register()
		defer e.Unregister(th)

		rng := rand.New(rand.NewSource(int64(th.ID())))
		for pb.Next() {
			link := e.Node(root).Link(rng.Intn(links))
			r := e.CreateRecord(th, Payload{Owner: th.ID()})
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
		}
	})
}
