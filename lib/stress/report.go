package stress

import (
	"fmt"
	"github.com/ValentinKolb/lfmm/lib/reclaim"
	"github.com/ValentinKolb/lfmm/lib/util"
	"github.com/rcrowley/go-metrics"
	"io"
	"time"
)

// --------------------------------------------------------------------------
// Collector
// --------------------------------------------------------------------------

// collector aggregates the events of a run. It is owned by a single goroutine until done is closed.
type collector struct {
	registry  metrics.Registry
	timers    [numOps]metrics.Timer
	misses    [numOps]metrics.Counter
	perWorker []int64
	net       int64
	ops       int64
	done      chan struct{}
}

func newCollector(workers int) *collector {
	c := &collector{
		registry:  metrics.NewRegistry(),
		perWorker: make([]int64, workers),
		done:      make(chan struct{}),
	}
	for i := Op(0); i < numOps; i++ {
		c.timers[i] = metrics.GetOrRegisterTimer("op."+i.String(), c.registry)
		c.misses[i] = metrics.GetOrRegisterCounter("op."+i.String()+".miss", c.registry)
	}
	return c
}

func (c *collector) run(events <-chan event) {
	defer close(c.done)

	for ev := range events {
		c.ops++
		c.perWorker[ev.worker]++
		c.timers[ev.op].Update(ev.latency)

		switch {
		case !ev.ok:
			c.misses[ev.op].Inc(1)
		case ev.op.adds():
			c.net++
		default:
			c.net--
		}
	}
}

func (c *collector) report() *Report {
	r := &Report{
		Ops:      c.ops,
		Net:      c.net,
		PerOp:    make(map[string]OpSummary, numOps),
		registry: c.registry,
	}

	for i := Op(0); i < numOps; i++ {
		t := c.timers[i].Snapshot()
		if t.Count() == 0 {
			continue
		}
		r.PerOp[i.String()] = OpSummary{
			Count:  t.Count(),
			Misses: c.misses[i].Count(),
			Mean:   time.Duration(t.Mean()),
			P50:    time.Duration(t.Percentile(0.5)),
			P99:    time.Duration(t.Percentile(0.99)),
			Max:    time.Duration(t.Max()),
		}
	}

	counts := make([]float64, len(c.perWorker))
	for i, n := range c.perWorker {
		counts[i] = float64(n)
	}
	r.Workers = util.NewDistributionStats(counts)
	return r
}

// --------------------------------------------------------------------------
// Report
// --------------------------------------------------------------------------

// OpSummary summarizes the latency of one operation type. Misses counts operations that
// left the list unchanged, e.g. a pop on an empty list.
type OpSummary struct {
	Count  int64         `json:"count"`
	Misses int64         `json:"misses"`
	Mean   time.Duration `json:"mean"`
	P50    time.Duration `json:"p50"`
	P99    time.Duration `json:"p99"`
	Max    time.Duration `json:"max"`
}

// Report is the result of a stress run
type Report struct {
	Engine        reclaim.Implementation `json:"engine"`
	Seed          int64                  `json:"seed"`
	Threads       int                    `json:"threads"`
	Elapsed       time.Duration          `json:"elapsed"`
	Ops           int64                  `json:"ops"`
	Net           int64                  `json:"net"`            // successful pushes and inserts minus pops and erases
	Len           int                    `json:"len"`            // list length after the run
	Traversed     int                    `json:"traversed"`      // records seen by a front to back traversal
	TraversedBack int                    `json:"traversed_back"` // records seen by a back to front traversal
	Duplicates    int64                  `json:"duplicates"`     // values removed twice or removed and still linked
	PerOp         map[string]OpSummary   `json:"per_op"`
	Workers       util.DistributionStats `json:"workers"`
	Info          reclaim.Info           `json:"info"`

	// EngineMetrics holds the engine metrics in Prometheus text format, captured before
	// the list was closed
	EngineMetrics string `json:"-"`

	registry metrics.Registry
}

// Check returns an error if the list is inconsistent with the operation log
func (r *Report) Check() error {
	switch {
	case int64(r.Len) != r.Net:
		return fmt.Errorf("list length %d does not match net operations %d", r.Len, r.Net)
	case int64(r.Traversed) != r.Net:
		return fmt.Errorf("traversal saw %d records, expected %d", r.Traversed, r.Net)
	case int64(r.TraversedBack) != r.Net:
		return fmt.Errorf("backward traversal saw %d records, expected %d", r.TraversedBack, r.Net)
	case r.Duplicates > 0:
		return fmt.Errorf("%d duplicate values detected", r.Duplicates)
	}
	return nil
}

// Throughput returns the operations per second over the whole run
func (r *Report) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Elapsed.Seconds()
}

// WriteMetrics writes the operation timers of the run
func (r *Report) WriteMetrics(w io.Writer) {
	if r.registry != nil {
		metrics.WriteOnce(r.registry, w)
	}
}
