package reclaim

import (
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

// Stats holds the event counters shared by all engines. The counters are striped so
// that threads counting on the hot path do not contend on one cache line.
type Stats struct {
	Created   *xsync.Counter // records handed out by CreateRecord
	Retired   *xsync.Counter // records handed to DeleteRecord
	Reclaimed *xsync.Counter // retired records proven unreachable
	Recycled  *xsync.Counter // reclaimed records sent through a recycle channel
	Released  *xsync.Counter // reclaimed records pushed to the arena free stack
	Scans     *xsync.Counter // scan passes
	CleanUps  *xsync.Counter // cross-thread clean-up passes
}

// NewStats creates a zeroed set of counters
func NewStats() *Stats {
	return &Stats{
		Created:   xsync.NewCounter(),
		Retired:   xsync.NewCounter(),
		Reclaimed: xsync.NewCounter(),
		Recycled:  xsync.NewCounter(),
		Released:  xsync.NewCounter(),
		Scans:     xsync.NewCounter(),
		CleanUps:  xsync.NewCounter(),
	}
}

// Fill copies the counters into info
func (s *Stats) Fill(info *Info) {
	info.Created = s.Created.Value()
	info.Retired = s.Retired.Value()
	info.Reclaimed = s.Reclaimed.Value()
	info.Recycled = s.Recycled.Value()
	info.Released = s.Released.Value()
	info.Scans = s.Scans.Value()
	info.CleanUps = s.CleanUps.Value()
	info.Pending = info.Retired - info.Reclaimed
}

// NewMetricSet exposes the counters, the arena and the thread pool of an engine as a
// Prometheus metric set. Every engine owns its own set, so several engines can live in
// one process.
func NewMetricSet[T any](impl Implementation, s *Stats, a *Arena[T], threads *SlotPool) *metrics.Set {
	set := metrics.NewSet()

	counter := func(name string, c *xsync.Counter) {
		set.NewGauge(fmt.Sprintf(`lfmm_records_%s_total{engine=%q}`, name, impl), func() float64 {
			return float64(c.Value())
		})
	}
	counter("created", s.Created)
	counter("retired", s.Retired)
	counter("reclaimed", s.Reclaimed)
	counter("recycled", s.Recycled)
	counter("released", s.Released)

	set.NewGauge(fmt.Sprintf(`lfmm_scans_total{engine=%q}`, impl), func() float64 {
		return float64(s.Scans.Value())
	})
	set.NewGauge(fmt.Sprintf(`lfmm_cleanups_total{engine=%q}`, impl), func() float64 {
		return float64(s.CleanUps.Value())
	})
	set.NewGauge(fmt.Sprintf(`lfmm_records_pending{engine=%q}`, impl), func() float64 {
		return float64(s.Retired.Value() - s.Reclaimed.Value())
	})
	set.NewGauge(fmt.Sprintf(`lfmm_arena_records{engine=%q}`, impl), func() float64 {
		return float64(a.Len())
	})
	set.NewGauge(fmt.Sprintf(`lfmm_arena_free{engine=%q}`, impl), func() float64 {
		return float64(a.FreeLen())
	})
	set.NewGauge(fmt.Sprintf(`lfmm_threads_active{engine=%q}`, impl), func() float64 {
		return float64(threads.Active())
	})

	return set
}
