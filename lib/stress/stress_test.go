package stress

import (
	"bytes"
	"context"
	"errors"
	"github.com/ValentinKolb/lfmm/lib/reclaim"
	"github.com/ValentinKolb/lfmm/lib/reclaim/engines"
	"math/rand"
	"strings"
	"testing"
	"time"
)

func TestRun(t *testing.T) {
	for _, impl := range engines.Implementations {
		t.Run(string(impl), func(t *testing.T) {
			t.Run("DefaultScenario", func(t *testing.T) {
				cfg := DefaultConfig()
				cfg.Engine = impl
				cfg.Seed = 42

				report, err := Run(context.Background(), cfg)
				if err != nil {
					t.Fatalf("Expected run to succeed, got %v", err)
				}
				if err := report.Check(); err != nil {
					t.Errorf("Expected consistent list, got %v", err)
				}
				if report.Ops != int64(cfg.Threads*cfg.OpsPerThread) {
					t.Errorf("Expected %d ops, got %d", cfg.Threads*cfg.OpsPerThread, report.Ops)
				}
				if report.Engine != impl || report.Info.Engine != impl {
					t.Errorf("Expected engine %s in the report, got %s", impl, report.Engine)
				}
				if report.Workers.Count != cfg.Threads || report.Workers.Min != float64(cfg.OpsPerThread) {
					t.Errorf("Expected %d workers with %d ops each, got %+v", cfg.Threads, cfg.OpsPerThread, report.Workers)
				}

				var total int64
				for _, s := range report.PerOp {
					total += s.Count
				}
				if total != report.Ops {
					t.Errorf("Expected per operation counts to add up to %d, got %d", report.Ops, total)
				}

				var buf bytes.Buffer
				report.WriteMetrics(&buf)
				if !strings.Contains(buf.String(), "op.push_back") {
					t.Errorf("Expected push_back timer in the metrics output")
				}
				if !strings.Contains(report.EngineMetrics, "lfmm_") {
					t.Errorf("Expected engine metrics in the report")
				}
			})

			t.Run("PushHeavy", func(t *testing.T) {
				mix, err := ParseMix("push_front=2,push_back=2,insert=2,pop_front=1,erase=1")
				if err != nil {
					t.Fatalf("Expected mix to parse, got %v", err)
				}
				cfg := DefaultConfig()
				cfg.Engine = impl
				cfg.Mix = mix
				cfg.OpsPerThread = 300

				report, err := Run(context.Background(), cfg)
				if err != nil {
					t.Fatalf("Expected run to succeed, got %v", err)
				}
				if err := report.Check(); err != nil {
					t.Errorf("Expected consistent list, got %v", err)
				}
				if report.Len == 0 {
					t.Errorf("Expected records to remain in a push heavy run")
				}
			})

			t.Run("AtScale", func(t *testing.T) {
				cfg := DefaultConfig()
				cfg.Engine = impl
				cfg.Seed = 7
				cfg.OpsPerThread = 20_000
				if testing.Short() {
					cfg.OpsPerThread = 500
				}

				report, err := Run(context.Background(), cfg)
				if err != nil {
					t.Fatalf("Expected run to succeed, got %v", err)
				}
				if err := report.Check(); err != nil {
					t.Errorf("Expected consistent list, got %v", err)
				}
				if report.Info.Reclaimed == 0 {
					t.Errorf("Expected records to be reclaimed during the run")
				}
			})

			t.Run("Duration", func(t *testing.T) {
				cfg := DefaultConfig()
				cfg.Engine = impl
				cfg.Threads = 4
				cfg.OpsPerThread = 0
				cfg.Duration = 50 * time.Millisecond

				report, err := Run(context.Background(), cfg)
				if err != nil {
					t.Fatalf("Expected run to succeed, got %v", err)
				}
				if err := report.Check(); err != nil {
					t.Errorf("Expected consistent list, got %v", err)
				}
				if report.Ops == 0 {
					t.Errorf("Expected operations within the run duration")
				}
			})
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"NoThreads", func(c *Config) { c.Threads = 0 }},
		{"NoBudget", func(c *Config) { c.OpsPerThread = 0; c.Duration = 0 }},
		{"NegativeOps", func(c *Config) { c.OpsPerThread = -1 }},
		{"NoIterators", func(c *Config) { c.IterMax = 0 }},
		{"EmptyMix", func(c *Config) { c.Mix = Mix{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if _, err := Run(context.Background(), cfg); !errors.Is(err, reclaim.ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got %v", err)
	}
}

func TestParseMix(t *testing.T) {
	m, err := ParseMix("push_back=3, pop_front=1")
	if err != nil {
		t.Fatalf("Expected mix to parse, got %v", err)
	}
	if m[OpPushBack] != 3 || m[OpPopFront] != 1 || m.total() != 4 {
		t.Errorf("Expected push_back=3 and pop_front=1, got %s", m)
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		if op := m.pick(rng); op != OpPushBack && op != OpPopFront {
			t.Fatalf("Expected only weighted operations, got %s", op)
		}
	}

	for _, bad := range []string{"push_back", "push_back=x", "shuffle=1", "pop_back=-1"} {
		if _, err := ParseMix(bad); !errors.Is(err, reclaim.ErrInvalidConfig) {
			t.Errorf("Expected ErrInvalidConfig for %q, got %v", bad, err)
		}
	}
}

func TestReportCheck(t *testing.T) {
	r := &Report{Net: 3, Len: 3, Traversed: 3, TraversedBack: 3}
	if err := r.Check(); err != nil {
		t.Errorf("Expected consistent report, got %v", err)
	}

	r.Len = 2
	if r.Check() == nil {
		t.Errorf("Expected length mismatch to fail")
	}

	r = &Report{Net: 3, Len: 3, Traversed: 2, TraversedBack: 3}
	if r.Check() == nil {
		t.Errorf("Expected traversal mismatch to fail")
	}

	r = &Report{Net: 3, Len: 3, Traversed: 3, TraversedBack: 2}
	if r.Check() == nil {
		t.Errorf("Expected backward traversal mismatch to fail")
	}

	r = &Report{Duplicates: 1}
	if r.Check() == nil {
		t.Errorf("Expected duplicates to fail")
	}
}
