package hazard

import (
	"github.com/ValentinKolb/lfmm/lib/reclaim"
	rtesting "github.com/ValentinKolb/lfmm/lib/reclaim/testing"
	"testing"
)

func Test(t *testing.T) {
	rtesting.RunEngineTests(t, "Hazard", func(cfg reclaim.Config) (reclaim.Engine[rtesting.Payload], error) {
		return New[rtesting.Payload](cfg)
	})
}

func Benchmark(b *testing.B) {
	rtesting.RunEngineBenchmarks(b, "Hazard", func(cfg reclaim.Config) (reclaim.Engine[rtesting.Payload], error) {
		return New[rtesting.Payload](cfg)
	})
}
