package perf

import (
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/lfmm/cmd/util"
	"github.com/ValentinKolb/lfmm/lib/dlist"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var (
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Benchmark list operations",
		Long:    "Benchmark list operations on the selected reclamation engine. Every benchmark runs on a fresh list with threads goroutines per CPU.",
		PreRunE: processPerfConfig,
		RunE:    run,
	}
	perfOptions *dlist.Options
	perfPrefill = 1000
	perfSkip    = make([]string, 0)
)

// benchmark is a named list benchmark, body runs inside b.RunParallel
type benchmark struct {
	name string
	body func(l *dlist.List[int], pb *testing.PB, next func() int)
}

var benchmarks = []benchmark{
	{"push-pop", func(l *dlist.List[int], pb *testing.PB, next func() int) {
		th := l.Register()
		defer l.Unregister(th)
		for pb.Next() {
			l.PushBack(th, next())
			l.PopFront(th)
		}
	}},
	{"push-front-pop-back", func(l *dlist.List[int], pb *testing.PB, next func() int) {
		th := l.Register()
		defer l.Unregister(th)
		for pb.Next() {
			l.PushFront(th, next())
			l.PopBack(th)
		}
	}},
	{"iterate", func(l *dlist.List[int], pb *testing.PB, _ func() int) {
		th := l.Register()
		defer l.Unregister(th)
		for pb.Next() {
			it := l.Front(th)
			for steps := 0; steps < 16 && it.Next(); steps++ {
			}
			it.Close()
		}
	}},
	{"insert-erase", func(l *dlist.List[int], pb *testing.PB, next func() int) {
		th := l.Register()
		defer l.Unregister(th)
		for pb.Next() {
			it := l.Front(th)
			it.Next()
			l.Insert(it, next())
			l.Erase(it)
			it.Close()
		}
	}},
	{"mixed", func(l *dlist.List[int], pb *testing.PB, next func() int) {
		th := l.Register()
		defer l.Unregister(th)
		counter := 0
		for pb.Next() {
			switch counter % 4 {
			case 0:
				l.PushBack(th, next())
			case 1:
				l.PopFront(th)
			case 2:
				l.PushFront(th, next())
			case 3:
				l.PopBack(th)
			}
			counter++
		}
	}},
}

func init() {
	key := "prefill"
	PerfCmd.Flags().Int(key, perfPrefill, util.WrapString("Number of records in the list before each benchmark"))
	key = "skip"
	PerfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. iterate,mixed)"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	opts, err := util.GetListOptions()
	if err != nil {
		return err
	}
	perfOptions = opts
	perfPrefill = viper.GetInt("prefill")
	perfSkip = strings.Split(viper.GetString("skip"), ",")
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for lfmm lists")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.FormatOptions(perfOptions))
	fmt.Printf("Prefill:  %d\n", perfPrefill)
	fmt.Println()

	results := make(map[string]testing.BenchmarkResult)
	for _, bm := range benchmarks {
		if shouldSkip(bm.name) {
			printResult(bm.name, testing.BenchmarkResult{})
			continue
		}
		result, err := runBenchmark(bm)
		if err != nil {
			return err
		}
		results[bm.name] = result
		printResult(bm.name, result)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// runBenchmark runs bm on a fresh prefilled list
func runBenchmark(bm benchmark) (testing.BenchmarkResult, error) {
	// RunParallel starts threads goroutines per CPU, each registers its own thread
	opts := *perfOptions
	opts.Threads = perfOptions.Threads*runtime.GOMAXPROCS(0) + 1

	l, err := dlist.New[int](&opts)
	if err != nil {
		return testing.BenchmarkResult{}, err
	}
	defer func() {
		if err := l.Close(); err != nil {
			log.Printf("(%s) - error closing list: %v\n", bm.name, err)
		}
	}()

	th := l.Register()
	for i := 0; i < perfPrefill; i++ {
		l.PushBack(th, i)
	}
	l.Unregister(th)

	var counter atomic.Int64
	next := func() int { return int(counter.Add(1)) }

	return testing.Benchmark(func(b *testing.B) {
		b.SetParallelism(perfOptions.Threads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			bm.body(l, pb, next)
		})
	}), nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-24sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	fmt.Printf("%-24s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec",
		"Engine", "Threads", "Procs", "IterMax", "Prefill",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, bm := range benchmarks {
		result, ok := results[bm.name]
		if !ok {
			continue
		}
		nsPerOp := math.Max(float64(result.NsPerOp()), 1)

		row := []string{
			bm.name,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", 1.0/(nsPerOp/1e9)),
			string(perfOptions.Engine),
			strconv.Itoa(perfOptions.Threads),
			strconv.Itoa(runtime.GOMAXPROCS(0)),
			strconv.Itoa(perfOptions.IterMax),
			strconv.Itoa(perfPrefill),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", bm.name, err)
		}
	}
	return writer.Error()
}
