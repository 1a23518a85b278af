package stress

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/lfmm/cmd/util"
	"github.com/ValentinKolb/lfmm/lib/stress"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"sort"
	"syscall"
)

var (
	stressConfig = stress.DefaultConfig()
	StressCmd    = &cobra.Command{
		Use:   "stress",
		Short: "Run a randomized concurrent workload against the list",
		Long: `Run a randomized concurrent workload against the list and verify it afterwards.
Every worker registers its own thread and performs a random mix of push, pop, insert
and erase operations. The run fails if the final list does not match the operation log.`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	defaults := stress.DefaultConfig()

	key := "ops"
	StressCmd.Flags().Int(key, defaults.OpsPerThread, util.WrapString("Operations per thread, 0 runs until the duration expires"))

	key = "duration"
	StressCmd.Flags().Duration(key, 0, util.WrapString("Maximum run time (e.g. 10s), 0 runs until every thread finished its operations"))

	key = "seed"
	StressCmd.Flags().Int64(key, 0, util.WrapString("Workload seed, 0 picks a random seed"))

	key = "mix"
	StressCmd.Flags().String(key, defaults.Mix.String(), util.WrapString("Operation weights as op=weight pairs (push_front, push_back, pop_front, pop_back, insert, erase)"))

	key = "metrics"
	StressCmd.Flags().Bool(key, false, util.WrapString("Print engine metrics and operation timers after the run"))

	key = "json"
	StressCmd.Flags().Bool(key, false, util.WrapString("Print the report as JSON"))
}

func processConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	opts, err := util.GetListOptions()
	if err != nil {
		return err
	}
	mix, err := stress.ParseMix(viper.GetString("mix"))
	if err != nil {
		return err
	}

	stressConfig.Engine = opts.Engine
	stressConfig.Threads = opts.Threads
	stressConfig.IterMax = opts.IterMax
	stressConfig.Backoff = opts.Backoff
	stressConfig.OpsPerThread = viper.GetInt("ops")
	stressConfig.Duration = viper.GetDuration("duration")
	stressConfig.Seed = viper.GetInt64("seed")
	stressConfig.Mix = mix
	return stressConfig.Validate()
}

func run(cmd *cobra.Command, _ []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := stress.Run(ctx, stressConfig)
	if err != nil {
		return err
	}

	if viper.GetBool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if viper.GetBool("metrics") {
		fmt.Println()
		fmt.Println("Operation timers:")
		report.WriteMetrics(os.Stdout)
		fmt.Println()
		fmt.Println("Engine metrics:")
		fmt.Print(report.EngineMetrics)
	}

	if err := report.Check(); err != nil {
		return fmt.Errorf("stress run failed: %w", err)
	}
	return nil
}

// printReport prints the report in a human readable form
func printReport(r *stress.Report) {
	fmt.Printf("Stress run (engine %s, %d threads, seed %d)\n\n", r.Engine, r.Threads, r.Seed)

	fmt.Printf("%-12s%d in %s (%.0f ops/sec)\n", "Operations:", r.Ops, util.FormatDuration(r.Elapsed), r.Throughput())
	fmt.Printf("%-12s%d\n", "Net:", r.Net)
	fmt.Printf("%-12s%d\n", "Length:", r.Len)
	fmt.Printf("%-12s%d forward, %d backward\n", "Traversed:", r.Traversed, r.TraversedBack)
	fmt.Printf("%-12s%d\n", "Duplicates:", r.Duplicates)
	fmt.Printf("%-12smin %.0f, max %.0f, fairness %.2f\n", "Workers:", r.Workers.Min, r.Workers.Max, r.Workers.Fairness)

	fmt.Println()
	fmt.Printf("%-12s%8s%8s%12s%12s%12s%12s\n", "Op", "Count", "Misses", "Mean", "P50", "P99", "Max")
	names := make([]string, 0, len(r.PerOp))
	for name := range r.PerOp {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := r.PerOp[name]
		fmt.Printf("%-12s%8d%8d%12s%12s%12s%12s\n", name, s.Count, s.Misses,
			util.FormatDuration(s.Mean), util.FormatDuration(s.P50), util.FormatDuration(s.P99), util.FormatDuration(s.Max))
	}

	i := r.Info
	fmt.Println()
	fmt.Printf("%-12screated %d, retired %d, reclaimed %d, recycled %d, pending %d\n", "Records:", i.Created, i.Retired, i.Reclaimed, i.Recycled, i.Pending)
	fmt.Printf("%-12srecords %d, free %d\n", "Arena:", i.ArenaRecords, i.ArenaFree)
	fmt.Printf("%-12sscans %d, clean ups %d\n", "Engine:", i.Scans, i.CleanUps)
}
