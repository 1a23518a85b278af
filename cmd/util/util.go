package util

import (
	"fmt"
	"github.com/ValentinKolb/lfmm/lib/backoff"
	"github.com/ValentinKolb/lfmm/lib/dlist"
	"github.com/ValentinKolb/lfmm/lib/reclaim/engines"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
	"time"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var lines []string
	var line strings.Builder

	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > Wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteString(" ")
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}

	return strings.Join(lines, "\n")
}

// SetupListFlags adds the flags that configure the list and its engine
func SetupListFlags(cmd *cobra.Command) {
	defaults := dlist.DefaultOptions()

	key := "engine"
	cmd.PersistentFlags().String(key, string(defaults.Engine), WrapString("Reclamation engine to use (refcount, hazard)"))

	key = "threads"
	cmd.PersistentFlags().Int(key, defaults.Threads, WrapString("Number of worker threads"))

	key = "iter-max"
	cmd.PersistentFlags().Int(key, defaults.IterMax, WrapString("Maximum number of live iterators per thread"))

	key = "backoff-spin"
	cmd.PersistentFlags().Int(key, defaults.Backoff.SpinTicks, WrapString("Number of backoff rounds that yield the processor before the backoff starts sleeping"))

	key = "backoff-min-sleep"
	cmd.PersistentFlags().Duration(key, defaults.Backoff.MinSleep, WrapString("First sleep duration of the backoff"))

	key = "backoff-max-sleep"
	cmd.PersistentFlags().Duration(key, defaults.Backoff.MaxSleep, WrapString("Upper bound for a single backoff sleep"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("Level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig loads .env files and enables LFMM_ prefixed environment variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("lfmm")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetBackoffOptions reads the backoff options from viper
func GetBackoffOptions() *backoff.Options {
	return &backoff.Options{
		SpinTicks: viper.GetInt("backoff-spin"),
		MinSleep:  viper.GetDuration("backoff-min-sleep"),
		MaxSleep:  viper.GetDuration("backoff-max-sleep"),
	}
}

// GetListOptions reads the list options from viper
func GetListOptions() (*dlist.Options, error) {
	impl, err := engines.Parse(viper.GetString("engine"))
	if err != nil {
		return nil, err
	}

	opts := &dlist.Options{
		Engine:  impl,
		Threads: viper.GetInt("threads"),
		IterMax: viper.GetInt("iter-max"),
		Backoff: GetBackoffOptions(),
	}
	if opts.Threads <= 0 {
		return nil, fmt.Errorf("threads must be positive, got %d", opts.Threads)
	}
	return opts, nil
}

// FormatOptions renders list options for the command output
func FormatOptions(opts *dlist.Options) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Engine:   %s\n", opts.Engine)
	fmt.Fprintf(&sb, "Threads:  %d\n", opts.Threads)
	fmt.Fprintf(&sb, "IterMax:  %d\n", opts.IterMax)
	fmt.Fprintf(&sb, "Backoff:  spin=%d sleep=%s..%s", opts.Backoff.SpinTicks, opts.Backoff.MinSleep, opts.Backoff.MaxSleep)
	return sb.String()
}

// FormatDuration renders a duration with a precision that fits its size
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return d.String()
	case d < time.Millisecond:
		return d.Round(10 * time.Nanosecond).String()
	default:
		return d.Round(10 * time.Microsecond).String()
	}
}
