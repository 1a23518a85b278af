package cmd

import (
	"fmt"
	"github.com/ValentinKolb/lfmm/cmd/perf"
	"github.com/ValentinKolb/lfmm/cmd/stress"
	"github.com/ValentinKolb/lfmm/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "lfmm",
		Short: "lock-free memory management toolkit",
		Long: fmt.Sprintf(`lfmm (v%s)

Reference counting and hazard pointer based memory reclamation
for lock-free data structures, with a lock-free doubly-linked list
and tools to stress test and benchmark them.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: initCommand,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of lfmm",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lfmm v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(stress.StressCmd)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupListFlags(RootCmd)
}

// initCommand binds the flags of the executed command and configures logging
func initCommand(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	return util.InitLoggers(viper.GetString("log-level"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
