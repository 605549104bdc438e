package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hybrid_monitor",
		Short: "Hybrid network and host backdoor detection agent",
		Long: `hybrid_monitor tails the IDS event log, scores every event with the network
classifier, correlates stepping-stone relays, folds in the local host risk and
raises deduplicated alerts.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("HYBRID_CONFIG"), "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(runCmd, replayCmd, hostScoreCmd, testAlertCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
