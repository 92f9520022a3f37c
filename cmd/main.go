package main

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kvload",
	Short: "Load generator for a replicated single-key HTTP store",
	Long: `kvload runs many concurrent simulated users against a replicated key-value
cluster. Each user draws reads and versioned read-modify-writes from a weighted
task mix and every outcome is classified as success, conflict, failure,
protocol violation or unknown.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error("kvload failed", "err", err)
		os.Exit(1)
	}
}
