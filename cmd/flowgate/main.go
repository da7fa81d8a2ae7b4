// Command flowgate executes deliverable workflows from the command line and
// replays their audit trails.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "flowgate",
	Short: "Risk-gated workflow execution runtime",
	Long: `Flowgate runs deliverable workflows as dependency-ordered parallel
waves, gates every run through a per-deliverable risk rules document, and
keeps a full audit trail of rule evaluations and routing decisions.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log verbosity (debug, info, warn, error)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
