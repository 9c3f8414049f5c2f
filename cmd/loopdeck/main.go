package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "loopdeck",
	Short: "Operator dashboard for a long-running autonomous coding loop",
	Long: `loopdeck supervises the autonomous build loop and its planning
generators: it starts and stops jobs, watches their processes, and streams
live status to any number of connected dashboard clients.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
