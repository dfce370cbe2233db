package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "camsim",
	Short: "StorePulse fleet simulator",
	Long: `camsim simulates a fleet of store camera agents against a StorePulse
ingest gateway.

Generate a reproducible fleet file, then replay heartbeats, alerts and
the occasional dead camera so liveness classification and transition
notifications can be exercised without real hardware.`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}
