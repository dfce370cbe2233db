package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/storepulse-systems/storepulse/tools/camsim/internal/sim"
)

var (
	runFleetFile   string
	runGatewayURL  string
	runEdgeToken   string
	runInterval    time.Duration
	runRounds      int
	runAlertChance float64
	runDropChance  float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay fleet traffic against a gateway",
	Long: `Send heartbeats for every store in the fleet file on an interval,
mixing in occasional alerts and simulated store outages.

Examples:
  # One round against a local gateway
  camsim run --token fleet-secret --rounds 1

  # Sustained traffic with 10% of stores going dark each round
  camsim run --token fleet-secret --interval 30s --drop-chance 0.1`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runFleetFile, "fleet", "fleet.yaml", "fleet file written by camsim gen")
	runCmd.Flags().StringVar(&runGatewayURL, "gateway", "http://localhost:8098", "ingest gateway base URL")
	runCmd.Flags().StringVar(&runEdgeToken, "token", "", "edge token (required)")
	runCmd.Flags().DurationVar(&runInterval, "interval", 30*time.Second, "time between rounds")
	runCmd.Flags().IntVar(&runRounds, "rounds", 0, "number of rounds (0 = run until interrupted)")
	runCmd.Flags().Float64Var(&runAlertChance, "alert-chance", 0.02, "per-store alert probability per round")
	runCmd.Flags().Float64Var(&runDropChance, "drop-chance", 0, "per-store probability of skipping a round")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if runEdgeToken == "" {
		return fmt.Errorf("--token is required")
	}

	fleet, err := sim.LoadFleet(runFleetFile)
	if err != nil {
		return err
	}

	runner := sim.NewRunner(runGatewayURL, runEdgeToken, runInterval)
	runner.AlertChance = runAlertChance
	runner.DropChance = runDropChance

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Driving %d stores against %s every %s\n", len(fleet.Stores), runGatewayURL, runInterval)

	stats, err := runner.Run(ctx, fleet, runRounds)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Printf("Done: sent=%d deduped=%d failed=%d\n", stats.Sent, stats.Deduped, stats.Failed)
	return nil
}
