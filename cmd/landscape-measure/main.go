package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "landscape-measure",
		Short: "Measure landscape features from segmentation masks",
		Long: `landscape-measure turns polygon masks detected in aerial imagery into
measured, priced landscape features.

Each mask is gated on model confidence, simplified, measured on the WGS84
ellipsoid and priced by feature type. Batches that fail transiently are
retried with exponential backoff.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Project config file (default .landscape-measure/config.json)")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides database_path)")

	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(configCmd())

	return rootCmd
}
