package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tablepay/payments-reconciler/internal/app"
	"github.com/tablepay/payments-reconciler/internal/config"
	"github.com/tablepay/payments-reconciler/internal/logging"
)

// runCmd reconciles in-process against the database, for cron.
func runCmd() *cobra.Command {
	var limit, windowHours int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reconciliation pass directly against the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.Init("reconcilectl", cfg.LogLevel, cfg.AppEnv)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("limit") {
				limit = cfg.ReconcileDefaultLimit
			}
			if !cmd.Flags().Changed("window-hours") {
				windowHours = cfg.ReconcileDefaultWindowHours
			}

			ctx = logging.WithLogger(ctx, logger.With("trigger", "cli"))
			report, err := a.Reconciler.Reconcile(ctx, limit, windowHours)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum unapplied events to examine (default from RECONCILE_DEFAULT_LIMIT)")
	cmd.Flags().IntVarP(&windowHours, "window-hours", "w", 0, "Hours of gateway history to scan (default from RECONCILE_DEFAULT_WINDOW_HOURS)")

	return cmd
}
