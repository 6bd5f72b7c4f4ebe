package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/newthinker/stratsync/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var reconcileTimeout time.Duration

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one refresh, write every change and exit",
	RunE:  runReconcile,
}

func init() {
	reconcileCmd.Flags().DurationVar(&reconcileTimeout, "timeout", 10*time.Minute, "maximum time to wait for queued writes")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, nil)
	if err != nil {
		return fmt.Errorf("creating app: %w", err)
	}
	defer a.Shutdown(context.Background())

	snap, refreshErr := a.RefreshNow(ctx)
	if snap == nil {
		return fmt.Errorf("refresh: %w", refreshErr)
	}
	if refreshErr != nil {
		log.Error("refresh completed with errors", zap.Error(refreshErr))
	}

	drainCtx, cancel := context.WithTimeout(ctx, reconcileTimeout)
	defer cancel()
	drainErr := a.Drain(drainCtx)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "strategies: %d\n", len(snap.Strategies))
	fmt.Fprintf(out, "changed:    %d\n", len(snap.Dirty))
	fmt.Fprintf(out, "opted out:  %d\n", len(snap.Decision.OptedOut))
	fmt.Fprintf(out, "unwritten:  %d\n", len(a.Pending()))

	if drainErr != nil {
		return fmt.Errorf("waiting for writes: %w", drainErr)
	}
	return refreshErr
}
