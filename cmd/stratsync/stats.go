package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/newthinker/stratsync/internal/app"
	"github.com/newthinker/stratsync/internal/config"
	"github.com/newthinker/stratsync/internal/pipeline"
	"github.com/newthinker/stratsync/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Compute and print live strategy statistics without writing them",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := app.NewStore(ctx, cfg.Store, log)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	a := readOnlyApp(cfg, st, log)
	defer a.Shutdown(context.Background())

	snap, err := a.RefreshNow(ctx)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	if statsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return printStats(cmd.OutOrStdout(), snap)
}

// readOnlyApp wires an app whose stat writes and opt-outs never reach st.
func readOnlyApp(cfg *config.Config, st store.Store, log *zap.Logger) *app.App {
	cfg.AutoOptOut.Enabled = false
	return app.NewWithStore(cfg, store.ReadOnly(st), log, nil)
}

func printStats(out io.Writer, snap *pipeline.Snapshot) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STRATEGY\tTRADES\tWIN %\tAVG PNL %\tPF\tTOTAL PNL\tCONVICTION\tLATEST\tCHANGED\tOPTED OUT")
	for _, v := range snap.Strategies {
		st := v.Stats
		conviction := "-"
		if st.AvgConvictionScore != nil {
			conviction = strconv.FormatFloat(*st.AvgConvictionScore, 'f', 2, 64)
		}
		latest := "-"
		if st.LatestTradeTimestamp != nil {
			latest = st.LatestTradeTimestamp.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%d\t%.1f\t%.2f\t%.3f\t%.2f\t%s\t%s\t%t\t%t\n",
			v.CombinationName, st.TradeCount, st.SuccessRate, st.AvgPnlPercent,
			st.ProfitFactor, st.TotalPnl, conviction, latest, v.Dirty, v.OptedOut)
	}
	fmt.Fprintf(w, "\ntrades: %d kept, %d duplicates, %d open; %d malformed records skipped\n",
		snap.Trades.Output, snap.Trades.Duplicates, snap.Trades.Open, snap.Malformed)
	return w.Flush()
}
