package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sawpanic/niftyrun/internal/audit"
	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/instruments"
)

func newBacktestCmd(load configLoader) *cobra.Command {
	var index string
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Record a backtest run (replay is not available yet)",
		Long: `Emits a single no_trade record with reason backtest_stub and backtest=true
through the configured audit sinks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if index == "" {
				index = cfg.Universe.Indices[0]
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appOptions{backtest: true})
			if err != nil {
				return err
			}
			defer a.Close()

			now := time.Now().In(instruments.IST)
			nt, err := domain.NewNoTrade(domain.ReasonBacktestStub, now, true)
			if err != nil {
				return err
			}
			snap, err := a.emitter.Emit(ctx, audit.Entry{
				CycleID:   uuid.NewString(),
				Snapshot:  domain.MarketSnapshot{Index: index, Timestamp: now},
				Risk:      a.store.Current(),
				NoTrade:   nt,
				Debug:     map[string]interface{}{"mode": "backtest"},
				Timestamp: now,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "backtest stub recorded: cycle %s reason %s\n", snap.CycleID, nt.Reason)
			return nil
		},
	}
	cmd.Flags().StringVar(&index, "index", "", "Index to record (default: first configured index)")
	return cmd
}
