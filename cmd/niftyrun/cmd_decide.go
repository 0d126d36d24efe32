package main

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/sawpanic/niftyrun/internal/instruments"
	"github.com/sawpanic/niftyrun/internal/marketdata"
)

func newDecideCmd(load configLoader) *cobra.Command {
	var (
		index   string
		ltp     float64
		at      string
		capital float64
	)
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Run a single decision cycle and print the result",
		Example: `  niftyrun decide --at 2025-09-22T10:15:00+05:30
  niftyrun decide --capital 2000000 --ltp 24572.3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if capital > 0 {
				cfg.Risk.Capital = capital
			}
			if index == "" {
				index = cfg.Universe.Indices[0]
			}
			ts := time.Now()
			if at != "" {
				if ts, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.snapshots.Build(ctx, marketdata.Tick{Symbol: index, LTP: ltp, Timestamp: ts.In(instruments.IST)})
			if err != nil {
				return err
			}
			res, err := a.pipeline.Process(ctx, snap)
			if err != nil {
				return err
			}

			out, err := sonic.ConfigStd.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&index, "index", "", "Index to evaluate (default: first configured index)")
	cmd.Flags().Float64Var(&ltp, "ltp", marketdata.HeartbeatLTP, "Last traded price")
	cmd.Flags().StringVar(&at, "at", "", "Cycle time as RFC3339 (default: now)")
	cmd.Flags().Float64Var(&capital, "capital", 0, "Override risk.capital")
	return cmd
}
