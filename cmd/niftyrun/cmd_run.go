package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/niftyrun/internal/config"
	"github.com/sawpanic/niftyrun/internal/execution"
	"github.com/sawpanic/niftyrun/internal/notify"
	"github.com/sawpanic/niftyrun/internal/pipeline"
)

type configLoader func() (config.Config, error)

func newRunCmd(load configLoader) *cobra.Command {
	var noHTTP bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the decision loop on the configured feed",
		Long: `Runs one decision cycle per tick until interrupted or the feed closes.
Decisions are handed to the paper executor over the decisions topic; the
monitor server exposes /health, /risk and /metrics while the loop runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runLoop(ctx, cfg, !noHTTP)
		},
	}
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "Do not start the monitor server")
	return cmd
}

func runLoop(ctx context.Context, cfg config.Config, serveHTTP bool) error {
	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	executor := execution.NewPaperExecutor(execution.PaperOptions{
		Events:    a.events,
		Bus:       a.bus,
		Positions: a.publisher,
	})
	if err := executor.Subscribe(a.bus); err != nil {
		return err
	}
	if cfg.Telegram.Enabled {
		if err := notify.NewTelegramNotifier(cfg.Telegram).Subscribe(a.bus); err != nil {
			return err
		}
		log.Info().Msg("telegram alerts enabled")
	}

	feed, err := a.feed()
	if err != nil {
		return err
	}
	defer feed.Close()

	runner := pipeline.NewRunner(a.pipeline, a.snapshots, pipeline.RunnerOptions{Events: a.events, Bus: a.bus})

	log.Info().
		Str("version", version).
		Strs("indices", cfg.Universe.Indices).
		Str("feed", cfg.Feed.Mode).
		Str("broker", cfg.Execution.PrimaryBroker).
		Float64("capital", cfg.Risk.Capital).
		Msg(appName + " starting")

	g, gctx := errgroup.WithContext(ctx)
	loopCtx, cancelLoop := context.WithCancel(gctx)
	defer cancelLoop()

	g.Go(func() error {
		return a.publisher.Run(loopCtx)
	})
	g.Go(func() error {
		// the publisher and server stop with the runner
		defer cancelLoop()
		return runner.Run(loopCtx, feed)
	})
	if serveHTTP {
		srv := a.server(runner)
		g.Go(func() error {
			return srv.Run(loopCtx)
		})
	}

	err = g.Wait()
	stats := runner.Stats()
	log.Info().
		Int64("cycles", stats.Cycles).
		Int64("trades", stats.Trades).
		Int64("no_trades", stats.NoTrades).
		Int("paper_orders", len(executor.Orders())).
		Bool("halted", stats.Halted).
		Msg(appName + " stopped")
	return err
}
