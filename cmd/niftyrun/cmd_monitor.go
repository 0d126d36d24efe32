package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMonitorCmd(load configLoader) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Start the read-only monitor server",
		Long: `Serves /health, /risk and /metrics without running the decision loop.
The risk state is restored from the redis mirror when one is configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if host != "" {
				cfg.HTTP.Host = host
			}
			if port > 0 {
				cfg.HTTP.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			log.Info().
				Str("health", "/health").
				Str("risk", "/risk").
				Str("metrics", "/metrics").
				Msg("monitor endpoints")
			return a.server(nil).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Override http.host")
	cmd.Flags().IntVar(&port, "port", 0, "Override http.port")
	return cmd
}
