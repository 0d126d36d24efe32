package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/niftyrun/internal/config"
)

const (
	appName = "NiftyRun"
	version = "v0.4.0"
)

func main() {
	var (
		configPath string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:     "niftyrun",
		Short:   "Intraday index-options decision pipeline",
		Version: version,
		Long: `NiftyRun turns index ticks into audited trade decisions for NSE index options.

Every cycle runs guards, signal detectors, confluence, sizing and the decision
assembler, and writes exactly one audit record. Execution is paper-only.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(logLevel)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to the YAML configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")

	loadConfig := func() (config.Config, error) {
		return config.Load(configPath)
	}

	rootCmd.AddCommand(
		newRunCmd(loadConfig),
		newDecideCmd(loadConfig),
		newMonitorCmd(loadConfig),
		newConfigCmd(loadConfig),
		newBacktestCmd(loadConfig),
		newInstrumentsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg(appName + " exited with error")
		os.Exit(1)
	}
}

// setupLogging writes human-readable output to a terminal and JSON lines otherwise
func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return nil
}
