package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	var show bool
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "✅ configuration valid: %d index(es), broker %s, capital %.0f\n",
				len(cfg.Universe.Indices), cfg.Execution.PrimaryBroker, cfg.Risk.Capital)
			if !show {
				return nil
			}
			cfg.OptionChain.Auth = redact(cfg.OptionChain.Auth)
			cfg.Database.DSN = redact(cfg.Database.DSN)
			cfg.Redis.Password = redact(cfg.Redis.Password)
			cfg.Telegram.BotToken = redact(cfg.Telegram.BotToken)

			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
	validateCmd.Flags().BoolVar(&show, "show", false, "Print the effective configuration with secrets redacted")

	cmd.AddCommand(validateCmd)
	return cmd
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
