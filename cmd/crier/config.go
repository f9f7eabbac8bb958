package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/crier/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the Crier configuration",
	}
	cmd.AddCommand(newConfigCheckCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	var configPath, envFile string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK: %s\n", configPath)
			fmt.Fprintf(out, "  bot:        %s (prefix %q, max %d mentions)\n", cfg.Bot.Name, cfg.Bot.Prefix, cfg.Bot.MaxMentions)
			fmt.Fprintf(out, "  platform:   %s\n", cfg.Platform.Name)
			fmt.Fprintf(out, "  cooldown:   notify %s, todo %s\n", cfg.Cooldown.Broadcast, cfg.Cooldown.Mention)
			fmt.Fprintf(out, "  backoff:    disconnect %s, launch %s, max %s, jitter %.2f\n",
				cfg.Supervisor.Backoff.Disconnect, cfg.Supervisor.Backoff.Launch,
				cfg.Supervisor.Backoff.Max, cfg.Supervisor.Backoff.Jitter)
			fmt.Fprintf(out, "  database:   %s\n", cfg.Database.Driver)
			if cfg.Health.Disabled {
				fmt.Fprintf(out, "  health:     disabled\n")
			} else {
				fmt.Fprintf(out, "  health:     :%d\n", cfg.Health.Port)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Crier config file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the config")
	return cmd
}
