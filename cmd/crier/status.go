package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/crier/internal/config"
	"github.com/zulandar/crier/internal/health"
)

func newStatusCmd() *cobra.Command {
	var configPath, addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's session status",
		Long:  "Queries the health endpoint of a running daemon. The address defaults to the configured health port on localhost.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := healthClient(configPath, addr)
			if err != nil {
				return err
			}
			st, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "State:    %s (since %s)\n", st.State, st.Since.Format(time.RFC3339))
			if st.Identity != "" {
				fmt.Fprintf(out, "Identity: %s\n", st.Identity)
			}
			fmt.Fprintf(out, "Retries:  %d\n", st.Retries)
			if st.LastFailure != "" {
				fmt.Fprintf(out, "Last failure: %s\n", st.LastFailure)
			}
			if st.AuthRequired {
				fmt.Fprintln(out, "Authentication required: fix the credentials, then run `crier restart`.")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Crier config file")
	cmd.Flags().StringVar(&addr, "addr", "", "daemon health address (e.g. http://127.0.0.1:3000)")
	return cmd
}

func newRestartCmd() *cobra.Command {
	var configPath, addr string

	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the running daemon's chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := healthClient(configPath, addr)
			if err != nil {
				return err
			}
			err = client.RequestRestart(cmd.Context())
			if errors.Is(err, health.ErrRestartPending) {
				fmt.Fprintln(cmd.OutOrStdout(), "A restart is already pending.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Restart requested.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Crier config file")
	cmd.Flags().StringVar(&addr, "addr", "", "daemon health address (e.g. http://127.0.0.1:3000)")
	return cmd
}

// healthClient returns a client for addr, or for the health port in the
// config when addr is empty.
func healthClient(configPath, addr string) (*health.Client, error) {
	if addr == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if cfg.Health.Disabled {
			return nil, fmt.Errorf("health endpoint is disabled in %s; pass --addr", configPath)
		}
		addr = fmt.Sprintf("http://127.0.0.1:%d", cfg.Health.Port)
	}
	return health.NewClient(addr, nil), nil
}
