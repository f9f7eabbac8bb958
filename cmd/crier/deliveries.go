package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/crier/internal/deliveries"
)

func newDeliveriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "Inspect the delivery log",
		Long:  "Every mention and broadcast the bot sends is recorded in the delivery log.",
	}

	cmd.AddCommand(newDeliveriesListCmd())
	cmd.AddCommand(newDeliveriesPruneCmd())
	return cmd
}

func newDeliveriesListCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent deliveries",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			dl, err := deliveries.NewLog(gormDB)
			if err != nil {
				return err
			}
			recent, err := dl.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(recent) == 0 {
				fmt.Fprintln(out, "No deliveries recorded.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tKIND\tCHAT\tSENDER\tSENT\tFAILED")
			for _, d := range recent {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
					d.CreatedAt.Format(time.DateTime), d.Kind, d.ChatID, d.SenderID, d.Recipients, d.Failed)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Crier config file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of deliveries to show")
	return cmd
}

func newDeliveriesPruneCmd() *cobra.Command {
	var (
		configPath string
		olderThan  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old delivery records",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			dl, err := deliveries.NewLog(gormDB)
			if err != nil {
				return err
			}
			n, err := dl.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d deliveries\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Crier config file")
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete records older than this")
	return cmd
}
