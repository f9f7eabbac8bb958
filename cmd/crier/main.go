package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "crier.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crier",
		Short: "Crier: group chat mention and broadcast bot",
		Long:  "Crier keeps a chat session alive and relays .todo mentions and .notify broadcasts to group members.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newContactsCmd())
	cmd.AddCommand(newDeliveriesCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newRestartCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "crier %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
