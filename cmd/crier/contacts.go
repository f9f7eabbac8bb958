package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/crier/internal/contacts"
	"github.com/zulandar/crier/internal/crier"
)

func newContactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "contacts",
		Aliases: []string{"contact"},
		Short:   "Manage the contact book",
		Long:    "The contact book maps phone numbers used in .todo mentions to chat platform users.",
	}

	cmd.AddCommand(newContactsAddCmd())
	cmd.AddCommand(newContactsListCmd())
	cmd.AddCommand(newContactsRemoveCmd())
	return cmd
}

func newContactsAddCmd() *cobra.Command {
	var configPath, name string

	cmd := &cobra.Command{
		Use:   "add <number> <user-id>",
		Short: "Map a phone number to a platform user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			book, err := openBook(configPath)
			if err != nil {
				return err
			}
			c, err := book.Add(cmd.Context(), args[0], args[1], name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s -> %s\n", c.Address, c.UserID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Crier config file")
	cmd.Flags().StringVar(&name, "name", "", "display name for the contact")
	return cmd
}

func newContactsListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			book, err := openBook(configPath)
			if err != nil {
				return err
			}
			list, err := book.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No contacts.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tUSER\tNAME")
			for _, c := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.Address, c.UserID, c.Name)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Crier config file")
	return cmd
}

func newContactsRemoveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:     "remove <number>",
		Aliases: []string{"rm"},
		Short:   "Remove a contact",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			book, err := openBook(configPath)
			if err != nil {
				return err
			}
			if err := book.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Crier config file")
	return cmd
}

func openBook(configPath string) (*contacts.Book, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	return contacts.NewBook(contacts.BookOpts{DB: gormDB, Normalizer: crier.Normalizer(cfg)})
}
