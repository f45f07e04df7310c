package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Proton-105/soberdays-bot/internal/app"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New()
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			applied, err := a.Migrate(cmd.Context())
			if err != nil {
				return err
			}

			if len(applied) == 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "no pending migrations")
				return err
			}
			for _, name := range applied {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
