// Package cli defines the soberdays command tree.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "soberdays",
		Short: "Sober days tracker bot",
		Long: `Telegram bot that tracks sober days and delivers a daily milestone message.

Configuration is read from configs/<APP_ENV>.yaml and environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewAdvanceCommand())
	cmd.AddCommand(NewMigrateCommand())

	return cmd
}
