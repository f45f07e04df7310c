package cli

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Proton-105/soberdays-bot/internal/app"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the daily scheduler and the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New()
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					a.Log.Error("shutdown finished with errors", slog.Any("error", err))
				}
			}()

			if migrate {
				applied, err := a.Migrate(ctx)
				if err != nil {
					return err
				}
				a.Log.Info("migrations applied", slog.Int("count", len(applied)))
			}

			return a.Serve(ctx)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations before serving")

	return cmd
}
