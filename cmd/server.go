package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/dinner-waitlist/internal/admin"
	"github.com/example/dinner-waitlist/internal/telemetry"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the reconciliation scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			shutdown, err := telemetry.Setup(ctx, a.cfg.OTELEndpoint)
			if err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("telemetry shutdown: %v", err)
				}
			}()

			if migrateUp {
				if err := migrateStore(ctx, a, cmd.OutOrStdout()); err != nil {
					return err
				}
			}

			if _, err := admin.Bootstrap(ctx, a.store, admin.Params{
				Development: a.cfg.Development(),
				Email:       a.cfg.AdminEmail,
				Password:    a.cfg.AdminPassword,
			}); err != nil {
				return fmt.Errorf("bootstrap admin: %w", err)
			}

			s := a.scheduler()
			log.Printf("server: scheduler running every %s (invite expiry %s, driver %s, base url %s)",
				a.cfg.Interval, a.cfg.Expiry, a.cfg.DBDriver, a.cfg.BaseURL)
			if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Printf("server: stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")

	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}
