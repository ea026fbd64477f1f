package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/example/dinner-waitlist/internal/migrate"
	"github.com/example/dinner-waitlist/internal/store/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return migrateStore(ctx, a, cmd.OutOrStdout())
		},
	}
}

// migrateStore runs the Postgres migrations. SQLite migrates itself on open.
func migrateStore(ctx context.Context, a *app, out io.Writer) error {
	pg, ok := a.store.(*postgres.Store)
	if !ok {
		fmt.Fprintf(out, "driver=%s schema up to date\n", a.cfg.DBDriver)
		return nil
	}
	applied, err := migrate.Up(ctx, pg.DB())
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	for _, f := range applied {
		fmt.Fprintf(out, "applied %s\n", f)
	}
	fmt.Fprintf(out, "driver=%s schema up to date\n", a.cfg.DBDriver)
	return nil
}
