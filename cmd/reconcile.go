package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/example/dinner-waitlist/internal/telemetry"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass over all upcoming events and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
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

			rep, err := a.scheduler().Reconcile(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, rep)
			for _, e := range rep.Errors {
				fmt.Fprintf(out, "error %s\n", e)
			}
			if len(rep.Errors) > 0 {
				return fmt.Errorf("%d event(s) failed", len(rep.Errors))
			}
			return nil
		},
	}
}
