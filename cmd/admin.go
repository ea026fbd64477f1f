package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/dinner-waitlist/internal/admin"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}
	cmd.AddCommand(newAdminBootstrapCmd())
	return cmd
}

func newAdminBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the default admin (ADMIN_EMAIL/ADMIN_PASSWORD) outside production",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := admin.Bootstrap(ctx, a.store, admin.Params{
				Development: a.cfg.Development(),
				Email:       a.cfg.AdminEmail,
				Password:    a.cfg.AdminPassword,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s\n", res)
			return nil
		},
	}
}
