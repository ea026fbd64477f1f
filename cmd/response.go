package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/example/dinner-waitlist/internal/signup"
)

func newResponseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "response",
		Short: "Signups: submit, confirm and resend invitations",
	}
	cmd.AddCommand(newResponseSubmitCmd())
	cmd.AddCommand(newResponseConfirmCmd())
	cmd.AddCommand(newResponseResendCmd())
	return cmd
}

func newResponseSubmitCmd() *cobra.Command {
	var req signup.Request

	c := &cobra.Command{
		Use:   "submit",
		Short: "Put someone on an event's waitlist",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.signup().Submit(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created response id=%d event=%d email=%s state=%s\n",
				r.ID, r.EventID, r.Email, r.State)
			return nil
		},
	}

	c.Flags().Int64Var(&req.EventID, "event", 0, "event id")
	c.Flags().StringVar(&req.Email, "email", "", "email address")
	c.Flags().StringVar(&req.Name, "name", "", "name")

	_ = c.MarkFlagRequired("event")
	_ = c.MarkFlagRequired("email")
	_ = c.MarkFlagRequired("name")
	return c
}

func newResponseConfirmCmd() *cobra.Command {
	var (
		eventID, responseID int64
		email, token        string
	)

	c := &cobra.Command{
		Use:   "confirm",
		Short: "Confirm an invitation with the values from its link",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.signup().Confirm(ctx, eventID, responseID, email, token)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "response id=%d state=%s\n", r.ID, r.State)
			return nil
		},
	}

	c.Flags().Int64Var(&eventID, "event", 0, "event id")
	c.Flags().Int64Var(&responseID, "id", 0, "response id")
	c.Flags().StringVar(&email, "email", "", "email address")
	c.Flags().StringVar(&token, "token", "", "confirmation token")

	for _, f := range []string{"event", "id", "email", "token"} {
		_ = c.MarkFlagRequired(f)
	}
	return c
}

func newResponseResendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resend <response-id>",
		Short: "Mail a pending invitation again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid response id %q", args[0])
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.signup().Resend(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resent invitation for response id=%d\n", id)
			return nil
		},
	}
}
