package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/dinner-waitlist/internal/clock"
	"github.com/example/dinner-waitlist/internal/invitation"
	"github.com/example/dinner-waitlist/internal/waitlist"
)

func newEventCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Manage dinner events",
	}
	cmd.AddCommand(newEventCreateCmd())
	cmd.AddCommand(newEventListCmd())
	cmd.AddCommand(newEventShowCmd())
	return cmd
}

func newEventCreateCmd() *cobra.Command {
	var (
		title string
		slots int
		date  string
		price int
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Create an event",
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseEventDate(date)
			if err != nil {
				return err
			}
			ev := waitlist.Event{Title: strings.TrimSpace(title), Slots: slots, Date: at, Price: price}
			if ev.Title == "" {
				return fmt.Errorf("--title is required")
			}
			if ev.Slots < 0 {
				return fmt.Errorf("--slots must not be negative")
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.store.CreateEvent(ctx, ev)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created event id=%d title=%q slots=%d date=%s\n",
				id, ev.Title, ev.Slots, ev.Date.Format(time.RFC3339))
			return nil
		},
	}

	c.Flags().StringVar(&title, "title", "", "event title")
	c.Flags().IntVar(&slots, "slots", 0, "number of seats")
	c.Flags().StringVar(&date, "date", "", "event start, RFC3339 or 'YYYY-MM-DD HH:MM' (UTC)")
	c.Flags().IntVar(&price, "price", 0, "price per seat in CHF")

	_ = c.MarkFlagRequired("title")
	_ = c.MarkFlagRequired("slots")
	_ = c.MarkFlagRequired("date")
	return c
}

func newEventListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List events with their seat usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			evs, err := a.store.ListEvents(ctx)
			if err != nil {
				return err
			}
			now := clock.System{}.Now()
			for _, ev := range evs {
				p := invitation.NewPlan(ev, now, a.cfg.Expiry)
				fmt.Fprintf(cmd.OutOrStdout(), "id=%d title=%q date=%s slots=%d confirmed=%d pending=%d waiting=%d free=%d\n",
					ev.ID, ev.Title, ev.Date.Format(time.RFC3339), ev.Slots,
					len(p.Confirmed), len(p.Pending)-len(p.Expired), len(p.Waiting), max(p.FreeSlots, 0))
			}
			return nil
		},
	}
}

func newEventShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <event-id>",
		Short: "Show an event and its responses in queue order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid event id %q", args[0])
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			ev, err := a.store.GetEvent(ctx, id)
			if err != nil {
				return err
			}
			now := clock.System{}.Now()
			p := invitation.NewPlan(ev, now, a.cfg.Expiry)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id=%d title=%q date=%s slots=%d price=%d free=%d\n",
				ev.ID, ev.Title, ev.Date.Format(time.RFC3339), ev.Slots, ev.Price, p.FreeSlots)
			for _, r := range ev.Responses {
				invited := "-"
				if r.InviteDate != nil {
					invited = r.InviteDate.Format(time.RFC3339)
					if r.State == waitlist.StateInviteSent && invitation.IsExpired(r, now, a.cfg.Expiry) {
						invited += " (expired)"
					}
				}
				fmt.Fprintf(out, "  response id=%d email=%s name=%q state=%s invited=%s\n",
					r.ID, r.Email, r.Name, r.State, invited)
			}
			return nil
		},
	}
}

func parseEventDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q (want RFC3339 or YYYY-MM-DD HH:MM)", s)
	}
	return t.UTC(), nil
}
