// Package signup is the intake side of the waitlist: people join an event's
// queue, confirm the seat they were invited to, and get a lost invitation again.
package signup

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/example/dinner-waitlist/internal/clock"
	"github.com/example/dinner-waitlist/internal/invitation"
	"github.com/example/dinner-waitlist/internal/notify"
	"github.com/example/dinner-waitlist/internal/waitlist"
)

type Repository interface {
	GetEvent(ctx context.Context, id int64) (waitlist.Event, error)
	CreateResponse(ctx context.Context, r waitlist.Response) (int64, error)
	GetResponse(ctx context.Context, id int64) (waitlist.Response, error)
	UpdateResponse(ctx context.Context, id int64, u waitlist.ResponseUpdate) error
}

type Service struct {
	Repo     Repository
	Notifier notify.Sender
	Clock    clock.Clock

	BaseURL string
	Expiry  time.Duration

	Logf func(format string, args ...any)
}

type Request struct {
	EventID int64
	Email   string
	Name    string
}

// Submit queues a new waiting response. Validation failures, including a
// repeated (event, email) pair, come back as *waitlist.ValidationError. The
// acknowledgement mail is best effort.
func (s *Service) Submit(ctx context.Context, req Request) (waitlist.Response, error) {
	name := strings.TrimSpace(req.Name)
	email := waitlist.NormalizeEmail(req.Email)

	if req.EventID <= 0 {
		return waitlist.Response{}, waitlist.Invalid("event", "event id must be provided")
	}
	if name == "" {
		return waitlist.Response{}, waitlist.Invalid("name", "required")
	}
	if email == "" {
		return waitlist.Response{}, waitlist.Invalid("email", "required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return waitlist.Response{}, waitlist.Invalid("email", "not a valid address")
	}

	ev, err := s.Repo.GetEvent(ctx, req.EventID)
	if err != nil {
		if waitlist.IsNotFound(err) {
			return waitlist.Response{}, &waitlist.ValidationError{Field: "event", Reason: "does not exist", Err: err}
		}
		return waitlist.Response{}, fmt.Errorf("signup: %w", err)
	}
	if !ev.Date.After(s.now()) {
		return waitlist.Response{}, waitlist.Invalid("event", "has already taken place")
	}

	r := waitlist.Response{EventID: ev.ID, Email: email, Name: name, State: waitlist.StateWaiting}
	r.ID, err = s.Repo.CreateResponse(ctx, r)
	if err != nil {
		if errors.Is(err, waitlist.ErrDuplicateSignup) {
			return waitlist.Response{}, &waitlist.ValidationError{
				Field:  "email",
				Reason: "EventResponse using this email for this event already exists",
				Err:    err,
			}
		}
		return waitlist.Response{}, fmt.Errorf("signup: %w", err)
	}
	r.CreatedAt = s.now()

	if err := s.Notifier.Send(ctx, notify.SignupReceived(ev, r)); err != nil {
		s.logf("signup: acknowledgement for response %d (%s) failed: %v", r.ID, r.Email, err)
	}
	return r, nil
}

// Confirm accepts the seat offered by an invitation link. Confirming an
// already confirmed response with the right token is a no-op.
func (s *Service) Confirm(ctx context.Context, eventID, responseID int64, email, token string) (waitlist.Response, error) {
	r, err := s.Repo.GetResponse(ctx, responseID)
	if err != nil {
		return waitlist.Response{}, fmt.Errorf("confirm: %w", err)
	}
	if r.EventID != eventID {
		return waitlist.Response{}, fmt.Errorf("confirm: response %d for event %d: %w", responseID, eventID, waitlist.ErrNotFound)
	}
	if !matches(r, email, token) {
		return waitlist.Response{}, fmt.Errorf("confirm: %w", waitlist.ErrTokenMismatch)
	}

	switch {
	case r.State == waitlist.StateInviteConfirmed:
		return r, nil
	case !r.State.CanTransition(waitlist.StateInviteConfirmed):
		return waitlist.Response{}, fmt.Errorf("confirm: %w", waitlist.TransitionError(r.State, waitlist.StateInviteConfirmed))
	case invitation.IsExpired(r, s.now(), s.expiry()):
		return waitlist.Response{}, fmt.Errorf("confirm: %w", waitlist.ErrInviteExpired)
	}

	if err := s.Repo.UpdateResponse(ctx, r.ID, waitlist.Confirmed()); err != nil {
		if errors.Is(err, waitlist.ErrStateConflict) {
			// the scheduler cancelled it, or a parallel click confirmed it
			cur, gerr := s.Repo.GetResponse(ctx, r.ID)
			if gerr == nil && cur.State == waitlist.StateInviteConfirmed {
				return cur, nil
			}
			return waitlist.Response{}, fmt.Errorf("confirm: %w", waitlist.ErrInviteExpired)
		}
		return waitlist.Response{}, fmt.Errorf("confirm: %w", err)
	}
	r.State = waitlist.StateInviteConfirmed

	ev, err := s.Repo.GetEvent(ctx, r.EventID)
	if err != nil {
		s.logf("signup: load event %d for confirmation mail: %v", r.EventID, err)
		return r, nil
	}
	if err := s.Notifier.Send(ctx, notify.SeatConfirmed(ev, r)); err != nil {
		s.logf("signup: confirmation mail for response %d (%s) failed: %v", r.ID, r.Email, err)
	}
	return r, nil
}

// Resend mails the invitation of a pending response again, with its stored
// token. The invite date is not touched, so the seat still lapses on time.
func (s *Service) Resend(ctx context.Context, responseID int64) error {
	r, err := s.Repo.GetResponse(ctx, responseID)
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	if r.State != waitlist.StateInviteSent || r.ConfirmToken == "" {
		return fmt.Errorf("resend: response %d is %s, not a pending invitation", r.ID, r.State)
	}
	if invitation.IsExpired(r, s.now(), s.expiry()) {
		return fmt.Errorf("resend: response %d: %w", r.ID, waitlist.ErrInviteExpired)
	}
	ev, err := s.Repo.GetEvent(ctx, r.EventID)
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}

	link := notify.ConfirmLink(s.BaseURL, ev.ID, r.ID, r.Email, r.ConfirmToken)
	if err := s.Notifier.Send(ctx, notify.Invitation(ev, r, link)); err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	return nil
}

func matches(r waitlist.Response, email, token string) bool {
	if r.ConfirmToken == "" || token == "" {
		return false
	}
	emailOK := waitlist.NormalizeEmail(email) == waitlist.NormalizeEmail(r.Email)
	tokenOK := subtle.ConstantTimeCompare([]byte(token), []byte(r.ConfirmToken)) == 1
	return emailOK && tokenOK
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return clock.System{}.Now()
	}
	return s.Clock.Now()
}

func (s *Service) expiry() time.Duration {
	if s.Expiry <= 0 {
		return invitation.DefaultExpiry
	}
	return s.Expiry
}

func (s *Service) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}
