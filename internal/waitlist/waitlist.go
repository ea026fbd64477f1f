package waitlist

import (
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle position of a Response.
type State string

const (
	StateWaiting         State = "waiting"
	StateInviteSent      State = "invite_sent"
	StateInviteConfirmed State = "invite_confirmed"
	StateInviteCancelled State = "invite_cancelled"
)

func (s State) Valid() bool {
	switch s {
	case StateWaiting, StateInviteSent, StateInviteConfirmed, StateInviteCancelled:
		return true
	}
	return false
}

// CanTransition reports whether s -> to is an edge of the response state machine.
func (s State) CanTransition(to State) bool {
	switch s {
	case StateWaiting:
		return to == StateInviteSent
	case StateInviteSent:
		return to == StateInviteConfirmed || to == StateInviteCancelled
	}
	return false
}

type Event struct {
	ID    int64
	Title string
	Slots int
	Date  time.Time
	Price int

	// Repository insertion order.
	Responses []Response
}

type Response struct {
	ID           int64
	EventID      int64
	Email        string
	Name         string
	State        State
	InviteDate   *time.Time
	ConfirmToken string
	CreatedAt    time.Time
}

// ResponseUpdate is a partial update; nil fields are left untouched.
// When Expect is set the update applies only if the stored state still equals
// it, otherwise repositories return ErrStateConflict.
type ResponseUpdate struct {
	State        *State
	InviteDate   *time.Time
	ConfirmToken *string

	Expect *State
}

func Cancelled() ResponseUpdate {
	s, from := StateInviteCancelled, StateInviteSent
	return ResponseUpdate{State: &s, Expect: &from}
}

func Confirmed() ResponseUpdate {
	s, from := StateInviteConfirmed, StateInviteSent
	return ResponseUpdate{State: &s, Expect: &from}
}

func Invited(at time.Time, token string) ResponseUpdate {
	s, from := StateInviteSent, StateWaiting
	at = at.UTC()
	return ResponseUpdate{State: &s, InviteDate: &at, ConfirmToken: &token, Expect: &from}
}

func (u ResponseUpdate) Empty() bool {
	return u.State == nil && u.InviteDate == nil && u.ConfirmToken == nil
}

// Check rejects unknown target states and, for conditional updates, edges the
// state machine does not have. Repositories call it before writing.
func (u ResponseUpdate) Check() error {
	if u.State == nil {
		return nil
	}
	if !u.State.Valid() {
		return fmt.Errorf("unknown response state %q", *u.State)
	}
	if u.Expect != nil && !u.Expect.CanTransition(*u.State) {
		return TransitionError(*u.Expect, *u.State)
	}
	return nil
}

// NormalizeEmail is the form used for the (event, email) uniqueness check.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
