// Package invitation decides, for one event at one instant, which invitations
// have lapsed and which waiting responses should be invited next.
//
// Everything here is a pure function of its arguments; persistence and
// delivery live in the scheduler.
package invitation

import (
	"time"

	"github.com/example/dinner-waitlist/internal/waitlist"
)

// DefaultExpiry is how long an invitation holds a seat.
const DefaultExpiry = 24 * time.Hour

// Classification partitions an event's responses. Expired is a subset of Pending.
type Classification struct {
	Confirmed []waitlist.Response
	Pending   []waitlist.Response
	Expired   []waitlist.Response
	Waiting   []waitlist.Response
}

// Plan is the allocation decision for one event.
type Plan struct {
	Classification
	FreeSlots  int
	Candidates []waitlist.Response
}

// IsExpired reports whether an invitation sent at r.InviteDate has lapsed.
// The window is exclusive: an invitation exactly window old is still live.
// A pending response without an invite date cannot prove it holds a seat
// and is treated as expired.
func IsExpired(r waitlist.Response, now time.Time, window time.Duration) bool {
	if r.InviteDate == nil {
		return true
	}
	return r.InviteDate.Add(window).Before(now)
}

func Classify(ev waitlist.Event, now time.Time, window time.Duration) Classification {
	var c Classification
	for _, r := range ev.Responses {
		switch r.State {
		case waitlist.StateInviteConfirmed:
			c.Confirmed = append(c.Confirmed, r)
		case waitlist.StateInviteSent:
			c.Pending = append(c.Pending, r)
			if IsExpired(r, now, window) {
				c.Expired = append(c.Expired, r)
			}
		case waitlist.StateWaiting:
			c.Waiting = append(c.Waiting, r)
		}
	}
	return c
}

// FreeSlots is total minus committed seats minus seats still provisionally
// held by live invitations. It may be negative when an event was shrunk.
func FreeSlots(total, confirmed, pending, expired int) int {
	return total - confirmed - (pending - expired)
}

func (c Classification) FreeSlots(total int) int {
	return FreeSlots(total, len(c.Confirmed), len(c.Pending), len(c.Expired))
}

// Select returns the first min(free, len(waiting)) responses in the order given.
// Callers pass repository insertion order, which makes selection first come first served.
func Select(waiting []waitlist.Response, free int) []waitlist.Response {
	if free <= 0 || len(waiting) == 0 {
		return nil
	}
	if free > len(waiting) {
		free = len(waiting)
	}
	out := make([]waitlist.Response, free)
	copy(out, waiting[:free])
	return out
}

func NewPlan(ev waitlist.Event, now time.Time, window time.Duration) Plan {
	c := Classify(ev, now, window)
	free := c.FreeSlots(ev.Slots)
	return Plan{
		Classification: c,
		FreeSlots:      free,
		Candidates:     Select(c.Waiting, free),
	}
}
