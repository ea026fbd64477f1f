package scheduler

import (
	"fmt"
	"time"
)

// Report summarizes one reconciliation run.
type Report struct {
	StartedAt time.Time
	Skipped   bool

	Events         int
	Expired        int
	Invited        int
	NotifyFailures int
	Errors         []EventError
}

type EventError struct {
	EventID int64
	Err     error
}

func (e EventError) Error() string {
	return fmt.Sprintf("event %d: %v", e.EventID, e.Err)
}

type eventResult struct {
	expired        int
	invited        int
	notifyFailures int
}

func (r *Report) add(res eventResult) {
	r.Expired += res.expired
	r.Invited += res.invited
	r.NotifyFailures += res.notifyFailures
}

func (r Report) String() string {
	if r.Skipped {
		return "run skipped (already running)"
	}
	return fmt.Sprintf("events=%d expired=%d invited=%d notify_failures=%d event_errors=%d",
		r.Events, r.Expired, r.Invited, r.NotifyFailures, len(r.Errors))
}
