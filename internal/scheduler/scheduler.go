package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/example/dinner-waitlist/internal/clock"
	"github.com/example/dinner-waitlist/internal/invitation"
	"github.com/example/dinner-waitlist/internal/notify"
	"github.com/example/dinner-waitlist/internal/token"
	"github.com/example/dinner-waitlist/internal/waitlist"
)

const (
	DefaultInterval    = time.Minute
	DefaultConcurrency = 4
	DefaultSendTimeout = 30 * time.Second

	persistTimeout = 10 * time.Second
)

const tracerName = "github.com/example/dinner-waitlist/internal/scheduler"

type Repository interface {
	// ListUpcomingEvents returns events starting strictly after now, with responses
	// in insertion order.
	ListUpcomingEvents(ctx context.Context, now time.Time) ([]waitlist.Event, error)
	ListWaitingResponses(ctx context.Context, eventID int64, limit int) ([]waitlist.Response, error)
	UpdateResponse(ctx context.Context, id int64, u waitlist.ResponseUpdate) error
}

// Locker is implemented by repositories that can serialize runs across processes.
type Locker interface {
	TryLock(ctx context.Context) (unlock func(), ok bool, err error)
}

// Scheduler periodically reconciles every upcoming event: it cancels lapsed
// invitations and invites waiting people into the seats that are free.
type Scheduler struct {
	Repo     Repository
	Notifier notify.Sender
	Clock    clock.Clock
	Tokens   token.Generator

	BaseURL     string
	Interval    time.Duration
	Expiry      time.Duration
	Concurrency int
	// SendTimeout bounds each invitation mail, defaults to DefaultSendTimeout.
	SendTimeout time.Duration

	Logf func(format string, args ...any)
	// Tracer defaults to the global provider's.
	Tracer trace.Tracer

	mu sync.Mutex
}

func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	// kick immediately
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.tick(ctx)
		}
	}
}

// tick runs synchronously, so a slow run delays the next tick instead of overlapping it.
func (s *Scheduler) tick(ctx context.Context) {
	rep, err := s.Reconcile(ctx)
	if err != nil {
		s.logf("scheduler: run failed: %v", err)
		return
	}
	if rep.Expired > 0 || rep.Invited > 0 || len(rep.Errors) > 0 {
		s.logf("scheduler: %s", rep)
	}
}

// Reconcile performs one run over all upcoming events. It returns an error only
// when the run could not start; per-event failures are collected in the report.
func (s *Scheduler) Reconcile(ctx context.Context) (Report, error) {
	if !s.mu.TryLock() {
		return Report{Skipped: true}, nil
	}
	defer s.mu.Unlock()

	if l, ok := s.Repo.(Locker); ok {
		unlock, held, err := l.TryLock(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("acquire reconcile lock: %w", err)
		}
		if !held {
			s.logf("scheduler: another instance is reconciling, skipping run")
			return Report{Skipped: true}, nil
		}
		defer unlock()
	}

	ctx, span := s.tracer().Start(ctx, "scheduler.Reconcile")
	defer span.End()

	now := s.now()
	events, err := s.Repo.ListUpcomingEvents(ctx, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list upcoming events")
		return Report{}, fmt.Errorf("list upcoming events: %w", err)
	}

	var (
		mu  sync.Mutex
		rep = Report{StartedAt: now, Events: len(events)}
	)
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency())
	for _, ev := range events {
		g.Go(func() error {
			res, err := s.processEvent(ctx, ev, now)
			mu.Lock()
			defer mu.Unlock()
			rep.add(res)
			if err != nil {
				s.logf("scheduler: event %d: %v", ev.ID, err)
				rep.Errors = append(rep.Errors, EventError{EventID: ev.ID, Err: err})
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("waitlist.events", rep.Events),
		attribute.Int("waitlist.expired", rep.Expired),
		attribute.Int("waitlist.invited", rep.Invited),
		attribute.Int("waitlist.event_errors", len(rep.Errors)),
	)
	return rep, nil
}

// processEvent is isolated: panics become the event's error.
func (s *Scheduler) processEvent(ctx context.Context, ev waitlist.Event, now time.Time) (res eventResult, err error) {
	ctx, span := s.tracer().Start(ctx, "scheduler.processEvent",
		trace.WithAttributes(attribute.Int64("waitlist.event_id", ev.ID)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	plan := invitation.NewPlan(ev, now, s.expiry())
	span.SetAttributes(
		attribute.Int("waitlist.slots", ev.Slots),
		attribute.Int("waitlist.free_slots", plan.FreeSlots),
		attribute.Int("waitlist.expired", len(plan.Expired)),
	)

	expired, err := s.expire(ctx, plan.Expired)
	res.expired = expired
	if err != nil {
		return res, err
	}

	if plan.FreeSlots <= 0 {
		return res, nil
	}

	waiting, err := s.Repo.ListWaitingResponses(ctx, ev.ID, plan.FreeSlots)
	if err != nil {
		return res, fmt.Errorf("list waiting responses: %w", err)
	}
	// the repository is trusted for order, not for the cap
	candidates := invitation.Select(waiting, plan.FreeSlots)

	invited, notifyFailures, err := s.invite(ctx, ev, candidates, now)
	res.invited = invited
	res.notifyFailures = notifyFailures
	return res, err
}

func (s *Scheduler) expire(ctx context.Context, expired []waitlist.Response) (int, error) {
	var (
		mu sync.Mutex
		n  int
	)
	// siblings are not cancelled on failure: each record is independent
	var g errgroup.Group
	for _, r := range expired {
		g.Go(guard(func() error {
			err := s.Repo.UpdateResponse(ctx, r.ID, waitlist.Cancelled())
			switch {
			case err == nil:
				mu.Lock()
				n++
				mu.Unlock()
				return nil
			case skippable(err):
				s.logf("scheduler: expire response %d: %v, skipping", r.ID, err)
				return nil
			default:
				return fmt.Errorf("expire response %d: %w", r.ID, err)
			}
		}))
	}
	err := g.Wait()
	return n, err
}

// invite notifies, then persists. A failed or timed out notification is
// logged and the invitation is still recorded; the person can be sent the link
// again with `waitlist response resend`. Once a mail may have gone out the
// write is detached from ctx, so shutdown cannot leave an unrecorded invite.
func (s *Scheduler) invite(ctx context.Context, ev waitlist.Event, candidates []waitlist.Response, now time.Time) (invited, notifyFailures int, err error) {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, r := range candidates {
		g.Go(guard(func() error {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("invite response %d: %w", r.ID, err)
			}
			tok, err := s.Tokens.New()
			if err != nil {
				return fmt.Errorf("invite response %d: %w", r.ID, err)
			}
			link := notify.ConfirmLink(s.BaseURL, ev.ID, r.ID, r.Email, tok)

			failed := false
			sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout())
			if err := s.Notifier.Send(sendCtx, notify.Invitation(ev, r, link)); err != nil {
				failed = true
				s.logf("scheduler: invitation mail for response %d (%s) failed, recording invite anyway: %v", r.ID, r.Email, err)
			}
			cancel()

			writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
			err = s.Repo.UpdateResponse(writeCtx, r.ID, waitlist.Invited(now, tok))
			cancel()
			switch {
			case err == nil:
				mu.Lock()
				invited++
				if failed {
					notifyFailures++
				}
				mu.Unlock()
				return nil
			case skippable(err):
				s.logf("scheduler: invite response %d: %v, skipping", r.ID, err)
				return nil
			default:
				return fmt.Errorf("invite response %d: %w", r.ID, err)
			}
		}))
	}
	err = g.Wait()
	return invited, notifyFailures, err
}

// guard turns a panic in a per-record goroutine into that goroutine's error.
func guard(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}
}

// skippable errors concern one record only and never abort the event.
func skippable(err error) bool {
	return errors.Is(err, waitlist.ErrNotFound) || errors.Is(err, waitlist.ErrStateConflict)
}

func (s *Scheduler) now() time.Time {
	if s.Clock == nil {
		return clock.System{}.Now()
	}
	return s.Clock.Now()
}

func (s *Scheduler) expiry() time.Duration {
	if s.Expiry <= 0 {
		return invitation.DefaultExpiry
	}
	return s.Expiry
}

func (s *Scheduler) sendTimeout() time.Duration {
	if s.SendTimeout <= 0 {
		return DefaultSendTimeout
	}
	return s.SendTimeout
}

func (s *Scheduler) concurrency() int {
	if s.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return s.Concurrency
}

func (s *Scheduler) tracer() trace.Tracer {
	if s.Tracer != nil {
		return s.Tracer
	}
	return otel.Tracer(tracerName)
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}
