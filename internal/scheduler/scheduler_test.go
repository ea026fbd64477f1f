package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/example/dinner-waitlist/internal/clock"
	"github.com/example/dinner-waitlist/internal/notify"
	"github.com/example/dinner-waitlist/internal/token"
	"github.com/example/dinner-waitlist/internal/waitlist"
)

var t0 = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

// memRepo is an in-memory Repository with hooks for injecting failures.
type memRepo struct {
	mu        sync.Mutex
	events    map[int64]waitlist.Event
	order     []int64
	responses map[int64]*waitlist.Response
	byEvent   map[int64][]int64
	nextID    int64

	listErr    error
	waitingErr map[int64]error
	updateErr  func(id int64, u waitlist.ResponseUpdate) error
	onList     func()
	waitingCap int // 0 honors limit
}

func newMemRepo() *memRepo {
	return &memRepo{
		events:     map[int64]waitlist.Event{},
		responses:  map[int64]*waitlist.Response{},
		byEvent:    map[int64][]int64{},
		waitingErr: map[int64]error{},
	}
}

func (m *memRepo) addEvent(id int64, slots int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[id] = waitlist.Event{ID: id, Title: fmt.Sprintf("Dinner %d", id), Slots: slots, Date: t0.Add(7 * 24 * time.Hour)}
	m.order = append(m.order, id)
}

func (m *memRepo) add(eventID int64, state waitlist.State, invited *time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.responses[id] = &waitlist.Response{
		ID:         id,
		EventID:    eventID,
		Email:      fmt.Sprintf("guest%d@example.com", id),
		Name:       fmt.Sprintf("Guest %d", id),
		State:      state,
		InviteDate: invited,
	}
	m.byEvent[eventID] = append(m.byEvent[eventID], id)
	return id
}

func (m *memRepo) get(id int64) waitlist.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.responses[id]
}

func (m *memRepo) count(eventID int64, s waitlist.State) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range m.byEvent[eventID] {
		if m.responses[id].State == s {
			n++
		}
	}
	return n
}

func (m *memRepo) ListUpcomingEvents(ctx context.Context, now time.Time) ([]waitlist.Event, error) {
	if m.onList != nil {
		m.onList()
	}
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []waitlist.Event
	for _, id := range m.order {
		ev := m.events[id]
		if !ev.Date.After(now) {
			continue
		}
		for _, rid := range m.byEvent[id] {
			ev.Responses = append(ev.Responses, *m.responses[rid])
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *memRepo) ListWaitingResponses(ctx context.Context, eventID int64, limit int) ([]waitlist.Response, error) {
	if err := m.waitingErr[eventID]; err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.waitingCap > 0 {
		limit = m.waitingCap
	}
	var out []waitlist.Response
	for _, id := range m.byEvent[eventID] {
		if r := m.responses[id]; r.State == waitlist.StateWaiting && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRepo) UpdateResponse(ctx context.Context, id int64, u waitlist.ResponseUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.updateErr != nil {
		if err := m.updateErr(id, u); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.responses[id]
	if !ok {
		return waitlist.ErrNotFound
	}
	if u.Expect != nil && r.State != *u.Expect {
		return waitlist.ErrStateConflict
	}
	if u.State != nil {
		r.State = *u.State
	}
	if u.InviteDate != nil {
		at := *u.InviteDate
		r.InviteDate = &at
	}
	if u.ConfirmToken != nil {
		r.ConfirmToken = *u.ConfirmToken
	}
	return nil
}

type lockingRepo struct {
	*memRepo
	held   bool
	err    error
	locked atomic.Int32
}

func (l *lockingRepo) TryLock(ctx context.Context) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.locked.Add(1)
	return func() { l.locked.Add(-1) }, true, nil
}

func seqTokens() token.Generator {
	var n atomic.Int64
	return token.Func(func() (string, error) {
		return fmt.Sprintf("tok-%d", n.Add(1)), nil
	})
}

func newScheduler(repo Repository, rec *notify.Recorder) *Scheduler {
	return &Scheduler{
		Repo:     repo,
		Notifier: rec,
		Clock:    clock.NewFixed(t0),
		Tokens:   seqTokens(),
		BaseURL:  "http://localhost:3000",
		Logf:     func(string, ...any) {},
	}
}

func ago(d time.Duration) *time.Time {
	t := t0.Add(-d)
	return &t
}

func TestReconcile_ExpiresAndInvitesOne(t *testing.T) {
	repo := newMemRepo()
	repo.addEvent(1, 2)
	confirmed := repo.add(1, waitlist.StateInviteConfirmed, ago(48*time.Hour))
	lapsed := repo.add(1, waitlist.StateInviteSent, ago(25*time.Hour))
	first := repo.add(1, waitlist.StateWaiting, nil)
	second := repo.add(1, waitlist.StateWaiting, nil)

	rec := &notify.Recorder{}
	s := newScheduler(repo, rec)

	rep, err := s.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Events)
	assert.Equal(t, 1, rep.Expired)
	assert.Equal(t, 1, rep.Invited)
	assert.Empty(t, rep.Errors)

	assert.Equal(t, waitlist.StateInviteConfirmed, repo.get(confirmed).State)
	assert.Equal(t, waitlist.StateInviteCancelled, repo.get(lapsed).State)
	assert.Equal(t, waitlist.StateWaiting, repo.get(second).State)

	got := repo.get(first)
	assert.Equal(t, waitlist.StateInviteSent, got.State)
	require.NotNil(t, got.InviteDate)
	assert.True(t, got.InviteDate.Equal(t0))
	assert.NotEmpty(t, got.ConfirmToken)

	sent := rec.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, got.Email, sent[0].To)
	assert.Equal(t, notify.TemplateSeatConfirmation, sent[0].Template)
	assert.Equal(t,
		notify.ConfirmLink("http://localhost:3000", 1, first, got.Email, got.ConfirmToken),
		sent[0].Vars["link"])
}

func TestReconcile_InvitesTwoWhenLiveInviteRemains(t *testing.T) {
	repo := newMemRepo()
	repo.addEvent(1, 4)
	repo.add(1, waitlist.StateInviteConfirmed, ago(48*time.Hour))
	live := repo.add(1, waitlist.StateInviteSent, ago(time.Hour))
	a := repo.add(1, waitlist.StateWaiting, nil)
	b := repo.add(1, waitlist.StateWaiting, nil)
	c := repo.add(1, waitlist.StateWaiting, nil)

	rec := &notify.Recorder{}
	rep, err := newScheduler(repo, rec).Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, rep.Expired)
	assert.Equal(t, 2, rep.Invited)
	assert.Equal(t, waitlist.StateInviteSent, repo.get(live).State)
	assert.Equal(t, waitlist.StateInviteSent, repo.get(a).State)
	assert.Equal(t, waitlist.StateInviteSent, repo.get(b).State)
	assert.Equal(t, waitlist.StateWaiting, repo.get(c).State)
	assert.Len(t, rec.Sent(), 2)
}

func TestReconcile_SecondRunIsNoop(t *testing.T) {
	repo := newMemRepo()
	repo.addEvent(1, 2)
	repo.add(1, waitlist.StateInviteSent, ago(30*time.Hour))
	repo.add(1, waitlist.StateWaiting, nil)
	repo.add(1, waitlist.StateWaiting, nil)
	repo.add(1, waitlist.StateWaiting, nil)

	rec := &notify.Recorder{}
	s := newScheduler(repo, rec)

	first, err := s.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Expired)
	assert.Equal(t, 2, first.Invited)

	second, err := s.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Expired)
	assert.Equal(t, 0, second.Invited)
	assert.Len(t, rec.Sent(), 2)
}

func TestReconcile_FullEventInvitesNobody(t *testing.T) {
	repo := newMemRepo()
	repo.addEvent(1, 2)
	repo.add(1, waitlist.StateInviteConfirmed, ago(48*time.Hour))
	repo.add(1, waitlist.StateInviteSent, ago(time.Hour))
	w := repo.add(1, waitlist.StateWaiting, nil)

	rec := &notify.Recorder{}
	rep, err := newScheduler(repo, rec).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Invited)
	assert.Equal(t, waitlist.StateWaiting, repo.get(w).State)
	assert.Empty(t, rec.Sent())
}

func TestReconcile_OverbookedEventInvitesNobody(t *testing.T) {
	repo := newMemRepo()
	repo.addEvent(1, 1)
	repo.add(1, waitlist.StateInviteConfirmed, nil)
	repo.add(1, waitlist.StateInviteConfirmed, nil)
	repo.add(1, waitlist.StateWaiting, nil)

	rep, err := newScheduler(repo, &notify.Recorder{}).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Invited)
}

func TestReconcile_InvitesAtMostFreeSlots(t *testing.T) {
	for slots := 0; slots <= 5; slots++ {
		for waiting := 0; waiting <= 5; waiting++ {
			t.Run(fmt.Sprintf("slots=%d/waiting=%d", slots, waiting), func(t *testing.T) {
				repo := newMemRepo()
				repo.addEvent(1, slots)
				for range waiting {
					repo.add(1, waitlist.StateWaiting, nil)
				}
				rep, err := newScheduler(repo, &notify.Recorder{}).Reconcile(context.Background())
				require.NoError(t, err)
				assert.Equal(t, min(slots, waiting), rep.Invited)
				assert.LessOrEqual(t, repo.count(1, waitlist.StateInviteSent), slots)
			})
		}
	}
}

func TestReconcile_CapsOversizedWaitingRead(t *testing.T) {
	repo := newMemRepo()
	repo.waitingCap = 10
	repo.addEvent(1, 2)
	for range 5 {
		repo.add(1, waitlist.StateWaiting, nil)
	}
	rep, err := newScheduler(repo, &notify.Recorder{}).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Invited)
	assert.Equal(t, 2, repo.count(1, waitlist.StateInviteSent))
}

func TestReconcile_TokensAreUnique(t *testing.T) {
	repo := newMemRepo()
	repo.addEvent(1, 20)
	var ids []int64
	for range 20 {
		ids = append(ids, repo.add(1, waitlist.StateWaiting, nil))
	}
	s := newScheduler(repo, &notify.Recorder{})
	s.Tokens = token.UUID{}

	_, err := s.Reconcile(context.Background())
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, id := range ids {
		tok := repo.get(id).ConfirmToken
		require.NotEmpty(t, tok)
		assert.False(t, seen[tok], "duplicate token %s", tok)
		seen[tok] = true
	}
}

func TestReconcile_NotificationFailureStillRecordsInvite(t *testing.T) {
	repo := newMemRepo()
	repo.addEvent(1, 2)
	bad := repo.add(1, waitlist.StateWaiting, nil)
	good := repo.add(1, waitlist.StateWaiting, nil)
	badEmail := repo.get(bad).Email

	rec := &notify.Recorder{Fail: func(m notify.Message) error {
		if m.To == badEmail {
			return errors.New("mailbox unavailable")
		}
		return nil
	}}
	rep, err := newScheduler(repo, rec).Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Invited)
	assert.Equal(t, 1, rep.NotifyFailures)
	assert.Empty(t, rep.Errors)
	assert.Equal(t, waitlist.StateInviteSent, repo.get(bad).State)
	assert.Equal(t, waitlist.StateInviteSent, repo.get(good).State)
	assert.Len(t, rec.Sent(), 1)
}

func TestReconcile_SkipsVanishedAndConflictingResponses(t *testing.T) {
	repo := newMemRepo()
	repo.addEvent(1, 3)
	lapsed := repo.add(1, waitlist.StateInviteSent, ago(48*time.Hour))
	gone := repo.add(1, waitlist.StateWaiting, nil)
	ok := repo.add(1, waitlist.StateWaiting, nil)
	repo.updateErr = func(id int64, u waitlist.ResponseUpdate) error {
		switch id {
		case lapsed:
			// confirmed between the read and the write
			return fmt.Errorf("update response %d: %w", id, waitlist.ErrStateConflict)
		case gone:
			return fmt.Errorf("update response %d: %w", id, waitlist.ErrNotFound)
		}
		return nil
	}

	rep, err := newScheduler(repo, &notify.Recorder{}).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Errors)
	assert.Equal(t, 0, rep.Expired)
	assert.Equal(t, 1, rep.Invited)
	assert.Equal(t, waitlist.StateInviteSent, repo.get(ok).State)
}

func TestReconcile_ExpiryDoesNotOverwriteConfirmation(t *testing.T) {
	repo := newMemRepo()
	repo.addEvent(1, 1)
	lapsed := repo.add(1, waitlist.StateInviteSent, ago(48*time.Hour))
	// the guest confirms between the run's read and its write
	repo.updateErr = func(id int64, u waitlist.ResponseUpdate) error {
		if id == lapsed && u.State != nil && *u.State == waitlist.StateInviteCancelled {
			repo.updateErr = nil
			assert.NoError(t, repo.UpdateResponse(context.Background(), id, waitlist.Confirmed()))
		}
		return nil
	}

	rep, err := newScheduler(repo, &notify.Recorder{}).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Expired)
	assert.Equal(t, waitlist.StateInviteConfirmed, repo.get(lapsed).State)
}

func TestReconcile_EventErrorsAreIsolated(t *testing.T) {
	repo := newMemRepo()
	repo.addEvent(1, 1)
	repo.addEvent(2, 1)
	repo.addEvent(3, 1)
	repo.add(1, waitlist.StateWaiting, nil)
	repo.add(2, waitlist.StateWaiting, nil)
	w3 := repo.add(3, waitlist.StateWaiting, nil)
	repo.waitingErr[1] = errors.New("connection reset")
	repo.updateErr = func(id int64, u waitlist.ResponseUpdate) error {
		if repo.get(id).EventID == 2 {
			return errors.New("disk full")
		}
		return nil
	}

	rep, err := newScheduler(repo, &notify.Recorder{}).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Events)
	assert.Equal(t, 1, rep.Invited)
	assert.Equal(t, waitlist.StateInviteSent, repo.get(w3).State)

	require.Len(t, rep.Errors, 2)
	failed := map[int64]bool{}
	for _, e := range rep.Errors {
		failed[e.EventID] = true
	}
	assert.True(t, failed[1])
	assert.True(t, failed[2])
}

func TestReconcile_ExpiryFailureSkipsInvitations(t *testing.T) {
	repo := newMemRepo()
	repo.addEvent(1, 1)
	repo.add(1, waitlist.StateInviteSent, ago(48*time.Hour))
	w := repo.add(1, waitlist.StateWaiting, nil)
	repo.updateErr = func(id int64, u waitlist.ResponseUpdate) error {
		if u.State != nil && *u.State == waitlist.StateInviteCancelled {
			return errors.New("write failed")
		}
		return nil
	}

	rep, err := newScheduler(repo, &notify.Recorder{}).Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Errors, 1)
	assert.Equal(t, waitlist.StateWaiting, repo.get(w).State)
}

type panicSender struct{}

func (panicSender) Send(ctx context.Context, m notify.Message) error {
	if m.To == "guest1@example.com" {
		panic("template exploded")
	}
	return nil
}

func TestReconcile_PanicIsContainedToItsEvent(t *testing.T) {
	repo := newMemRepo()
	repo.addEvent(1, 1)
	repo.addEvent(2, 1)
	repo.add(1, waitlist.StateWaiting, nil)
	w2 := repo.add(2, waitlist.StateWaiting, nil)

	s := newScheduler(repo, nil)
	s.Notifier = panicSender{}
	s.Concurrency = 1

	rep, err := s.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Errors, 1)
	assert.Equal(t, int64(1), rep.Errors[0].EventID)
	assert.ErrorContains(t, rep.Errors[0].Err, "panic")
	assert.Equal(t, waitlist.StateInviteSent, repo.get(w2).State)
}

// stallSender never finishes a delivery to stuck; it waits for its context.
type stallSender struct {
	stuck string
	rec   *notify.Recorder
}

func (s stallSender) Send(ctx context.Context, m notify.Message) error {
	if m.To == s.stuck {
		<-ctx.Done()
		return &notify.DeliveryError{To: m.To, Template: m.Template, Err: ctx.Err()}
	}
	return s.rec.Send(ctx, m)
}

func TestReconcile_StalledMailDoesNotBlockOtherEvents(t *testing.T) {
	repo := newMemRepo()
	repo.addEvent(1, 1)
	repo.addEvent(2, 1)
	repo.addEvent(3, 1)
	stuck := repo.add(1, waitlist.StateWaiting, nil)
	w2 := repo.add(2, waitlist.StateWaiting, nil)
	w3 := repo.add(3, waitlist.StateWaiting, nil)

	rec := &notify.Recorder{}
	s := newScheduler(repo, rec)
	s.Notifier = stallSender{stuck: repo.get(stuck).Email, rec: rec}
	s.SendTimeout = 50 * time.Millisecond

	done := make(chan Report, 1)
	go func() {
		rep, err := s.Reconcile(context.Background())
		assert.NoError(t, err)
		done <- rep
	}()

	var rep Report
	select {
	case rep = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Reconcile blocked on a stalled mail server")
	}
	assert.Equal(t, 3, rep.Invited)
	assert.Equal(t, 1, rep.NotifyFailures)
	assert.Empty(t, rep.Errors)
	assert.Equal(t, waitlist.StateInviteSent, repo.get(stuck).State)
	assert.Equal(t, waitlist.StateInviteSent, repo.get(w2).State)
	assert.Equal(t, waitlist.StateInviteSent, repo.get(w3).State)
	assert.Len(t, rec.Sent(), 2)
}

// cancelAfterSend delivers, then cancels the run as a shutdown signal would.
type cancelAfterSend struct {
	rec    *notify.Recorder
	cancel context.CancelFunc
}

func (c cancelAfterSend) Send(ctx context.Context, m notify.Message) error {
	err := c.rec.Send(ctx, m)
	c.cancel()
	return err
}

func TestReconcile_ShutdownAfterMailStillRecordsInvite(t *testing.T) {
	repo := newMemRepo()
	repo.addEvent(1, 1)
	w := repo.add(1, waitlist.StateWaiting, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &notify.Recorder{}
	s := newScheduler(repo, rec)
	s.Notifier = cancelAfterSend{rec: rec, cancel: cancel}

	rep, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Invited)
	require.Len(t, rec.Sent(), 1)

	got := repo.get(w)
	assert.Equal(t, waitlist.StateInviteSent, got.State)
	assert.Contains(t, rec.Sent()[0].Vars["link"], got.ConfirmToken)
}

func TestReconcile_ListFailureAbortsRun(t *testing.T) {
	repo := newMemRepo()
	repo.listErr = errors.New("db down")

	_, err := newScheduler(repo, &notify.Recorder{}).Reconcile(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "db down")
}

func TestReconcile_PastEventsAreIgnored(t *testing.T) {
	repo := newMemRepo()
	repo.addEvent(1, 5)
	repo.mu.Lock()
	ev := repo.events[1]
	ev.Date = t0.Add(-time.Hour)
	repo.events[1] = ev
	repo.mu.Unlock()
	w := repo.add(1, waitlist.StateWaiting, nil)

	rep, err := newScheduler(repo, &notify.Recorder{}).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Events)
	assert.Equal(t, waitlist.StateWaiting, repo.get(w).State)
}

func TestReconcile_SkipsWhenAlreadyRunning(t *testing.T) {
	repo := newMemRepo()
	repo.addEvent(1, 1)
	repo.add(1, waitlist.StateWaiting, nil)

	s := newScheduler(repo, &notify.Recorder{})
	entered := make(chan struct{})
	release := make(chan struct{})
	repo.onList = func() {
		repo.onList = nil
		close(entered)
		<-release
	}

	done := make(chan Report, 1)
	go func() {
		rep, _ := s.Reconcile(context.Background())
		done <- rep
	}()
	<-entered

	rep, err := s.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Skipped)

	close(release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Invited)
}

func TestReconcile_SkipsWhenLockHeldElsewhere(t *testing.T) {
	repo := &lockingRepo{memRepo: newMemRepo(), held: true}
	repo.addEvent(1, 1)
	w := repo.add(1, waitlist.StateWaiting, nil)

	rep, err := newScheduler(repo, &notify.Recorder{}).Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
	assert.Equal(t, waitlist.StateWaiting, repo.get(w).State)
}

func TestReconcile_ReleasesLock(t *testing.T) {
	repo := &lockingRepo{memRepo: newMemRepo()}
	repo.addEvent(1, 1)
	repo.add(1, waitlist.StateWaiting, nil)

	rep, err := newScheduler(repo, &notify.Recorder{}).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Invited)
	assert.Equal(t, int32(0), repo.locked.Load())

	repo.err = errors.New("lock query failed")
	_, err = newScheduler(repo, &notify.Recorder{}).Reconcile(context.Background())
	assert.Error(t, err)
}

func TestReconcile_ConfirmedNeverExceedsSlots(t *testing.T) {
	repo := newMemRepo()
	repo.addEvent(1, 3)
	for range 8 {
		repo.add(1, waitlist.StateWaiting, nil)
	}
	c := clock.NewFixed(t0)
	s := newScheduler(repo, &notify.Recorder{})
	s.Clock = c

	// each round: every pending guest confirms, then a day passes
	for range 5 {
		_, err := s.Reconcile(context.Background())
		require.NoError(t, err)
		repo.mu.Lock()
		for _, r := range repo.responses {
			if r.State == waitlist.StateInviteSent && r.ID%2 == 0 {
				r.State = waitlist.StateInviteConfirmed
			}
		}
		repo.mu.Unlock()
		assert.LessOrEqual(t, repo.count(1, waitlist.StateInviteConfirmed), 3)
		assert.LessOrEqual(t,
			repo.count(1, waitlist.StateInviteConfirmed)+repo.count(1, waitlist.StateInviteSent), 3)
		c.Advance(25 * time.Hour)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	repo := newMemRepo()
	repo.addEvent(1, 1)
	w := repo.add(1, waitlist.StateWaiting, nil)

	s := newScheduler(repo, &notify.Recorder{})
	s.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return repo.get(w).State == waitlist.StateInviteSent
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestReport_String(t *testing.T) {
	assert.Equal(t, "run skipped (already running)", Report{Skipped: true}.String())
	r := Report{Events: 2, Expired: 1, Invited: 3, Errors: []EventError{{EventID: 7, Err: errors.New("x")}}}
	assert.Equal(t, "events=2 expired=1 invited=3 notify_failures=0 event_errors=1", r.String())
	assert.Equal(t, "event 7: x", r.Errors[0].Error())
}

func TestReconcile_RecordsSpans(t *testing.T) {
	repo := newMemRepo()
	repo.addEvent(1, 1)
	repo.addEvent(2, 1)
	repo.add(1, waitlist.StateWaiting, nil)
	repo.waitingErr[2] = errors.New("boom")
	repo.add(2, waitlist.StateWaiting, nil)

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	s := newScheduler(repo, &notify.Recorder{})
	s.Tracer = tp.Tracer("test")

	_, err := s.Reconcile(context.Background())
	require.NoError(t, err)

	names := map[string]int{}
	var failed int
	for _, span := range sr.Ended() {
		names[span.Name()]++
		if span.Status().Code == codes.Error {
			failed++
		}
	}
	assert.Equal(t, 1, names["scheduler.Reconcile"])
	assert.Equal(t, 2, names["scheduler.processEvent"])
	assert.Equal(t, 1, failed)
}
