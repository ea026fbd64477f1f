// Package storetest holds the behaviour every waitlist store must share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/dinner-waitlist/internal/waitlist"
)

type Store interface {
	CreateEvent(ctx context.Context, ev waitlist.Event) (int64, error)
	GetEvent(ctx context.Context, id int64) (waitlist.Event, error)
	ListEvents(ctx context.Context) ([]waitlist.Event, error)
	ListUpcomingEvents(ctx context.Context, now time.Time) ([]waitlist.Event, error)
	CreateResponse(ctx context.Context, r waitlist.Response) (int64, error)
	GetResponse(ctx context.Context, id int64) (waitlist.Response, error)
	ListWaitingResponses(ctx context.Context, eventID int64, limit int) ([]waitlist.Response, error)
	UpdateResponse(ctx context.Context, id int64, u waitlist.ResponseUpdate) error
	AdminExists(ctx context.Context) (bool, error)
	CreateAdmin(ctx context.Context, email string, passwordHash []byte) (int64, error)
}

var Now = time.Date(2026, time.October, 18, 12, 0, 0, 0, time.UTC)

// Run exercises s. open must return an empty store.
func Run(t *testing.T, open func(t *testing.T) Store) {
	t.Run("EventRoundTrip", func(t *testing.T) { testEventRoundTrip(t, open(t)) })
	t.Run("MissingRows", func(t *testing.T) { testMissingRows(t, open(t)) })
	t.Run("UpcomingEvents", func(t *testing.T) { testUpcomingEvents(t, open(t)) })
	t.Run("DuplicateSignup", func(t *testing.T) { testDuplicateSignup(t, open(t)) })
	t.Run("WaitingInInsertionOrder", func(t *testing.T) { testWaitingOrder(t, open(t)) })
	t.Run("UpdateResponse", func(t *testing.T) { testUpdateResponse(t, open(t)) })
	t.Run("ConditionalUpdate", func(t *testing.T) { testConditionalUpdate(t, open(t)) })
	t.Run("ConcurrentInvitesAreExclusive", func(t *testing.T) { testConcurrentInvites(t, open(t)) })
	t.Run("Admins", func(t *testing.T) { testAdmins(t, open(t)) })
}

func createEvent(t *testing.T, s Store, title string, slots int, at time.Time) int64 {
	t.Helper()
	id, err := s.CreateEvent(context.Background(), waitlist.Event{Title: title, Slots: slots, Date: at, Price: 35})
	require.NoError(t, err)
	return id
}

func signup(t *testing.T, s Store, eventID int64, email string) int64 {
	t.Helper()
	id, err := s.CreateResponse(context.Background(), waitlist.Response{EventID: eventID, Email: email, Name: email})
	require.NoError(t, err)
	return id
}

func testEventRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	at := Now.Add(72 * time.Hour)
	id := createEvent(t, s, "Autumn Supper", 12, at)

	ev, err := s.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, ev.ID)
	assert.Equal(t, "Autumn Supper", ev.Title)
	assert.Equal(t, 12, ev.Slots)
	assert.Equal(t, 35, ev.Price)
	assert.True(t, ev.Date.Equal(at), "date %s != %s", ev.Date, at)
	assert.Empty(t, ev.Responses)

	rid := signup(t, s, id, "ann@example.com")
	ev, err = s.GetEvent(ctx, id)
	require.NoError(t, err)
	require.Len(t, ev.Responses, 1)
	r := ev.Responses[0]
	assert.Equal(t, rid, r.ID)
	assert.Equal(t, id, r.EventID)
	assert.Equal(t, waitlist.StateWaiting, r.State)
	assert.Nil(t, r.InviteDate)
	assert.Empty(t, r.ConfirmToken)
	assert.False(t, r.CreatedAt.IsZero())

	all, err := s.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Len(t, all[0].Responses, 1)
}

func testMissingRows(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.GetEvent(ctx, 404)
	assert.ErrorIs(t, err, waitlist.ErrNotFound)
	_, err = s.GetResponse(ctx, 404)
	assert.ErrorIs(t, err, waitlist.ErrNotFound)
	err = s.UpdateResponse(ctx, 404, waitlist.Cancelled())
	assert.ErrorIs(t, err, waitlist.ErrNotFound)
}

func testUpcomingEvents(t *testing.T, s Store) {
	ctx := context.Background()
	createEvent(t, s, "past", 4, Now.Add(-time.Hour))
	createEvent(t, s, "now", 4, Now)
	later := createEvent(t, s, "later", 4, Now.Add(48*time.Hour))
	soon := createEvent(t, s, "soon", 4, Now.Add(time.Hour))
	signup(t, s, soon, "a@example.com")
	signup(t, s, later, "b@example.com")
	signup(t, s, soon, "c@example.com")

	evs, err := s.ListUpcomingEvents(ctx, Now)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, soon, evs[0].ID)
	assert.Equal(t, later, evs[1].ID)

	require.Len(t, evs[0].Responses, 2)
	assert.Equal(t, "a@example.com", evs[0].Responses[0].Email)
	assert.Equal(t, "c@example.com", evs[0].Responses[1].Email)
	require.Len(t, evs[1].Responses, 1)
}

func testDuplicateSignup(t *testing.T, s Store) {
	ctx := context.Background()
	ev := createEvent(t, s, "Dinner", 4, Now.Add(time.Hour))
	other := createEvent(t, s, "Other", 4, Now.Add(time.Hour))
	signup(t, s, ev, "ann@example.com")

	_, err := s.CreateResponse(ctx, waitlist.Response{EventID: ev, Email: "ann@example.com", Name: "Ann again"})
	assert.ErrorIs(t, err, waitlist.ErrDuplicateSignup)

	// the same person may queue for a different event
	signup(t, s, other, "ann@example.com")
}

func testWaitingOrder(t *testing.T, s Store) {
	ctx := context.Background()
	ev := createEvent(t, s, "Dinner", 4, Now.Add(time.Hour))
	var ids []int64
	for i := range 5 {
		ids = append(ids, signup(t, s, ev, fmt.Sprintf("g%d@example.com", i)))
	}
	require.NoError(t, s.UpdateResponse(ctx, ids[1], waitlist.Invited(Now, "tok")))

	got, err := s.ListWaitingResponses(ctx, ev, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{ids[0], ids[2], ids[3]}, []int64{got[0].ID, got[1].ID, got[2].ID})

	got, err = s.ListWaitingResponses(ctx, ev, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testUpdateResponse(t *testing.T, s Store) {
	ctx := context.Background()
	ev := createEvent(t, s, "Dinner", 4, Now.Add(time.Hour))
	id := signup(t, s, ev, "ann@example.com")

	at := Now.Add(-90 * time.Minute).Add(123 * time.Millisecond)
	require.NoError(t, s.UpdateResponse(ctx, id, waitlist.Invited(at, "secret-token")))

	r, err := s.GetResponse(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, waitlist.StateInviteSent, r.State)
	require.NotNil(t, r.InviteDate)
	assert.True(t, r.InviteDate.Equal(at), "invite date %s != %s", r.InviteDate, at)
	assert.Equal(t, "secret-token", r.ConfirmToken)

	// a state-only update keeps the invitation fields
	require.NoError(t, s.UpdateResponse(ctx, id, waitlist.Confirmed()))
	r, err = s.GetResponse(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, waitlist.StateInviteConfirmed, r.State)
	require.NotNil(t, r.InviteDate)
	assert.True(t, r.InviteDate.Equal(at))
	assert.Equal(t, "secret-token", r.ConfirmToken)

	require.NoError(t, s.UpdateResponse(ctx, id, waitlist.ResponseUpdate{}))
}

func testConditionalUpdate(t *testing.T, s Store) {
	ctx := context.Background()
	ev := createEvent(t, s, "Dinner", 4, Now.Add(time.Hour))
	id := signup(t, s, ev, "ann@example.com")

	err := s.UpdateResponse(ctx, id, waitlist.Cancelled())
	assert.ErrorIs(t, err, waitlist.ErrStateConflict)

	require.NoError(t, s.UpdateResponse(ctx, id, waitlist.Invited(Now, "t1")))
	err = s.UpdateResponse(ctx, id, waitlist.Invited(Now, "t2"))
	assert.ErrorIs(t, err, waitlist.ErrStateConflict)

	require.NoError(t, s.UpdateResponse(ctx, id, waitlist.Confirmed()))
	err = s.UpdateResponse(ctx, id, waitlist.Cancelled())
	assert.ErrorIs(t, err, waitlist.ErrStateConflict)

	r, err := s.GetResponse(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, waitlist.StateInviteConfirmed, r.State)
	assert.Equal(t, "t1", r.ConfirmToken)

	// edges outside the state machine never reach the row
	sent, confirmed := waitlist.StateInviteSent, waitlist.StateInviteConfirmed
	err = s.UpdateResponse(ctx, id, waitlist.ResponseUpdate{State: &sent, Expect: &confirmed})
	assert.ErrorIs(t, err, waitlist.ErrInvalidTransition)
	r, err = s.GetResponse(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, waitlist.StateInviteConfirmed, r.State)

	// unconditional updates are applied as given
	cancelled := waitlist.StateInviteCancelled
	require.NoError(t, s.UpdateResponse(ctx, id, waitlist.ResponseUpdate{State: &cancelled}))
}

func testConcurrentInvites(t *testing.T, s Store) {
	ctx := context.Background()
	ev := createEvent(t, s, "Dinner", 4, Now.Add(time.Hour))
	id := signup(t, s, ev, "ann@example.com")

	const writers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.UpdateResponse(ctx, id, waitlist.Invited(Now, fmt.Sprintf("t%d", i)))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, waitlist.ErrStateConflict)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func testAdmins(t *testing.T, s Store) {
	ctx := context.Background()
	ok, err := s.AdminExists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.CreateAdmin(ctx, "admin@example.com", []byte("hash"))
	require.NoError(t, err)

	ok, err = s.AdminExists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.CreateAdmin(ctx, "admin@example.com", []byte("hash"))
	assert.Error(t, err)
}
