// Package postgres is the pgx-backed waitlist store.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/example/dinner-waitlist/internal/db"
	"github.com/example/dinner-waitlist/internal/waitlist"
)

// reconcileLockKey identifies the scheduler's advisory lock.
const reconcileLockKey int64 = 0x7761_6974_6c73 // "waitls"

type Store struct{ db *db.DB }

func New(d *db.DB) *Store { return &Store{db: d} }

func Open(ctx context.Context, databaseURL string) (*Store, error) {
	d, err := db.Open(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(d), nil
}

// DB exposes the handle for migrations.
func (s *Store) DB() *db.DB { return s.db }

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// TryLock serializes reconciliation runs across processes sharing the database.
func (s *Store) TryLock(ctx context.Context) (func(), bool, error) {
	return s.db.TryAdvisoryLock(ctx, reconcileLockKey)
}

func (s *Store) CreateEvent(ctx context.Context, ev waitlist.Event) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
INSERT INTO events(title, slots, starts_at, price)
VALUES ($1,$2,$3,$4)
RETURNING id`, ev.Title, ev.Slots, ev.Date.UTC(), ev.Price).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create event: %w", db.WrapNotFound(err))
	}
	return id, nil
}

func (s *Store) GetEvent(ctx context.Context, id int64) (waitlist.Event, error) {
	var ev waitlist.Event
	err := s.db.QueryRow(ctx, `SELECT id, title, slots, starts_at, price FROM events WHERE id=$1`, id).
		Scan(&ev.ID, &ev.Title, &ev.Slots, &ev.Date, &ev.Price)
	if err != nil {
		return waitlist.Event{}, wrap(err, "get event %d", id)
	}
	ev.Date = ev.Date.UTC()

	byEvent, err := s.responsesFor(ctx, []int64{ev.ID})
	if err != nil {
		return waitlist.Event{}, err
	}
	ev.Responses = byEvent[ev.ID]
	return ev, nil
}

func (s *Store) ListEvents(ctx context.Context) ([]waitlist.Event, error) {
	return s.listEvents(ctx, `SELECT id, title, slots, starts_at, price FROM events ORDER BY starts_at, id`)
}

func (s *Store) ListUpcomingEvents(ctx context.Context, now time.Time) ([]waitlist.Event, error) {
	return s.listEvents(ctx, `
SELECT id, title, slots, starts_at, price
FROM events
WHERE starts_at > $1
ORDER BY starts_at, id`, now.UTC())
}

func (s *Store) listEvents(ctx context.Context, sql string, args ...any) ([]waitlist.Event, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var (
		out []waitlist.Event
		ids []int64
	)
	for rows.Next() {
		var ev waitlist.Event
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.Slots, &ev.Date, &ev.Price); err != nil {
			return nil, err
		}
		ev.Date = ev.Date.UTC()
		out = append(out, ev)
		ids = append(ids, ev.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	byEvent, err := s.responsesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Responses = byEvent[out[i].ID]
	}
	return out, nil
}

const responseColumns = `id, event_id, email, name, state, invite_date, confirm_token, created_at`

// responsesFor loads responses in insertion order, grouped by event.
func (s *Store) responsesFor(ctx context.Context, eventIDs []int64) (map[int64][]waitlist.Response, error) {
	rows, err := s.db.Query(ctx, `SELECT `+responseColumns+` FROM responses WHERE event_id = ANY($1) ORDER BY id`, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]waitlist.Response, len(eventIDs))
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out[r.EventID] = append(out[r.EventID], r)
	}
	return out, rows.Err()
}

func (s *Store) CreateResponse(ctx context.Context, r waitlist.Response) (int64, error) {
	state := r.State
	if state == "" {
		state = waitlist.StateWaiting
	}
	var id int64
	err := s.db.QueryRow(ctx, `
INSERT INTO responses(event_id, email, name, state)
VALUES ($1,$2,$3,$4)
RETURNING id`, r.EventID, r.Email, r.Name, string(state)).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, waitlist.ErrDuplicateSignup
		}
		return 0, fmt.Errorf("create response: %w", db.WrapNotFound(err))
	}
	return id, nil
}

func (s *Store) GetResponse(ctx context.Context, id int64) (waitlist.Response, error) {
	r, err := scanResponse(s.db.QueryRow(ctx, `SELECT `+responseColumns+` FROM responses WHERE id=$1`, id))
	if err != nil {
		return waitlist.Response{}, wrap(err, "get response %d", id)
	}
	return r, nil
}

func (s *Store) ListWaitingResponses(ctx context.Context, eventID int64, limit int) ([]waitlist.Response, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
SELECT `+responseColumns+`
FROM responses
WHERE event_id=$1 AND state='waiting'
ORDER BY id
LIMIT $2`, eventID, limit)
	if err != nil {
		return nil, fmt.Errorf("list waiting responses: %w", err)
	}
	defer rows.Close()

	var out []waitlist.Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateResponse(ctx context.Context, id int64, u waitlist.ResponseUpdate) error {
	if u.Empty() {
		return nil
	}
	if err := u.Check(); err != nil {
		return fmt.Errorf("update response %d: %w", id, err)
	}
	var inviteDate *time.Time
	if u.InviteDate != nil {
		t := u.InviteDate.UTC()
		inviteDate = &t
	}
	n, err := s.db.ExecRows(ctx, `
UPDATE responses
SET state = COALESCE($2, state),
    invite_date = COALESCE($3, invite_date),
    confirm_token = COALESCE($4, confirm_token)
WHERE id=$1 AND ($5::text IS NULL OR state=$5)`,
		id, stateArg(u.State), inviteDate, u.ConfirmToken, stateArg(u.Expect))
	if err != nil {
		return fmt.Errorf("update response %d: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM responses WHERE id=$1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("update response %d: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("update response %d: %w", id, waitlist.ErrNotFound)
	}
	return fmt.Errorf("update response %d: %w", id, waitlist.ErrStateConflict)
}

func (s *Store) AdminExists(ctx context.Context) (bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM admins)`).Scan(&exists); err != nil {
		return false, fmt.Errorf("check admins: %w", err)
	}
	return exists, nil
}

func (s *Store) CreateAdmin(ctx context.Context, email string, passwordHash []byte) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `INSERT INTO admins(email, password_hash) VALUES ($1,$2) RETURNING id`, email, passwordHash).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("create admin %s: already exists", email)
		}
		return 0, fmt.Errorf("create admin: %w", err)
	}
	return id, nil
}

func scanResponse(row db.Row) (waitlist.Response, error) {
	var (
		r          waitlist.Response
		state      string
		inviteDate *time.Time
	)
	if err := row.Scan(&r.ID, &r.EventID, &r.Email, &r.Name, &state, &inviteDate, &r.ConfirmToken, &r.CreatedAt); err != nil {
		return waitlist.Response{}, err
	}
	r.State = waitlist.State(state)
	if inviteDate != nil {
		t := inviteDate.UTC()
		r.InviteDate = &t
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func stateArg(s *waitlist.State) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

// wrap maps missing rows to waitlist.ErrNotFound.
func wrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if db.IsNotFound(err) {
		return fmt.Errorf("%s: %w", msg, waitlist.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, db.WrapNotFound(err))
}
