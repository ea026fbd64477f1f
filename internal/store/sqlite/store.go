// Package sqlite is the embedded waitlist store used for development, tests
// and single-instance deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/example/dinner-waitlist/internal/store/sqlite/migrations"
	"github.com/example/dinner-waitlist/internal/waitlist"
)

// Store persists events, responses and admins in one SQLite file.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Open opens the database at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer; also keeps conditional updates strictly serialized
	sqlDB.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) CreateEvent(ctx context.Context, ev waitlist.Event) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO events (title, slots, starts_at, price, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.Title, ev.Slots, toMillis(ev.Date), ev.Price, toMillis(s.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("create event: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) GetEvent(ctx context.Context, id int64) (waitlist.Event, error) {
	ev, err := scanEvent(s.sqlDB.QueryRowContext(ctx,
		`SELECT id, title, slots, starts_at, price FROM events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return waitlist.Event{}, fmt.Errorf("get event %d: %w", id, waitlist.ErrNotFound)
	}
	if err != nil {
		return waitlist.Event{}, fmt.Errorf("get event %d: %w", id, err)
	}

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
	return s.listEvents(ctx,
		`SELECT id, title, slots, starts_at, price FROM events WHERE starts_at > ? ORDER BY starts_at, id`,
		toMillis(now))
}

func (s *Store) listEvents(ctx context.Context, query string, args ...any) ([]waitlist.Event, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	var (
		out []waitlist.Event
		ids []int64
	)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
		ids = append(ids, ev.ID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("list events: %w", err)
	}
	// release the single connection before the next query
	_ = rows.Close()
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
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(eventIDs)), ",")
	args := make([]any, len(eventIDs))
	for i, id := range eventIDs {
		args[i] = id
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+responseColumns+` FROM responses WHERE event_id IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]waitlist.Response, len(eventIDs))
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
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
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO responses (event_id, email, name, state, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.EventID, r.Email, r.Name, string(state), toMillis(s.now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, waitlist.ErrDuplicateSignup
		}
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("create response: event %d: %w", r.EventID, waitlist.ErrNotFound)
		}
		return 0, fmt.Errorf("create response: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) GetResponse(ctx context.Context, id int64) (waitlist.Response, error) {
	r, err := scanResponse(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+responseColumns+` FROM responses WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return waitlist.Response{}, fmt.Errorf("get response %d: %w", id, waitlist.ErrNotFound)
	}
	if err != nil {
		return waitlist.Response{}, fmt.Errorf("get response %d: %w", id, err)
	}
	return r, nil
}

func (s *Store) ListWaitingResponses(ctx context.Context, eventID int64, limit int) ([]waitlist.Response, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+responseColumns+` FROM responses WHERE event_id = ? AND state = ? ORDER BY id LIMIT ?`,
		eventID, string(waitlist.StateWaiting), limit)
	if err != nil {
		return nil, fmt.Errorf("list waiting responses: %w", err)
	}
	defer rows.Close()

	var out []waitlist.Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
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
	var state, expect, inviteDate, confirmToken any
	if u.State != nil {
		state = string(*u.State)
	}
	if u.Expect != nil {
		expect = string(*u.Expect)
	}
	if u.InviteDate != nil {
		inviteDate = toMillis(*u.InviteDate)
	}
	if u.ConfirmToken != nil {
		confirmToken = *u.ConfirmToken
	}

	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE responses
SET state = COALESCE(?, state),
    invite_date = COALESCE(?, invite_date),
    confirm_token = COALESCE(?, confirm_token)
WHERE id = ? AND (? IS NULL OR state = ?)`,
		state, inviteDate, confirmToken, id, expect, expect)
	if err != nil {
		return fmt.Errorf("update response %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update response %d: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	var found int
	err = s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM responses WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update response %d: %w", id, waitlist.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update response %d: %w", id, err)
	}
	return fmt.Errorf("update response %d: %w", id, waitlist.ErrStateConflict)
}

func (s *Store) AdminExists(ctx context.Context) (bool, error) {
	var n int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM admins`).Scan(&n); err != nil {
		return false, fmt.Errorf("check admins: %w", err)
	}
	return n > 0, nil
}

func (s *Store) CreateAdmin(ctx context.Context, email string, passwordHash []byte) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO admins (email, password_hash, created_at) VALUES (?, ?, ?)`,
		email, passwordHash, toMillis(s.now()))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("create admin %s: already exists", email)
		}
		return 0, fmt.Errorf("create admin: %w", err)
	}
	return res.LastInsertId()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (waitlist.Event, error) {
	var (
		ev       waitlist.Event
		startsAt int64
	)
	if err := row.Scan(&ev.ID, &ev.Title, &ev.Slots, &startsAt, &ev.Price); err != nil {
		return waitlist.Event{}, err
	}
	ev.Date = fromMillis(startsAt)
	return ev, nil
}

func scanResponse(row scanner) (waitlist.Response, error) {
	var (
		r          waitlist.Response
		state      string
		inviteDate sql.NullInt64
		createdAt  int64
	)
	if err := row.Scan(&r.ID, &r.EventID, &r.Email, &r.Name, &state, &inviteDate, &r.ConfirmToken, &createdAt); err != nil {
		return waitlist.Response{}, err
	}
	r.State = waitlist.State(state)
	if inviteDate.Valid {
		t := fromMillis(inviteDate.Int64)
		r.InviteDate = &t
	}
	r.CreatedAt = fromMillis(createdAt)
	return r, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint failed")
}
