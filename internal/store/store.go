// Package store selects and opens the persistence backend.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/example/dinner-waitlist/internal/config"
	"github.com/example/dinner-waitlist/internal/store/postgres"
	"github.com/example/dinner-waitlist/internal/store/sqlite"
	"github.com/example/dinner-waitlist/internal/waitlist"
)

// Store is everything the scheduler, intake and CLI need from persistence.
// Both backends return waitlist.ErrNotFound for missing rows,
// waitlist.ErrStateConflict when a ResponseUpdate's Expect does not match and
// waitlist.ErrDuplicateSignup when (event, email) already exists.
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

	Close() error
}

var (
	_ Store = (*postgres.Store)(nil)
	_ Store = (*sqlite.Store)(nil)
)

// Open connects to the backend named by cfg.DBDriver. Postgres schemas are
// managed by `waitlist migrate`; SQLite migrates itself on open.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DBDriver)
	}
}
