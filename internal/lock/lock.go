// Package lock provides the advisory locks that keep two migration runs
// from applying the same scripts concurrently.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/clereview/dbmigrate/internal/db"
)

// ErrLocked is returned when another process holds the lock past the timeout.
var ErrLocked = errors.New("advisory lock is held by another process")

const defaultPollInterval = 250 * time.Millisecond

// Locker is a mutual-exclusion primitive shared by every process migrating
// the same journal. A zero timeout means fail fast.
type Locker interface {
	Acquire(ctx context.Context, timeout time.Duration) error
	Release(ctx context.Context) error
	Key() string
}

// For returns the locker matching the dialect. table is the journal table;
// the sqlite locker keeps its lock row next to it.
func For(d db.Dialect, database *sql.DB, key, table string) Locker {
	switch d.(type) {
	case db.Postgres:
		return NewPostgres(database, key)
	case db.MySQL:
		return NewMySQL(database, key)
	default:
		return NewSQLite(database, key, table+"_lock")
	}
}

func KeyFor(database, table string) string {
	return fmt.Sprintf("dbmigrate:%s:%s", database, table)
}

// poll calls try until it reports true, the timeout elapses or ctx ends.
func poll(ctx context.Context, timeout, interval time.Duration, key string, try func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if timeout <= 0 || !time.Now().Before(deadline) {
			return fmt.Errorf("%w: %s", ErrLocked, key)
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
