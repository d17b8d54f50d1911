package lock

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clereview/dbmigrate/internal/db"
)

// SQLite has no advisory locks, so the lock is a single row in a side
// table. A process that dies while holding it leaves the row behind; delete
// it by hand once no migration is running.
type SQLite struct {
	db           *sql.DB
	key          string
	table        string
	owner        string
	held         bool
	PollInterval time.Duration
}

func NewSQLite(database *sql.DB, key, table string) *SQLite {
	return &SQLite{
		db:           database,
		key:          key,
		table:        db.SQLite{}.QuoteTable(table),
		owner:        uuid.NewString(),
		PollInterval: defaultPollInterval,
	}
}

func (s *SQLite) Acquire(ctx context.Context, timeout time.Duration) error {
	if s.held {
		return nil
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  lock_key TEXT NOT NULL,
  owner TEXT NOT NULL,
  acquired_at TIMESTAMP NOT NULL
)`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	insert := fmt.Sprintf(`INSERT OR IGNORE INTO %s (id, lock_key, owner, acquired_at) VALUES (1, ?, ?, ?)`, s.table)
	err := poll(ctx, timeout, s.PollInterval, s.key, func() (bool, error) {
		res, err := s.db.ExecContext(ctx, insert, s.key, s.owner, time.Now().UTC())
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		return n == 1, err
	})
	if err != nil {
		return err
	}
	s.held = true
	return nil
}

func (s *SQLite) Release(ctx context.Context) error {
	if !s.held {
		return nil
	}
	s.held = false
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = 1 AND owner = ?`, s.table), s.owner)
	return err
}

func (s *SQLite) Key() string { return s.key }
