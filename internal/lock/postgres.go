package lock

import (
	"context"
	"database/sql"
	"time"
)

// Postgres holds a session level pg_try_advisory_lock on a dedicated connection.
type Postgres struct {
	db           *sql.DB
	conn         *sql.Conn
	key          string
	held         bool
	PollInterval time.Duration
}

func NewPostgres(db *sql.DB, key string) *Postgres {
	return &Postgres{db: db, key: key, PollInterval: defaultPollInterval}
}

func (p *Postgres) Acquire(ctx context.Context, timeout time.Duration) error {
	if p.held {
		return nil
	}
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return err
	}
	err = poll(ctx, timeout, p.PollInterval, p.key, func() (bool, error) {
		var got bool
		err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", p.key).Scan(&got)
		return got, err
	})
	if err != nil {
		_ = conn.Close()
		return err
	}
	p.conn = conn
	p.held = true
	return nil
}

func (p *Postgres) Release(ctx context.Context) error {
	if !p.held || p.conn == nil {
		return nil
	}
	var released bool
	_ = p.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock(hashtext($1))", p.key).Scan(&released)
	p.held = false
	// closing the session drops the lock even if the unlock query failed
	return p.conn.Close()
}

func (p *Postgres) Key() string { return p.key }
