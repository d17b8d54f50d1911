package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/clereview/dbmigrate/internal/db"
)

// Executor is satisfied by *sql.DB and *sql.Tx, so a journal row can be
// written inside the script's own transaction.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Storage is the journal: one row per applied script.
type Storage struct {
	DB      *sql.DB
	Dialect db.Dialect
	Table   string
}

func (s *Storage) quoted() string { return s.Dialect.QuoteTable(s.Table) }

// EnsureInitialized creates the journal table if it is missing. Safe to call
// on every run.
func (s *Storage) EnsureInitialized(ctx context.Context) error {
	return db.EnsureTable(ctx, s.DB, s.Dialect, s.Table)
}

func (s *Storage) GetApplied(ctx context.Context) (map[string]AppliedRecord, error) {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`SELECT id, checksum, applied_at, applied_by, duration_ms, execution_order FROM %s`, s.quoted()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]AppliedRecord{}
	for rows.Next() {
		var r AppliedRecord
		var at timeValue
		if err := rows.Scan(&r.ID, &r.Checksum, &at, &r.AppliedBy, &r.DurationMS, &r.ExecutionOrder); err != nil {
			return nil, err
		}
		r.Checksum = strings.TrimSpace(r.Checksum)
		r.AppliedAt = at.Time
		out[r.ID] = r
	}
	return out, rows.Err()
}

func (s *Storage) MaxExecutionOrder(ctx context.Context) (int64, error) {
	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COALESCE(MAX(execution_order), 0) FROM %s`, s.quoted()))
	var max int64
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

// RecordApplied inserts one journal row through exec. A second insert for
// the same id fails on the primary key.
func (s *Storage) RecordApplied(ctx context.Context, exec Executor, r AppliedRecord) error {
	_, err := exec.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (id, checksum, applied_at, applied_by, duration_ms, execution_order) VALUES (%s)`,
		s.quoted(), s.placeholders(6)),
		r.ID, r.Checksum, r.AppliedAt, r.AppliedBy, r.DurationMS, r.ExecutionOrder,
	)
	return err
}

// UpdateChecksum overwrites the stored checksum of an applied script. Only
// the repair command uses it.
func (s *Storage) UpdateChecksum(ctx context.Context, id, sum string) error {
	res, err := s.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET checksum = %s WHERE id = %s`,
		s.quoted(), s.Dialect.Placeholder(1), s.Dialect.Placeholder(2)), sum, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s is not in the journal", ErrUnknownScript, id)
	}
	return nil
}

func (s *Storage) placeholders(n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = s.Dialect.Placeholder(i + 1)
	}
	return strings.Join(p, ", ")
}

// timeValue scans timestamps from drivers that return time.Time as well as
// those returning text.
type timeValue struct{ time.Time }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *timeValue) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
	case time.Time:
		t.Time = v
	case string:
		t.Time = parseTime(v)
	case []byte:
		t.Time = parseTime(string(v))
	default:
		return fmt.Errorf("unsupported applied_at type %T", src)
	}
	return nil
}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}
