package db

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type SQLite struct{}

func (SQLite) Name() string               { return "sqlite" }
func (SQLite) DriverName() string         { return "sqlite" }
func (SQLite) Placeholder(int) string     { return "?" }
func (SQLite) TransactionalDDL() bool     { return true }
func (SQLite) QuoteTable(t string) string { return quoteParts(t, `"`) }

func (s SQLite) JournalDDL(table string) []string {
	return []string{fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  checksum TEXT NOT NULL,
  applied_at TIMESTAMP NOT NULL,
  applied_by TEXT NOT NULL,
  duration_ms INTEGER NOT NULL,
  execution_order INTEGER NOT NULL
)`, s.QuoteTable(table))}
}

func (SQLite) DatabaseName(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.Index(p, "?"); i >= 0 {
		p = p[:i]
	}
	base := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	if base == "" || base == "." || base == ":memory:" {
		return "db"
	}
	return base
}

// OpenSQLite opens a modernc.org/sqlite database. A busy timeout is added
// when the DSN does not set one, so the journal and lock connections wait
// for each other instead of failing with SQLITE_BUSY.
func OpenSQLite(dsn string) (*sql.DB, error) {
	if !strings.Contains(dsn, "busy_timeout") {
		if strings.Contains(dsn, "?") {
			dsn += "&_pragma=busy_timeout(5000)"
		} else {
			dsn += "?_pragma=busy_timeout(5000)"
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	configurePool(db)
	return db, nil
}
