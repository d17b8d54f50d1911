// Package db opens target databases and describes the SQL dialect
// differences the journal and lock need.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Dialect captures what differs between supported databases.
type Dialect interface {
	Name() string
	// DriverName is the database/sql driver registered for this dialect.
	DriverName() string
	// Placeholder returns the bind parameter for the n-th (1-based) argument.
	Placeholder(n int) string
	// QuoteTable quotes a possibly schema-qualified table name.
	QuoteTable(table string) string
	// JournalDDL returns the statements creating the journal table.
	JournalDDL(table string) []string
	// TransactionalDDL reports whether DDL can be rolled back together with
	// the journal insert in a single transaction.
	TransactionalDDL() bool
	// DatabaseName extracts the target database name from a DSN.
	DatabaseName(dsn string) string
}

// Lookup resolves a driver name, accepting the common aliases.
func Lookup(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pg", "pgx":
		return Postgres{}, nil
	case "mysql":
		return MySQL{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("db driver %q not supported, must be one of: postgres, mysql, sqlite", name)
	}
}

// Detect guesses the driver from the shape of a DSN. It returns "" when the
// DSN gives no hint.
func Detect(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(lower, "host="), strings.Contains(lower, "host=") && strings.Contains(lower, ";"):
		return "postgres"
	case strings.HasPrefix(lower, "file:"), strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), lower == ":memory:":
		return "sqlite"
	case strings.Contains(lower, "@tcp("), strings.Contains(lower, "@unix("):
		return "mysql"
	}
	return ""
}

// Open opens dsn with the dialect named by driver.
func Open(driver, dsn string) (*sql.DB, Dialect, error) {
	d, err := Lookup(driver)
	if err != nil {
		return nil, nil, err
	}
	var database *sql.DB
	switch d.(type) {
	case Postgres:
		database, err = OpenPostgres(dsn)
	case MySQL:
		database, err = OpenMySQL(dsn)
	case SQLite:
		database, err = OpenSQLite(dsn)
	}
	if err != nil {
		return nil, nil, err
	}
	return database, d, nil
}

// EnsureTable creates the journal table if it does not exist.
func EnsureTable(ctx context.Context, db *sql.DB, d Dialect, table string) error {
	for _, stmt := range d.JournalDDL(table) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure journal table %s: %w", table, err)
		}
	}
	return nil
}

func configurePool(db *sql.DB) {
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
}

func quoteParts(table string, q string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = q + strings.ReplaceAll(p, q, q+q) + q
	}
	return strings.Join(parts, ".")
}
