package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type Postgres struct{}

func (Postgres) Name() string             { return "postgres" }
func (Postgres) DriverName() string       { return "pgx" }
func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (Postgres) TransactionalDDL() bool   { return true }

func (Postgres) QuoteTable(table string) string { return quoteParts(table, `"`) }

func (p Postgres) JournalDDL(table string) []string {
	var stmts []string
	if i := strings.Index(table, "."); i > 0 {
		stmts = append(stmts, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, quoteParts(table[:i], `"`)))
	}
	stmts = append(stmts, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id VARCHAR(255) PRIMARY KEY,
  checksum CHAR(64) NOT NULL,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  applied_by VARCHAR(255) NOT NULL,
  duration_ms BIGINT NOT NULL,
  execution_order BIGINT NOT NULL
)`, p.QuoteTable(table)))
	return stmts
}

func (Postgres) DatabaseName(dsn string) string {
	cfg, err := pgconn.ParseConfig(NormalizePostgresDSN(dsn))
	if err != nil || cfg.Database == "" {
		return "db"
	}
	return cfg.Database
}

// OpenPostgres opens a pgx-backed *sql.DB. Npgsql style connection strings
// ("Host=...;Database=...") are accepted as well.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", NormalizePostgresDSN(dsn))
	if err != nil {
		return nil, err
	}
	configurePool(db)
	return db, nil
}

var adoKeys = map[string]string{
	"host":                     "host",
	"server":                   "host",
	"port":                     "port",
	"database":                 "dbname",
	"username":                 "user",
	"user id":                  "user",
	"userid":                   "user",
	"user":                     "user",
	"password":                 "password",
	"ssl mode":                 "sslmode",
	"sslmode":                  "sslmode",
	"search path":              "search_path",
	"application name":         "application_name",
	"timeout":                  "connect_timeout",
	"command timeout":          "statement_timeout",
	"include error detail":     "",
	"trust server certificate": "",
}

// NormalizePostgresDSN converts a semicolon separated Npgsql connection
// string into libpq keyword/value form. URLs and keyword/value strings are
// returned unchanged.
func NormalizePostgresDSN(dsn string) string {
	s := strings.TrimSpace(dsn)
	if strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://") || !strings.Contains(s, ";") {
		return dsn
	}
	var out []string
	for _, part := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key, known := adoKeys[strings.ToLower(strings.TrimSpace(k))]
		if !known || key == "" {
			continue
		}
		v = strings.TrimSpace(v)
		if key == "sslmode" {
			v = strings.ToLower(v)
		}
		if key == "statement_timeout" {
			// Npgsql uses seconds, postgres expects milliseconds.
			v += "s"
		}
		out = append(out, key+"="+quoteValue(v))
	}
	return strings.Join(out, " ")
}

func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
