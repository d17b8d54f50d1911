package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

type MySQL struct{}

func (MySQL) Name() string               { return "mysql" }
func (MySQL) DriverName() string         { return "mysql" }
func (MySQL) Placeholder(int) string     { return "?" }
func (MySQL) TransactionalDDL() bool     { return false }
func (MySQL) QuoteTable(t string) string { return quoteParts(t, "`") }

func (m MySQL) JournalDDL(table string) []string {
	return []string{fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id VARCHAR(255) NOT NULL PRIMARY KEY,
  checksum CHAR(64) NOT NULL,
  applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  applied_by VARCHAR(255) NOT NULL,
  duration_ms BIGINT NOT NULL,
  execution_order BIGINT NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, m.QuoteTable(table))}
}

func (MySQL) DatabaseName(dsn string) string {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil || cfg.DBName == "" {
		return "db"
	}
	return cfg.DBName
}

func OpenMySQL(dsn string) (*sql.DB, error) {
	// parseTime for applied_at, multiStatements for multi statement scripts
	lower := strings.ToLower(dsn)
	for _, opt := range []string{"parseTime=true", "multiStatements=true"} {
		key, _, _ := strings.Cut(opt, "=")
		if strings.Contains(lower, strings.ToLower(key)+"=") {
			continue
		}
		if strings.Contains(dsn, "?") {
			dsn += "&" + opt
		} else {
			dsn += "?" + opt
		}
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	configurePool(db)
	return db, nil
}
