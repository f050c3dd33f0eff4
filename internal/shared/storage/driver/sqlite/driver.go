// Package sqlite SQLite 结果库驱动（modernc.org/sqlite，纯 Go）
//
// 开发、测试和单机部署使用。":memory:" 库限制为单连接。
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"codec-bench/internal/shared/storage/dbutil"

	_ "modernc.org/sqlite"
)

// Dialect SQLite 方言
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

// NewDialect 创建 SQLite 方言
func NewDialect() *Dialect { return &Dialect{} }

func (*Dialect) DriverType() dbutil.DriverType { return dbutil.DriverSQLite }

func (*Dialect) Rebind(query string) string { return dbutil.DollarToQuestion(query) }

func (*Dialect) Now() string { return "datetime('now')" }

func (*Dialect) AutoMigrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

// Open 打开 SQLite 库，dsn 如 "file:bench.db?cache=shared&mode=rwc" 或 ":memory:"
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 每个连接各自持有一个内存库
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", p, err)
		}
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS submissions (
    submission_id   TEXT PRIMARY KEY,
    email           TEXT NOT NULL,
    name            TEXT NOT NULL,
    submission_name TEXT NOT NULL,
    created_at      DATETIME DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS results (
    submission_id             TEXT PRIMARY KEY,
    encoding_runtime          REAL,
    decoding_runtime          REAL,
    ratio                     REAL,
    accuracy                  REAL,
    peptide_percent_preserved REAL,
    peptide_percent_missed    REAL,
    peptide_percent_new       REAL,
    status                    TEXT NOT NULL DEFAULT 'none'
        CHECK (status IN ('none', 'pending', 'success', 'failed')),
    error                     TEXT,
    updated_at                DATETIME DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_results_status ON results(status);
`
