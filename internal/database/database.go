package database

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its base FS and dialect in package globals
var migrateMu sync.Mutex

type DB struct {
	db *sql.DB
}

var pragmas = []string{
	"PRAGMA busy_timeout = 10000", // must come first
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA temp_store = MEMORY",
}

// InitDB opens the sqlite database at dbPath and migrates it. Opening is
// retried with doubling backoff since wharfd and wharfctl may race on a
// fresh file.
func InitDB(dbPath string) (*DB, error) {
	var db *sql.DB
	err := retry.Call(retry.CallArgs{
		Clock:       clock.WallClock,
		Attempts:    5,
		Delay:       100 * time.Millisecond,
		BackoffFunc: retry.DoubleDelay,
		Func: func() error {
			var err error
			db, err = open(dbPath)
			return err
		},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize database %s: %w", dbPath, retry.LastError(err))
	}
	return &DB{db: db}, nil
}

func open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	// one connection keeps pragmas and transactions on the same handle
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// GetDB exposes the handle to the logger and the metrics collector
func (d *DB) GetDB() *sql.DB {
	return d.db
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	s := "?"
	for i := 1; i < n; i++ {
		s += ",?"
	}
	return s
}
