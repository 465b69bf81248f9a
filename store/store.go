// Package store owns the embedded SQLite file shared by the offline cache and
// the sync outbox. It opens the database in write-ahead-log mode with a bounded
// busy wait, applies the schema and runs units of work inside transactions.
package store

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// DefaultBusyTimeout is how long a connection waits on a locked database before giving up.
const DefaultBusyTimeout = 30 * time.Second

type options struct {
	busyTimeout  time.Duration
	maxOpenConns int
}

// Option customises how the database is opened.
type Option func(*options)

// WithBusyTimeout overrides how long a writer waits for the database lock.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// WithMaxOpenConns caps the size of the connection pool.
func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxOpenConns = n
		}
	}
}

// Open opens (or creates) the database file at path, switches it to WAL mode and
// migrates the schema. Every connection handed out by the returned pool carries
// the same journal mode and busy timeout, so concurrent units of work never share
// a connection.
func Open(l log.Logger, path string, opts ...Option) (*sqlx.DB, error) {
	o := options{
		busyTimeout:  DefaultBusyTimeout,
		maxOpenConns: 8,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if strings.TrimSpace(path) == "" {
		return nil, unavailable(errors.New("database path is required"))
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, unavailable(errors.Wrap(err, "creating database directory"))
		}
	}

	db, err := sqlx.Open("sqlite3", dsn(path, o.busyTimeout))
	if err != nil {
		return nil, unavailable(errors.Wrap(err, "opening database"))
	}
	db.SetMaxOpenConns(o.maxOpenConns)
	db.SetMaxIdleConns(o.maxOpenConns)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, unavailable(errors.Wrap(err, "pinging database"))
	}

	var mode string
	if err := db.Get(&mode, "PRAGMA journal_mode"); err != nil {
		db.Close()
		return nil, unavailable(errors.Wrap(err, "reading journal mode"))
	}
	if !strings.EqualFold(mode, "wal") {
		db.Close()
		return nil, unavailable(errors.Errorf("journal mode is %q, want wal", mode))
	}

	if err := migrate(l, db); err != nil {
		db.Close()
		return nil, Classify(errors.Wrap(err, "migrating schema"))
	}

	level.Debug(l).Log("msg", "database ready", "path", path, "busy_timeout", o.busyTimeout)
	return db, nil
}

func dsn(path string, busyTimeout time.Duration) string {
	v := url.Values{}
	v.Set("_journal_mode", "WAL")
	v.Set("_busy_timeout", fmt.Sprint(busyTimeout.Milliseconds()))
	v.Set("_synchronous", "NORMAL")
	return "file:" + path + "?" + v.Encode()
}
