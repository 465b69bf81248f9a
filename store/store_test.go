package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(log.NewNopLogger(), filepath.Join(t.TempDir(), "farmcache.db"), WithBusyTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenEnablesWAL(t *testing.T) {
	db := openTestDB(t)

	var mode string
	if err := db.Get(&mode, "PRAGMA journal_mode"); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("got journal mode %q, want wal", mode)
	}

	var timeout int
	if err := db.Get(&timeout, "PRAGMA busy_timeout"); err != nil {
		t.Fatal(err)
	}
	if timeout != 5000 {
		t.Errorf("got busy timeout %d, want 5000", timeout)
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	db := openTestDB(t)

	for _, table := range []string{"weather_cache", "price_cache", "calendar_cache", "sync_queue"} {
		t.Run(table, func(t *testing.T) {
			var count int
			if err := db.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table); err != nil {
				t.Fatal(err)
			}
			if count != 1 {
				t.Errorf("table %s missing", table)
			}
		})
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "farmcache.db")
	for i := 0; i < 2; i++ {
		db, err := Open(log.NewNopLogger(), path)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		db.Close()
	}
}

func TestOpenUnavailable(t *testing.T) {
	// A directory is not a database file.
	_, err := Open(log.NewNopLogger(), t.TempDir())
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("got %v, want ErrStorageUnavailable", err)
	}

	_, err = Open(log.NewNopLogger(), "")
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("got %v, want ErrStorageUnavailable for empty path", err)
	}
}

func TestTxCommits(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := Tx(ctx, db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO sync_queue (action_type, data) VALUES ('a', '{}')")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM sync_queue"); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("got %d rows, want 1", count)
	}
}

func TestTxRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := Tx(ctx, db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO sync_queue (action_type, data) VALUES ('a', '{}')"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		Tx(ctx, db, func(tx *sqlx.Tx) error {
			tx.ExecContext(ctx, "INSERT INTO sync_queue (action_type, data) VALUES ('b', '{}')")
			panic("unit of work failed")
		})
	}()

	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM sync_queue"); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("got %d rows after rollback, want 0", count)
	}

	// Every connection went back to the pool.
	if inUse := db.Stats().InUse; inUse != 0 {
		t.Errorf("got %d connections in use, want 0", inUse)
	}
}

var classifyTests = []struct {
	name        string
	in          error
	unavailable bool
}{
	{"nil", nil, false},
	{"busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
	{"wrapped locked", errors.Wrap(sqlite3.Error{Code: sqlite3.ErrLocked}, "upserting row"), true},
	{"corrupt", sqlite3.Error{Code: sqlite3.ErrCorrupt}, true},
	{"constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
	{"plain", errors.New("something else"), false},
	{"closed pool", errors.Wrap(errors.New("sql: database is closed"), "beginning transaction"), true},
}

func TestClassify(t *testing.T) {
	for _, tt := range classifyTests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(Classify(tt.in), ErrStorageUnavailable)
			if got != tt.unavailable {
				t.Errorf("got %t, want %t", got, tt.unavailable)
			}
		})
	}
}

var offsetTests = []struct {
	in  time.Duration
	out string
}{
	{6 * time.Hour, "+21600 seconds"},
	{-7 * 24 * time.Hour, "-604800 seconds"},
	{1500 * time.Millisecond, "+1 seconds"},
}

func TestOffset(t *testing.T) {
	for _, tt := range offsetTests {
		if got := Offset(tt.in); got != tt.out {
			t.Errorf("Offset(%s) = %q, want %q", tt.in, got, tt.out)
		}
	}
}

func TestClockNow(t *testing.T) {
	at := time.Date(2024, 6, 1, 15, 30, 0, 0, time.FixedZone("IST", 19800)).Add(400 * time.Millisecond)
	c := Clock(func() time.Time { return at })
	want := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	if got := c.Now(); !got.Equal(want) || got.Location() != time.UTC {
		t.Errorf("got %s, want %s", got, want)
	}

	var wall Clock
	if d := time.Since(wall.Now()); d < 0 || d > time.Minute {
		t.Errorf("nil clock should follow the wall clock, off by %s", d)
	}
}

func TestClockArg(t *testing.T) {
	var c Clock
	if c.Arg() != nil {
		t.Error("nil clock should defer to the database")
	}

	c = func() time.Time { return time.Date(2024, 6, 1, 10, 30, 15, 999, time.FixedZone("IST", 19800)) }
	if got := c.Arg(); got != "2024-06-01 05:00:15" {
		t.Errorf("got %v, want UTC second precision", got)
	}
}
