package maintenance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/priyanshuchawda/farmer-automation-sub001/cache"
	"github.com/priyanshuchawda/farmer-automation-sub001/outbox"
	"github.com/priyanshuchawda/farmer-automation-sub001/store"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := store.Open(log.NewNopLogger(), filepath.Join(t.TempDir(), "farmcache.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func count(t *testing.T, db *sqlx.DB, query string) int {
	t.Helper()
	var n int
	if err := db.Get(&n, query); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestRunOnce(t *testing.T) {
	db := openTestDB(t)
	clock := &testClock{now: t0}
	l := log.NewNopLogger()
	ctx := context.Background()

	weather := cache.NewWeatherRepository(l, db, cache.WithClock(clock.Now))
	price := cache.NewPriceRepository(l, db, cache.WithClock(clock.Now))
	calendar := cache.NewCalendarRepository(l, db, cache.WithClock(clock.Now))
	ob := outbox.NewRepository(l, db, clock.Now)

	if err := weather.Put(ctx, "Pune", cache.Payload{"temp": 30}, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := weather.Put(ctx, "Nagpur", cache.Payload{"temp": 41}, 48*time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := price.Put(ctx, cache.PriceKey{Commodity: "Tomato", Market: "APMC Pune", State: "MH"}, cache.Payload{"modal_price": 1800}, 24*time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := calendar.Put(ctx, cache.CalendarKey{UserID: 1, Date: t0}, cache.Events{"sowing"}, 0); err != nil {
		t.Fatal(err)
	}
	synced, err := ob.Enqueue(ctx, "create_listing", map[string]string{"title": "Tractor"})
	if err != nil {
		t.Fatal(err)
	}
	if err := ob.MarkSynced(ctx, synced); err != nil {
		t.Fatal(err)
	}
	if _, err := ob.Enqueue(ctx, "create_listing", map[string]string{"title": "Sprayer"}); err != nil {
		t.Fatal(err)
	}

	clock.now = t0.Add(30 * 24 * time.Hour)
	s := NewSweeper(l, weather, price, ob)
	res, err := s.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := SweepResult{Weather: 2, Price: 1, Outbox: 1}
	if res != want {
		t.Errorf("got %+v, want %+v", res, want)
	}
	if res.Total() != 4 {
		t.Errorf("got total %d, want 4", res.Total())
	}

	if n := count(t, db, "SELECT COUNT(*) FROM calendar_cache"); n != 1 {
		t.Errorf("calendar swept: %d rows left", n)
	}
	if n := count(t, db, "SELECT COUNT(*) FROM sync_queue WHERE synced = 0"); n != 1 {
		t.Errorf("unsynced entry lost: %d left", n)
	}

	// Sweeping again deletes nothing and is not an error.
	res, err = s.RunOnce(ctx)
	if err != nil || res.Total() != 0 {
		t.Errorf("second run: %+v, %v", res, err)
	}
}

func TestSweepOutboxRetention(t *testing.T) {
	db := openTestDB(t)
	l := log.NewNopLogger()
	ctx := context.Background()
	now := t0.Add(10 * 24 * time.Hour)

	for _, age := range []time.Duration{2 * 24 * time.Hour, 4 * 24 * time.Hour} {
		clock := &testClock{now: now.Add(-age)}
		ob := outbox.NewRepository(l, db, clock.Now)
		id, err := ob.Enqueue(ctx, "sync_profile", map[string]string{})
		if err != nil {
			t.Fatal(err)
		}
		if err := ob.MarkSynced(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	ob := outbox.NewRepository(l, db, func() time.Time { return now })
	s := NewSweeper(l, nil, nil, ob, WithRetention(3*24*time.Hour))

	n, err := s.SweepOutbox(ctx, 0)
	if err != nil || n != 1 {
		t.Errorf("configured retention: n=%d err=%v, want 1", n, err)
	}
	n, err = s.SweepOutbox(ctx, 24*time.Hour)
	if err != nil || n != 1 {
		t.Errorf("explicit retention: n=%d err=%v, want 1", n, err)
	}
}

type failingCache struct{}

func (failingCache) SweepExpired(ctx context.Context) (int64, error) {
	return 0, errors.New("disk I/O error")
}

type countingCache struct{ n int64 }

func (c countingCache) SweepExpired(ctx context.Context) (int64, error) { return c.n, nil }

func TestSweepExpiredCacheContinuesAfterFailure(t *testing.T) {
	s := NewSweeper(log.NewNopLogger(), failingCache{}, countingCache{n: 3}, nil)
	res, err := s.SweepExpiredCache(context.Background())
	if err == nil {
		t.Error("expected the weather failure to be reported")
	}
	if res.Price != 3 {
		t.Errorf("got %+v, want price sweep to run", res)
	}
}

func TestStart(t *testing.T) {
	s := NewSweeper(log.NewNopLogger(), nil, nil, nil, WithSchedule("not a schedule"))
	if err := s.Start(); err == nil {
		t.Error("expected invalid schedule to fail")
	}

	s = NewSweeper(log.NewNopLogger(), countingCache{}, countingCache{}, nil, WithSchedule("@every 1h"))
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	<-s.Stop().Done()
}

func TestAddJob(t *testing.T) {
	s := NewSweeper(log.NewNopLogger(), nil, nil, nil)
	noop := func(ctx context.Context) error { return nil }
	if err := s.AddJob("replay", "every minute", noop); err == nil {
		t.Error("expected invalid schedule to fail")
	}

	ran := make(chan struct{}, 1)
	if err := s.AddJob("replay", "@every 1s", func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return errors.New("upstream down")
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() { <-s.Stop().Done() }()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Error("job did not run")
	}
}
