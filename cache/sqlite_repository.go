package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/priyanshuchawda/farmer-automation-sub001/store"
)

// table describes how a domain is laid out in the database.
type table struct {
	domain     Domain
	name       string
	keyColumns []string
	dataColumn string
	expiring   bool
	defaultTTL time.Duration
}

var (
	weatherTable = table{
		domain:     Weather,
		name:       "weather_cache",
		keyColumns: []string{"location"},
		dataColumn: "data",
		expiring:   true,
		defaultTTL: DefaultWeatherTTL,
	}
	priceTable = table{
		domain:     MarketPrice,
		name:       "price_cache",
		keyColumns: []string{"commodity", "market", "state"},
		dataColumn: "data",
		expiring:   true,
		defaultTTL: DefaultPriceTTL,
	}
	calendarTable = table{
		domain:     Calendar,
		name:       "calendar_cache",
		keyColumns: []string{"user_id", "date"},
		dataColumn: "events",
	}
)

type queries struct {
	put, get, latest, clear, clearAll, sweep string
}

func (t table) queries() queries {
	match := make([]string, len(t.keyColumns))
	for i, c := range t.keyColumns {
		match[i] = c + " = ?"
	}
	where := strings.Join(match, " AND ")
	keys := strings.Join(t.keyColumns, ", ")
	placeholders := strings.Repeat("?, ", len(t.keyColumns))

	q := queries{
		clear:    fmt.Sprintf("DELETE FROM %s WHERE %s", t.name, where),
		clearAll: fmt.Sprintf("DELETE FROM %s", t.name),
	}
	if t.expiring {
		q.put = fmt.Sprintf("INSERT OR REPLACE INTO %s (%s, data, cached_at, expires_at) VALUES (%s?, %s, datetime(%s, ?))",
			t.name, keys, placeholders, store.NowExpr, store.NowExpr)
		q.get = fmt.Sprintf("SELECT data, cached_at, expires_at FROM %s WHERE %s AND expires_at > %s",
			t.name, where, store.NowExpr)
		q.latest = fmt.Sprintf("SELECT data, cached_at, expires_at, expires_at <= %s AS stale FROM %s WHERE %s",
			store.NowExpr, t.name, where)
		q.sweep = fmt.Sprintf("DELETE FROM %s WHERE expires_at <= %s", t.name, store.NowExpr)
	} else {
		q.put = fmt.Sprintf("INSERT OR REPLACE INTO %s (%s, %s, cached_at) VALUES (%s?, %s)",
			t.name, keys, t.dataColumn, placeholders, store.NowExpr)
		q.get = fmt.Sprintf("SELECT %s AS data, cached_at, NULL AS expires_at FROM %s WHERE %s",
			t.dataColumn, t.name, where)
		q.latest = q.get
	}
	return q
}

type row struct {
	Data      string     `db:"data"`
	CachedAt  time.Time  `db:"cached_at"`
	ExpiresAt *time.Time `db:"expires_at"`
	Stale     bool       `db:"stale"`
}

type options struct {
	clock store.Clock
	ttl   time.Duration
}

// Option customises a cache repository.
type Option func(*options)

// WithClock overrides the database clock, mostly for tests.
func WithClock(c store.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithTTL overrides the domain's default time-to-live.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

type repository[K Key, V any] struct {
	l     log.Logger
	db    *sqlx.DB
	t     table
	q     queries
	clock store.Clock
	ttl   time.Duration
}

func newRepository[K Key, V any](l log.Logger, db *sqlx.DB, t table, opts []Option) *repository[K, V] {
	o := options{ttl: t.defaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	return &repository[K, V]{
		l:     log.With(l, "domain", t.domain),
		db:    db,
		t:     t,
		q:     t.queries(),
		clock: o.clock,
		ttl:   o.ttl,
	}
}

// NewWeatherRepository initializes a new weather cache repository
func NewWeatherRepository(l log.Logger, db *sqlx.DB, opts ...Option) *repository[WeatherKey, Payload] {
	return newRepository[WeatherKey, Payload](l, db, weatherTable, opts)
}

// NewPriceRepository initializes a new market price cache repository
func NewPriceRepository(l log.Logger, db *sqlx.DB, opts ...Option) *repository[PriceKey, Payload] {
	return newRepository[PriceKey, Payload](l, db, priceTable, opts)
}

// NewCalendarRepository initializes a new calendar cache repository. Calendar
// entries never expire; a day is replaced by writing it again.
func NewCalendarRepository(l log.Logger, db *sqlx.DB, opts ...Option) *repository[CalendarKey, Events] {
	return newRepository[CalendarKey, Events](l, db, calendarTable, opts)
}

func (s *repository[K, V]) Domain() Domain {
	return s.t.domain
}

// Put stores value under key, replacing whatever was there. A ttl of zero uses
// the repository default. The ttl is ignored for domains that don't expire.
func (s *repository[K, V]) Put(ctx context.Context, key K, value V, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(ErrSerialization, "encoding %s payload: %v", s.t.domain, err)
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.clock.Arg()
	args := append(key.values(), string(data), now)
	if s.t.expiring {
		args = append(args, now, store.Offset(ttl))
	}

	return store.Tx(ctx, s.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, s.q.put, args...)
		return errors.Wrapf(err, "upserting %s row", s.t.name)
	})
}

// Get returns the live entry for key. An expired or missing entry is reported
// as a miss, never as an error. So is an entry whose payload no longer decodes.
func (s *repository[K, V]) Get(ctx context.Context, key K) (*Entry[V], bool, error) {
	args := key.values()
	if s.t.expiring {
		args = append(args, s.clock.Arg())
	}
	entry, ok, err := s.read(ctx, s.q.get, args)
	if err != nil {
		return nil, false, err
	}
	if ok {
		lookups.WithLabelValues(string(s.t.domain), "hit").Inc()
	} else {
		lookups.WithLabelValues(string(s.t.domain), "miss").Inc()
	}
	return entry, ok, nil
}

// Latest returns the entry for key even if it has expired but not been swept
// yet. Expired entries come back with Stale set.
func (s *repository[K, V]) Latest(ctx context.Context, key K) (*Entry[V], bool, error) {
	var args []interface{}
	if s.t.expiring {
		args = append(args, s.clock.Arg())
	}
	return s.read(ctx, s.q.latest, append(args, key.values()...))
}

func (s *repository[K, V]) read(ctx context.Context, query string, args []interface{}) (*Entry[V], bool, error) {
	var r row
	err := store.Tx(ctx, s.db, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &r, query, args...)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "reading %s row", s.t.name)
	}

	var v V
	if err := json.Unmarshal([]byte(r.Data), &v); err != nil {
		level.Warn(s.l).Log("msg", "ignoring undecodable cache entry", "err", err)
		lookups.WithLabelValues(string(s.t.domain), "corrupt").Inc()
		return nil, false, nil
	}
	return &Entry[V]{
		Value:     v,
		Cached:    true,
		CachedAt:  r.CachedAt,
		ExpiresAt: r.ExpiresAt,
		Stale:     r.Stale,
	}, true, nil
}

// GetOrFetch serves key from the cache and only calls fetch on a miss. A
// successfully fetched value is written through before it is returned. Fetch
// errors are returned as they are so the caller can decide on a fallback.
func (s *repository[K, V]) GetOrFetch(ctx context.Context, key K, ttl time.Duration, fetch FetchFunc[V]) (*Entry[V], error) {
	entry, ok, err := s.Get(ctx, key)
	if err != nil {
		// The store being down shouldn't stop a live fetch.
		level.Warn(s.l).Log("msg", "cache read failed, fetching", "err", err)
	}
	if ok {
		return entry, nil
	}

	v, err := fetch(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", s.t.domain)
	}
	if err := s.Put(ctx, key, v, ttl); err != nil {
		level.Warn(s.l).Log("msg", "writing fetched value to cache", "err", err)
	}
	return &Entry[V]{Value: v, CachedAt: s.clock.Now()}, nil
}

// Clear removes the entry for key and reports whether there was one.
func (s *repository[K, V]) Clear(ctx context.Context, key K) (bool, error) {
	var n int64
	err := store.Tx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.q.clear, key.values()...)
		if err != nil {
			return errors.Wrapf(err, "deleting %s row", s.t.name)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n > 0, err
}

// ClearAll empties the domain and returns how many entries were removed.
func (s *repository[K, V]) ClearAll(ctx context.Context) (int64, error) {
	var n int64
	err := store.Tx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.q.clearAll)
		if err != nil {
			return errors.Wrapf(err, "clearing %s", s.t.name)
		}
		n, err = res.RowsAffected()
		return err
	})
	if err == nil {
		level.Info(s.l).Log("msg", "cache cleared", "deleted", n)
	}
	return n, err
}

// SweepExpired deletes entries whose expiry has passed. Domains that don't
// expire are left alone.
func (s *repository[K, V]) SweepExpired(ctx context.Context) (int64, error) {
	if !s.t.expiring {
		return 0, nil
	}
	var n int64
	err := store.Tx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.q.sweep, s.clock.Arg())
		if err != nil {
			return errors.Wrapf(err, "sweeping %s", s.t.name)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
