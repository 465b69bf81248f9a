package cache

import (
	"context"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// ErrSerialization is returned by Put when a value cannot be encoded. Nothing is
// written in that case.
var ErrSerialization = errors.New("payload serialization failed")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Domain names one of the cached data domains.
type Domain string

const (
	Weather     Domain = "weather"
	MarketPrice Domain = "price"
	Calendar    Domain = "calendar"
)

// Default time-to-live per domain. Calendar snapshots don't expire.
const (
	DefaultWeatherTTL = 6 * time.Hour
	DefaultPriceTTL   = 24 * time.Hour
)

// Payload is a cached weather or price document. Values come back the way
// encoding/json decodes them: numbers as float64, objects as
// map[string]interface{}, arrays as []interface{}. A Payload{"temp": 30} is
// read back as Payload{"temp": 30.0}.
type Payload = map[string]interface{}

// Events is a cached calendar day.
type Events = []interface{}

// Key identifies one cached subject within a domain.
type Key interface {
	values() []interface{}
}

// WeatherKey is the location string weather was fetched for.
type WeatherKey string

func (k WeatherKey) values() []interface{} { return []interface{}{string(k)} }

// PriceKey identifies a commodity quote at a mandi.
type PriceKey struct {
	Commodity string
	Market    string
	State     string
}

func (k PriceKey) values() []interface{} { return []interface{}{k.Commodity, k.Market, k.State} }

func (k PriceKey) String() string { return k.Commodity + "@" + k.Market + "," + k.State }

// CalendarKey identifies one user's events for a day.
type CalendarKey struct {
	UserID int64
	Date   time.Time
}

func (k CalendarKey) values() []interface{} {
	return []interface{}{k.UserID, k.Date.Format("2006-01-02")}
}

func (k CalendarKey) String() string {
	return strconv.FormatInt(k.UserID, 10) + "/" + k.Date.Format("2006-01-02")
}

// Entry is a value served from the cache.
type Entry[V any] struct {
	Value V
	// Cached is always true for entries read from the store, so callers can
	// tell them apart from values they just fetched.
	Cached   bool
	CachedAt time.Time
	// ExpiresAt is nil for calendar entries.
	ExpiresAt *time.Time
	// Stale is set by Latest when the entry is past its expiry.
	Stale bool
}

// FetchFunc loads a fresh value from the upstream source.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Repository is an interface for a domain cache
type Repository[K Key, V any] interface {
	Domain() Domain
	Put(ctx context.Context, key K, value V, ttl time.Duration) error
	Get(ctx context.Context, key K) (*Entry[V], bool, error)
	Latest(ctx context.Context, key K) (*Entry[V], bool, error)
	GetOrFetch(ctx context.Context, key K, ttl time.Duration, fetch FetchFunc[V]) (*Entry[V], error)
	Clear(ctx context.Context, key K) (bool, error)
	ClearAll(ctx context.Context) (int64, error)
	SweepExpired(ctx context.Context) (int64, error)
}

// WeatherRepository caches weather by location.
type WeatherRepository = Repository[WeatherKey, Payload]

// PriceRepository caches mandi prices by commodity, market and state.
type PriceRepository = Repository[PriceKey, Payload]

// CalendarRepository caches calendar events by user and day.
type CalendarRepository = Repository[CalendarKey, Events]
