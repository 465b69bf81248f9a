package offline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/priyanshuchawda/farmer-automation-sub001/cache"
	"github.com/priyanshuchawda/farmer-automation-sub001/maintenance"
	"github.com/priyanshuchawda/farmer-automation-sub001/outbox"
	"github.com/priyanshuchawda/farmer-automation-sub001/source"
	"github.com/priyanshuchawda/farmer-automation-sub001/telemetry"
)

var (
	// ErrNoData means nothing is cached and the upstream could not be reached.
	ErrNoData = errors.New("no data available")
	// ErrNoUpstream is returned by fetches for a domain without an upstream URL.
	ErrNoUpstream = errors.New("no upstream configured")
)

// Stores groups the persistence layer the service works on.
type Stores struct {
	Weather  cache.WeatherRepository
	Price    cache.PriceRepository
	Calendar cache.CalendarRepository
	Outbox   outbox.Repository
	Stats    telemetry.Repository
	Sweeper  *maintenance.Sweeper
}

// Config holds upstream URL templates and per-domain TTLs. Weather URLs may use
// {location}; price URLs {commodity}, {market} and {state}.
type Config struct {
	WeatherURL string
	PriceURL   string
	SyncURL    string
	WeatherTTL time.Duration
	PriceTTL   time.Duration
}

// Lookup is a value handed to the UI together with where it came from.
type Lookup struct {
	Data     interface{} `json:"data"`
	Cached   bool        `json:"cached"`
	CachedAt time.Time   `json:"cached_at"`
	// Stale is set when the value is past its expiry and was only served
	// because the upstream failed.
	Stale bool `json:"stale"`
	// Offline is set when the upstream failed and the value came from the cache.
	Offline bool `json:"offline"`
}

// SubmitResult tells the caller whether an action went out or was queued.
type SubmitResult struct {
	Queued bool  `json:"queued"`
	ID     int64 `json:"id,omitempty"`
}

// Status is the offline indicator shown in the UI.
type Status struct {
	telemetry.Stats
	Online bool `json:"online"`
}

type service struct {
	l        log.Logger
	st       Stores
	upstream source.Repository
	replayer *outbox.Replayer
	cfg      Config
	online   atomic.Bool
}

// NewService initializes a new offline service
func NewService(l log.Logger, st Stores, upstream source.Repository, cfg Config) *service {
	s := &service{
		l:        l,
		st:       st,
		upstream: upstream,
		replayer: outbox.NewReplayer(log.With(l, "component", "replayer"), st.Outbox),
		cfg:      cfg,
	}
	s.online.Store(true)
	if cfg.SyncURL != "" && upstream != nil {
		s.replayer.HandleDefault(outbox.HandlerFunc(s.deliver))
	}
	return s
}

// Replayer exposes the replayer so callers can register per-action handlers.
func (s *service) Replayer() *outbox.Replayer {
	return s.replayer
}

// Weather returns weather for location, preferring the cache.
func (s *service) Weather(ctx context.Context, location string) (*Lookup, error) {
	fetch := func(ctx context.Context) (cache.Payload, error) {
		return s.fetch(ctx, s.cfg.WeatherURL, map[string]string{"location": location})
	}
	return lookup[cache.WeatherKey](ctx, s, s.st.Weather, cache.WeatherKey(location), s.cfg.WeatherTTL, fetch)
}

// Price returns the mandi price for key, preferring the cache.
func (s *service) Price(ctx context.Context, key cache.PriceKey) (*Lookup, error) {
	fetch := func(ctx context.Context) (cache.Payload, error) {
		return s.fetch(ctx, s.cfg.PriceURL, map[string]string{
			"commodity": key.Commodity,
			"market":    key.Market,
			"state":     key.State,
		})
	}
	return lookup[cache.PriceKey](ctx, s, s.st.Price, key, s.cfg.PriceTTL, fetch)
}

func (s *service) fetch(ctx context.Context, tmpl string, values map[string]string) (cache.Payload, error) {
	if tmpl == "" || s.upstream == nil {
		return nil, ErrNoUpstream
	}
	return s.upstream.Fetch(ctx, source.Expand(tmpl, values))
}

// lookup reads through the cache. When the upstream fails it falls back to
// whatever the cache still holds for key, expired or not.
func lookup[K cache.Key](ctx context.Context, s *service, r cache.Repository[K, cache.Payload], key K, ttl time.Duration, fetch cache.FetchFunc[cache.Payload]) (*Lookup, error) {
	entry, err := r.GetOrFetch(ctx, key, ttl, fetch)
	if err == nil {
		if !entry.Cached {
			s.online.Store(true)
		}
		return &Lookup{Data: entry.Value, Cached: entry.Cached, CachedAt: entry.CachedAt}, nil
	}

	if !errors.Is(err, ErrNoUpstream) {
		s.online.Store(false)
	}
	level.Warn(s.l).Log("msg", "upstream fetch failed, trying cache", "domain", r.Domain(), "key", key, "err", err)

	stale, ok, lerr := r.Latest(ctx, key)
	if lerr != nil {
		return nil, lerr
	}
	if !ok {
		return nil, errors.Wrapf(ErrNoData, "%s: %v", r.Domain(), err)
	}
	return &Lookup{
		Data:     stale.Value,
		Cached:   true,
		CachedAt: stale.CachedAt,
		Stale:    stale.Stale,
		Offline:  true,
	}, nil
}

// Calendar returns the cached events of userID for date.
func (s *service) Calendar(ctx context.Context, userID int64, date time.Time) (*Lookup, error) {
	entry, ok, err := s.st.Calendar.Get(ctx, cache.CalendarKey{UserID: userID, Date: date})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrNoData, "calendar for user %d on %s", userID, date.Format("2006-01-02"))
	}
	return &Lookup{Data: entry.Value, Cached: true, CachedAt: entry.CachedAt}, nil
}

// SaveCalendar replaces the cached events of userID for date.
func (s *service) SaveCalendar(ctx context.Context, userID int64, date time.Time, events cache.Events) error {
	if events == nil {
		events = cache.Events{}
	}
	return s.st.Calendar.Put(ctx, cache.CalendarKey{UserID: userID, Date: date}, events, 0)
}

// Submit sends an action upstream right away and queues it when that fails.
func (s *service) Submit(ctx context.Context, actionType string, payload interface{}) (SubmitResult, error) {
	if s.cfg.SyncURL != "" && s.upstream != nil {
		err := s.upstream.Deliver(ctx, s.cfg.SyncURL, map[string]interface{}{
			"action_type": actionType,
			"data":        payload,
		})
		if err == nil {
			s.online.Store(true)
			return SubmitResult{}, nil
		}
		s.online.Store(false)
		level.Warn(s.l).Log("msg", "delivering action failed, queueing", "action_type", actionType, "err", err)
	}

	id, err := s.st.Outbox.Enqueue(ctx, actionType, payload)
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Queued: true, ID: id}, nil
}

// Enqueue records an action for later replay without trying the upstream.
func (s *service) Enqueue(ctx context.Context, actionType string, payload interface{}) (int64, error) {
	return s.st.Outbox.Enqueue(ctx, actionType, payload)
}

// Pending lists queued actions, oldest first.
func (s *service) Pending(ctx context.Context) ([]outbox.Entry, error) {
	return s.st.Outbox.ListPending(ctx)
}

// MarkSynced records that the caller replayed entry id itself.
func (s *service) MarkSynced(ctx context.Context, id int64) error {
	return s.st.Outbox.MarkSynced(ctx, id)
}

// Replay pushes queued actions through their handlers.
func (s *service) Replay(ctx context.Context) (outbox.ReplayResult, error) {
	return s.replayer.Replay(ctx)
}

func (s *service) deliver(ctx context.Context, e outbox.Entry) error {
	err := s.upstream.Deliver(ctx, s.cfg.SyncURL, map[string]interface{}{
		"id":          e.ID,
		"action_type": e.ActionType,
		"data":        e.Data,
		"created_at":  e.CreatedAt,
	})
	s.online.Store(err == nil)
	return err
}

// Sweep runs both maintenance sweeps now.
func (s *service) Sweep(ctx context.Context) (maintenance.SweepResult, error) {
	return s.st.Sweeper.RunOnce(ctx)
}

// ClearDomain removes every entry of a domain.
func (s *service) ClearDomain(ctx context.Context, d cache.Domain) (int64, error) {
	switch d {
	case cache.Weather:
		return s.st.Weather.ClearAll(ctx)
	case cache.MarketPrice:
		return s.st.Price.ClearAll(ctx)
	case cache.Calendar:
		return s.st.Calendar.ClearAll(ctx)
	}
	return 0, errors.Errorf("unknown cache domain %q", d)
}

// ClearWeather removes the entry for location.
func (s *service) ClearWeather(ctx context.Context, location string) (bool, error) {
	return s.st.Weather.Clear(ctx, cache.WeatherKey(location))
}

// ClearPrice removes the entry for key.
func (s *service) ClearPrice(ctx context.Context, key cache.PriceKey) (bool, error) {
	return s.st.Price.Clear(ctx, key)
}

// Status reports cache counts and whether the last upstream call worked.
func (s *service) Status(ctx context.Context) (Status, error) {
	st, err := s.st.Stats.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{Stats: st, Online: s.online.Load()}, nil
}
