// Package maintenance keeps the cache and outbox tables bounded. Sweeps run on
// a cron schedule and can also be triggered on demand.
package maintenance

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"

	"github.com/priyanshuchawda/farmer-automation-sub001/outbox"
)

const defaultSchedule = "@hourly"

// ExpiringCache is a cache domain that can drop its expired entries.
type ExpiringCache interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Pruner removes synced outbox entries past the retention window.
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// SweepResult reports how many rows each sweep removed.
type SweepResult struct {
	Weather int64 `json:"weather_deleted"`
	Price   int64 `json:"price_deleted"`
	Outbox  int64 `json:"outbox_deleted"`
}

// Total is the number of rows removed across all tables.
func (r SweepResult) Total() int64 {
	return r.Weather + r.Price + r.Outbox
}

// Sweeper deletes expired weather and price entries and prunes old synced
// outbox entries. Calendar entries are never swept.
type Sweeper struct {
	l         log.Logger
	weather   ExpiringCache
	price     ExpiringCache
	outbox    Pruner
	cron      *cron.Cron
	schedule  string
	retention time.Duration
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithSchedule overrides the cron specification used by Start.
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithRetention overrides how long synced outbox entries are kept.
func WithRetention(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithCron injects a preconfigured cron instance.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// NewSweeper initializes a new sweeper. Nil dependencies are skipped.
func NewSweeper(l log.Logger, weather, price ExpiringCache, ob Pruner, opts ...Option) *Sweeper {
	s := &Sweeper{
		l:         l,
		weather:   weather,
		price:     price,
		outbox:    ob,
		schedule:  defaultSchedule,
		retention: outbox.DefaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cronLogger{l: log.With(l, "component", "cron")}))
	}
	return s
}

// SweepExpiredCache deletes weather and price entries whose expiry has passed.
// Each table is swept in its own transaction; a failure on one doesn't stop the
// other.
func (s *Sweeper) SweepExpiredCache(ctx context.Context) (SweepResult, error) {
	var (
		res  SweepResult
		errs error
		err  error
	)
	if s.weather != nil {
		if res.Weather, err = s.weather.SweepExpired(ctx); err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, "sweeping weather cache"))
		}
	}
	if s.price != nil {
		if res.Price, err = s.price.SweepExpired(ctx); err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, "sweeping price cache"))
		}
	}
	return res, errs
}

// SweepOutbox deletes synced entries older than retention. A zero retention
// uses the configured default.
func (s *Sweeper) SweepOutbox(ctx context.Context, retention time.Duration) (int64, error) {
	if s.outbox == nil {
		return 0, nil
	}
	if retention <= 0 {
		retention = s.retention
	}
	n, err := s.outbox.Prune(ctx, retention)
	return n, errors.Wrap(err, "pruning outbox")
}

// RunOnce runs both sweeps and aggregates their errors.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	res, errs := s.SweepExpiredCache(ctx)
	n, err := s.SweepOutbox(ctx, 0)
	res.Outbox = n
	errs = multierr.Append(errs, err)

	if errs != nil {
		level.Warn(s.l).Log("msg", "sweep finished with errors", "err", errs)
	}
	level.Info(s.l).Log("msg", "sweep finished", "weather_deleted", res.Weather, "price_deleted", res.Price, "outbox_deleted", res.Outbox)
	return res, errs
}

// Start schedules RunOnce and starts the scheduler.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.RunOnce(context.Background())
	}); err != nil {
		return errors.Wrapf(err, "scheduling sweep %q", s.schedule)
	}
	s.cron.Start()
	level.Info(s.l).Log("msg", "sweeper started", "schedule", s.schedule, "retention", s.retention)
	return nil
}

// AddJob schedules fn next to the sweep, for example an outbox replay pass.
// Jobs added after Start run as well.
func (s *Sweeper) AddJob(name, spec string, fn func(ctx context.Context) error) error {
	l := log.With(s.l, "job", name)
	if _, err := s.cron.AddFunc(spec, func() {
		if err := fn(context.Background()); err != nil {
			level.Warn(l).Log("msg", "scheduled job failed", "err", err)
		}
	}); err != nil {
		return errors.Wrapf(err, "scheduling %s %q", name, spec)
	}
	level.Info(l).Log("msg", "job scheduled", "schedule", spec)
	return nil
}

// Stop halts the scheduler. The returned context is done once a running sweep
// has finished.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

// cronLogger adapts log.Logger to cron.Logger.
type cronLogger struct {
	l log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	level.Debug(c.l).Log(append([]interface{}{"msg", msg}, keysAndValues...)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	level.Error(c.l).Log(append([]interface{}{"msg", msg, "err", err}, keysAndValues...)...)
}
