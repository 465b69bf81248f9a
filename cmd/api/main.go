package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/peterbourgon/ff/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/priyanshuchawda/farmer-automation-sub001/cache"
	"github.com/priyanshuchawda/farmer-automation-sub001/maintenance"
	"github.com/priyanshuchawda/farmer-automation-sub001/outbox"
	"github.com/priyanshuchawda/farmer-automation-sub001/service/offline"
	"github.com/priyanshuchawda/farmer-automation-sub001/source"
	"github.com/priyanshuchawda/farmer-automation-sub001/store"
	"github.com/priyanshuchawda/farmer-automation-sub001/telemetry"
)

type maxBytesHandler struct {
	h http.Handler
	n int64
}

func (h *maxBytesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.n)
	h.h.ServeHTTP(w, r)
}

func main() {
	fs := flag.NewFlagSet("farmcache", flag.ExitOnError)
	var (
		environment     = fs.String("environment", "develop", "the environment we are running in")
		port            = fs.String("port", "8080", "the port farmcache is running on")
		dbPath          = fs.String("db-path", "farmcache.db", "the path to the sqlite database file")
		busyTimeout     = fs.Duration("busy-timeout", store.DefaultBusyTimeout, "how long to wait for a locked database")
		weatherTTL      = fs.Duration("weather-ttl", cache.DefaultWeatherTTL, "how long weather stays fresh")
		priceTTL        = fs.Duration("price-ttl", cache.DefaultPriceTTL, "how long mandi prices stay fresh")
		outboxRetention = fs.Duration("outbox-retention", outbox.DefaultRetention, "how long synced outbox entries are kept")
		sweepSchedule   = fs.String("sweep-schedule", "@hourly", "cron schedule for the cache sweep")
		replaySchedule  = fs.String("replay-schedule", "@every 5m", "cron schedule for replaying queued actions, empty to disable")
		weatherURL      = fs.String("weather-url", "", "the weather API url, {location} is replaced")
		priceURL        = fs.String("price-url", "", "the mandi price API url, {commodity}, {market} and {state} are replaced")
		syncURL         = fs.String("sync-url", "", "the url queued actions are posted to")
		upstreamTimeout = fs.Duration("upstream-timeout", 10*time.Second, "timeout for upstream requests")
	)

	ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("FC"),
	)

	// Heroku doesn't support EnvVarPrefixes so we have to overwrite this
	if os.Getenv("PORT") != "" {
		*port = os.Getenv("PORT")
	}

	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	switch strings.ToLower(*environment) {
	case "development":
		l = level.NewFilter(l, level.AllowInfo())
	case "prod":
		l = level.NewFilter(l, level.AllowError())
	}
	l = log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	db, err := store.Open(l, *dbPath, store.WithBusyTimeout(*busyTimeout))
	if err != nil {
		level.Error(l).Log("msg", "error opening database", "err", err)
		return
	}
	defer db.Close()

	weather := cache.NewWeatherRepository(l, db, cache.WithTTL(*weatherTTL))
	price := cache.NewPriceRepository(l, db, cache.WithTTL(*priceTTL))
	calendar := cache.NewCalendarRepository(l, db)
	ob := outbox.NewRepository(l, db, nil)
	stats := telemetry.NewRepository(l, db, nil)
	sweeper := maintenance.NewSweeper(log.With(l, "component", "sweeper"), weather, price, ob,
		maintenance.WithSchedule(*sweepSchedule),
		maintenance.WithRetention(*outboxRetention),
	)

	offlineService := offline.NewService(l, offline.Stores{
		Weather:  weather,
		Price:    price,
		Calendar: calendar,
		Outbox:   ob,
		Stats:    stats,
		Sweeper:  sweeper,
	}, source.NewRepository(l, *upstreamTimeout), offline.Config{
		WeatherURL: *weatherURL,
		PriceURL:   *priceURL,
		SyncURL:    *syncURL,
		WeatherTTL: *weatherTTL,
		PriceTTL:   *priceTTL,
	})

	if *replaySchedule != "" && *syncURL != "" {
		replay := offlineService.Replayer().Replay
		if err := sweeper.AddJob("replay", *replaySchedule, func(ctx context.Context) error {
			_, err := replay(ctx)
			return err
		}); err != nil {
			level.Error(l).Log("msg", "error scheduling replay", "err", err)
			return
		}
	}
	if err := sweeper.Start(); err != nil {
		level.Error(l).Log("msg", "error starting sweeper", "err", err)
		return
	}
	defer func() { <-sweeper.Stop().Done() }()

	prometheus.MustRegister(telemetry.NewCollector(l, stats))

	// Set up HTTP API
	r := offline.NewHandler(offlineService)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("farmcache"))
	})
	r.Handle("/metrics", promhttp.Handler())

	level.Info(l).Log("msg", fmt.Sprintf("farmcache is running on :%s", *port), "environment", *environment, "db_path", *dbPath)

	// Set up webserver and set max body size to 5MB
	err = http.ListenAndServe(fmt.Sprintf(":%s", *port), &maxBytesHandler{h: r, n: (5 * 1024 * 1024)})
	if err != nil {
		level.Error(l).Log("err", err)
		return
	}
}
