package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/peterbourgon/ff/v3"

	"github.com/priyanshuchawda/farmer-automation-sub001/cache"
	"github.com/priyanshuchawda/farmer-automation-sub001/maintenance"
	"github.com/priyanshuchawda/farmer-automation-sub001/outbox"
	"github.com/priyanshuchawda/farmer-automation-sub001/store"
	"github.com/priyanshuchawda/farmer-automation-sub001/telemetry"
)

func main() {
	fs := flag.NewFlagSet("farmcache-maintain", flag.ExitOnError)
	var (
		dbPath          = fs.String("db-path", "farmcache.db", "the path to the sqlite database file")
		busyTimeout     = fs.Duration("busy-timeout", store.DefaultBusyTimeout, "how long to wait for a locked database")
		outboxRetention = fs.Duration("outbox-retention", outbox.DefaultRetention, "how long synced outbox entries are kept")
		clearDomain     = fs.String("clear", "", "empty one cache domain (weather, price or calendar) before sweeping")
		timeout         = fs.Duration("timeout", time.Minute, "give up after this long")
	)

	ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("FC"),
	)

	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	l = level.NewFilter(l, level.AllowInfo())
	l = log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := store.Open(l, *dbPath, store.WithBusyTimeout(*busyTimeout))
	if err != nil {
		level.Error(l).Log("msg", "error opening database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	weather := cache.NewWeatherRepository(l, db)
	price := cache.NewPriceRepository(l, db)
	ob := outbox.NewRepository(l, db, nil)

	if *clearDomain != "" {
		var n int64
		switch cache.Domain(*clearDomain) {
		case cache.Weather:
			n, err = weather.ClearAll(ctx)
		case cache.MarketPrice:
			n, err = price.ClearAll(ctx)
		case cache.Calendar:
			n, err = cache.NewCalendarRepository(l, db).ClearAll(ctx)
		default:
			level.Error(l).Log("msg", "unknown cache domain", "domain", *clearDomain)
			os.Exit(2)
		}
		if err != nil {
			level.Error(l).Log("msg", "error clearing cache", "domain", *clearDomain, "err", err)
			os.Exit(1)
		}
		fmt.Printf("cleared %s: %d\n", *clearDomain, n)
	}

	res, err := maintenance.NewSweeper(l, weather, price, ob, maintenance.WithRetention(*outboxRetention)).RunOnce(ctx)
	if err != nil {
		level.Error(l).Log("msg", "error sweeping", "err", err)
	}
	fmt.Printf("swept weather=%d price=%d outbox=%d\n", res.Weather, res.Price, res.Outbox)

	st, err := telemetry.NewRepository(l, db, nil).Stats(ctx)
	if err != nil {
		level.Error(l).Log("msg", "error reading stats", "err", err)
		os.Exit(1)
	}
	fmt.Printf("live weather=%d price=%d calendar=%d pending_syncs=%d\n", st.WeatherLive, st.PriceLive, st.CalendarTotal, st.PendingSyncs)
}
