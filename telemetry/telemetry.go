// Package telemetry reports how much the offline cache currently holds.
package telemetry

import "context"

// Stats counts live cache entries and pending outbox entries. Expired rows that
// have not been swept yet are not counted.
type Stats struct {
	WeatherLive   int `db:"weather_live" json:"weather_live"`
	PriceLive     int `db:"price_live" json:"price_live"`
	CalendarTotal int `db:"calendar_total" json:"calendar_total"`
	PendingSyncs  int `db:"pending_syncs" json:"pending_syncs"`
}

// Repository is an interface for cache statistics
type Repository interface {
	Stats(ctx context.Context) (Stats, error)
}
