package store

import (
	"fmt"
	"time"
)

// TimeFormat is the layout SQLite uses for CURRENT_TIMESTAMP. Every timestamp in
// the schema is stored in it so text comparison matches chronological order.
const TimeFormat = "2006-01-02 15:04:05"

// NowExpr evaluates to the current time inside a query. It takes a single bind
// argument produced by Clock.Arg.
const NowExpr = "COALESCE(?, CURRENT_TIMESTAMP)"

// Clock overrides the time used by queries. A nil Clock leaves the decision to
// the database, which keeps every process sharing the file on one time source.
type Clock func() time.Time

// Arg returns the bind value for NowExpr.
func (c Clock) Arg() interface{} {
	if c == nil {
		return nil
	}
	return c().UTC().Format(TimeFormat)
}

// Now returns the overridden time, or the wall clock when c is nil. Both are
// truncated to the second, matching what the database stores.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC().Truncate(time.Second)
	}
	return c().UTC().Truncate(time.Second)
}

// Offset turns d into a SQLite datetime modifier such as "+21600 seconds".
// Precision is one second.
func Offset(d time.Duration) string {
	return fmt.Sprintf("%+d seconds", int64(d/time.Second))
}
