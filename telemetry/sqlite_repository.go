package telemetry

import (
	"context"

	"github.com/go-kit/log"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/priyanshuchawda/farmer-automation-sub001/store"
)

const statsQuery = `SELECT
	(SELECT COUNT(*) FROM weather_cache WHERE expires_at > ` + store.NowExpr + `) AS weather_live,
	(SELECT COUNT(*) FROM price_cache WHERE expires_at > ` + store.NowExpr + `) AS price_live,
	(SELECT COUNT(*) FROM calendar_cache) AS calendar_total,
	(SELECT COUNT(*) FROM sync_queue WHERE synced = 0) AS pending_syncs`

type repository struct {
	l     log.Logger
	db    *sqlx.DB
	clock store.Clock
}

// NewRepository initializes a new statistics repository
func NewRepository(l log.Logger, db *sqlx.DB, clock store.Clock) *repository {
	return &repository{
		l:     l,
		db:    db,
		clock: clock,
	}
}

// Stats reads all counts in one statement so they describe the same snapshot.
func (s *repository) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	now := s.clock.Arg()
	err := store.Tx(ctx, s.db, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &st, statsQuery, now, now)
	})
	return st, errors.Wrap(err, "counting cache entries")
}
