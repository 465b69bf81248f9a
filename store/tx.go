package store

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Tx runs fn inside a transaction on a connection of its own. The transaction
// is committed when fn returns nil and rolled back otherwise, including when fn
// panics. The connection goes back to the pool on every path.
//
// Tx is the only place that commits or rolls back; fn must not keep tx around
// after it returns and must not call Tx again.
func Tx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return Classify(errors.Wrap(err, "beginning transaction"))
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			err = multierr.Append(err, errors.Wrap(rbErr, "rolling back transaction"))
		}
		return Classify(err)
	}

	if err := tx.Commit(); err != nil {
		return Classify(errors.Wrap(err, "committing transaction"))
	}
	return nil
}
