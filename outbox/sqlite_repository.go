package outbox

import (
	"context"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/priyanshuchawda/farmer-automation-sub001/store"
)

type row struct {
	ID         int64     `db:"id"`
	ActionType string    `db:"action_type"`
	Data       string    `db:"data"`
	CreatedAt  time.Time `db:"created_at"`
	Synced     bool      `db:"synced"`
}

type repository struct {
	l     log.Logger
	db    *sqlx.DB
	clock store.Clock
}

// NewRepository initializes a new sync queue repository. A nil clock uses the
// database clock.
func NewRepository(l log.Logger, db *sqlx.DB, clock store.Clock) *repository {
	return &repository{
		l:     l,
		db:    db,
		clock: clock,
	}
}

// Enqueue appends an action and returns its id. Any failure is reported as
// ErrAppendFailed; there is no second buffer behind the queue.
func (s *repository) Enqueue(ctx context.Context, actionType string, payload interface{}) (int64, error) {
	if strings.TrimSpace(actionType) == "" {
		return 0, &appendError{err: errors.New("action type is required")}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, &appendError{err: errors.Wrap(err, "encoding payload")}
	}

	var id int64
	err = store.Tx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO sync_queue (action_type, data, created_at) VALUES (?, ?, "+store.NowExpr+")",
			actionType, string(data), s.clock.Arg())
		if err != nil {
			return errors.Wrap(err, "inserting sync_queue row")
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		level.Error(s.l).Log("msg", "action lost", "action_type", actionType, "err", err)
		return 0, &appendError{err: err}
	}

	level.Info(s.l).Log("msg", "action queued", "id", id, "action_type", actionType)
	return id, nil
}

// ListPending returns every unsynced entry, oldest first. Entries created in the
// same second keep their insertion order.
func (s *repository) ListPending(ctx context.Context) ([]Entry, error) {
	var rows []row
	err := store.Tx(ctx, s.db, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &rows,
			"SELECT id, action_type, data, created_at, synced FROM sync_queue WHERE synced = 0 ORDER BY created_at ASC, id ASC")
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing pending actions")
	}

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, Entry{
			ID:         r.ID,
			ActionType: r.ActionType,
			Data:       []byte(r.Data),
			CreatedAt:  r.CreatedAt,
			Synced:     r.Synced,
		})
	}
	return entries, nil
}

// MarkSynced records that the entry was replayed. Marking an entry twice is a
// no-op.
func (s *repository) MarkSynced(ctx context.Context, id int64) error {
	return store.Tx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE sync_queue SET synced = 1 WHERE id = ?", id)
		if err != nil {
			return errors.Wrap(err, "updating sync_queue row")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.Wrapf(ErrEntryNotFound, "id %d", id)
		}
		return nil
	})
}

// Prune deletes synced entries created more than retention ago. Unsynced
// entries are kept no matter how old they are.
func (s *repository) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	var n int64
	err := store.Tx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM sync_queue WHERE synced = 1 AND created_at < datetime("+store.NowExpr+", ?)",
			s.clock.Arg(), store.Offset(-retention))
		if err != nil {
			return errors.Wrap(err, "pruning sync_queue")
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
