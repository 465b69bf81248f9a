package outbox

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// DefaultRetention is how long synced entries are kept before they are pruned.
const DefaultRetention = 7 * 24 * time.Hour

var (
	// ErrAppendFailed means an action could not be recorded. The action is lost
	// and the user has to be told straight away.
	ErrAppendFailed = errors.New("outbox append failed")
	// ErrEntryNotFound is returned by MarkSynced for an unknown id.
	ErrEntryNotFound = errors.New("outbox entry not found")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Repository is an interface for the durable sync queue
type Repository interface {
	Enqueue(ctx context.Context, actionType string, payload interface{}) (int64, error)
	ListPending(ctx context.Context) ([]Entry, error)
	MarkSynced(ctx context.Context, id int64) error
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// Entry is an action waiting to be replayed. Entries never change except for
// Synced flipping from false to true.
type Entry struct {
	ID         int64               `json:"id"`
	ActionType string              `json:"action_type"`
	Data       jsoniter.RawMessage `json:"data"`
	CreatedAt  time.Time           `json:"created_at"`
	Synced     bool                `json:"synced"`
}

// Decode unmarshals the entry's payload into v.
func (e Entry) Decode(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

type appendError struct {
	err error
}

func (e *appendError) Error() string { return "outbox append failed: " + e.err.Error() }

func (e *appendError) Unwrap() error { return e.err }

func (e *appendError) Is(target error) bool { return target == ErrAppendFailed }
