package outbox

import (
	"context"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// Handler replays one queued action against the upstream service.
type Handler interface {
	Handle(ctx context.Context, e Entry) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e Entry) error

func (f HandlerFunc) Handle(ctx context.Context, e Entry) error { return f(ctx, e) }

// ReplayResult summarises one pass over the queue.
type ReplayResult struct {
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Replayer walks the pending entries and hands each to the handler registered
// for its action type. Entries stay pending when the handler fails, so the next
// pass retries them; there is no attempt limit.
type Replayer struct {
	l  log.Logger
	r  Repository
	mu sync.Mutex

	handlers map[string]Handler
	fallback Handler
}

// NewReplayer initializes a new outbox replayer
func NewReplayer(l log.Logger, r Repository) *Replayer {
	return &Replayer{
		l:        l,
		r:        r,
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for actionType.
func (rp *Replayer) Handle(actionType string, h Handler) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.handlers[actionType] = h
}

// HandleDefault registers h for action types without their own handler.
func (rp *Replayer) HandleDefault(h Handler) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.fallback = h
}

func (rp *Replayer) handler(actionType string) Handler {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if h, ok := rp.handlers[actionType]; ok {
		return h
	}
	return rp.fallback
}

// Replay makes one pass over the queue in FIFO order. It only returns an error
// when the queue itself can't be read.
func (rp *Replayer) Replay(ctx context.Context) (ReplayResult, error) {
	var res ReplayResult
	pending, err := rp.r.ListPending(ctx)
	if err != nil {
		return res, errors.Wrap(err, "loading pending actions")
	}

	for _, e := range pending {
		if ctx.Err() != nil {
			// Whatever is left stays pending for the next pass.
			res.Skipped += len(pending) - res.Synced - res.Failed - res.Skipped
			break
		}

		h := rp.handler(e.ActionType)
		if h == nil {
			level.Warn(rp.l).Log("msg", "no handler for action", "id", e.ID, "action_type", e.ActionType)
			res.Skipped++
			continue
		}
		if err := h.Handle(ctx, e); err != nil {
			level.Warn(rp.l).Log("msg", "replay failed, keeping action pending", "id", e.ID, "action_type", e.ActionType, "err", err)
			res.Failed++
			continue
		}
		if err := rp.r.MarkSynced(ctx, e.ID); err != nil {
			// Replayed but not recorded; the handler will see it again.
			level.Error(rp.l).Log("msg", "marking action synced", "id", e.ID, "err", err)
			res.Failed++
			continue
		}
		res.Synced++
	}

	if res.Synced > 0 || res.Failed > 0 {
		level.Info(rp.l).Log("msg", "replay finished", "synced", res.Synced, "failed", res.Failed, "skipped", res.Skipped)
	}
	return res, nil
}
