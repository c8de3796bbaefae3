package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type PollKind string

const (
	PollPresence PollKind = "presence"
	PollCheckout PollKind = "checkout"
)

type handleKey struct {
	documentID string
	kind       PollKind
}

// PollingHandle represents one running periodic background task bound to a
// document id. Exactly one may be active per (document id, kind); the
// registry enforces that. The loop terminates on the first failing tick, on
// Stop, or on registry teardown, and the handle is removed from the registry
// before Done is closed.
type PollingHandle struct {
	documentID string
	kind       PollKind

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func newPollingHandle(documentID string, kind PollKind, cancel context.CancelFunc) *PollingHandle {
	return &PollingHandle{
		documentID: documentID,
		kind:       kind,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// DocumentID returns the document this handle polls for.
func (h *PollingHandle) DocumentID() string { return h.documentID }

// Kind returns the polling kind.
func (h *PollingHandle) Kind() PollKind { return h.kind }

// Stop cancels the polling loop. Stopping an already-stopped handle is a
// no-op, not an error.
func (h *PollingHandle) Stop() {
	h.cancel()
}

// Done is closed once the polling loop has fully terminated.
func (h *PollingHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns the terminal error of the loop, or nil if it was stopped
// cleanly. Only meaningful after Done is closed.
func (h *PollingHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *PollingHandle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// runPollLoop drives one polling handle: a fixed-period tick, each tick one
// request bounded by pollTimeout. A failing tick is fatal to the loop — the
// handle is deregistered and the error surfaces through Err. Restarting is
// an explicit new TrackActiveUsers / TrackCheckoutStatus call.
func (r *SessionRegistry) runPollLoop(ctx context.Context, h *PollingHandle, tick func(context.Context) error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.removeHandle(h)
			h.finish(nil)
			return

		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, r.pollTimeout)
			err := tick(tickCtx)
			cancel()

			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				// Stopped mid-tick; not a tracking failure.
				r.removeHandle(h)
				h.finish(nil)
				return
			}
			r.removeHandle(h)
			h.finish(terminalPollError(h.kind, err))
			return
		}
	}
}

func terminalPollError(kind PollKind, err error) error {
	switch kind {
	case PollCheckout:
		return fmt.Errorf("%w: %w", ErrCheckoutStatusUnknown, err)
	default:
		return fmt.Errorf("%w: %w", ErrTrackingFailed, err)
	}
}
