package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"doc-collab/internal/models"
	"doc-collab/internal/store"
)

// SaveResult is one auto-save acknowledgement or the stream's terminal
// error. After an error the stream closes; no further ticks fire.
type SaveResult struct {
	Ack *models.SaveAck
	Err error
}

// AutoSaveScheduler runs periodic content snapshots per open document.
// Streams are cancellable individually and collectively on Shutdown.
type AutoSaveScheduler struct {
	store *store.Client

	mu      sync.Mutex
	wg      sync.WaitGroup
	cancels map[int]context.CancelFunc
	nextID  int
	closed  bool
}

// NewAutoSaveScheduler creates a scheduler backed by the store client.
func NewAutoSaveScheduler(storeClient *store.Client) *AutoSaveScheduler {
	return &AutoSaveScheduler{
		store:   storeClient,
		cancels: make(map[int]context.CancelFunc),
	}
}

// Schedule starts an auto-save stream for a document. Each tick issues one
// save carrying content. maxTicks bounds the stream for deterministic use;
// maxTicks <= 0 repeats until cancelled. The returned cancel func stops the
// stream; the channel closes after the final tick either way.
func (s *AutoSaveScheduler) Schedule(ctx context.Context, documentID, content string, interval time.Duration, maxTicks int) (<-chan SaveResult, context.CancelFunc, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrCoordinatorClosed
	}

	streamCtx, cancel := context.WithCancel(ctx)
	id := s.nextID
	s.nextID++
	s.cancels[id] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	results := make(chan SaveResult, 1)

	go func() {
		defer func() {
			close(results)
			s.mu.Lock()
			delete(s.cancels, id)
			s.mu.Unlock()
			s.wg.Done()
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		ticks := 0
		for {
			select {
			case <-streamCtx.Done():
				return

			case <-ticker.C:
				ack, err := s.store.AutoSave(streamCtx, documentID, content)
				if err != nil {
					if streamCtx.Err() != nil {
						return
					}
					if _, ok := store.AsHTTPError(err); !ok {
						// Transport-level failure: generic terminal error.
						err = fmt.Errorf("%w: %w", ErrAutoSaveFailed, err)
					}
					select {
					case results <- SaveResult{Err: err}:
					case <-streamCtx.Done():
					}
					return
				}

				select {
				case results <- SaveResult{Ack: ack}:
				case <-streamCtx.Done():
					return
				}

				ticks++
				if maxTicks > 0 && ticks >= maxTicks {
					return
				}
			}
		}
	}()

	return results, cancel, nil
}

// Shutdown cancels every running stream and waits for them to drain.
func (s *AutoSaveScheduler) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancels := make([]context.CancelFunc, 0, len(s.cancels))
	for _, cancel := range s.cancels {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.wg.Wait()
}
