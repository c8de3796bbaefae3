package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"doc-collab/internal/models"
	"doc-collab/internal/store"
)

const presenceStartAttempts = 3

// collabSession is the registry-owned state for one document under
// collaboration. No other component creates, mutates, or deletes it; the
// presence tracker only publishes into an existing entry through the
// registry's publish methods.
type collabSession struct {
	documentID string
	users      []models.ActiveUser

	userSubs   map[int]chan []models.ActiveUser
	changeSubs map[int]chan models.ChangeResult
	nextSubID  int
}

// SessionRegistry owns one collaboration session per document id, every
// polling handle, and the published user/change streams. It is the single
// owner of this shared state; all mutation happens under its mutex.
type SessionRegistry struct {
	store    *store.Client
	resolver *ConflictResolver

	pollInterval time.Duration
	pollTimeout  time.Duration

	// deterministic disables background trackers so tests can drive the
	// registry without timers.
	deterministic bool

	mu         sync.Mutex
	sessions   map[string]*collabSession
	handles    map[handleKey]*PollingHandle
	statusSubs map[string]map[int]chan models.CheckoutStatus
	nextStatus int
	closed     bool
}

// NewSessionRegistry creates a registry backed by the given store client.
func NewSessionRegistry(storeClient *store.Client, resolver *ConflictResolver, pollInterval, pollTimeout time.Duration, deterministic bool) *SessionRegistry {
	return &SessionRegistry{
		store:         storeClient,
		resolver:      resolver,
		pollInterval:  pollInterval,
		pollTimeout:   pollTimeout,
		deterministic: deterministic,
		sessions:      make(map[string]*collabSession),
		handles:       make(map[handleKey]*PollingHandle),
		statusSubs:    make(map[string]map[int]chan models.CheckoutStatus),
	}
}

// StartCollaboration creates the session for documentID if none exists,
// issues the store's start call, seeds the active-user set from the
// response, and starts the presence tracker (wrapped in a bounded retry).
// Calling it twice for the same document never creates a second session or
// a second polling handle.
func (r *SessionRegistry) StartCollaboration(ctx context.Context, documentID string, user models.CollabJoinRequest) (*models.CollaborationState, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrCoordinatorClosed
	}
	sess, exists := r.sessions[documentID]
	if !exists {
		sess = &collabSession{
			documentID: documentID,
			userSubs:   make(map[int]chan []models.ActiveUser),
			changeSubs: make(map[int]chan models.ChangeResult),
		}
		r.sessions[documentID] = sess
	}
	r.mu.Unlock()

	state, err := r.store.StartCollaboration(ctx, documentID, user)
	if err != nil {
		if !exists {
			r.teardownLocal(documentID)
		}
		return nil, err
	}

	r.mu.Lock()
	sess.users = state.ActiveUsers
	r.mu.Unlock()

	if !r.deterministic {
		// Explicit bounded retry at the session-start boundary. A failing
		// tick inside the running loop is still fatal to that loop.
		var lastErr error
		for attempt := 1; attempt <= presenceStartAttempts; attempt++ {
			if _, lastErr = r.TrackActiveUsers(ctx, documentID); lastErr == nil {
				break
			}
			log.Printf("⚠️  Presence tracker start attempt %d/%d for %s failed: %v",
				attempt, presenceStartAttempts, documentID, lastErr)
		}
		if lastErr != nil {
			r.teardownLocal(documentID)
			return nil, lastErr
		}
	}

	return &models.CollaborationState{DocumentID: documentID, ActiveUsers: state.ActiveUsers}, nil
}

// TrackActiveUsers starts the presence polling loop for documentID. It
// probes the store once immediately; only after that first poll succeeds is
// the handle registered and the loop spawned. If a presence handle already
// exists for the document, it is returned unchanged.
func (r *SessionRegistry) TrackActiveUsers(ctx context.Context, documentID string) (*PollingHandle, error) {
	return r.startPolling(ctx, documentID, PollPresence, func(tickCtx context.Context) error {
		users, err := r.store.ActiveUsers(tickCtx, documentID)
		if err != nil {
			return err
		}
		r.publishUsers(documentID, users)
		return nil
	})
}

// TrackCheckoutStatus starts the checkout-status polling loop for
// documentID. Same loop semantics as presence tracking: one probe up front,
// then fixed-period ticks, terminal failure on the first bad tick.
func (r *SessionRegistry) TrackCheckoutStatus(ctx context.Context, documentID string) (*PollingHandle, error) {
	return r.startPolling(ctx, documentID, PollCheckout, func(tickCtx context.Context) error {
		status, err := r.store.CheckoutStatus(tickCtx, documentID)
		if err != nil {
			return err
		}
		r.publishStatus(documentID, *status)
		return nil
	})
}

func (r *SessionRegistry) startPolling(ctx context.Context, documentID string, kind PollKind, tick func(context.Context) error) (*PollingHandle, error) {
	key := handleKey{documentID: documentID, kind: kind}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrCoordinatorClosed
	}
	if existing, ok := r.handles[key]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.mu.Unlock()

	// Probe before registering anything so a failed start leaves no state.
	probeCtx, cancelProbe := context.WithTimeout(ctx, r.pollTimeout)
	err := tick(probeCtx)
	cancelProbe()
	if err != nil {
		return nil, terminalPollError(kind, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	handle := newPollingHandle(documentID, kind, cancel)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return nil, ErrCoordinatorClosed
	}
	if existing, ok := r.handles[key]; ok {
		// Lost the race to a concurrent start; keep the registered one.
		r.mu.Unlock()
		cancel()
		return existing, nil
	}
	r.handles[key] = handle
	r.mu.Unlock()

	go r.runPollLoop(loopCtx, handle, tick)
	return handle, nil
}

func (r *SessionRegistry) removeHandle(h *PollingHandle) {
	key := handleKey{documentID: h.documentID, kind: h.kind}
	r.mu.Lock()
	if r.handles[key] == h {
		delete(r.handles, key)
	}
	r.mu.Unlock()
}

// EndCollaboration issues the store's end call and then — regardless of
// that call's outcome — performs full local teardown: the presence handle,
// the published streams, and the session itself are removed either way.
func (r *SessionRegistry) EndCollaboration(ctx context.Context, documentID string, user models.CollabJoinRequest) error {
	err := r.store.EndCollaboration(ctx, documentID, user)

	r.teardownLocal(documentID)

	if err != nil {
		log.Printf("⚠️  Store end-collaboration call for %s failed (local teardown done): %v", documentID, err)
		return err
	}
	return nil
}

// teardownLocal removes the session, stops its presence handle, and closes
// every published stream. It is unconditional and idempotent.
func (r *SessionRegistry) teardownLocal(documentID string) {
	r.mu.Lock()
	sess := r.sessions[documentID]
	delete(r.sessions, documentID)

	var handle *PollingHandle
	key := handleKey{documentID: documentID, kind: PollPresence}
	if h, ok := r.handles[key]; ok {
		handle = h
		delete(r.handles, key)
	}

	if sess != nil {
		for id, ch := range sess.userSubs {
			close(ch)
			delete(sess.userSubs, id)
		}
		for id, ch := range sess.changeSubs {
			close(ch)
			delete(sess.changeSubs, id)
		}
	}
	r.mu.Unlock()

	if handle != nil {
		handle.Stop()
		<-handle.Done()
	}
}

// Shutdown performs the local half of EndCollaboration for every tracked
// document and stops every remaining handle, without issuing network calls.
// Safe on an empty registry, and safe to call more than once.
func (r *SessionRegistry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true

	handles := make([]*PollingHandle, 0, len(r.handles))
	for key, h := range r.handles {
		handles = append(handles, h)
		delete(r.handles, key)
	}

	for docID, sess := range r.sessions {
		for id, ch := range sess.userSubs {
			close(ch)
			delete(sess.userSubs, id)
		}
		for id, ch := range sess.changeSubs {
			close(ch)
			delete(sess.changeSubs, id)
		}
		delete(r.sessions, docID)
	}

	for docID, subs := range r.statusSubs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(r.statusSubs, docID)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Stop()
		<-h.Done()
	}
}

// HandleConcurrentEdits submits a change batch with a bounded timeout. A
// store-reported conflict is escalated to the resolver with the original
// batch and the reported ranges; the resolver's result replaces the 409 as
// the operation's outcome and is published to the session's change stream.
func (r *SessionRegistry) HandleConcurrentEdits(ctx context.Context, documentID string, batch models.ChangeBatch) (*models.ChangeResult, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrCoordinatorClosed
	}
	r.mu.Unlock()

	submitCtx, cancel := context.WithTimeout(ctx, r.pollTimeout)
	defer cancel()

	result, err := r.store.SubmitChanges(submitCtx, documentID, batch)
	if err != nil {
		if store.IsConflict(err) {
			conflicts, _ := store.ConflictsFromError(err)
			resolved, resolveErr := r.resolver.Resolve(ctx, documentID, models.ResolveRequest{
				DocumentID:  documentID,
				UserID:      batch.UserID,
				Ops:         batch.Ops,
				BaseVersion: batch.BaseVersion,
				Conflicts:   conflicts,
			})
			if resolveErr != nil {
				return nil, resolveErr
			}
			r.publishChange(documentID, *resolved)
			return resolved, nil
		}
		if httpErr, ok := store.AsHTTPError(err); ok {
			// Non-conflict HTTP failure propagates with its status intact.
			return nil, httpErr
		}
		return nil, fmt.Errorf("%w: %w", ErrConcurrentEditFailed, err)
	}

	r.publishChange(documentID, *result)
	return result, nil
}

// SyncChanges fetches the operations a client is missing since a version.
func (r *SessionRegistry) SyncChanges(ctx context.Context, documentID string, req models.SyncRequest) (*models.SyncResult, error) {
	result, err := r.store.SyncChanges(ctx, documentID, req)
	if err != nil {
		if _, ok := store.AsHTTPError(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("failed to sync changes: %w", err)
	}
	return result, nil
}

// publishUsers updates an existing session's user set and fans it out. It
// never creates a session: a tracker racing teardown publishes into nothing.
func (r *SessionRegistry) publishUsers(documentID string, users []models.ActiveUser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[documentID]
	if !ok {
		return
	}
	sess.users = users

	for _, ch := range sess.userSubs {
		select {
		case ch <- users:
		default:
			// Subscriber is not draining; drop rather than block the loop.
		}
	}
}

func (r *SessionRegistry) publishChange(documentID string, result models.ChangeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[documentID]
	if !ok {
		return
	}
	for _, ch := range sess.changeSubs {
		select {
		case ch <- result:
		default:
		}
	}
}

func (r *SessionRegistry) publishStatus(documentID string, status models.CheckoutStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.statusSubs[documentID] {
		select {
		case ch <- status:
		default:
		}
	}
}

// UserSubscription is a handle to a session's published active-user stream.
// The registry closes the channel on teardown; callers release early via
// Close.
type UserSubscription struct {
	C     <-chan []models.ActiveUser
	close func()
}

func (s *UserSubscription) Close() { s.close() }

// ChangeSubscription is a handle to a session's published change stream.
type ChangeSubscription struct {
	C     <-chan models.ChangeResult
	close func()
}

func (s *ChangeSubscription) Close() { s.close() }

// StatusSubscription is a handle to a document's checkout-status stream.
type StatusSubscription struct {
	C     <-chan models.CheckoutStatus
	close func()
}

func (s *StatusSubscription) Close() { s.close() }

// SubscribeUsers subscribes to the active-user stream of a live session.
func (r *SessionRegistry) SubscribeUsers(documentID string) (*UserSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[documentID]
	if !ok {
		return nil, fmt.Errorf("no collaboration session for document %s", documentID)
	}

	id := sess.nextSubID
	sess.nextSubID++
	ch := make(chan []models.ActiveUser, 8)
	sess.userSubs[id] = ch

	return &UserSubscription{
		C: ch,
		close: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if s, ok := r.sessions[documentID]; ok {
				if sub, ok := s.userSubs[id]; ok {
					delete(s.userSubs, id)
					close(sub)
				}
			}
		},
	}, nil
}

// SubscribeChanges subscribes to the change stream of a live session.
func (r *SessionRegistry) SubscribeChanges(documentID string) (*ChangeSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[documentID]
	if !ok {
		return nil, fmt.Errorf("no collaboration session for document %s", documentID)
	}

	id := sess.nextSubID
	sess.nextSubID++
	ch := make(chan models.ChangeResult, 8)
	sess.changeSubs[id] = ch

	return &ChangeSubscription{
		C: ch,
		close: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if s, ok := r.sessions[documentID]; ok {
				if sub, ok := s.changeSubs[id]; ok {
					delete(s.changeSubs, id)
					close(sub)
				}
			}
		},
	}, nil
}

// SubscribeCheckoutStatus subscribes to checkout-status updates for a
// document. The stream survives tracker restarts; it closes on Shutdown.
func (r *SessionRegistry) SubscribeCheckoutStatus(documentID string) (*StatusSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrCoordinatorClosed
	}

	subs, ok := r.statusSubs[documentID]
	if !ok {
		subs = make(map[int]chan models.CheckoutStatus)
		r.statusSubs[documentID] = subs
	}

	id := r.nextStatus
	r.nextStatus++
	ch := make(chan models.CheckoutStatus, 8)
	subs[id] = ch

	return &StatusSubscription{
		C: ch,
		close: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if m, ok := r.statusSubs[documentID]; ok {
				if sub, ok := m[id]; ok {
					delete(m, id)
					close(sub)
				}
			}
		},
	}, nil
}

// ActiveUsers returns the current published user set for a document.
func (r *SessionRegistry) ActiveUsers(documentID string) []models.ActiveUser {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[documentID]
	if !ok {
		return nil
	}
	out := make([]models.ActiveUser, len(sess.users))
	copy(out, sess.users)
	return out
}

// HasSession reports whether a session exists for documentID.
func (r *SessionRegistry) HasSession(documentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[documentID]
	return ok
}

// HasHandle reports whether a polling handle is registered for (doc, kind).
func (r *SessionRegistry) HasHandle(documentID string, kind PollKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[handleKey{documentID: documentID, kind: kind}]
	return ok
}

// HandleCount returns the number of live polling handles.
func (r *SessionRegistry) HandleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
