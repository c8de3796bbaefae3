package collab

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"doc-collab/internal/models"
)

// appliedBatch is one accepted change batch, kept so later submissions can
// be checked for overlap and stragglers can sync forward.
type appliedBatch struct {
	version int
	userID  string
	ops     []models.EditOperation
}

// docState is the live editing state of one document.
type docState struct {
	version      int
	users        map[string]models.ActiveUser // userID -> presence
	applied      []appliedBatch
	checkout     *models.CheckoutStatus
	checkoutBase int // collaboration version when the checkout was taken
}

// Tracker keeps the in-memory collaboration state for every document with
// at least one active participant. It owns the version counter that
// submitted change batches are validated against.
type Tracker struct {
	mu   sync.RWMutex
	docs map[string]*docState
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		docs: make(map[string]*docState),
	}
}

func (t *Tracker) state(documentID string) *docState {
	if t.docs[documentID] == nil {
		t.docs[documentID] = &docState{
			users: make(map[string]models.ActiveUser),
		}
	}
	return t.docs[documentID]
}

// Join adds a user to a document's session, creating the session on first
// join. Joining twice is a no-op apart from refreshing the user name.
func (t *Tracker) Join(documentID string, req models.CollabJoinRequest) models.CollaborationState {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(documentID)
	st.users[req.UserID] = models.ActiveUser{
		UserID:   req.UserID,
		UserName: req.UserName,
	}

	log.Printf("  User %s joined document %s (total: %d users)",
		req.UserID, documentID, len(st.users))

	return t.snapshot(documentID, st)
}

// Leave removes a user. The last user leaving tears the session down,
// applied history included.
func (t *Tracker) Leave(documentID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.docs[documentID]
	if !ok {
		return
	}

	delete(st.users, userID)
	log.Printf("  User %s left document %s (remaining: %d users)",
		userID, documentID, len(st.users))

	if len(st.users) == 0 && st.checkout == nil {
		delete(t.docs, documentID)
	}
}

// ActiveUsers returns the current participants of a document.
func (t *Tracker) ActiveUsers(documentID string) []models.ActiveUser {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.docs[documentID]
	if !ok {
		return []models.ActiveUser{}
	}
	return t.snapshot(documentID, st).ActiveUsers
}

// UpdatePresence records a user's cursor and selection. Unknown users are
// ignored; presence follows membership, not the other way round.
func (t *Tracker) UpdatePresence(documentID, userID string, cursor *models.CursorPosition, selection *models.SelectionRange) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.docs[documentID]
	if !ok {
		return
	}
	user, ok := st.users[userID]
	if !ok {
		return
	}

	user.Cursor = cursor
	user.Selection = selection
	st.users[userID] = user
}

// UpdatePresenceRaw decodes a presence frame from the event feed and
// applies it. Malformed payloads are dropped.
func (t *Tracker) UpdatePresenceRaw(documentID, userID string, payload json.RawMessage) {
	var state struct {
		Cursor    *models.CursorPosition `json:"cursor"`
		Selection *models.SelectionRange `json:"selection"`
	}
	if err := json.Unmarshal(payload, &state); err != nil {
		return
	}
	t.UpdatePresence(documentID, userID, state.Cursor, state.Selection)
}

// ApplyChanges validates a batch against the document's current version.
// A batch based on an older version whose operations overlap concurrent
// ones is rejected with a conflict report; otherwise it is appended and
// the version advances.
func (t *Tracker) ApplyChanges(batch models.ChangeBatch) (*models.ChangeResult, *models.ConflictReport) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(batch.DocumentID)

	if batch.BaseVersion < st.version {
		conflicts := overlapping(st.applied, batch)
		if len(conflicts) > 0 {
			log.Printf("⚠️  Conflicting changes on document %s (base %d, current %d, %d ranges)",
				batch.DocumentID, batch.BaseVersion, st.version, len(conflicts))
			return nil, &models.ConflictReport{
				DocumentID: batch.DocumentID,
				Conflicts:  conflicts,
			}
		}
	}

	t.append(st, batch.UserID, batch.Ops)

	return &models.ChangeResult{
		DocumentID: batch.DocumentID,
		Version:    st.version,
		Applied:    true,
	}, nil
}

// Resolve accepts a previously conflicting change as a merge. The merged
// operations are appended on top of the current version.
func (t *Tracker) Resolve(req models.ResolveRequest) *models.ChangeResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(req.DocumentID)
	t.append(st, req.UserID, req.Ops)

	log.Printf("  Resolved %d conflict ranges on document %s (now version %d)",
		len(req.Conflicts), req.DocumentID, st.version)

	return &models.ChangeResult{
		DocumentID: req.DocumentID,
		Version:    st.version,
		Applied:    true,
		Resolved:   true,
	}
}

// Sync returns every operation applied after sinceVersion, in order.
func (t *Tracker) Sync(documentID string, sinceVersion int) *models.SyncResult {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := &models.SyncResult{
		DocumentID: documentID,
		Ops:        []models.EditOperation{},
	}

	st, ok := t.docs[documentID]
	if !ok {
		return result
	}

	result.Version = st.version
	for _, b := range st.applied {
		if b.version > sinceVersion {
			result.Ops = append(result.Ops, b.ops...)
		}
	}
	return result
}

// Version returns the current collaboration version of a document.
func (t *Tracker) Version(documentID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if st, ok := t.docs[documentID]; ok {
		return st.version
	}
	return 0
}

// PendingConflicts reports operations applied by users other than userID
// since sinceVersion, as conflict ranges. Check-in uses this to detect
// edits that landed while the checkout was held.
func (t *Tracker) PendingConflicts(documentID, userID string, sinceVersion int) []models.ConflictRange {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.docs[documentID]
	if !ok {
		return nil
	}

	var conflicts []models.ConflictRange
	for _, b := range st.applied {
		if b.version <= sinceVersion || b.userID == userID {
			continue
		}
		for _, op := range b.ops {
			start, end := opRange(op)
			conflicts = append(conflicts, models.ConflictRange{
				Start:   start,
				End:     end,
				UserID:  b.userID,
				Version: b.version,
			})
		}
	}
	return conflicts
}

// MarkCheckedOut records an external checkout of a document.
func (t *Tracker) MarkCheckedOut(documentID, userID string) models.CheckoutStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(documentID)
	st.checkout = &models.CheckoutStatus{
		DocumentID:   documentID,
		Status:       "checked_out",
		CheckedOutBy: userID,
		UpdatedAt:    time.Now(),
	}
	st.checkoutBase = st.version
	return *st.checkout
}

// CheckinConflicts reports edits other users applied since the checkout
// was taken. Empty means the check-in is clean.
func (t *Tracker) CheckinConflicts(documentID, userID string) []models.ConflictRange {
	t.mu.RLock()
	base := 0
	if st, ok := t.docs[documentID]; ok {
		base = st.checkoutBase
	}
	t.mu.RUnlock()

	return t.PendingConflicts(documentID, userID, base)
}

// ClearCheckout marks a document available again, normally on check-in.
func (t *Tracker) ClearCheckout(documentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.docs[documentID]
	if !ok {
		return
	}
	st.checkout = nil
	if len(st.users) == 0 {
		delete(t.docs, documentID)
	}
}

// CheckoutStatus returns the checkout state of a document. Documents
// nobody has checked out report as available.
func (t *Tracker) CheckoutStatus(documentID string) models.CheckoutStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if st, ok := t.docs[documentID]; ok && st.checkout != nil {
		return *st.checkout
	}
	return models.CheckoutStatus{
		DocumentID: documentID,
		Status:     "available",
		UpdatedAt:  time.Now(),
	}
}

// append records a batch under the next version. Caller holds t.mu.
func (t *Tracker) append(st *docState, userID string, ops []models.EditOperation) {
	st.version++
	st.applied = append(st.applied, appliedBatch{
		version: st.version,
		userID:  userID,
		ops:     ops,
	})
}

// snapshot copies the user set for return outside the lock.
func (t *Tracker) snapshot(documentID string, st *docState) models.CollaborationState {
	users := make([]models.ActiveUser, 0, len(st.users))
	for _, u := range st.users {
		users = append(users, u)
	}
	return models.CollaborationState{
		DocumentID:  documentID,
		ActiveUsers: users,
	}
}

// overlapping computes the ranges of previously applied batches that
// intersect the incoming one. Only batches from other users applied after
// the incoming batch's base version count.
func overlapping(applied []appliedBatch, batch models.ChangeBatch) []models.ConflictRange {
	var conflicts []models.ConflictRange

	for _, prior := range applied {
		if prior.version <= batch.BaseVersion || prior.userID == batch.UserID {
			continue
		}
		for _, priorOp := range prior.ops {
			ps, pe := opRange(priorOp)
			for _, op := range batch.Ops {
				s, e := opRange(op)
				if s <= pe && ps <= e {
					conflicts = append(conflicts, models.ConflictRange{
						Start:   ps,
						End:     pe,
						UserID:  prior.userID,
						Version: prior.version,
					})
					break
				}
			}
		}
	}
	return conflicts
}

// opRange is the character span an operation touches.
func opRange(op models.EditOperation) (int, int) {
	switch op.Op {
	case models.OpInsert:
		return op.Position, op.Position + len(op.Text)
	case models.OpDelete:
		return op.Position, op.Position + op.Length
	default:
		end := op.Length
		if len(op.Text) > end {
			end = len(op.Text)
		}
		return op.Position, op.Position + end
	}
}
