package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"doc-collab/internal/hub"
	"doc-collab/internal/models"
	"doc-collab/internal/repository"

	"github.com/gorilla/mux"
	"github.com/segmentio/ksuid"
)

// newBatchID mints an identifier for batches submitted without one.
func newBatchID() string {
	return "batch_" + ksuid.New().String()
}

// Handler handles HTTP requests for the document store.
type Handler struct {
	docs     DocumentStore
	locks    LockStore
	versions VersionStore
	collab   CollabTracker
	feed     EventFeed

	lockTTL time.Duration

	auditMu sync.Mutex
	audit   []models.AuditEntry
}

// maxAuditEntries bounds the in-memory audit ring.
const maxAuditEntries = 1024

func NewHandler(
	docs DocumentStore,
	locks LockStore,
	versions VersionStore,
	collab CollabTracker,
	feed EventFeed,
	lockTTL time.Duration,
) *Handler {
	return &Handler{
		docs:     docs,
		locks:    locks,
		versions: versions,
		collab:   collab,
		feed:     feed,
		lockTTL:  lockTTL,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps repository errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrLockHeld):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Document handlers

func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var doc models.DocumentCreate
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if doc.Format == "" {
		doc.Format = models.FormatMarkdown
	}

	created, err := h.docs.Create(r.Context(), &doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	// Seed the version history. Failure here does not fail the create; the
	// history starts on the first explicit version instead.
	if _, err := h.versions.Append(r.Context(), created.ID, "system", "Initial version", created.Content); err != nil {
		log.Printf("⚠️  Failed to seed version history for %s: %v", created.ID, err)
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}

	documents, err := h.docs.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": documents,
		"limit":     limit,
		"offset":    offset,
	})
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	doc, err := h.docs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.docs.Delete(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Lock handlers

func (h *Handler) GetLock(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	lock, err := h.locks.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, lock)
}

func (h *Handler) AcquireLock(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req models.LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_id is required"))
		return
	}
	if req.LockType == "" {
		req.LockType = models.LockExclusive
	}
	ttl := time.Duration(req.TTL)
	if ttl <= 0 {
		ttl = h.lockTTL
	}

	lock, err := h.locks.Acquire(r.Context(), id, req.UserID, req.LockType, ttl)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, lock)
}

func (h *Handler) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_id is required"))
		return
	}

	if err := h.locks.Release(r.Context(), id, userID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Content handlers

func (h *Handler) GetContent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	doc, err := h.docs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, models.DocumentContent{
		DocumentID: doc.ID,
		Content:    doc.Content,
		Version:    doc.Version,
	})
}

func (h *Handler) AutoSave(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	doc, err := h.docs.UpdateContent(r.Context(), id, body.Content)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, models.SaveAck{
		DocumentID: doc.ID,
		Version:    doc.Version,
		SavedAt:    time.Now(),
	})
}

// Version handlers

func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	records, err := h.versions.List(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req models.VersionCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ChangeDescription == "" {
		writeError(w, http.StatusBadRequest, errors.New("change_description is required"))
		return
	}

	content := req.Content
	if content == "" {
		doc, err := h.docs.GetByID(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		content = doc.Content
	}

	record, err := h.versions.Append(r.Context(), id, req.Author, req.ChangeDescription, content)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

func (h *Handler) PromoteVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	version, err := strconv.Atoi(vars["version"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid version: %w", err))
		return
	}

	record, err := h.versions.Promote(r.Context(), id, version)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	// Promotion makes the snapshot the current content.
	if _, err := h.docs.UpdateContent(r.Context(), id, record.Snapshot); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) RestoreVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	version, err := strconv.Atoi(vars["version"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid version: %w", err))
		return
	}

	record, err := h.versions.Get(r.Context(), id, version)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	doc, err := h.docs.UpdateContent(r.Context(), id, record.Snapshot)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, models.DocumentContent{
		DocumentID: doc.ID,
		Content:    doc.Content,
		Version:    doc.Version,
	})
}

func (h *Handler) DeleteVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	version, err := strconv.Atoi(vars["version"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid version: %w", err))
		return
	}

	if err := h.versions.Delete(r.Context(), id, version); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Checkout handlers

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_id is required"))
		return
	}

	if _, err := h.docs.GetByID(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	// Checkout rides on an exclusive lock so editor locks and checkouts
	// exclude each other through the same row.
	if _, err := h.locks.Acquire(r.Context(), id, body.UserID, models.LockExclusive, h.lockTTL); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	status := h.collab.MarkCheckedOut(id, body.UserID)
	h.feed.Publish(id, hub.Event{Type: hub.EventCheckout, Payload: status})

	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) CheckoutStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	writeJSON(w, http.StatusOK, h.collab.CheckoutStatus(id))
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req models.CheckinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// Edits other users applied since the checkout must be reconciled
	// before the checked-out content can land.
	if conflicts := h.collab.CheckinConflicts(id, req.UserID); len(conflicts) > 0 {
		doc, err := h.docs.GetByID(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, models.CheckinResult{
			DocumentID:   id,
			Version:      doc.Version,
			HasConflicts: true,
			Conflicts:    conflicts,
		})
		return
	}

	doc, err := h.docs.UpdateContent(r.Context(), id, req.Content)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	h.collab.ClearCheckout(id)
	if err := h.locks.Release(r.Context(), id, req.UserID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		log.Printf("⚠️  Failed to release checkout lock for %s: %v", id, err)
	}

	status := h.collab.CheckoutStatus(id)
	h.feed.Publish(id, hub.Event{Type: hub.EventCheckout, Payload: status})

	writeJSON(w, http.StatusOK, models.CheckinResult{
		DocumentID: id,
		Version:    doc.Version,
	})
}

func (h *Handler) ResolveConflicts(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req models.ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.DocumentID = id

	var result *models.ChangeResult
	if req.Text != "" {
		// Check-in path: the submitted text wins, the document row moves.
		doc, err := h.docs.UpdateContent(r.Context(), id, req.Text)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		h.collab.ClearCheckout(id)
		if err := h.locks.Release(r.Context(), id, req.UserID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			log.Printf("⚠️  Failed to release checkout lock for %s: %v", id, err)
		}

		result = &models.ChangeResult{
			DocumentID: id,
			Version:    doc.Version,
			Applied:    true,
			Resolved:   true,
		}
	} else {
		// Concurrent-edit path: accept the operations as a merge on top of
		// the current collaboration version.
		result = h.collab.Resolve(req)
	}

	h.feed.Publish(id, hub.Event{Type: hub.EventChange, Payload: result})
	writeJSON(w, http.StatusOK, result)
}

// Collaboration handlers

func (h *Handler) StartCollaboration(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req models.CollabJoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_id is required"))
		return
	}

	if _, err := h.docs.GetByID(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	state := h.collab.Join(id, req)
	h.feed.Publish(id, hub.Event{Type: hub.EventJoin, Payload: req})

	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) EndCollaboration(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req models.CollabJoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	h.collab.Leave(id, req.UserID)
	h.feed.Publish(id, hub.Event{Type: hub.EventLeave, Payload: req})

	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

func (h *Handler) ActiveUsers(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	writeJSON(w, http.StatusOK, h.collab.ActiveUsers(id))
}

func (h *Handler) SubmitChanges(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var batch models.ChangeBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	batch.DocumentID = id
	if batch.BatchID == "" {
		batch.BatchID = newBatchID()
	}

	result, conflict := h.collab.ApplyChanges(batch)
	if conflict != nil {
		writeJSON(w, http.StatusConflict, conflict)
		return
	}

	h.feed.Publish(id, hub.Event{Type: hub.EventChange, Payload: result})
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) SyncChanges(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req models.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, h.collab.Sync(id, req.SinceVersion))
}

// Side endpoints. Callers treat these as best-effort.

func (h *Handler) RefreshIndex(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	log.Printf("  Search index refresh queued for document %s", body.DocumentID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) AppendAudit(w http.ResponseWriter, r *http.Request) {
	var entry models.AuditEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}

	h.auditMu.Lock()
	h.audit = append(h.audit, entry)
	if len(h.audit) > maxAuditEntries {
		h.audit = h.audit[len(h.audit)-maxAuditEntries:]
	}
	h.auditMu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	h.auditMu.Lock()
	entries := make([]models.AuditEntry, len(h.audit))
	copy(entries, h.audit)
	h.auditMu.Unlock()

	writeJSON(w, http.StatusOK, entries)
}

// WebSocket feed

func (h *Handler) HandleDocumentFeed(w http.ResponseWriter, r *http.Request) {
	h.feed.ServeWS(w, r)
}
