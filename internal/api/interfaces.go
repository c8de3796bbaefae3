package api

import (
	"context"
	"net/http"
	"time"

	"doc-collab/internal/hub"
	"doc-collab/internal/models"
)

// This package is the consumer of the repositories and trackers, so the
// interfaces it depends on live here. Only methods the handlers actually
// call are declared; implementations can grow without touching this file.

// DocumentStore is what handlers need from the document repository.
type DocumentStore interface {
	Create(ctx context.Context, doc *models.DocumentCreate) (*models.Document, error)
	GetByID(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, limit, offset int) ([]*models.Document, error)
	UpdateContent(ctx context.Context, id, content string) (*models.Document, error)
	Delete(ctx context.Context, id string) error
}

// LockStore is what handlers need from the lock repository.
type LockStore interface {
	Acquire(ctx context.Context, documentID, userID string, lockType models.LockType, ttl time.Duration) (*models.DocumentLock, error)
	Get(ctx context.Context, documentID string) (*models.DocumentLock, error)
	Release(ctx context.Context, documentID, userID string) error
}

// VersionStore is what handlers need from the version repository.
type VersionStore interface {
	Append(ctx context.Context, documentID, author, changeDescription, content string) (*models.VersionRecord, error)
	List(ctx context.Context, documentID string) ([]models.VersionRecord, error)
	Get(ctx context.Context, documentID string, version int) (*models.VersionRecord, error)
	Promote(ctx context.Context, documentID string, version int) (*models.VersionRecord, error)
	Delete(ctx context.Context, documentID string, version int) error
}

// CollabTracker is the in-memory collaboration state the handlers drive.
type CollabTracker interface {
	Join(documentID string, req models.CollabJoinRequest) models.CollaborationState
	Leave(documentID, userID string)
	ActiveUsers(documentID string) []models.ActiveUser
	ApplyChanges(batch models.ChangeBatch) (*models.ChangeResult, *models.ConflictReport)
	Resolve(req models.ResolveRequest) *models.ChangeResult
	Sync(documentID string, sinceVersion int) *models.SyncResult
	MarkCheckedOut(documentID, userID string) models.CheckoutStatus
	ClearCheckout(documentID string)
	CheckoutStatus(documentID string) models.CheckoutStatus
	CheckinConflicts(documentID, userID string) []models.ConflictRange
}

// EventFeed is the live event fan-out handlers publish to.
type EventFeed interface {
	Publish(documentID string, event hub.Event)
	ServeWS(w http.ResponseWriter, r *http.Request)
}
