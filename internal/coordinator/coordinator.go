package coordinator

import (
	"context"
	"log"
	"sync"
	"time"

	"doc-collab/internal/models"
	"doc-collab/internal/store"
)

// Options configures a Coordinator. Zero values fall back to production
// defaults (5s polling, 1h lock TTL).
type Options struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	LockTTL      time.Duration

	// Deterministic disables background trackers on StartCollaboration so
	// tests drive polling explicitly.
	Deterministic bool
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 5 * time.Second
	}
	if o.LockTTL <= 0 {
		o.LockTTL = time.Hour
	}
	return o
}

// Coordinator is the single entry point for document collaboration and
// locking. It composes the lock manager, auto-save scheduler, session
// registry, conflict resolver, and version manager over one store client,
// and guarantees every background resource is released by Shutdown.
type Coordinator struct {
	store    *store.Client
	locks    *LockManager
	autosave *AutoSaveScheduler
	registry *SessionRegistry
	resolver *ConflictResolver
	versions *VersionManager

	closeOnce sync.Once
}

// New creates a coordinator for the Document Store at storeURL.
func New(storeURL string, opts Options) *Coordinator {
	return NewWithClient(store.NewClient(storeURL), opts)
}

// NewWithClient creates a coordinator over an existing store client.
func NewWithClient(storeClient *store.Client, opts Options) *Coordinator {
	opts = opts.withDefaults()

	resolver := NewConflictResolver(storeClient)
	registry := NewSessionRegistry(storeClient, resolver, opts.PollInterval, opts.PollTimeout, opts.Deterministic)

	return &Coordinator{
		store:    storeClient,
		locks:    NewLockManager(storeClient, registry, resolver, opts.LockTTL),
		autosave: NewAutoSaveScheduler(storeClient),
		registry: registry,
		resolver: resolver,
		versions: NewVersionManager(storeClient),
	}
}

// Lock operations

func (c *Coordinator) ValidateLockStatus(ctx context.Context, documentID string) *models.DocumentLock {
	return c.locks.ValidateLockStatus(ctx, documentID)
}

func (c *Coordinator) LockDocument(ctx context.Context, documentID, userID string) (*models.DocumentLock, error) {
	return c.locks.LockDocument(ctx, documentID, userID)
}

func (c *Coordinator) OpenDocumentInEditor(ctx context.Context, documentID, userID string) (*models.DocumentContent, error) {
	return c.locks.OpenDocumentInEditor(ctx, documentID, userID)
}

func (c *Coordinator) CheckoutDocument(ctx context.Context, documentID, userID string, trackStatus bool) error {
	return c.locks.CheckoutDocument(ctx, documentID, userID, trackStatus)
}

func (c *Coordinator) HandleCheckinConflicts(ctx context.Context, documentID string, req models.CheckinRequest) (*models.CheckinResult, error) {
	return c.locks.HandleCheckinConflicts(ctx, documentID, req)
}

// Auto-save

func (c *Coordinator) AutoSave(ctx context.Context, documentID, content string, interval time.Duration, maxTicks int) (<-chan SaveResult, context.CancelFunc, error) {
	return c.autosave.Schedule(ctx, documentID, content, interval, maxTicks)
}

// Collaboration sessions

func (c *Coordinator) StartCollaboration(ctx context.Context, documentID string, user models.CollabJoinRequest) (*models.CollaborationState, error) {
	return c.registry.StartCollaboration(ctx, documentID, user)
}

func (c *Coordinator) EndCollaboration(ctx context.Context, documentID string, user models.CollabJoinRequest) error {
	return c.registry.EndCollaboration(ctx, documentID, user)
}

func (c *Coordinator) TrackActiveUsers(ctx context.Context, documentID string) (*PollingHandle, error) {
	return c.registry.TrackActiveUsers(ctx, documentID)
}

func (c *Coordinator) TrackCheckoutStatus(ctx context.Context, documentID string) (*PollingHandle, error) {
	return c.registry.TrackCheckoutStatus(ctx, documentID)
}

func (c *Coordinator) HandleConcurrentEdits(ctx context.Context, documentID string, batch models.ChangeBatch) (*models.ChangeResult, error) {
	return c.registry.HandleConcurrentEdits(ctx, documentID, batch)
}

func (c *Coordinator) SyncChanges(ctx context.Context, documentID string, req models.SyncRequest) (*models.SyncResult, error) {
	return c.registry.SyncChanges(ctx, documentID, req)
}

func (c *Coordinator) SubscribeUsers(documentID string) (*UserSubscription, error) {
	return c.registry.SubscribeUsers(documentID)
}

func (c *Coordinator) SubscribeChanges(documentID string) (*ChangeSubscription, error) {
	return c.registry.SubscribeChanges(documentID)
}

func (c *Coordinator) SubscribeCheckoutStatus(documentID string) (*StatusSubscription, error) {
	return c.registry.SubscribeCheckoutStatus(documentID)
}

// Version operations

func (c *Coordinator) GetVersionHistory(ctx context.Context, documentID string) ([]models.VersionRecord, error) {
	return c.versions.GetVersionHistory(ctx, documentID)
}

func (c *Coordinator) CreateNewVersion(ctx context.Context, documentID string, req models.VersionCreate) (*models.VersionRecord, error) {
	return c.versions.CreateNewVersion(ctx, documentID, req)
}

func (c *Coordinator) PromoteVersion(ctx context.Context, documentID string, version int) (*models.VersionRecord, error) {
	return c.versions.PromoteVersion(ctx, documentID, version)
}

func (c *Coordinator) RestoreVersion(ctx context.Context, documentID string, version int, author string) (*models.DocumentContent, error) {
	return c.versions.RestoreVersion(ctx, documentID, version, author)
}

func (c *Coordinator) DeleteVersion(ctx context.Context, documentID string, version int) error {
	return c.versions.DeleteVersion(ctx, documentID, version)
}

// Shutdown releases every background resource: all auto-save streams, all
// polling handles, all sessions, all published streams. It returns once
// everything has stopped; further calls are no-ops.
func (c *Coordinator) Shutdown() {
	c.closeOnce.Do(func() {
		log.Println("🛑 Shutting down collaboration coordinator...")
		c.autosave.Shutdown()
		c.registry.Shutdown()
		log.Println("✓ Collaboration coordinator shutdown complete")
	})
}
