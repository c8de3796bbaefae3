package coordinator

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"doc-collab/internal/models"
	"doc-collab/internal/store"
)

// checkoutTracker is what the lock manager needs from the registry: the
// ability to start checkout-status polling after a successful checkout.
type checkoutTracker interface {
	TrackCheckoutStatus(ctx context.Context, documentID string) (*PollingHandle, error)
}

// LockManager acquires, validates, and checks in document locks, and
// composes lock checks into the open/checkout/check-in workflows.
type LockManager struct {
	store    *store.Client
	tracker  checkoutTracker
	resolver *ConflictResolver
	lockTTL  time.Duration
}

// NewLockManager creates a lock manager. lockTTL is the expiry requested on
// every acquisition (one hour in production).
func NewLockManager(storeClient *store.Client, tracker checkoutTracker, resolver *ConflictResolver, lockTTL time.Duration) *LockManager {
	return &LockManager{
		store:    storeClient,
		tracker:  tracker,
		resolver: resolver,
		lockTTL:  lockTTL,
	}
}

// ValidateLockStatus is a read-only probe of a document's lock. On any
// failure — 404, 500, or no response at all — it returns nil, treating
// "lock status unknown" as "unlocked". That is a deliberate availability
// trade-off: editing proceeds under ambiguous conditions instead of
// failing closed on strict mutual exclusion.
func (m *LockManager) ValidateLockStatus(ctx context.Context, documentID string) *models.DocumentLock {
	lock, err := m.store.GetLock(ctx, documentID)
	if err != nil {
		return nil
	}
	if lock.Expired() {
		return nil
	}
	return lock
}

// LockDocument requests an exclusive lock with the configured expiry.
// HTTP-level failures propagate with their status; a network-level failure
// becomes ErrLockFailed.
func (m *LockManager) LockDocument(ctx context.Context, documentID, userID string) (*models.DocumentLock, error) {
	lock, err := m.store.AcquireLock(ctx, documentID, models.LockRequest{
		UserID:   userID,
		LockType: models.LockExclusive,
		TTL:      models.Duration(m.lockTTL),
	})
	if err != nil {
		if httpErr, ok := store.AsHTTPError(err); ok {
			if httpErr.Status == http.StatusConflict {
				return nil, fmt.Errorf("%w: %w", ErrDocumentLocked, httpErr)
			}
			return nil, httpErr
		}
		return nil, fmt.Errorf("%w: %w", ErrLockFailed, err)
	}
	return lock, nil
}

// OpenDocumentInEditor validates the lock status and, unless an exclusive
// lock is held by someone else, fetches the document content.
func (m *LockManager) OpenDocumentInEditor(ctx context.Context, documentID, userID string) (*models.DocumentContent, error) {
	lock := m.ValidateLockStatus(ctx, documentID)
	if lock != nil && lock.LockType == models.LockExclusive && lock.HeldByOther(userID) {
		return nil, fmt.Errorf("%w (held by %s)", ErrDocumentLocked, lock.UserID)
	}

	content, err := m.store.GetContent(ctx, documentID)
	if err != nil {
		if _, ok := store.AsHTTPError(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	return content, nil
}

// CheckoutDocument acquires the lock, then calls the checkout endpoint, and
// only after both succeed starts checkout-status tracking. A failure at any
// step leaves no polling loop behind.
func (m *LockManager) CheckoutDocument(ctx context.Context, documentID, userID string, trackStatus bool) error {
	if _, err := m.LockDocument(ctx, documentID, userID); err != nil {
		return err
	}

	if err := m.store.Checkout(ctx, documentID, userID); err != nil {
		if _, ok := store.AsHTTPError(err); ok {
			return err
		}
		return fmt.Errorf("failed to check out document: %w", err)
	}

	if trackStatus {
		if _, err := m.tracker.TrackCheckoutStatus(ctx, documentID); err != nil {
			return err
		}
	}
	return nil
}

// HandleCheckinConflicts submits content for check-in. A clean check-in
// returns the store's response unchanged; a conflicting one is immediately
// escalated to the resolver with the same content and the store-reported
// conflicts, and the resolver's result is the operation's result.
func (m *LockManager) HandleCheckinConflicts(ctx context.Context, documentID string, req models.CheckinRequest) (*models.CheckinResult, error) {
	result, err := m.store.CheckIn(ctx, documentID, req)
	if err != nil {
		if _, ok := store.AsHTTPError(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("failed to check in document: %w", err)
	}

	if !result.HasConflicts {
		return result, nil
	}

	log.Printf("Check-in of %s reported %d conflicts, delegating to resolver", documentID, len(result.Conflicts))

	resolved, err := m.resolver.Resolve(ctx, documentID, models.ResolveRequest{
		UserID:    req.UserID,
		Text:      req.Content,
		Conflicts: result.Conflicts,
	})
	if err != nil {
		return nil, err
	}

	return &models.CheckinResult{
		DocumentID: documentID,
		Version:    resolved.Version,
		Resolved:   true,
	}, nil
}
