package coordinator

import "errors"

// Typed errors surfaced by the coordinator. HTTP-level store failures are
// propagated verbatim (see store.HTTPError); these cover everything else.
var (
	// ErrDocumentLocked means an exclusive lock is held by another user.
	ErrDocumentLocked = errors.New("document is locked by another user")

	// ErrLockFailed is a network-level lock acquisition failure.
	ErrLockFailed = errors.New("failed to lock document")

	// ErrAutoSaveFailed is a network-level auto-save failure; the stream
	// terminates when it is emitted.
	ErrAutoSaveFailed = errors.New("auto-save failed")

	// ErrTrackingFailed terminates a presence polling loop.
	ErrTrackingFailed = errors.New("active user tracking failed")

	// ErrCheckoutStatusUnknown terminates a checkout polling loop.
	ErrCheckoutStatusUnknown = errors.New("checkout status unknown")

	// ErrConflictResolutionFailed covers any failure of the store's
	// resolution endpoint.
	ErrConflictResolutionFailed = errors.New("conflict resolution failed")

	// ErrConcurrentEditFailed covers timeout or transport failure while
	// submitting concurrent edits.
	ErrConcurrentEditFailed = errors.New("concurrent edit submission failed")

	// ErrEmptyChangeDescription is raised before any network call.
	ErrEmptyChangeDescription = errors.New("change description must not be empty")

	// ErrCoordinatorClosed is returned by operations started after Shutdown.
	ErrCoordinatorClosed = errors.New("coordinator is shut down")
)
