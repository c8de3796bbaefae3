package repository

import "errors"

var (
	// ErrNotFound is returned when a document, lock, or version is absent.
	ErrNotFound = errors.New("not found")

	// ErrLockHeld is returned when an unexpired lock held by another user
	// blocks acquisition.
	ErrLockHeld = errors.New("lock held by another user")
)
