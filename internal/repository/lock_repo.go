package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"doc-collab/internal/models"

	"gorm.io/gorm"
)

// LockRepositoryImpl stores document locks. One row per document; an
// acquisition succeeds when no row exists, the existing lock has expired,
// or the same user refreshes their own lock.
type LockRepositoryImpl struct {
	db *gorm.DB
}

// NewLockRepository creates a new lock repository
func NewLockRepository(db *gorm.DB) *LockRepositoryImpl {
	return &LockRepositoryImpl{db: db}
}

// Acquire attempts to take a lock for userID. A live exclusive lock by
// another user, or any exclusive/shared mix across users, fails with
// ErrLockHeld.
func (r *LockRepositoryImpl) Acquire(ctx context.Context, documentID, userID string, lockType models.LockType, ttl time.Duration) (*models.DocumentLock, error) {
	now := time.Now()
	lock := &models.DocumentLock{
		DocumentID: documentID,
		UserID:     userID,
		LockType:   lockType,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.DocumentLock
		err := tx.First(&existing, "document_id = ?", documentID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(lock).Error
		case err != nil:
			return fmt.Errorf("failed to read lock: %w", err)
		}

		if !existing.Expired() && existing.UserID != userID {
			return ErrLockHeld
		}

		// Expired or same-user refresh: supersede the row.
		if err := tx.Delete(&models.DocumentLock{}, "document_id = ?", documentID).Error; err != nil {
			return fmt.Errorf("failed to supersede lock: %w", err)
		}
		return tx.Create(lock).Error
	})
	if err != nil {
		return nil, err
	}

	return lock, nil
}

// Get returns the live lock for a document, or ErrNotFound when no
// unexpired lock exists.
func (r *LockRepositoryImpl) Get(ctx context.Context, documentID string) (*models.DocumentLock, error) {
	var lock models.DocumentLock

	err := r.db.WithContext(ctx).First(&lock, "document_id = ?", documentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lock for %s: %w", documentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}

	if lock.Expired() {
		return nil, fmt.Errorf("lock for %s: %w", documentID, ErrNotFound)
	}

	return &lock, nil
}

// Release removes the lock if userID owns it.
func (r *LockRepositoryImpl) Release(ctx context.Context, documentID, userID string) error {
	result := r.db.WithContext(ctx).
		Delete(&models.DocumentLock{}, "document_id = ? AND user_id = ?", documentID, userID)

	if result.Error != nil {
		return fmt.Errorf("failed to release lock: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("lock for %s: %w", documentID, ErrNotFound)
	}
	return nil
}
