package repository

import (
	"context"
	"errors"
	"fmt"

	"doc-collab/internal/models"

	"gorm.io/gorm"
)

// VersionRepositoryImpl stores the append-only version history. Records
// are immutable once created; insertion order is significant, newest last.
type VersionRepositoryImpl struct {
	db *gorm.DB
}

// NewVersionRepository creates a new version repository
func NewVersionRepository(db *gorm.DB) *VersionRepositoryImpl {
	return &VersionRepositoryImpl{db: db}
}

// Append creates the next version record for a document. The version
// number is assigned inside the transaction so concurrent appends cannot
// collide.
func (r *VersionRepositoryImpl) Append(ctx context.Context, documentID, author, changeDescription, content string) (*models.VersionRecord, error) {
	record := &models.VersionRecord{
		DocumentID:        documentID,
		Author:            author,
		ChangeDescription: changeDescription,
		SizeBytes:         int64(len(content)),
		Snapshot:          content,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var max int
		if err := tx.Model(&models.VersionRecord{}).
			Where("document_id = ?", documentID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&max).Error; err != nil {
			return fmt.Errorf("failed to read max version: %w", err)
		}
		record.Version = max + 1
		return tx.Create(record).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append version: %w", err)
	}

	return record, nil
}

// List returns the history in insertion order, newest last.
func (r *VersionRepositoryImpl) List(ctx context.Context, documentID string) ([]models.VersionRecord, error) {
	var records []models.VersionRecord

	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("version ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	return records, nil
}

// Get returns one version record.
func (r *VersionRepositoryImpl) Get(ctx context.Context, documentID string, version int) (*models.VersionRecord, error) {
	var record models.VersionRecord

	err := r.db.WithContext(ctx).
		First(&record, "document_id = ? AND version = ?", documentID, version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("version %d of %s: %w", version, documentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}

	return &record, nil
}

// Promote marks one version as the promoted baseline, clearing the flag
// from any previously promoted version of the same document.
func (r *VersionRepositoryImpl) Promote(ctx context.Context, documentID string, version int) (*models.VersionRecord, error) {
	var record models.VersionRecord

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&record, "document_id = ? AND version = ?", documentID, version).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("version %d of %s: %w", version, documentID, ErrNotFound)
			}
			return err
		}

		if err := tx.Model(&models.VersionRecord{}).
			Where("document_id = ? AND promoted = ?", documentID, true).
			Update("promoted", false).Error; err != nil {
			return err
		}

		record.Promoted = true
		return tx.Model(&record).Update("promoted", true).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to promote version: %w", err)
	}

	return &record, nil
}

// Delete removes a version record from the history.
func (r *VersionRepositoryImpl) Delete(ctx context.Context, documentID string, version int) error {
	result := r.db.WithContext(ctx).
		Delete(&models.VersionRecord{}, "document_id = ? AND version = ?", documentID, version)

	if result.Error != nil {
		return fmt.Errorf("failed to delete version: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("version %d of %s: %w", version, documentID, ErrNotFound)
	}
	return nil
}
