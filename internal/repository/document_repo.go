package repository

import (
	"context"
	"errors"
	"fmt"

	"doc-collab/internal/models"

	"gorm.io/gorm"
)

// DocumentRepositoryImpl handles all database operations for documents
// using GORM. The api package declares the interface it consumes.
type DocumentRepositoryImpl struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *gorm.DB) *DocumentRepositoryImpl {
	return &DocumentRepositoryImpl{db: db}
}

// Create inserts a new document. The KSUID is generated in BeforeCreate.
func (r *DocumentRepositoryImpl) Create(ctx context.Context, doc *models.DocumentCreate) (*models.Document, error) {
	document := &models.Document{
		Title:    doc.Title,
		Content:  doc.Content,
		Format:   doc.Format,
		Version:  1,
		Metadata: doc.Metadata,
	}

	if err := r.db.WithContext(ctx).Create(document).Error; err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	return document, nil
}

// GetByID retrieves a document by its KSUID. Soft-deleted documents are
// excluded automatically.
func (r *DocumentRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document

	err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

// List returns documents newest-first with pagination. KSUIDs are
// time-ordered, so sorting by id sorts by creation time.
func (r *DocumentRepositoryImpl) List(ctx context.Context, limit, offset int) ([]*models.Document, error) {
	var documents []*models.Document

	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&documents).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	return documents, nil
}

// UpdateContent replaces the document content and bumps its version.
func (r *DocumentRepositoryImpl) UpdateContent(ctx context.Context, id, content string) (*models.Document, error) {
	var doc models.Document

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&doc, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("document %s: %w", id, ErrNotFound)
			}
			return fmt.Errorf("failed to find document: %w", err)
		}

		doc.Content = content
		doc.Version++
		if err := tx.Model(&doc).Updates(map[string]interface{}{
			"content": doc.Content,
			"version": doc.Version,
		}).Error; err != nil {
			return fmt.Errorf("failed to update document: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &doc, nil
}

// Delete performs a soft delete on the document.
func (r *DocumentRepositoryImpl) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Document{}, "id = ?", id)

	if result.Error != nil {
		return fmt.Errorf("failed to delete document: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}

	return nil
}
