package coordinator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"doc-collab/internal/models"
	"doc-collab/internal/store"
)

// VersionManager glues the version-history endpoints into the coordinator.
// HTTP-level failures propagate verbatim; transport failures translate to
// operation-specific errors.
type VersionManager struct {
	store *store.Client
}

// NewVersionManager creates a version manager.
func NewVersionManager(storeClient *store.Client) *VersionManager {
	return &VersionManager{store: storeClient}
}

// GetVersionHistory returns the document's history, newest last.
func (m *VersionManager) GetVersionHistory(ctx context.Context, documentID string) ([]models.VersionRecord, error) {
	versions, err := m.store.ListVersions(ctx, documentID)
	if err != nil {
		if _, ok := store.AsHTTPError(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get version history: %w", err)
	}
	return versions, nil
}

// CreateNewVersion appends a new version record. An empty change
// description is rejected before any network call. On success the search
// index refresh and audit entry run best-effort: their failures are logged
// and never fail the create.
func (m *VersionManager) CreateNewVersion(ctx context.Context, documentID string, req models.VersionCreate) (*models.VersionRecord, error) {
	if strings.TrimSpace(req.ChangeDescription) == "" {
		return nil, ErrEmptyChangeDescription
	}

	record, err := m.store.CreateVersion(ctx, documentID, req)
	if err != nil {
		if _, ok := store.AsHTTPError(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create version: %w", err)
	}

	if err := m.store.RefreshSearchIndex(ctx, documentID); err != nil {
		log.Printf("⚠️  Search index refresh for %s failed: %v", documentID, err)
	}
	if err := m.store.AppendAuditLog(ctx, models.AuditEntry{
		DocumentID: documentID,
		UserID:     req.Author,
		Action:     "version.create",
		Detail:     req.ChangeDescription,
	}); err != nil {
		log.Printf("⚠️  Audit log append for %s failed: %v", documentID, err)
	}

	return record, nil
}

// PromoteVersion promotes an existing version to be the current one.
func (m *VersionManager) PromoteVersion(ctx context.Context, documentID string, version int) (*models.VersionRecord, error) {
	record, err := m.store.PromoteVersion(ctx, documentID, version)
	if err != nil {
		if _, ok := store.AsHTTPError(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("failed to promote version: %w", err)
	}
	return record, nil
}

// RestoreVersion restores the document content to an earlier version. On
// success it best-effort appends a history record describing the
// restoration; failure to create that follow-up record never fails the
// restore itself.
func (m *VersionManager) RestoreVersion(ctx context.Context, documentID string, version int, author string) (*models.DocumentContent, error) {
	content, err := m.store.RestoreVersion(ctx, documentID, version)
	if err != nil {
		if _, ok := store.AsHTTPError(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("failed to restore version: %w", err)
	}

	_, followUpErr := m.store.CreateVersion(ctx, documentID, models.VersionCreate{
		Author:            author,
		ChangeDescription: fmt.Sprintf("Restored from version %d", version),
	})
	if followUpErr != nil {
		log.Printf("⚠️  Follow-up version record after restoring %s to %d failed: %v", documentID, version, followUpErr)
	}

	return content, nil
}

// DeleteVersion removes a version record from the history.
func (m *VersionManager) DeleteVersion(ctx context.Context, documentID string, version int) error {
	if err := m.store.DeleteVersion(ctx, documentID, version); err != nil {
		if _, ok := store.AsHTTPError(err); ok {
			return err
		}
		return fmt.Errorf("failed to delete version: %w", err)
	}
	return nil
}
