package coordinator

import (
	"context"
	"fmt"

	"doc-collab/internal/models"
	"doc-collab/internal/store"
)

// ConflictResolver forwards write conflicts to the store's resolution
// endpoint. It performs no merge of its own and never inspects conflict
// contents; its whole job is building the resolution request and uniform
// error translation.
type ConflictResolver struct {
	store *store.Client
}

// NewConflictResolver creates a resolver backed by the given store client.
func NewConflictResolver(storeClient *store.Client) *ConflictResolver {
	return &ConflictResolver{store: storeClient}
}

// Resolve submits the original change plus the store-reported conflicting
// ranges and returns the store's result. Any failure — HTTP or transport —
// is translated into ErrConflictResolutionFailed.
func (r *ConflictResolver) Resolve(ctx context.Context, documentID string, req models.ResolveRequest) (*models.ChangeResult, error) {
	req.DocumentID = documentID

	result, err := r.store.ResolveConflicts(ctx, documentID, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConflictResolutionFailed, err)
	}
	return result, nil
}
