package models

import "time"

// ActiveUser is one participant of a collaboration session, as reported by
// the store's active-user endpoint. Cursor and selection are ephemeral
// presence state, separate from document content.
type ActiveUser struct {
	UserID    string          `json:"user_id"`
	UserName  string          `json:"user_name"`
	Cursor    *CursorPosition `json:"cursor,omitempty"`
	Selection *SelectionRange `json:"selection,omitempty"`
}

// CursorPosition represents where a user's cursor is in the document
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// SelectionRange is a contiguous selected region.
type SelectionRange struct {
	Start CursorPosition `json:"start"`
	End   CursorPosition `json:"end"`
}

// CollaborationState is the published view of one live session.
type CollaborationState struct {
	DocumentID  string       `json:"document_id"`
	ActiveUsers []ActiveUser `json:"active_users"`
}

type OpType string

const (
	OpInsert  OpType = "insert"
	OpDelete  OpType = "delete"
	OpReplace OpType = "replace"
)

// EditOperation is one opaque edit step. The coordinator never interprets
// operations; it only carries them to the store in order.
type EditOperation struct {
	Op       OpType `json:"op"`
	Position int    `json:"position"`
	Length   int    `json:"length,omitempty"`
	Text     string `json:"text,omitempty"`
}

// ChangeBatch is an ordered sequence of edits submitted for a document.
type ChangeBatch struct {
	BatchID     string          `json:"batch_id"`
	DocumentID  string          `json:"document_id"`
	UserID      string          `json:"user_id"`
	BaseVersion int             `json:"base_version"`
	Ops         []EditOperation `json:"ops"`
}

// ConflictRange is one store-reported overlap between a submitted change
// and concurrent changes already applied.
type ConflictRange struct {
	Start   int    `json:"start"`
	End     int    `json:"end"`
	UserID  string `json:"user_id"`
	Version int    `json:"version"`
}

// ConflictReport is the body of a 409 response on the changes endpoint.
type ConflictReport struct {
	DocumentID string          `json:"document_id"`
	Conflicts  []ConflictRange `json:"conflicts"`
}

// ChangeResult is the outcome of submitting (or resolving) a change batch.
type ChangeResult struct {
	DocumentID string `json:"document_id"`
	Version    int    `json:"version"`
	Applied    bool   `json:"applied"`
	Resolved   bool   `json:"resolved"`
}

// ResolveRequest carries the original change plus the store-reported
// conflicting ranges to the resolution endpoint. No client-side merge is
// performed; resolution strategy is entirely the store's. Text is set on the
// check-in path, Ops on the concurrent-edit path.
type ResolveRequest struct {
	DocumentID  string          `json:"document_id"`
	UserID      string          `json:"user_id"`
	Text        string          `json:"text,omitempty"`
	Ops         []EditOperation `json:"ops,omitempty"`
	BaseVersion int             `json:"base_version,omitempty"`
	Conflicts   []ConflictRange `json:"conflicts"`
}

// CheckinRequest is the body of POST checkin.
type CheckinRequest struct {
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

// CheckinResult reports whether a check-in was accepted cleanly.
type CheckinResult struct {
	DocumentID   string          `json:"document_id"`
	Version      int             `json:"version"`
	HasConflicts bool            `json:"has_conflicts"`
	Conflicts    []ConflictRange `json:"conflicts,omitempty"`
	Resolved     bool            `json:"resolved,omitempty"`
}

// CheckoutStatus is the store-reported state of an external checkout.
type CheckoutStatus struct {
	DocumentID   string    `json:"document_id"`
	Status       string    `json:"status"`
	CheckedOutBy string    `json:"checked_out_by,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SyncRequest is the body of POST collaboration/sync.
type SyncRequest struct {
	UserID       string `json:"user_id"`
	SinceVersion int    `json:"since_version"`
}

// SyncResult carries the operations a client is missing.
type SyncResult struct {
	DocumentID string          `json:"document_id"`
	Version    int             `json:"version"`
	Ops        []EditOperation `json:"ops"`
}

// CollabJoinRequest is the body of POST collaboration/start and end.
type CollabJoinRequest struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
}

// AuditEntry is a best-effort audit log record. Failures to append audit
// entries never fail the primary operation.
type AuditEntry struct {
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	Action     string    `json:"action"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}
