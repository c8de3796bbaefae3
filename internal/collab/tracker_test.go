package collab

import (
	"encoding/json"
	"testing"

	"doc-collab/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinLeaveLifecycle(t *testing.T) {
	tr := NewTracker()

	state := tr.Join("doc1", models.CollabJoinRequest{UserID: "alice", UserName: "Alice"})
	assert.Len(t, state.ActiveUsers, 1)

	tr.Join("doc1", models.CollabJoinRequest{UserID: "bob", UserName: "Bob"})
	assert.Len(t, tr.ActiveUsers("doc1"), 2)

	// Re-joining is idempotent.
	tr.Join("doc1", models.CollabJoinRequest{UserID: "alice", UserName: "Alice A."})
	assert.Len(t, tr.ActiveUsers("doc1"), 2)

	tr.Leave("doc1", "alice")
	users := tr.ActiveUsers("doc1")
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].UserID)

	tr.Leave("doc1", "bob")
	assert.Empty(t, tr.ActiveUsers("doc1"))
	assert.Zero(t, tr.Version("doc1"), "last leave tears the session down")
}

func TestLeaveUnknownDocumentIsNoOp(t *testing.T) {
	tr := NewTracker()
	tr.Leave("ghost", "alice")
	assert.Empty(t, tr.ActiveUsers("ghost"))
}

func TestApplyChangesAdvancesVersion(t *testing.T) {
	tr := NewTracker()

	result, conflict := tr.ApplyChanges(models.ChangeBatch{
		DocumentID:  "doc1",
		UserID:      "alice",
		BaseVersion: 0,
		Ops:         []models.EditOperation{{Op: models.OpInsert, Position: 0, Text: "hello"}},
	})
	require.Nil(t, conflict)
	assert.Equal(t, 1, result.Version)
	assert.True(t, result.Applied)

	result, conflict = tr.ApplyChanges(models.ChangeBatch{
		DocumentID:  "doc1",
		UserID:      "alice",
		BaseVersion: 1,
		Ops:         []models.EditOperation{{Op: models.OpInsert, Position: 5, Text: "!"}},
	})
	require.Nil(t, conflict)
	assert.Equal(t, 2, result.Version)
}

func TestApplyChangesDetectsOverlap(t *testing.T) {
	tr := NewTracker()

	// Bob edits characters 0-5 at version 1.
	_, conflict := tr.ApplyChanges(models.ChangeBatch{
		DocumentID: "doc1",
		UserID:     "bob",
		Ops:        []models.EditOperation{{Op: models.OpReplace, Position: 0, Length: 5, Text: "xxxxx"}},
	})
	require.Nil(t, conflict)

	// Alice, still on version 0, touches the same span.
	result, conflict := tr.ApplyChanges(models.ChangeBatch{
		DocumentID:  "doc1",
		UserID:      "alice",
		BaseVersion: 0,
		Ops:         []models.EditOperation{{Op: models.OpDelete, Position: 3, Length: 4}},
	})
	assert.Nil(t, result)
	require.NotNil(t, conflict)
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, "bob", conflict.Conflicts[0].UserID)
	assert.Equal(t, 0, conflict.Conflicts[0].Start)
	assert.Equal(t, 5, conflict.Conflicts[0].End)

	// The rejected batch must not have advanced the version.
	assert.Equal(t, 1, tr.Version("doc1"))
}

func TestApplyChangesStaleBaseWithoutOverlapApplies(t *testing.T) {
	tr := NewTracker()

	_, conflict := tr.ApplyChanges(models.ChangeBatch{
		DocumentID: "doc1",
		UserID:     "bob",
		Ops:        []models.EditOperation{{Op: models.OpInsert, Position: 100, Text: "tail"}},
	})
	require.Nil(t, conflict)

	// Stale base but disjoint span: applies cleanly.
	result, conflict := tr.ApplyChanges(models.ChangeBatch{
		DocumentID:  "doc1",
		UserID:      "alice",
		BaseVersion: 0,
		Ops:         []models.EditOperation{{Op: models.OpInsert, Position: 0, Text: "head"}},
	})
	require.Nil(t, conflict)
	assert.Equal(t, 2, result.Version)
}

func TestApplyChangesOwnEditsNeverConflict(t *testing.T) {
	tr := NewTracker()

	_, conflict := tr.ApplyChanges(models.ChangeBatch{
		DocumentID: "doc1",
		UserID:     "alice",
		Ops:        []models.EditOperation{{Op: models.OpInsert, Position: 0, Text: "draft"}},
	})
	require.Nil(t, conflict)

	result, conflict := tr.ApplyChanges(models.ChangeBatch{
		DocumentID:  "doc1",
		UserID:      "alice",
		BaseVersion: 0,
		Ops:         []models.EditOperation{{Op: models.OpReplace, Position: 0, Length: 5, Text: "redraft"}},
	})
	require.Nil(t, conflict)
	assert.Equal(t, 2, result.Version)
}

func TestResolveAppendsMerge(t *testing.T) {
	tr := NewTracker()

	_, conflict := tr.ApplyChanges(models.ChangeBatch{
		DocumentID: "doc1",
		UserID:     "bob",
		Ops:        []models.EditOperation{{Op: models.OpInsert, Position: 0, Text: "base"}},
	})
	require.Nil(t, conflict)

	result := tr.Resolve(models.ResolveRequest{
		DocumentID: "doc1",
		UserID:     "alice",
		Ops:        []models.EditOperation{{Op: models.OpReplace, Position: 0, Length: 4, Text: "merged"}},
		Conflicts:  []models.ConflictRange{{Start: 0, End: 4, UserID: "bob", Version: 1}},
	})

	assert.True(t, result.Resolved)
	assert.True(t, result.Applied)
	assert.Equal(t, 2, result.Version)
	assert.Equal(t, 2, tr.Version("doc1"))
}

func TestSyncReturnsOpsSinceVersion(t *testing.T) {
	tr := NewTracker()

	for i, text := range []string{"one", "two", "three"} {
		_, conflict := tr.ApplyChanges(models.ChangeBatch{
			DocumentID:  "doc1",
			UserID:      "alice",
			BaseVersion: i,
			Ops:         []models.EditOperation{{Op: models.OpInsert, Position: i, Text: text}},
		})
		require.Nil(t, conflict)
	}

	result := tr.Sync("doc1", 1)
	assert.Equal(t, 3, result.Version)
	require.Len(t, result.Ops, 2)
	assert.Equal(t, "two", result.Ops[0].Text)
	assert.Equal(t, "three", result.Ops[1].Text)

	empty := tr.Sync("doc1", 3)
	assert.Empty(t, empty.Ops)

	unknown := tr.Sync("ghost", 0)
	assert.Zero(t, unknown.Version)
	assert.Empty(t, unknown.Ops)
}

func TestCheckoutStatusLifecycle(t *testing.T) {
	tr := NewTracker()

	status := tr.CheckoutStatus("doc1")
	assert.Equal(t, "available", status.Status)

	marked := tr.MarkCheckedOut("doc1", "alice")
	assert.Equal(t, "checked_out", marked.Status)
	assert.Equal(t, "alice", marked.CheckedOutBy)

	status = tr.CheckoutStatus("doc1")
	assert.Equal(t, "checked_out", status.Status)

	tr.ClearCheckout("doc1")
	assert.Equal(t, "available", tr.CheckoutStatus("doc1").Status)
}

func TestCheckinConflictsAgainstCheckoutBase(t *testing.T) {
	tr := NewTracker()
	tr.Join("doc1", models.CollabJoinRequest{UserID: "alice"})
	tr.Join("doc1", models.CollabJoinRequest{UserID: "bob"})

	tr.MarkCheckedOut("doc1", "alice")

	// Clean while nothing happened since checkout.
	assert.Empty(t, tr.CheckinConflicts("doc1", "alice"))

	// Bob edits after the checkout; alice's check-in now conflicts.
	_, conflict := tr.ApplyChanges(models.ChangeBatch{
		DocumentID: "doc1",
		UserID:     "bob",
		Ops:        []models.EditOperation{{Op: models.OpInsert, Position: 10, Text: "late edit"}},
	})
	require.Nil(t, conflict)

	conflicts := tr.CheckinConflicts("doc1", "alice")
	require.Len(t, conflicts, 1)
	assert.Equal(t, "bob", conflicts[0].UserID)

	// Alice's own edits do not count against her check-in.
	assert.Empty(t, tr.CheckinConflicts("doc1", "bob"))
}

func TestUpdatePresence(t *testing.T) {
	tr := NewTracker()
	tr.Join("doc1", models.CollabJoinRequest{UserID: "alice", UserName: "Alice"})

	tr.UpdatePresence("doc1", "alice", &models.CursorPosition{Line: 3, Column: 14}, nil)

	users := tr.ActiveUsers("doc1")
	require.Len(t, users, 1)
	require.NotNil(t, users[0].Cursor)
	assert.Equal(t, 3, users[0].Cursor.Line)

	// Presence for unknown users is dropped, not created.
	tr.UpdatePresence("doc1", "ghost", &models.CursorPosition{Line: 1}, nil)
	assert.Len(t, tr.ActiveUsers("doc1"), 1)
}

func TestUpdatePresenceRaw(t *testing.T) {
	tr := NewTracker()
	tr.Join("doc1", models.CollabJoinRequest{UserID: "alice"})

	payload := json.RawMessage(`{"cursor":{"line":7,"column":2},"selection":{"start":{"line":7,"column":0},"end":{"line":7,"column":9}}}`)
	tr.UpdatePresenceRaw("doc1", "alice", payload)

	users := tr.ActiveUsers("doc1")
	require.Len(t, users, 1)
	require.NotNil(t, users[0].Cursor)
	assert.Equal(t, 7, users[0].Cursor.Line)
	require.NotNil(t, users[0].Selection)
	assert.Equal(t, 9, users[0].Selection.End.Column)

	// Malformed payloads are dropped silently.
	tr.UpdatePresenceRaw("doc1", "alice", json.RawMessage(`{bad json`))
	assert.Equal(t, 7, tr.ActiveUsers("doc1")[0].Cursor.Line)
}
