package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"doc-collab/internal/models"
	"doc-collab/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateNewVersionRejectsEmptyDescription(t *testing.T) {
	fs := newFakeStore(t)
	c := fs.coordinator(deterministicOpts())
	defer c.Shutdown()

	for _, desc := range []string{"", "   ", "\t\n"} {
		_, err := c.CreateNewVersion(context.Background(), "doc1", models.VersionCreate{
			Author:            "alice",
			ChangeDescription: desc,
		})
		assert.ErrorIs(t, err, ErrEmptyChangeDescription)
	}

	// Rejected before any request leaves the process.
	assert.Zero(t, fs.callCount("POST", "/api/documents/doc1/versions"))
}

func TestCreateNewVersionSuccess(t *testing.T) {
	fs := newFakeStore(t)
	fs.mux.HandleFunc("/api/documents/doc1/versions", func(w http.ResponseWriter, r *http.Request) {
		var req models.VersionCreate
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		respond(w, http.StatusCreated, models.VersionRecord{
			DocumentID:        "doc1",
			Version:           8,
			Author:            req.Author,
			ChangeDescription: req.ChangeDescription,
			Timestamp:         time.Now(),
		})
	})
	fs.mux.HandleFunc("/api/index/refresh", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusAccepted, map[string]string{"status": "queued"})
	})

	var audit models.AuditEntry
	fs.mux.HandleFunc("/api/audit", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&audit))
		respond(w, http.StatusAccepted, map[string]string{"status": "recorded"})
	})

	c := fs.coordinator(deterministicOpts())
	defer c.Shutdown()

	record, err := c.CreateNewVersion(context.Background(), "doc1", models.VersionCreate{
		Author:            "alice",
		ChangeDescription: "Tighten intro",
	})
	require.NoError(t, err)
	assert.Equal(t, 8, record.Version)
	assert.Equal(t, 1, fs.callCount("POST", "/api/documents/doc1/versions"))

	assert.Equal(t, 1, fs.callCount("POST", "/api/index/refresh"))
	assert.Equal(t, "version.create", audit.Action)
	assert.Equal(t, "alice", audit.UserID)
}

func TestCreateNewVersionSideEffectFailuresAreSwallowed(t *testing.T) {
	fs := newFakeStore(t)
	fs.mux.HandleFunc("/api/documents/doc1/versions", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusCreated, models.VersionRecord{DocumentID: "doc1", Version: 2})
	})
	fs.mux.HandleFunc("/api/index/refresh", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusServiceUnavailable, nil)
	})
	fs.mux.HandleFunc("/api/audit", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusServiceUnavailable, nil)
	})

	c := fs.coordinator(deterministicOpts())
	defer c.Shutdown()

	record, err := c.CreateNewVersion(context.Background(), "doc1", models.VersionCreate{
		Author:            "alice",
		ChangeDescription: "Add appendix",
	})
	require.NoError(t, err, "index and audit failures must not fail the create")
	assert.Equal(t, 2, record.Version)
}

func TestCreateNewVersionHTTPErrorPropagates(t *testing.T) {
	fs := newFakeStore(t)
	fs.mux.HandleFunc("/api/documents/doc1/versions", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusNotFound, map[string]string{"error": "no such document"})
	})

	c := fs.coordinator(deterministicOpts())
	defer c.Shutdown()

	_, err := c.CreateNewVersion(context.Background(), "doc1", models.VersionCreate{
		Author:            "alice",
		ChangeDescription: "x",
	})
	httpErr, ok := store.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
}

func TestGetVersionHistory(t *testing.T) {
	fs := newFakeStore(t)
	fs.mux.HandleFunc("/api/documents/doc1/versions", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, []models.VersionRecord{
			{DocumentID: "doc1", Version: 1, Author: "alice"},
			{DocumentID: "doc1", Version: 2, Author: "bob"},
		})
	})

	c := fs.coordinator(deterministicOpts())
	defer c.Shutdown()

	history, err := c.GetVersionHistory(context.Background(), "doc1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Version)
	assert.Equal(t, 2, history[1].Version)
}

func TestRestoreVersionAppendsFollowUpRecord(t *testing.T) {
	fs := newFakeStore(t)
	fs.mux.HandleFunc("/api/documents/doc1/versions/3/restore", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, models.DocumentContent{DocumentID: "doc1", Content: "old text", Version: 9})
	})

	var followUp models.VersionCreate
	fs.mux.HandleFunc("/api/documents/doc1/versions", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&followUp))
		respond(w, http.StatusCreated, models.VersionRecord{DocumentID: "doc1", Version: 10})
	})

	c := fs.coordinator(deterministicOpts())
	defer c.Shutdown()

	content, err := c.RestoreVersion(context.Background(), "doc1", 3, "alice")
	require.NoError(t, err)
	assert.Equal(t, "old text", content.Content)

	assert.Equal(t, "alice", followUp.Author)
	assert.Equal(t, "Restored from version 3", followUp.ChangeDescription)
}

func TestRestoreVersionSurvivesFollowUpFailure(t *testing.T) {
	fs := newFakeStore(t)
	fs.mux.HandleFunc("/api/documents/doc1/versions/3/restore", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, models.DocumentContent{DocumentID: "doc1", Content: "old text", Version: 9})
	})
	fs.mux.HandleFunc("/api/documents/doc1/versions", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusInternalServerError, nil)
	})

	c := fs.coordinator(deterministicOpts())
	defer c.Shutdown()

	content, err := c.RestoreVersion(context.Background(), "doc1", 3, "alice")
	require.NoError(t, err, "follow-up record failure must not fail the restore")
	assert.Equal(t, 9, content.Version)
}

func TestPromoteVersion(t *testing.T) {
	fs := newFakeStore(t)
	fs.mux.HandleFunc("/api/documents/doc1/versions/4/promote", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, models.VersionRecord{DocumentID: "doc1", Version: 4, Promoted: true})
	})

	c := fs.coordinator(deterministicOpts())
	defer c.Shutdown()

	record, err := c.PromoteVersion(context.Background(), "doc1", 4)
	require.NoError(t, err)
	assert.True(t, record.Promoted)
}

func TestDeleteVersion(t *testing.T) {
	fs := newFakeStore(t)
	fs.mux.HandleFunc("/api/documents/doc1/versions/2", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	c := fs.coordinator(deterministicOpts())
	defer c.Shutdown()

	assert.NoError(t, c.DeleteVersion(context.Background(), "doc1", 2))
}

func TestDeleteVersionNetworkFailure(t *testing.T) {
	fs := newFakeStore(t)
	c := fs.coordinator(deterministicOpts())
	defer c.Shutdown()
	fs.server.Close()

	err := c.DeleteVersion(context.Background(), "doc1", 2)
	require.Error(t, err)
	_, ok := store.AsHTTPError(err)
	assert.False(t, ok)
}
