package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"doc-collab/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNon2xxBecomesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(`{"error":"short and stout"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.GetContent(context.Background(), "doc1")

	httpErr, ok := AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTeapot, httpErr.Status)
	assert.JSONEq(t, `{"error":"short and stout"}`, string(httpErr.Body))
}

func TestTransportFailureIsNotHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(server.URL)
	_, err := client.GetContent(context.Background(), "doc1")

	require.Error(t, err)
	_, ok := AsHTTPError(err)
	assert.False(t, ok)
}

func TestIsConflict(t *testing.T) {
	assert.True(t, IsConflict(&HTTPError{Status: http.StatusConflict}))
	assert.False(t, IsConflict(&HTTPError{Status: http.StatusLocked}))
	assert.False(t, IsConflict(errors.New("plain error")))
	assert.False(t, IsConflict(nil))
}

func TestConflictsFromError(t *testing.T) {
	report := models.ConflictReport{
		DocumentID: "doc1",
		Conflicts:  []models.ConflictRange{{Start: 4, End: 12, UserID: "bob", Version: 3}},
	}
	body, err := json.Marshal(report)
	require.NoError(t, err)

	conflicts, ok := ConflictsFromError(&HTTPError{Status: http.StatusConflict, Body: body})
	require.True(t, ok)
	assert.Equal(t, report.Conflicts, conflicts)

	_, ok = ConflictsFromError(&HTTPError{Status: http.StatusConflict, Body: []byte("not json")})
	assert.False(t, ok)

	_, ok = ConflictsFromError(&HTTPError{Status: http.StatusInternalServerError, Body: body})
	assert.False(t, ok)
}

func TestWrappedHTTPErrorStillDetected(t *testing.T) {
	inner := &HTTPError{Status: http.StatusConflict}
	wrapped := fmt.Errorf("outer context: %w", inner)

	assert.True(t, IsConflict(wrapped))
	httpErr, ok := AsHTTPError(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, httpErr)
}

func TestRequestShapes(t *testing.T) {
	type captured struct {
		method string
		path   string
		query  string
		body   map[string]interface{}
	}
	var got captured

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = captured{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&got.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	ctx := context.Background()

	require.NoError(t, client.ReleaseLock(ctx, "doc1", "user with spaces"))
	assert.Equal(t, http.MethodDelete, got.method)
	assert.Equal(t, "/api/documents/doc1/lock", got.path)
	assert.Equal(t, "user_id=user+with+spaces", got.query)

	_, err := client.AutoSave(ctx, "doc1", "snapshot")
	require.NoError(t, err)
	assert.Equal(t, "/api/documents/doc1/autosave", got.path)
	assert.Equal(t, "snapshot", got.body["content"])

	_, err = client.SubmitChanges(ctx, "doc1", models.ChangeBatch{UserID: "alice", BaseVersion: 2})
	require.NoError(t, err)
	assert.Equal(t, "/api/documents/doc1/collaboration/changes", got.path)
	assert.Equal(t, "alice", got.body["user_id"])
	assert.Equal(t, float64(2), got.body["base_version"])
}

func TestAppendAuditLogFillsTimestamp(t *testing.T) {
	var entry models.AuditEntry
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&entry)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	require.NoError(t, client.AppendAuditLog(context.Background(), models.AuditEntry{
		DocumentID: "doc1",
		UserID:     "alice",
		Action:     "version.create",
	}))

	assert.False(t, entry.At.IsZero())
	assert.WithinDuration(t, time.Now(), entry.At, time.Minute)
}

func TestLockRequestDurationWireFormat(t *testing.T) {
	req := models.LockRequest{UserID: "alice", LockType: models.LockExclusive, TTL: models.Duration(time.Hour)}

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":"alice","lock_type":"exclusive","ttl":3600000}`, string(data))

	var back models.LockRequest
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, time.Hour, time.Duration(back.TTL))
}
