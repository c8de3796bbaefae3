package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"doc-collab/internal/models"
)

// Client is the transport client for the Document Store. Every coordinator
// component reaches the store through it; it performs no retries and no
// interpretation beyond the status-code contract (2xx ok, 409 conflict,
// other non-2xx preserved as HTTPError, no response = transport error).
type Client struct {
	BaseURL string
	client  *http.Client
}

// NewClient creates a store client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		client:  &http.Client{},
	}
}

// NewClientWithHTTP allows injecting a custom *http.Client (timeouts, tests).
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{BaseURL: baseURL, client: httpClient}
}

// do issues one request and decodes a 2xx JSON body into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// No response received: a network-level failure, never an HTTPError.
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return &HTTPError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Body:       respBody,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func docPath(documentID, suffix string) string {
	return "/api/documents/" + url.PathEscape(documentID) + suffix
}

// Lock endpoints

func (c *Client) GetLock(ctx context.Context, documentID string) (*models.DocumentLock, error) {
	var lock models.DocumentLock
	if err := c.do(ctx, http.MethodGet, docPath(documentID, "/lock"), nil, &lock); err != nil {
		return nil, err
	}
	return &lock, nil
}

func (c *Client) AcquireLock(ctx context.Context, documentID string, req models.LockRequest) (*models.DocumentLock, error) {
	var lock models.DocumentLock
	if err := c.do(ctx, http.MethodPost, docPath(documentID, "/lock"), req, &lock); err != nil {
		return nil, err
	}
	return &lock, nil
}

func (c *Client) ReleaseLock(ctx context.Context, documentID, userID string) error {
	path := docPath(documentID, "/lock") + "?user_id=" + url.QueryEscape(userID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Content endpoints

func (c *Client) GetContent(ctx context.Context, documentID string) (*models.DocumentContent, error) {
	var content models.DocumentContent
	if err := c.do(ctx, http.MethodGet, docPath(documentID, "/content"), nil, &content); err != nil {
		return nil, err
	}
	return &content, nil
}

func (c *Client) AutoSave(ctx context.Context, documentID, content string) (*models.SaveAck, error) {
	body := map[string]string{"content": content}
	var ack models.SaveAck
	if err := c.do(ctx, http.MethodPost, docPath(documentID, "/autosave"), body, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// Version endpoints

func (c *Client) ListVersions(ctx context.Context, documentID string) ([]models.VersionRecord, error) {
	var versions []models.VersionRecord
	if err := c.do(ctx, http.MethodGet, docPath(documentID, "/versions"), nil, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

func (c *Client) CreateVersion(ctx context.Context, documentID string, req models.VersionCreate) (*models.VersionRecord, error) {
	var record models.VersionRecord
	if err := c.do(ctx, http.MethodPost, docPath(documentID, "/versions"), req, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *Client) PromoteVersion(ctx context.Context, documentID string, version int) (*models.VersionRecord, error) {
	var record models.VersionRecord
	path := docPath(documentID, fmt.Sprintf("/versions/%d/promote", version))
	if err := c.do(ctx, http.MethodPost, path, nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *Client) RestoreVersion(ctx context.Context, documentID string, version int) (*models.DocumentContent, error) {
	var content models.DocumentContent
	path := docPath(documentID, fmt.Sprintf("/versions/%d/restore", version))
	if err := c.do(ctx, http.MethodPost, path, nil, &content); err != nil {
		return nil, err
	}
	return &content, nil
}

func (c *Client) DeleteVersion(ctx context.Context, documentID string, version int) error {
	path := docPath(documentID, fmt.Sprintf("/versions/%d", version))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Checkout endpoints

func (c *Client) Checkout(ctx context.Context, documentID, userID string) error {
	body := map[string]string{"user_id": userID}
	return c.do(ctx, http.MethodPost, docPath(documentID, "/checkout"), body, nil)
}

func (c *Client) CheckoutStatus(ctx context.Context, documentID string) (*models.CheckoutStatus, error) {
	var status models.CheckoutStatus
	if err := c.do(ctx, http.MethodGet, docPath(documentID, "/checkout-status"), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) CheckIn(ctx context.Context, documentID string, req models.CheckinRequest) (*models.CheckinResult, error) {
	var result models.CheckinResult
	if err := c.do(ctx, http.MethodPost, docPath(documentID, "/checkin"), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ResolveConflicts(ctx context.Context, documentID string, req models.ResolveRequest) (*models.ChangeResult, error) {
	var result models.ChangeResult
	if err := c.do(ctx, http.MethodPost, docPath(documentID, "/resolve-conflicts"), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Collaboration endpoints

func (c *Client) StartCollaboration(ctx context.Context, documentID string, req models.CollabJoinRequest) (*models.CollaborationState, error) {
	var state models.CollaborationState
	if err := c.do(ctx, http.MethodPost, docPath(documentID, "/collaboration/start"), req, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *Client) EndCollaboration(ctx context.Context, documentID string, req models.CollabJoinRequest) error {
	return c.do(ctx, http.MethodPost, docPath(documentID, "/collaboration/end"), req, nil)
}

func (c *Client) ActiveUsers(ctx context.Context, documentID string) ([]models.ActiveUser, error) {
	var users []models.ActiveUser
	if err := c.do(ctx, http.MethodGet, docPath(documentID, "/collaboration/users"), nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) SubmitChanges(ctx context.Context, documentID string, batch models.ChangeBatch) (*models.ChangeResult, error) {
	var result models.ChangeResult
	if err := c.do(ctx, http.MethodPost, docPath(documentID, "/collaboration/changes"), batch, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) SyncChanges(ctx context.Context, documentID string, req models.SyncRequest) (*models.SyncResult, error) {
	var result models.SyncResult
	if err := c.do(ctx, http.MethodPost, docPath(documentID, "/collaboration/sync"), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Best-effort side endpoints. Callers swallow failures from these.

func (c *Client) RefreshSearchIndex(ctx context.Context, documentID string) error {
	body := map[string]string{"document_id": documentID}
	return c.do(ctx, http.MethodPost, "/api/index/refresh", body, nil)
}

func (c *Client) AppendAuditLog(ctx context.Context, entry models.AuditEntry) error {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	return c.do(ctx, http.MethodPost, "/api/audit", entry, nil)
}
