package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"doc-collab/internal/models"
)

// HTTPError is a response the store did send: a non-2xx status. The status
// is preserved verbatim so callers can propagate it unchanged. Transport
// failures (no response at all) are never HTTPErrors.
type HTTPError struct {
	Status     int
	StatusText string
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("store request failed with status %d: %s", e.Status, e.StatusText)
}

// AsHTTPError unwraps err to an *HTTPError if one is in the chain.
func AsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// IsConflict reports whether err is a 409 from the store.
func IsConflict(err error) bool {
	httpErr, ok := AsHTTPError(err)
	return ok && httpErr.Status == http.StatusConflict
}

// ConflictsFromError decodes the conflict report carried by a 409 response.
func ConflictsFromError(err error) ([]models.ConflictRange, bool) {
	httpErr, ok := AsHTTPError(err)
	if !ok || httpErr.Status != http.StatusConflict {
		return nil, false
	}

	var report models.ConflictReport
	if jsonErr := json.Unmarshal(httpErr.Body, &report); jsonErr != nil {
		return nil, false
	}
	return report.Conflicts, true
}
