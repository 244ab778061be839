// Package kanri provides a Go client for the Kanri IT operations API.
package kanri

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents an error from the Kanri API with the HTTP status code
// and the server's error envelope.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	// Details carries error.details verbatim, e.g. the stored record when a
	// workflow is rejected as malformed.
	Details []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("kanri: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func hasStatus(err error, status int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == status
	}
	return false
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

// IsConflict returns true if the error is a 409, e.g. an illegal status
// transition.
func IsConflict(err error) bool { return hasStatus(err, http.StatusConflict) }

// IsRateLimited returns true if the error is a 429.
func IsRateLimited(err error) bool { return hasStatus(err, http.StatusTooManyRequests) }

// IsUnavailable returns true if the error is a 503. The ingestion queue is
// full or draining; retry later.
func IsUnavailable(err error) bool { return hasStatus(err, http.StatusServiceUnavailable) }

// IsMalformedWorkflow returns true if a workflow was stored disabled
// because it failed validation.
func IsMalformedWorkflow(err error) bool { return hasStatus(err, http.StatusUnprocessableEntity) }
