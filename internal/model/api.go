package model

import "time"

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeUnavailable   = "UNAVAILABLE"
)

// SubmitEventRequest is the request body for POST /api/events.
type SubmitEventRequest struct {
	Kind    EventKind      `json:"kind"`
	Payload map[string]any `json:"payload"`
}

// SubmitEventResponse carries the acceptance token for a submitted event.
type SubmitEventResponse struct {
	Token  string    `json:"token"`
	Entity EntityRef `json:"entity"`
}

// ResolveAlertRequest is the request body for POST /api/alerts/{id}/resolve.
type ResolveAlertRequest struct {
	RootCause string `json:"rootCause,omitempty"`
}

// CompleteAgentRequest is the request body for POST /api/agents/{id}/complete.
type CompleteAgentRequest struct {
	Outcome          Outcome `json:"outcome"`
	Details          string  `json:"details,omitempty"`
	SystemsSucceeded int     `json:"systemsSucceeded,omitempty"`
	SystemsFailed    int     `json:"systemsFailed,omitempty"`
	Progress         int     `json:"progress,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Storage     string `json:"storage"`
	QueueDepth  int    `json:"queue_depth"`
	QueueStatus string `json:"queue_status"`
	Uptime      int64  `json:"uptime_seconds"`
}
