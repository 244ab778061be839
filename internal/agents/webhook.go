package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ashita-ai/kanri/internal/model"
)

const defaultWebhookTimeout = 30 * time.Second

// Webhook executes actions by POSTing them to an HTTP endpoint. A 200
// response carries the ExecutionResult; a 202 means the remote side took the
// work and will report completion through the API later.
type Webhook struct {
	url        string
	token      string
	ops        []string
	httpClient *http.Client
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithToken sends the token as a bearer credential.
func WithToken(token string) WebhookOption {
	return func(w *Webhook) { w.token = token }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) WebhookOption {
	return func(w *Webhook) {
		if d > 0 {
			w.httpClient.Timeout = d
		}
	}
}

// WithOps limits the operations the webhook accepts.
func WithOps(ops ...string) WebhookOption {
	return func(w *Webhook) { w.ops = ops }
}

// WithHTTPClient replaces the client. Its transport is used as is.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.httpClient = c }
}

// NewWebhook creates a webhook executor for url. Trace context is propagated
// to the endpoint.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url: url,
		httpClient: &http.Client{
			Timeout:   defaultWebhookTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// WebhookRequest is the body sent to the endpoint.
type WebhookRequest struct {
	Agent  model.Agent      `json:"agent"`
	Action model.ActionSpec `json:"action"`
}

// CanHandle implements dispatch.Executor.
func (w *Webhook) CanHandle(spec model.ActionSpec) bool { return handles(w.ops, spec) }

// Execute implements dispatch.Executor.
func (w *Webhook) Execute(ctx context.Context, agent model.Agent, spec model.ActionSpec) (model.ExecutionResult, error) {
	body, err := json.Marshal(WebhookRequest{Agent: agent, Action: spec})
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("webhook: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("webhook: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusAccepted:
		return model.ExecutionResult{}, model.ErrDeferred
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return model.ExecutionResult{}, fmt.Errorf("webhook: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var res model.ExecutionResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return model.ExecutionResult{}, fmt.Errorf("webhook: decode response: %w", err)
	}
	return res.Normalize(), nil
}
