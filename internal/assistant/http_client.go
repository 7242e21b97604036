package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
)

// DefaultRequestTimeout bounds a single assistant exchange.
const DefaultRequestTimeout = 30 * time.Second

// HTTPOpts configures an HTTPClient.
type HTTPOpts struct {
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPOption sets a field on HTTPOpts.
type HTTPOption func(*HTTPOpts)

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) HTTPOption {
	return func(o *HTTPOpts) { o.APIKey = key }
}

// WithTimeout overrides DefaultRequestTimeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(o *HTTPOpts) { o.Timeout = d }
}

// WithHTTPClient injects the underlying HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(o *HTTPOpts) { o.HTTPClient = c }
}

// HTTPClient posts AssistantRequests to a JSON endpoint.
type HTTPClient struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPClient creates a client for the assistant endpoint at url.
func NewHTTPClient(url string, opts ...HTTPOption) *HTTPClient {
	cfg := HTTPOpts{Timeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPClient{url: url, apiKey: cfg.APIKey, client: hc}
}

// Ask sends one request and parses the reply.
func (c *HTTPClient) Ask(ctx context.Context, req models.AssistantRequest) (*models.AssistantResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal assistant request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build assistant request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Debug("HTTPClient.Ask: non-2xx response", "status", resp.StatusCode, "userID", req.UserID)
		return nil, newStatusError(resp.StatusCode, string(raw))
	}
	parsed, err := ParseResponse(raw)
	if err != nil {
		return nil, &ProviderError{Category: CategoryInvalidResponse, StatusCode: resp.StatusCode, Message: err.Error(), Err: err}
	}
	return parsed, nil
}
