package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ntptech/invoice-collector/internal/models"
)

// ErrBackendNotConfigured is returned when no backend URL or token is set;
// callers short-circuit instead of producing per-record transport errors.
var ErrBackendNotConfigured = errors.New("odoo backend is not configured")

const (
	defaultTimeout = 30 * time.Second
	maxRetries     = 3
	retryBackoff   = 2 * time.Second

	healthPath  = "/api/einvoice/health"
	stagingPath = "/api/einvoice/staging/create"
)

// Client talks to the Odoo backend's e-invoice controller over HTTP
// JSON-RPC. Authentication is a shared extension token, not a user session.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	backoff    time.Duration
}

// NewClient creates a backend client. URL and token may be empty; calls
// then fail fast with ErrBackendNotConfigured.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		backoff:    retryBackoff,
	}
}

// Configured reports whether the client can reach a backend at all
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.token != ""
}

// rpcEnvelope is the JSON-RPC 2.0 request wrapper Odoo's type="json"
// controllers expect.
type rpcEnvelope struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	ID      string      `json:"id"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
}

func (e *rpcError) Error() string {
	if e.Data != nil {
		if msg, ok := e.Data["message"].(string); ok && msg != "" {
			return fmt.Sprintf("odoo: %s: %s", e.Message, msg)
		}
	}
	return "odoo: " + e.Message
}

// Health probes the backend's e-invoice module. A reachable backend with
// the module missing reports failure with the HTTP status in the message.
func (c *Client) Health(ctx context.Context) models.HealthStatus {
	if !c.Configured() {
		return models.HealthStatus{Error: ErrBackendNotConfigured.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return models.HealthStatus{Error: err.Error()}
	}
	req.Header.Set("X-Extension-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.HealthStatus{Error: fmt.Sprintf("backend unreachable: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.HealthStatus{Error: fmt.Sprintf("backend returned HTTP %d", resp.StatusCode)}
	}

	var status models.HealthStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&status); err != nil {
		return models.HealthStatus{Error: fmt.Sprintf("invalid health response: %v", err)}
	}
	return status
}

// stagingCreateResult is the controller's per-batch response
type stagingCreateResult struct {
	Success bool             `json:"success"`
	Results []stagingOutcome `json:"results"`
	Error   string           `json:"error,omitempty"`
}

type stagingOutcome struct {
	InvoiceNumber string `json:"invoice_number"`
	Status        string `json:"status"` // created, duplicate, error
	StagingID     int64  `json:"staging_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

// CreateStaging submits one batch of records to the staging controller.
// The caller-generated session id rides in every payload so the backend can
// group one sync pass's batches. Transport failures are retried with fixed
// backoff; HTTP 4xx and JSON-RPC application errors are terminal because
// retrying cannot change them.
func (c *Client) CreateStaging(ctx context.Context, invoices []*models.InvoiceRecord, sessionID string) (*stagingCreateResult, error) {
	if !c.Configured() {
		return nil, ErrBackendNotConfigured
	}

	envelope := rpcEnvelope{
		JSONRPC: "2.0",
		Method:  "call",
		ID:      uuid.NewString(),
		Params: map[string]interface{}{
			"invoices":   invoices,
			"session_id": sessionID,
		},
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff):
			}
		}

		result, retryable, err := c.postBatch(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) postBatch(ctx context.Context, body []byte) (*stagingCreateResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+stagingPath, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Extension-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("posting batch: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("backend returned HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		// Bad token or bad payload will not improve on retry
		return nil, false, fmt.Errorf("backend rejected batch: HTTP %d", resp.StatusCode)
	}

	var rpc rpcResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(&rpc); err != nil {
		return nil, true, fmt.Errorf("decoding response: %w", err)
	}
	if rpc.Error != nil {
		return nil, false, rpc.Error
	}

	var result stagingCreateResult
	if err := json.Unmarshal(rpc.Result, &result); err != nil {
		return nil, false, fmt.Errorf("decoding result: %w", err)
	}
	return &result, false, nil
}
