package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StatusError carries the core's gRPC-style status code alongside its
// message so the gateway can map it back onto an HTTP response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("core status %d: %s", e.Code, e.Message)
}

// Client is the typed HTTP client the gateway uses to reach the core.
type Client struct {
	base string
	http *http.Client
}

// NewClient builds a client for the core at base (e.g. http://localhost:50051).
func NewClient(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Negotiate submits one sanitized bid.
func (c *Client) Negotiate(ctx context.Context, req *NegotiateRequest, requestID string) (*NegotiateResponse, error) {
	var out NegotiateResponse
	if err := c.call(ctx, http.MethodPost, "/rpc/v1/negotiate", req, requestID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search runs a vector-similarity catalog query.
func (c *Client) Search(ctx context.Context, req *SearchRequest, requestID string) (*SearchResponse, error) {
	var out SearchResponse
	if err := c.call(ctx, http.MethodPost, "/rpc/v1/search", req, requestID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSystemStatus fetches the telemetry snapshot.
func (c *Client) GetSystemStatus(ctx context.Context, requestID string) (*SystemStatus, error) {
	var out SystemStatus
	if err := c.call(ctx, http.MethodGet, "/rpc/v1/system/status", nil, requestID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckDealStatus resolves one deal id.
func (c *Client) CheckDealStatus(ctx context.Context, dealID, requestID string) (*DealStatusResponse, error) {
	var out DealStatusResponse
	if err := c.call(ctx, http.MethodGet, "/rpc/v1/deals/"+dealID, nil, requestID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health probes core readiness, store included.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.call(ctx, http.MethodGet, "/rpc/v1/health", nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, method, path string, body interface{}, requestID string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		var errBody ErrorResponse
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &errBody) == nil && errBody.Error != "" {
			msg = errBody.Error
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return nil
}
