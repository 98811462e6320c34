package common

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gravitational/trace"
)

// apiClient is a thin REST client for the durable relay's Relay HTTP API
// (lib/durablerelay), in the spirit of the teacher's own auth.Client: no
// retries or connection pooling beyond what net/http already gives us, just
// enough to drive the handful of operator endpoints bridgectl exposes.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return trace.Wrap(err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return trace.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return trace.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return trace.Errorf("%s %s: %d %s (%s)", method, path, resp.StatusCode, apiErr.Message, apiErr.Code)
	}

	if out == nil {
		return nil
	}
	return trace.Wrap(json.NewDecoder(resp.Body).Decode(out))
}

func (c *apiClient) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *apiClient) health(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/health", &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

type deviceSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Platform    string `json:"platform"`
	AppVersion  string `json:"appVersion"`
	WorkspaceID string `json:"workspaceId"`
	CreatedAt   int64  `json:"createdAt"`
	LastSeenAt  int64  `json:"lastSeenAt"`
}

func (c *apiClient) listDevices(ctx context.Context) ([]deviceSummary, error) {
	var out []deviceSummary
	if err := c.get(ctx, "/api/v1/devices", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) removeDevice(ctx context.Context, id string) error {
	return c.delete(ctx, fmt.Sprintf("/api/v1/devices/%s", id))
}
