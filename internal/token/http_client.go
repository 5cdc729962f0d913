// SPDX-License-Identifier: MIT

package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient talks to the token registry daemon. It implements both
// Registrar and Validator.
type HTTPClient struct {
	baseURL string
	userID  string
	client  *http.Client
}

// NewHTTPClient creates a registry client for the given endpoint owner.
func NewHTTPClient(baseURL, userID string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		userID:  userID,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Register registers (or re-registers) the token for this endpoint.
func (c *HTTPClient) Register(ctx context.Context, token string) error {
	body := map[string]any{"token": token, "userId": c.userID}
	return c.do(ctx, http.MethodPost, "/tokens", body, nil)
}

// Validate asks the registry's verify endpoint for a verdict.
func (c *HTTPClient) Validate(ctx context.Context, token string) (VerifyOutcome, error) {
	var resp struct {
		Valid   bool     `json:"valid"`
		Reasons []string `json:"reasons"`
	}
	if err := c.do(ctx, http.MethodPost, "/tokens/verify", map[string]any{"token": token}, &resp); err != nil {
		return VerifyOutcome{}, err
	}
	return VerifyOutcome{Valid: resp.Valid, Reasons: resp.Reasons}, nil
}

// Revoke marks the token invalidated in the registry.
func (c *HTTPClient) Revoke(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "/tokens", map[string]any{"token": token}, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("registry request %s %s: %w", method, path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("registry returned %d for %s %s", resp.StatusCode, method, path)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode registry response: %w", err)
		}
	}
	return nil
}
