package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 1 << 20

// url builds a complete URL by appending the path to the base URL.
func (c *SDKClient) url(path string) string {
	return c.BaseURL + path
}

// doRequest performs an HTTP request, JSON-encoding payload when it is non-nil.
// Transport failures come back as *NetworkError.
func (c *SDKClient) doRequest(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Method: method, Path: path, Err: err}
	}

	return resp, nil
}

// decodeJSON decodes a JSON response into target.
// Any non-2xx status is turned into an *APIError.
func decodeJSON(resp *http.Response, target any) error {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ErrorFromResponse(resp.StatusCode, bodyBytes)
	}

	if target == nil || len(bytes.TrimSpace(bodyBytes)) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// call runs one request/decode cycle and prefixes failures with op.
func (c *SDKClient) call(ctx context.Context, op, method, path string, payload, target any) error {
	resp, err := c.doRequest(ctx, method, path, payload)
	if err != nil {
		return fmt.Errorf("authsdk.%s: %w", op, err)
	}
	if err := decodeJSON(resp, target); err != nil {
		return fmt.Errorf("authsdk.%s: %w", op, err)
	}
	return nil
}
