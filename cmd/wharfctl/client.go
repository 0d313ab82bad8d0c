package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// client talks to the wharfd API
type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(base, token string) *client {
	// provisioning and restores run inside the request
	return &client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Minute},
	}
}

// apiError carries the status and the server's error message
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// do sends in as JSON (when non-nil) and decodes the response into out
// (when non-nil). okStatus lists extra non-2xx codes that carry a result.
func (c *client) do(method, path string, in, out any, okStatus ...int) (int, error) {
	var body io.Reader
	if in != nil {
		postBody, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to create request body: %w", err)
		}
		body = bytes.NewReader(postBody)
	}

	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to reach wharfd: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	accepted := resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, s := range okStatus {
		accepted = accepted || resp.StatusCode == s
	}
	if !accepted {
		var payload struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(bodyBytes))
		if json.Unmarshal(bodyBytes, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return resp.StatusCode, &apiError{Status: resp.StatusCode, Message: msg}
	}

	if out != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
