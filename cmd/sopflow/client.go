package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type sopflowClient struct {
	baseURL string
	http    *http.Client
}

func newClient() *sopflowClient {
	return &sopflowClient{
		baseURL: strings.TrimRight(serverURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError is returned when the server answers with a non-2xx status.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *sopflowClient) getJSON(path string, v any) error {
	return c.do(http.MethodGet, path, nil, v)
}

func (c *sopflowClient) postJSON(path string, body, v any) error {
	return c.do(http.MethodPost, path, body, v)
}

func (c *sopflowClient) patchJSON(path string, body, v any) error {
	return c.do(http.MethodPatch, path, body, v)
}

func (c *sopflowClient) deleteJSON(path string, v any) error {
	return c.do(http.MethodDelete, path, nil, v)
}

func (c *sopflowClient) do(method, path string, body, v any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		return &apiError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	return nil
}

// errorMessage extracts the "error" field of an error body, falling back to
// the raw text.
func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

func queryPath(path string, params map[string]string) string {
	q := url.Values{}
	for k, val := range params {
		if val != "" {
			q.Set(k, val)
		}
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
