// Package client talks to a termwrap server over its REST and WebSocket
// interfaces.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"termwrap/internal/protocol"
)

const defaultTimeout = 10 * time.Second

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a SESSION_NOT_FOUND response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == protocol.ErrSessionNotFound
}

// Client is a REST client for one server.
type Client struct {
	base *url.URL
	http *http.Client
}

// New creates a client for the server at baseURL, e.g. http://127.0.0.1:8000.
func New(baseURL string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	return &Client{base: u, http: &http.Client{Timeout: defaultTimeout}}, nil
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.base.String() }

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func sessionPath(id string, suffix string) string {
	return "/sessions/" + url.PathEscape(id) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e protocol.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			apiErr.Code, apiErr.Message = e.Code, e.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) (protocol.HealthResponse, error) {
	var resp protocol.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, nil, &resp)
	return resp, err
}

// Create starts a session and returns its ID.
func (c *Client) Create(ctx context.Context, req protocol.CreateSessionRequest) (string, error) {
	var resp protocol.CreateSessionResponse
	if err := c.do(ctx, http.MethodPost, "/sessions", nil, req, &resp); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// List returns all session IDs, oldest first.
func (c *Client) List(ctx context.Context) ([]string, error) {
	var resp protocol.ListSessionsResponse
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *Client) Info(ctx context.Context, id string) (protocol.SessionInfo, error) {
	var resp protocol.SessionInfo
	err := c.do(ctx, http.MethodGet, sessionPath(id, ""), nil, nil, &resp)
	return resp, err
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(id, ""), nil, nil, nil)
}

// Send writes data to the session's input verbatim.
func (c *Client) Send(ctx context.Context, id, data string) error {
	return c.do(ctx, http.MethodPost, sessionPath(id, "/input"), nil, protocol.InputRequest{Data: data}, nil)
}

func (c *Client) Resize(ctx context.Context, id string, rows, cols int) error {
	return c.do(ctx, http.MethodPost, sessionPath(id, "/resize"), nil, protocol.ResizeRequest{Rows: rows, Cols: cols}, nil)
}

// Output returns the raw bytes after the session's read cursor. With clear
// the cursor advances past them.
func (c *Client) Output(ctx context.Context, id string, clear bool) ([]byte, error) {
	q := url.Values{
		"clear":  {strconv.FormatBool(clear)},
		"format": {protocol.FormatBase64},
	}
	var resp protocol.OutputResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(id, "/output"), q, nil, &resp); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(resp.Output)
	if err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	return data, nil
}

// Text returns plain text from source, protocol.SourceOutput or
// protocol.SourceScreen.
func (c *Client) Text(ctx context.Context, id, source string) (string, error) {
	var q url.Values
	if source != "" {
		q = url.Values{"source": {source}}
	}
	var resp protocol.TextResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(id, "/text"), q, nil, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *Client) Screen(ctx context.Context, id string) (protocol.ScreenResponse, error) {
	var resp protocol.ScreenResponse
	err := c.do(ctx, http.MethodGet, sessionPath(id, "/screen"), nil, nil, &resp)
	return resp, err
}
