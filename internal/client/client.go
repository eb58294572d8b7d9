package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"workshop/internal/constants"
	"workshop/internal/errors"

	"github.com/gorilla/websocket"
)

// Client is the HTTP/WebSocket client for a workshop control plane
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client instance
func New(serverURL string) (*Client, error) {
	if !strings.Contains(serverURL, "://") {
		serverURL = "http://" + serverURL
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: missing host", serverURL)
	}

	return &Client{
		baseURL: strings.TrimSuffix(u.String(), "/"),
		httpClient: &http.Client{
			// Recovery actions triggered by a start can take minutes
			Timeout: constants.DefaultServerWriteTimeout + 10*time.Second,
		},
	}, nil
}

// BaseURL returns the server URL the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// doRequest performs an HTTP request and decodes a JSON response into out.
// Non-2xx responses are returned as *errors.WorkshopError.
func (c *Client) doRequest(ctx context.Context, method, path string, body, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError rebuilds the server's structured error so callers can use
// errors.HasCode on it
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)

	var body errors.HTTPErrorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.Error.Code == "" {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		we := errors.New(errors.ErrInternal, msg)
		we.HTTPStatus = resp.StatusCode
		return we
	}

	we := errors.NewWithDetails(body.Error.Code, body.Error.Message, body.Error.Details)
	we.Context = body.Context
	we.HTTPStatus = resp.StatusCode
	return we
}

// Health checks the health of the server
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var health map[string]interface{}
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return nil, err
	}
	return health, nil
}

// WebSocketConnect establishes a WebSocket connection to path
func (c *Client) WebSocketConnect(ctx context.Context, path string) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}

	wsScheme := "ws"
	if u.Scheme == "https" {
		wsScheme = "wss"
	}
	wsURL := fmt.Sprintf("%s://%s%s", wsScheme, u.Host, path)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return conn, nil
}

func escape(s string) string {
	return url.PathEscape(s)
}
