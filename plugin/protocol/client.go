// Package protocol implements the typed request/response client for the
// remote seller counterpart: connect, list capabilities, invoke named
// operations, disconnect. One live logical connection at a time.
package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	// DefaultInvokeTimeout bounds a single remote invocation.
	DefaultInvokeTimeout = 10 * time.Second
	// DefaultConnectTimeout bounds the connection handshake.
	DefaultConnectTimeout = 8 * time.Second
)

type connection struct {
	endpoint     string
	credential   string
	sessionToken string
	capabilities []string
	limiter      *rate.Limiter
}

// Client talks to one remote seller endpoint at a time.
type Client struct {
	httpClient *http.Client

	mu   sync.Mutex
	conn *connection
}

// NewClient creates a protocol client.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: DefaultInvokeTimeout},
	}
}

// Connect establishes a logical session to the endpoint. Connecting while
// already connected tears down the prior connection first.
func (c *Client) Connect(ctx context.Context, endpoint, credential string) error {
	c.Disconnect()

	endpoint = strings.TrimRight(endpoint, "/")
	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"credential": credential})
	if err != nil {
		return errors.Wrap(err, "failed to marshal handshake")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/connect", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to build handshake request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "handshake failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "failed to read handshake response")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("handshake returned status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return errors.Wrap(err, "malformed handshake response")
	}
	if !env.Success {
		return errors.Errorf("remote refused connection: %s", env.Error)
	}

	var handshake struct {
		SessionToken string   `json:"session_token"`
		Capabilities []string `json:"capabilities"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &handshake); err != nil {
			return errors.Wrap(err, "malformed handshake data")
		}
	}

	c.mu.Lock()
	c.conn = &connection{
		endpoint:     endpoint,
		credential:   credential,
		sessionToken: handshake.SessionToken,
		capabilities: handshake.Capabilities,
		// Polite pacing towards the remote party.
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 3),
	}
	c.mu.Unlock()

	slog.Info("connected to seller endpoint",
		"endpoint", endpoint,
		"capabilities", len(handshake.Capabilities))
	return nil
}

// Connected reports whether a live connection exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Capabilities returns the operations the remote side actually exposes.
// This is ground truth over the registry's claim.
func (c *Client) Capabilities() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	out := make([]string, len(c.conn.capabilities))
	copy(out, c.conn.capabilities)
	return out
}

// Supports reports whether the remote advertises the operation. An empty
// capability list is treated as "unknown, try anyway".
func (c *Client) Supports(op string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return false
	}
	if len(c.conn.capabilities) == 0 {
		return true
	}
	for _, capability := range c.conn.capabilities {
		if capability == op {
			return true
		}
	}
	return false
}

// Invoke wraps a remote call in the generic envelope. Non-JSON or malformed
// payloads are mapped to a best-effort plain-message result.
func (c *Client) Invoke(ctx context.Context, op string, params any) (*InvokeResult, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	if err := conn.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limit wait canceled")
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultInvokeTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]any{
		"op":            op,
		"params":        params,
		"session_token": conn.sessionToken,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal invocation")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.endpoint+"/invoke", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build invocation request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "invocation %s failed", op)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read invocation response")
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Best effort: surface whatever the remote said as a plain message.
		return &InvokeResult{
			Success: resp.StatusCode < http.StatusBadRequest,
			Message: strings.TrimSpace(string(body)),
		}, nil
	}

	result := &InvokeResult{Success: env.Success, Data: env.Data, Message: env.Error}
	if env.Success {
		result.Message = ""
	}
	return result, nil
}

// Disconnect tears down the current connection. Safe to call when not
// connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return
	}

	// Best effort: the remote may already be gone.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.endpoint+"/disconnect", strings.NewReader("{}"))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if resp, err := c.httpClient.Do(req); err == nil {
		resp.Body.Close()
	}
	slog.Debug("disconnected from seller endpoint", "endpoint", conn.endpoint)
}
