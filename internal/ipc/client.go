package ipc

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
)

// Caller is the request side of a backend connection.
type Caller interface {
	Call(ctx context.Context, method string, params, result any) error
	WaitReady(ctx context.Context) error
}

// Client wraps a transport with a readiness signal. Nothing is sent through
// Exec until the backend has been initialized.
type Client struct {
	t      *Transport
	logger *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

// Compile-time check that Client implements Caller.
var _ Caller = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client over t and starts reading from it.
func NewClient(ctx context.Context, t *Transport, opts ...ClientOption) *Client {
	c := &Client{
		t:      t,
		logger: slog.Default(),
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	t.SetLogger(c.logger)
	t.Start(ctx)
	return c
}

// Ready is closed once the backend is initialized.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

// MarkReady signals readiness. Safe to call more than once.
func (c *Client) MarkReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// WaitReady blocks until the client is ready, the connection closes, or ctx
// is done.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	default:
	}
	select {
	case <-c.ready:
		return nil
	case <-c.t.Done():
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

type initializeParams struct {
	ProcessID    int            `json:"processId"`
	RootURI      *string        `json:"rootUri"`
	Capabilities map[string]any `json:"capabilities"`
}

// Initialize performs the initialize/initialized handshake and marks the
// client ready.
func (c *Client) Initialize(ctx context.Context, rootURI string) error {
	params := initializeParams{
		ProcessID:    os.Getpid(),
		Capabilities: map[string]any{},
	}
	if rootURI != "" {
		params.RootURI = &rootURI
	}
	var result json.RawMessage
	if err := c.t.Call(ctx, "initialize", params, &result); err != nil {
		return err
	}
	if err := c.t.Notify(ctx, "initialized", struct{}{}); err != nil {
		return err
	}
	c.logger.Debug("backend initialized")
	c.MarkReady()
	return nil
}

// Call sends a request without waiting for readiness.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	return c.t.Call(ctx, method, params, result)
}

// OnRequest registers a handler for backend-initiated requests.
func (c *Client) OnRequest(method string, h RequestHandler) {
	c.t.OnRequest(method, h)
}

// OnNotification registers a handler for backend notifications.
func (c *Client) OnNotification(method string, h NotificationHandler) {
	c.t.OnNotification(method, h)
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.t.Done()
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.t.Close()
}
