// Package ipctest provides an in-process command backend that xt can dial
// over TCP. It answers the initialize handshake and workspace/executeCommand
// requests, and can call back into the client's object namespace.
package ipctest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/runger/xt/internal/ipc"
	"github.com/runger/xt/internal/proxy"
)

// CommandFunc answers one workspace/executeCommand request.
type CommandFunc func(ctx context.Context, peer *Peer, args []json.RawMessage) (any, error)

// Backend listens on a loopback port and serves every client that connects.
type Backend struct {
	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	peers  chan *Peer

	mu       sync.Mutex
	commands map[string]CommandFunc
	conns    []*ipc.Transport
}

// NewBackend starts a backend on 127.0.0.1 with a free port.
func NewBackend() (*Backend, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Backend{
		ln:       ln,
		ctx:      ctx,
		cancel:   cancel,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		peers:    make(chan *Peer, 8),
		commands: make(map[string]CommandFunc),
	}
	go b.acceptLoop()
	return b, nil
}

// Addr returns the host:port clients dial.
func (b *Backend) Addr() string {
	return b.ln.Addr().String()
}

// Handle registers fn for command.
func (b *Backend) Handle(command string, fn CommandFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands[command] = fn
}

// Accept waits for the next client to finish the initialize handshake.
func (b *Backend) Accept(ctx context.Context) (*Peer, error) {
	select {
	case p := <-b.peers:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops listening and drops every connection.
func (b *Backend) Close() error {
	b.cancel()
	err := b.ln.Close()
	b.mu.Lock()
	conns := b.conns
	b.conns = nil
	b.mu.Unlock()
	for _, t := range conns {
		_ = t.Close()
	}
	return err
}

func (b *Backend) acceptLoop() {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		b.serve(conn)
	}
}

func (b *Backend) serve(conn net.Conn) {
	t := ipc.NewTransport(conn, conn, conn)
	t.SetLogger(b.logger)
	peer := &Peer{t: t}

	t.OnRequest("initialize", func(_ context.Context, params json.RawMessage) (any, error) {
		var req struct {
			RootURI *string `json:"rootUri"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		if req.RootURI != nil {
			peer.RootURI = *req.RootURI
		}
		return map[string]any{"capabilities": map[string]any{}}, nil
	})
	t.OnNotification("initialized", func(string, json.RawMessage) {
		select {
		case b.peers <- peer:
		default:
		}
	})
	t.OnRequest(ipc.ExecuteCommandMethod, func(ctx context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Command   string            `json:"command"`
			Arguments []json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		b.mu.Lock()
		fn, ok := b.commands[req.Command]
		b.mu.Unlock()
		if !ok {
			return map[string]any{"type": "error", "message": "Unknown command: " + req.Command}, nil
		}
		return fn(ctx, peer, req.Arguments)
	})

	b.mu.Lock()
	b.conns = append(b.conns, t)
	b.mu.Unlock()
	t.Start(b.ctx)
}

// Peer is one connected client.
type Peer struct {
	t *ipc.Transport

	// RootURI is the workspace root sent with initialize.
	RootURI string
}

// ErrRemote is wrapped around error markers returned by the client.
var ErrRemote = errors.New("remote error")

// Resolve sends expr to the client's object namespace under method, wrapped
// in a one-element array the way the backend does.
func (p *Peer) Resolve(ctx context.Context, method string, expr any) (any, error) {
	var value any
	if err := p.t.Call(ctx, method, []any{expr}, &value); err != nil {
		return nil, err
	}
	if msg, _, ok := proxy.IsError(value); ok {
		return nil, fmt.Errorf("%w: %s", ErrRemote, msg)
	}
	return value, nil
}
