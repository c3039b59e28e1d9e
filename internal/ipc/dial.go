// Package ipc provides the JSON-RPC channel to the command backend.
package ipc

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	// DefaultDebugPort is where a backend started in debug mode listens.
	DefaultDebugPort = 2087

	// DialTimeout bounds the initial connection to a debug backend.
	DialTimeout = 2 * time.Second

	// InitializeTimeout bounds the initialize handshake.
	InitializeTimeout = 10 * time.Second
)

// DebugAddress returns the loopback address for port, or the default port
// when port is zero.
func DebugAddress(port int) string {
	if port == 0 {
		port = DefaultDebugPort
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// DialTCP connects to a backend already listening on addr.
func DialTCP(ctx context.Context, addr string) (*Transport, error) {
	ctx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return NewTransport(conn, conn, conn), nil
}
