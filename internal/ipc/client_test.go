package ipc

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newClientPair returns a client and the backend-side transport it talks to.
func newClientPair(t *testing.T) (*Client, *Transport) {
	t.Helper()
	a, b := newPeers(t)
	// newPeers already started a; NewClient starting it again would race two
	// readers, so build the client by hand.
	c := &Client{t: a, logger: a.logger, ready: make(chan struct{})}
	return c, b
}

func TestClient_WaitReadyBlocksUntilMarked(t *testing.T) {
	c, _ := newClientPair(t)

	done := make(chan error, 1)
	go func() { done <- c.WaitReady(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitReady returned before MarkReady")
	case <-time.After(20 * time.Millisecond):
	}

	c.MarkReady()
	c.MarkReady()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitReady did not return")
	}
}

func TestClient_WaitReadyHonoursContext(t *testing.T) {
	c, _ := newClientPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitReady(ctx), context.DeadlineExceeded)
}

func TestClient_WaitReadyAfterClose(t *testing.T) {
	c, _ := newClientPair(t)
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.WaitReady(context.Background()), ErrShutdown)
}

func TestClient_Initialize(t *testing.T) {
	c, backend := newClientPair(t)

	var mu sync.Mutex
	var methods []string
	backend.OnRequest("initialize", func(_ context.Context, params json.RawMessage) (any, error) {
		var p initializeParams
		require.NoError(t, json.Unmarshal(params, &p))
		assert.Equal(t, os.Getpid(), p.ProcessID)
		mu.Lock()
		methods = append(methods, "initialize")
		mu.Unlock()
		return map[string]any{"capabilities": map[string]any{}}, nil
	})
	initialized := make(chan struct{})
	backend.OnNotification("initialized", func(string, json.RawMessage) {
		mu.Lock()
		methods = append(methods, "initialized")
		mu.Unlock()
		close(initialized)
	})

	require.NoError(t, c.Initialize(context.Background(), "file:///work"))

	select {
	case <-c.Ready():
	default:
		t.Fatal("client not ready after Initialize")
	}
	<-initialized
	mu.Lock()
	assert.Equal(t, []string{"initialize", "initialized"}, methods)
	mu.Unlock()
}

func TestExec_SendsExecuteCommand(t *testing.T) {
	c, backend := newClientPair(t)
	c.MarkReady()

	backend.OnRequest(ExecuteCommandMethod, func(_ context.Context, params json.RawMessage) (any, error) {
		assert.JSONEq(t, `{"command":"command_completions","arguments":["ag"]}`, string(params))
		return []string{"ag "}, nil
	})

	raw, err := Exec(context.Background(), c, "command_completions", "ag")
	require.NoError(t, err)
	assert.JSONEq(t, `["ag "]`, string(raw))
}

func TestExec_NoArgumentsIsEmptyArray(t *testing.T) {
	c, backend := newClientPair(t)
	c.MarkReady()

	backend.OnRequest(ExecuteCommandMethod, func(_ context.Context, params json.RawMessage) (any, error) {
		assert.JSONEq(t, `{"command":"status","arguments":[]}`, string(params))
		return true, nil
	})

	_, err := Exec(context.Background(), c, "status")
	require.NoError(t, err)
}

func TestExec_WaitsForReady(t *testing.T) {
	c, backend := newClientPair(t)
	backend.OnRequest(ExecuteCommandMethod, func(context.Context, json.RawMessage) (any, error) {
		return "ok", nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := Exec(ctx, c, "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExec_WrapsBackendError(t *testing.T) {
	c, _ := newClientPair(t)
	c.MarkReady()

	_, err := Exec(context.Background(), c, "x")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Contains(t, err.Error(), "x: ")
}

func TestLoadUserScript(t *testing.T) {
	c, backend := newClientPair(t)
	c.MarkReady()

	backend.OnRequest(ExecuteCommandMethod, func(_ context.Context, params json.RawMessage) (any, error) {
		var p executeCommandParams
		require.NoError(t, json.Unmarshal(params, &p))
		if p.Arguments[0] == "/bad.py" {
			return map[string]string{"type": "error", "message": "syntax error"}, nil
		}
		return map[string]string{"type": "success"}, nil
	})

	assert.NoError(t, LoadUserScript(context.Background(), c, ""))
	assert.NoError(t, LoadUserScript(context.Background(), c, "/good.py"))
	err := LoadUserScript(context.Background(), c, "/bad.py")
	assert.ErrorContains(t, err, "syntax error")
}

func TestDialTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		srv := NewTransport(conn, conn, conn)
		srv.OnRequest("ping", func(context.Context, json.RawMessage) (any, error) { return "pong", nil })
		srv.Start(context.Background())
	}()

	tr, err := DialTCP(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	c := NewClient(context.Background(), tr)
	defer c.Close()

	var got string
	require.NoError(t, c.Call(context.Background(), "ping", nil, &got))
	assert.Equal(t, "pong", got)
}

func TestDialTCP_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = DialTCP(context.Background(), addr)
	assert.Error(t, err)
}

func TestDebugAddress(t *testing.T) {
	assert.Equal(t, "127.0.0.1:2087", DebugAddress(0))
	assert.Equal(t, "127.0.0.1:9000", DebugAddress(9000))
}

func TestResolveExecutable(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "xt")
	backend := filepath.Join(dir, "xt-server")
	require.NoError(t, os.WriteFile(backend, []byte("#!/bin/sh\n"), 0755))

	origExe, origLook := executableFn, lookPathFn
	t.Cleanup(func() { executableFn, lookPathFn = origExe, origLook })

	executableFn = func() (string, error) { return exe, nil }
	got, err := resolveExecutable("xt-server")
	require.NoError(t, err)
	assert.Equal(t, backend, got)

	lookPathFn = func(string) (string, error) { return "/usr/bin/other", nil }
	got, err = resolveExecutable("other")
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/other", got)

	got, err = resolveExecutable(backend)
	require.NoError(t, err)
	assert.Equal(t, backend, got)
}

func TestSpawn_EmptyCommand(t *testing.T) {
	_, err := Spawn(nil, "", nil)
	assert.Error(t, err)
}

func TestSpawn_CloseStopsChild(t *testing.T) {
	p, err := Spawn([]string{"cat"}, t.TempDir(), nil)
	if err != nil {
		t.Skipf("cat not available: %v", err)
	}
	p.Start(context.Background())
	assert.Positive(t, p.Pid())

	require.NoError(t, p.Close())
	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit")
	}
}
