package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// cancelMethod is the LSP notification asking the peer to abandon a request.
const cancelMethod = "$/cancelRequest"

// Transport is a JSON-RPC 2.0 endpoint using LSP Content-Length framing.
// Both peers may send requests; incoming requests are served by handlers
// registered with OnRequest.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer
	logger *slog.Logger

	writeMu sync.Mutex

	mu              sync.Mutex
	nextID          atomic.Int64
	pending         map[int64]chan *Response
	notifyHandlers  map[string]NotificationHandler
	requestHandlers map[string]RequestHandler

	closed atomic.Bool
	done   chan struct{}
}

// NotificationHandler handles an incoming notification.
type NotificationHandler func(method string, params json.RawMessage)

// RequestHandler serves an incoming request. The returned value is sent back
// as the result; a non-nil error becomes a JSON-RPC error response.
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// Request is an outgoing JSON-RPC request or notification.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is a JSON-RPC response to one of our requests.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// incoming is any message read off the wire.
type incoming struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// reply answers a peer request. ID is echoed verbatim since peers may use
// string ids.
type reply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

// NewTransport creates a transport over the given streams. c may be nil.
func NewTransport(r io.Reader, w io.Writer, c io.Closer) *Transport {
	return &Transport{
		reader:          bufio.NewReaderSize(r, 64*1024),
		writer:          w,
		closer:          c,
		logger:          slog.Default(),
		pending:         make(map[int64]chan *Response),
		notifyHandlers:  make(map[string]NotificationHandler),
		requestHandlers: make(map[string]RequestHandler),
		done:            make(chan struct{}),
	}
}

// SetLogger sets the logger for protocol diagnostics.
func (t *Transport) SetLogger(l *slog.Logger) {
	if l != nil {
		t.logger = l
	}
}

// Start begins reading messages in a background goroutine.
func (t *Transport) Start(ctx context.Context) {
	go t.readLoop(ctx)
}

// Done is closed when the transport shuts down.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Close closes the transport and releases resources.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	close(t.done)

	// Waiting callers observe t.done; channels are not closed to avoid
	// racing handleResponse.
	t.mu.Lock()
	t.pending = make(map[int64]chan *Response)
	t.mu.Unlock()

	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// Call sends a request and waits for the response. When ctx is cancelled
// first, a $/cancelRequest notification is sent and ctx.Err() returned.
func (t *Transport) Call(ctx context.Context, method string, params any, result any) error {
	if t.closed.Load() {
		return ErrShutdown
	}

	id := t.nextID.Add(1)
	ch := make(chan *Response, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	req := &Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
	if err := t.send(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	select {
	case <-ctx.Done():
		if err := t.Notify(context.Background(), cancelMethod, map[string]int64{"id": id}); err != nil {
			t.logger.Debug("cancel notification failed", "id", id, "error", err)
		}
		return ctx.Err()
	case <-t.done:
		return ErrShutdown
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}
}

// Notify sends a notification (no response expected).
func (t *Transport) Notify(_ context.Context, method string, params any) error {
	if t.closed.Load() {
		return ErrShutdown
	}
	return t.send(&Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
}

// OnNotification registers a handler for peer notifications.
// The method "*" matches any notification without a specific handler.
func (t *Transport) OnNotification(method string, handler NotificationHandler) {
	t.mu.Lock()
	t.notifyHandlers[method] = handler
	t.mu.Unlock()
}

// OnRequest registers a handler for peer requests.
func (t *Transport) OnRequest(method string, handler RequestHandler) {
	t.mu.Lock()
	t.requestHandlers[method] = handler
	t.mu.Unlock()
}

// send writes a message with an LSP Content-Length header.
func (t *Transport) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := io.WriteString(t.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

func (t *Transport) readLoop(ctx context.Context) {
	defer t.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		msg, err := t.readMessage()
		if err != nil {
			if t.closed.Load() {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.ErrUnexpectedEOF) {
				t.logger.Debug("connection closed by peer")
				return
			}
			t.logger.Warn("read message failed", "error", err)
			continue
		}

		t.dispatch(ctx, msg)
	}
}

// readMessage reads a single framed message.
func (t *Transport) readMessage() (json.RawMessage, error) {
	var contentLength int
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			parts := strings.SplitN(line, ":", 2)
			if length, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
				contentLength = length
			}
		}
		// Content-Type and other headers are ignored.
	}

	if contentLength == 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (t *Transport) dispatch(ctx context.Context, data json.RawMessage) {
	var msg incoming
	if err := json.Unmarshal(data, &msg); err != nil {
		t.logger.Warn("invalid message", "error", err)
		return
	}

	hasID := len(msg.ID) > 0 && string(msg.ID) != "null"
	switch {
	case msg.Method != "" && hasID:
		go t.handleRequest(ctx, &msg)
	case msg.Method != "":
		t.handleNotification(&msg)
	case hasID:
		t.handleResponse(&msg)
	}
}

func (t *Transport) handleResponse(msg *incoming) {
	if t.closed.Load() {
		return
	}
	id, err := strconv.ParseInt(string(msg.ID), 10, 64)
	if err != nil {
		t.logger.Warn("response with foreign id", "id", string(msg.ID))
		return
	}

	t.mu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if ok {
		select {
		case ch <- &Response{JSONRPC: "2.0", ID: id, Result: msg.Result, Error: msg.Error}:
		default:
		}
	}
}

func (t *Transport) handleNotification(msg *incoming) {
	t.mu.Lock()
	handler, ok := t.notifyHandlers[msg.Method]
	if !ok {
		handler, ok = t.notifyHandlers["*"]
	}
	t.mu.Unlock()

	if ok && handler != nil {
		go handler(msg.Method, msg.Params)
	}
}

func (t *Transport) handleRequest(ctx context.Context, msg *incoming) {
	t.mu.Lock()
	handler, ok := t.requestHandlers[msg.Method]
	t.mu.Unlock()

	out := reply{JSONRPC: "2.0", ID: msg.ID}
	if !ok {
		out.Error = &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + msg.Method}
	} else {
		result, err := handler(ctx, msg.Params)
		if err != nil {
			out.Error = &RPCError{Code: CodeInternalError, Message: err.Error()}
		} else {
			out.Result = result
		}
	}

	if err := t.send(&out); err != nil && !t.closed.Load() {
		t.logger.Warn("reply failed", "method", msg.Method, "error", err)
	}
}

// IsClosed reports whether the transport has been closed.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}
