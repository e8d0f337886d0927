// Package websocket wraps a single client WebSocket connection and turns its
// lifecycle into open/message/close/error callbacks.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrNotOpen is returned by Send when the socket is not open.
var ErrNotOpen = errors.New("websocket: connection not open")

// DefaultReadLimit caps inbound messages. Channel envelopes are a few
// hundred bytes.
const DefaultReadLimit int64 = 64 << 10

// Handler receives transport events. Callbacks are delivered from the
// transport's own goroutine, one at a time.
type Handler interface {
	OnOpen()
	OnMessage(text string)
	OnClose(code int, reason string)
	OnError(err error)
}

// Transport is one WebSocket connection attempt. Instances are never reused.
type Transport interface {
	// Open starts dialing in the background and returns immediately.
	Open()
	// Send writes a text frame.
	Send(text string) error
	// Close shuts the connection down with the given close code. No handler
	// callbacks fire once Close has been called.
	Close(code int)
}

// Factory creates a fresh Transport for every connection attempt.
type Factory interface {
	New(url string, handler Handler) Transport
}

// GorillaFactory creates transports backed by gorilla/websocket.
type GorillaFactory struct {
	HandshakeTimeout time.Duration
	ReadLimit        int64
	Header           http.Header
	Logger           zerolog.Logger
}

// NewGorillaFactory creates a factory with the given handshake timeout.
func NewGorillaFactory(handshakeTimeout time.Duration, logger zerolog.Logger) *GorillaFactory {
	return &GorillaFactory{
		HandshakeTimeout: handshakeTimeout,
		ReadLimit:        DefaultReadLimit,
		Logger:           logger,
	}
}

// New creates an unopened transport for url.
func (f *GorillaFactory) New(url string, handler Handler) Transport {
	dialer := *websocket.DefaultDialer
	if f.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = f.HandshakeTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &GorillaTransport{
		url:       url,
		header:    f.Header,
		dialer:    &dialer,
		readLimit: f.ReadLimit,
		handler:   handler,
		logger:    f.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// GorillaTransport is a Transport over a gorilla/websocket connection.
type GorillaTransport struct {
	url       string
	header    http.Header
	dialer    *websocket.Dialer
	readLimit int64
	handler   Handler
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conn    *websocket.Conn
	opened  bool
	closed  bool
	writeMu sync.Mutex

	// cbMu serializes callbacks against Close so that nothing is
	// delivered after Close returns.
	cbMu sync.Mutex
}

// Open dials the server in a new goroutine.
func (t *GorillaTransport) Open() {
	t.mu.Lock()
	if t.opened || t.closed {
		t.mu.Unlock()
		return
	}
	t.opened = true
	t.mu.Unlock()

	go t.run()
}

func (t *GorillaTransport) run() {
	conn, _, err := t.dialer.DialContext(t.ctx, t.url, t.header)
	if err != nil {
		t.deliver(func() { t.handler.OnError(fmt.Errorf("failed to connect: %w", err)) })
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	t.conn = conn
	t.mu.Unlock()

	if t.readLimit > 0 {
		conn.SetReadLimit(t.readLimit)
	}

	t.logger.Debug().Msg("WebSocket connection established")
	t.deliver(t.handler.OnOpen)
	t.readLoop(conn)
}

func (t *GorillaTransport) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				t.deliver(func() { t.handler.OnClose(closeErr.Code, closeErr.Text) })
			} else {
				t.deliver(func() { t.handler.OnError(err) })
			}
			t.shutdown()
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		text := string(data)
		if !t.deliver(func() { t.handler.OnMessage(text) }) {
			return
		}
	}
}

// deliver runs cb unless the transport has been closed. It reports whether
// the callback ran.
func (t *GorillaTransport) deliver(cb func()) bool {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return false
	}
	cb()
	return true
}

// Send writes text as a single text frame.
func (t *GorillaTransport) Send(text string) error {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()

	if conn == nil || closed {
		return ErrNotOpen
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close sends a close frame with code and tears the connection down.
// It must not be called from inside a Handler callback.
func (t *GorillaTransport) Close(code int) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	t.cancel()

	// Wait for an in-flight callback to return.
	t.cbMu.Lock()
	t.cbMu.Unlock() //nolint:staticcheck // barrier

	if conn == nil {
		return
	}

	t.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.logger.Debug().Err(err).Msg("Failed to write close frame")
	}
	t.writeMu.Unlock()

	_ = conn.Close()
}

// shutdown marks the transport closed after the peer went away.
func (t *GorillaTransport) shutdown() {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	t.cancel()
	if conn != nil {
		_ = conn.Close()
	}
}
