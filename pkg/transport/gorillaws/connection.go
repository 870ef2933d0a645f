// Package gorillaws is the WebSocket client transport, built on
// gorilla/websocket.
package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/logger"
	"github.com/codesynq/collab.go/pkg/protocol"
	"github.com/codesynq/collab.go/pkg/transport"
)

// DefaultDialer is the gorilla default dialer with compression enabled and
// the cbor subprotocol requested.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{constants.Subprotocol},
}

type Connection struct {
	cfg transport.Config

	Conn *gorilla.Conn
	// connLock guards Conn for writes and for the swap to nil on Close.
	// It is never held while dialing.
	connLock sync.Mutex

	// connCloseCh is closed when the connection goes away, for any reason.
	connCloseCh chan struct{}

	stateMu        sync.Mutex
	connected      bool
	closed         bool
	connCloseError error

	readDone chan struct{}

	logger logger.Logger
}

var _ transport.Transport = (*Connection)(nil)

func New(cfg *transport.Config) *Connection {
	return &Connection{
		cfg:    *cfg,
		logger: logger.OrDiscard(cfg.Logger),
	}
}

// IsClosed reports whether the connection is unusable. A Connection that was
// never connected also counts as closed.
func (c *Connection) IsClosed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return !c.connected || c.closed
}

// Err returns the reason the connection went away, if it did.
func (c *Connection) Err() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.connCloseError
}

// Done is closed when the connection goes away.
func (c *Connection) Done() <-chan struct{} {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.connCloseCh
}

func (c *Connection) Connect(ctx context.Context) error {
	if err := c.cfg.Validate(true); err != nil {
		return err
	}

	c.stateMu.Lock()
	if c.closed || c.connected {
		c.stateMu.Unlock()
		return fmt.Errorf("connect: %w", constants.ErrClosed)
	}
	c.stateMu.Unlock()

	conn, res, err := DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	defer res.Body.Close()

	if conn.Subprotocol() != constants.Subprotocol {
		_ = conn.Close()
		return fmt.Errorf("dial %s: server did not accept subprotocol %q", c.cfg.URL, constants.Subprotocol)
	}

	c.connLock.Lock()
	c.Conn = conn
	c.connLock.Unlock()

	c.stateMu.Lock()
	c.connCloseCh = make(chan struct{})
	c.readDone = make(chan struct{})
	c.connected = true
	c.stateMu.Unlock()

	go c.readLoop(conn)

	c.logger.Debug("Connected", "url", c.cfg.URL)
	return nil
}

// Close sends a close frame, bounded by ctx, then closes the socket.
// It waits for the reader goroutine to exit unless ctx is done first.
func (c *Connection) Close(ctx context.Context) error {
	c.stateMu.Lock()
	if !c.connected || c.closed {
		c.closed = true
		c.stateMu.Unlock()
		return nil
	}
	c.closed = true
	c.connCloseError = constants.ErrClosed
	close(c.connCloseCh)
	readDone := c.readDone
	c.stateMu.Unlock()

	c.connLock.Lock()
	conn := c.Conn
	c.Conn = nil
	c.connLock.Unlock()

	if conn == nil {
		return nil
	}

	// Phase 1: best-effort close frame.
	writeErr := make(chan error, 1)
	go func() {
		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = time.Now().Add(c.cfg.WriteTimeout)
		}
		writeErr <- conn.WriteControl(
			gorilla.CloseMessage,
			gorilla.FormatCloseMessage(constants.CloseMessageCode, ""),
			deadline,
		)
	}()

	select {
	case err := <-writeErr:
		if err != nil && !errors.Is(err, gorilla.ErrCloseSent) {
			c.logger.Warn("Failed to write close message", "error", err)
		}
	case <-ctx.Done():
	}

	// Phase 2: close the socket regardless of the close frame outcome.
	err := conn.Close()

	select {
	case <-readDone:
	case <-ctx.Done():
	}
	return err
}

func (c *Connection) Emit(ctx context.Context, event protocol.Event, payload any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	frame, err := protocol.Encode(c.cfg.Marshaler, event, payload)
	if err != nil {
		return err
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.Conn == nil || c.IsClosed() {
		return fmt.Errorf("emit %s: %w", event, constants.ErrNotConnected)
	}

	deadline, ok := ctx.Deadline()
	if !ok && c.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(c.cfg.WriteTimeout)
	}
	if err := c.Conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("BUG: set write deadline must always succeed: %w", err)
	}

	err = c.Conn.WriteMessage(gorilla.BinaryMessage, frame)
	if err != nil {
		if errors.Is(err, gorilla.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
			c.closeWithError(err)
		}
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

func (c *Connection) closeWithError(err error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.connCloseError = err
	close(c.connCloseCh)
}

// readLoop dispatches frames in arrival order until the socket fails.
func (c *Connection) readLoop(conn *gorilla.Conn) {
	defer close(c.readDone)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.closeWithError(c.classify(err))
			return
		}
		if msgType != gorilla.BinaryMessage {
			c.logger.Debug("Ignoring non-binary frame", "type", msgType)
			continue
		}
		c.cfg.Deliver(data)
	}
}

func (c *Connection) classify(err error) error {
	switch {
	case errors.Is(err, net.ErrClosed):
		return net.ErrClosed
	case gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway):
		c.logger.Debug("Connection closed by relay", "error", err)
		return io.EOF
	case gorilla.IsUnexpectedCloseError(err):
		c.logger.Warn("Connection lost", "error", err)
		return io.ErrClosedPipe
	default:
		c.logger.Warn("Read failed", "error", err)
		return err
	}
}
