// Package transport defines how a session reaches the room relay.
//
// A Transport carries protocol frames in both directions. Outbound frames
// are sent with Emit. Inbound frames are decoded and handed to the
// configured bus.Router, one at a time and in arrival order, on the
// transport's reader goroutine.
package transport

import (
	"context"
	"time"

	"github.com/codesynq/collab.go/internal/codec"
	"github.com/codesynq/collab.go/pkg/bus"
	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/logger"
	"github.com/codesynq/collab.go/pkg/protocol"
)

type Transport interface {
	// Connect establishes the connection. It must not be called again on a
	// transport that has been closed.
	Connect(ctx context.Context) error

	// Close tears the connection down. The context bounds the time spent
	// on a graceful close handshake.
	Close(ctx context.Context) error

	// IsClosed reports whether the transport can not carry frames right
	// now, either because it never connected or because it was closed.
	IsClosed() bool

	// Emit encodes payload under event and sends it.
	Emit(ctx context.Context, event protocol.Event, payload any) error
}

// Config is shared by every transport implementation.
type Config struct {
	URL string

	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler

	// Router receives every inbound frame.
	Router *bus.Router

	Logger logger.Logger

	// WriteTimeout bounds one Emit when ctx carries no deadline.
	WriteTimeout time.Duration
}

// NewConfig returns a Config with the CBOR codec and default timeouts.
func NewConfig(url string, router *bus.Router) *Config {
	c := codec.NewCBOR()
	return &Config{
		URL:          url,
		Marshaler:    c,
		Unmarshaler:  c,
		Router:       router,
		Logger:       logger.Discard(),
		WriteTimeout: constants.DefaultWriteTimeout,
	}
}

// Validate checks what every transport needs before connecting.
// URL is only required by transports that dial.
func (c *Config) Validate(needURL bool) error {
	if needURL && c.URL == "" {
		return constants.ErrNoURL
	}
	if c.Marshaler == nil {
		return constants.ErrNoMarshaler
	}
	if c.Unmarshaler == nil {
		return constants.ErrNoUnmarshaler
	}
	if c.Router == nil {
		return constants.ErrNoRouter
	}
	return nil
}

// Deliver decodes one inbound frame and dispatches it, logging frames that
// fail to decode.
func (c *Config) Deliver(frame []byte) {
	env, err := protocol.Decode(c.Unmarshaler, frame)
	if err != nil {
		logger.OrDiscard(c.Logger).Warn("Dropping undecodable frame", "error", err, "size", len(frame))
		return
	}
	c.Router.Dispatch(env)
}
