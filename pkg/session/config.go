package session

import (
	"time"

	"github.com/codesynq/collab.go/internal/codec"
	"github.com/codesynq/collab.go/pkg/clock"
	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/logger"
	"github.com/codesynq/collab.go/pkg/protocol"
	"github.com/codesynq/collab.go/pkg/retry"
)

type Config struct {
	// Identity is the signed-in user. Nil means the session uses a guest
	// identity, generated once and kept for the Session's lifetime.
	Identity *protocol.Identity

	Clock  clock.Clock
	Logger logger.Logger

	// Unmarshaler decodes inbound payloads. Defaults to CBOR.
	Unmarshaler codec.Unmarshaler

	Observer Observer

	// JoinRetryer paces join attempts while the transport is not ready.
	JoinRetryer retry.Retryer

	EchoWindow time.Duration
	CursorTTL  time.Duration

	// ResyncInterval enables periodic sync-request while collaborating.
	// Zero disables it.
	ResyncInterval time.Duration
}

// DefaultConfig returns the timings the browser client uses, with periodic
// resync enabled.
func DefaultConfig() Config {
	return Config{
		JoinRetryer:    retry.NewFixedDelay(constants.DefaultJoinRetryDelay, constants.DefaultJoinMaxRetries),
		EchoWindow:     constants.DefaultEchoWindow,
		CursorTTL:      constants.DefaultCursorTTL,
		ResyncInterval: constants.DefaultResyncInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	c.Logger = logger.OrDiscard(c.Logger)
	if c.Unmarshaler == nil {
		c.Unmarshaler = codec.NewCBOR()
	}
	if c.Observer == nil {
		c.Observer = NopObserver{}
	}
	if c.JoinRetryer == nil {
		c.JoinRetryer = retry.NewFixedDelay(constants.DefaultJoinRetryDelay, constants.DefaultJoinMaxRetries)
	}
	if c.EchoWindow <= 0 {
		c.EchoWindow = constants.DefaultEchoWindow
	}
	if c.CursorTTL <= 0 {
		c.CursorTTL = constants.DefaultCursorTTL
	}
	return c
}
