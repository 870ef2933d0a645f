package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codesynq/collab.go/pkg/bus"
	"github.com/codesynq/collab.go/pkg/config"
	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/logger"
	"github.com/codesynq/collab.go/pkg/protocol"
	"github.com/codesynq/collab.go/pkg/retry"
	"github.com/codesynq/collab.go/pkg/session"
	"github.com/codesynq/collab.go/pkg/transport"
	"github.com/codesynq/collab.go/pkg/transport/gorillaws"
	"github.com/codesynq/collab.go/pkg/transport/rews"
)

type Config struct {
	// URL is the relay WebSocket endpoint, e.g. ws://localhost:8080/ws.
	URL string

	// ShareBase is the page share links point at.
	ShareBase string

	Session session.Config
	Logger  logger.Logger

	// ConnectTimeout bounds the first connection. Past it the Client runs
	// in solo mode.
	ConnectTimeout time.Duration

	// ReconnectInterval is how often a lost connection is checked for.
	ReconnectInterval time.Duration

	// Reconnect paces reconnection attempts after a failed one.
	Reconnect retry.Retryer

	// Dial returns a new, unconnected transport for one connection
	// attempt. Defaults to a gorillaws connection to URL.
	Dial func(cfg *transport.Config) transport.Transport
}

func (c Config) withDefaults() Config {
	c.Logger = logger.OrDiscard(c.Logger)
	if c.Session.Logger == nil {
		c.Session.Logger = c.Logger
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = constants.DefaultConnectTimeout
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = constants.DefaultReconnectInterval
	}
	if c.Reconnect == nil {
		c.Reconnect = retry.NewExponentialBackoff()
	}
	if c.Dial == nil {
		c.Dial = func(cfg *transport.Config) transport.Transport {
			return gorillaws.New(cfg)
		}
	}
	return c
}

// FromConfig maps the client section of a loaded configuration file.
func FromConfig(cfg *config.Config, log logger.Logger) Config {
	cc := cfg.Client

	sc := session.DefaultConfig()
	sc.Logger = log
	sc.JoinRetryer = retry.NewFixedDelay(cc.JoinRetryDelay.Std(), cc.JoinMaxRetries)
	sc.EchoWindow = cc.EchoWindow.Std()
	sc.CursorTTL = cc.CursorTTL.Std()
	sc.ResyncInterval = cc.ResyncInterval.Std()
	if cc.Identity.UID != "" {
		sc.Identity = &protocol.Identity{
			UID:         cc.Identity.UID,
			DisplayName: cc.Identity.DisplayName,
			Photo:       cc.Identity.Photo,
		}
	}

	return Config{
		URL:               cc.URL,
		ShareBase:         cc.ShareBase,
		Session:           sc,
		Logger:            log,
		ConnectTimeout:    cc.ConnectTimeout.Std(),
		ReconnectInterval: cc.ReconnectInterval.Std(),
	}
}

// Client is a Session bound to a relay connection.
type Client struct {
	Session *session.Session

	cfg        Config
	conn       *rews.Connection[transport.Transport]
	removeHook func()
	solo       bool
}

// Connect dials the relay and returns a Client editing through editor.
//
// A relay that is unreachable within ConnectTimeout is not an error: the
// returned Client is in solo mode. Connect only fails when ctx itself is
// done.
func Connect(ctx context.Context, editor session.Editor, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	router := bus.NewRouter(cfg.Logger)
	tcfg := transport.NewConfig(cfg.URL, router)
	tcfg.Logger = cfg.Logger
	if cfg.Session.Unmarshaler != nil {
		tcfg.Unmarshaler = cfg.Session.Unmarshaler
	}

	conn := rews.New(func(context.Context) (transport.Transport, error) {
		return cfg.Dial(tcfg), nil
	}, cfg.ReconnectInterval, cfg.Logger)
	conn.Retryer = cfg.Reconnect
	if cfg.Session.Clock != nil {
		conn.Clock = cfg.Session.Clock
	}

	c := &Client{
		Session: session.New(conn, router, editor, cfg.Session),
		cfg:     cfg,
		conn:    conn,
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := conn.Connect(connectCtx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cfg.Logger.Warn("Relay unreachable, editing solo", "url", cfg.URL, "error", err)
		c.solo = true
		return c, nil
	}

	c.removeHook = conn.OnReconnect(c.Session.Resync)
	cfg.Logger.Info("Connected to relay", "url", cfg.URL)
	return c, nil
}

// Solo reports whether the relay was unreachable at Connect.
func (c *Client) Solo() bool {
	return c.solo
}

// Connected reports whether frames can be sent right now.
func (c *Client) Connected() bool {
	return !c.solo && !c.conn.IsClosed()
}

// Host creates a room in mode and returns its id.
func (c *Client) Host(ctx context.Context, mode protocol.Mode) (string, error) {
	if c.solo {
		return "", constants.ErrSolo
	}
	return c.Session.Create(ctx, mode)
}

// Join joins the room named by a share link or a bare room id.
func (c *Client) Join(ctx context.Context, linkOrRoom string) error {
	if c.solo {
		return constants.ErrSolo
	}
	roomID, err := ParseShareLink(linkOrRoom)
	if err != nil {
		return err
	}
	return c.Session.Join(ctx, roomID)
}

// ShareLink returns the link for the current room.
func (c *Client) ShareLink() (string, error) {
	st := c.Session.State()
	if !st.Active() {
		return "", constants.ErrNotCollaborating
	}
	return ShareLink(c.cfg.ShareBase, st.RoomID)
}

// Close leaves the current room, ending it when hosting, then closes the
// connection.
func (c *Client) Close(ctx context.Context) error {
	var errs []error

	st := c.Session.State()
	switch {
	case st.Active() && st.IsHost:
		errs = append(errs, c.Session.End(ctx))
	case st.Active():
		errs = append(errs, c.Session.Exit(ctx))
	}

	if c.removeHook != nil {
		c.removeHook()
	}
	if err := c.conn.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}
	return errors.Join(errs...)
}
