// Package rews wraps a transport with automatic reconnection.
//
// A Connection creates its underlying transport with NewFunc, watches it on
// every CheckInterval tick and, once it reports closed, creates and connects
// a fresh one. After each successful reconnection the OnReconnect hooks run,
// which is where a session re-announces itself to the relay.
package rews

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codesynq/collab.go/pkg/clock"
	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/logger"
	"github.com/codesynq/collab.go/pkg/protocol"
	"github.com/codesynq/collab.go/pkg/retry"
	"github.com/codesynq/collab.go/pkg/transport"
)

type State int

const (
	StateUnknown State = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (state State) String() string {
	switch state {
	case StateUnknown:
		return "Unknown"
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "InvalidState"
	}
}

func (state State) validateTransitionTo(newState State) error {
	switch state {
	case StateDisconnected:
		switch newState {
		case StateConnecting, StateClosing:
			return nil
		}
	case StateConnecting:
		switch newState {
		case StateConnected, StateDisconnected, StateClosing:
			return nil
		}
	case StateConnected:
		switch newState {
		// Connected to Connecting happens when the link is lost.
		case StateConnecting, StateClosing, StateDisconnected:
			return nil
		}
	case StateClosing:
		if newState == StateClosed {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition from %v to %v", state, newState)
}

// Hook runs after a successful reconnection.
type Hook func(ctx context.Context) error

type Connection[C transport.Transport] struct {
	// NewFunc creates a fresh, unconnected transport for every attempt.
	NewFunc func(context.Context) (C, error)

	// CheckInterval is how often the link is checked. Defaults to
	// constants.DefaultReconnectInterval.
	CheckInterval time.Duration

	// Retryer paces reconnection attempts after a failed one. When nil,
	// failed attempts are retried on the next check.
	Retryer retry.Retryer

	Clock clock.Clock

	current C
	// connMu guards current. It is not held while connecting.
	connMu sync.RWMutex

	hooksMu sync.Mutex
	hooks   map[int]Hook
	nextID  int

	connCloseCh       chan struct{}
	reconnLoopCloseCh chan struct{}
	once              sync.Once

	state   State
	stateMu sync.Mutex

	logger logger.Logger
}

var _ transport.Transport = (*Connection[transport.Transport])(nil)

func New[C transport.Transport](newConn func(context.Context) (C, error), checkInterval time.Duration, log logger.Logger) *Connection[C] {
	return &Connection[C]{
		NewFunc:       newConn,
		CheckInterval: checkInterval,
		Clock:         clock.Real(),
		state:         StateDisconnected,
		hooks:         make(map[int]Hook),
		logger:        logger.OrDiscard(log),
	}
}

func (c *Connection[C]) transitionTo(newState State) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if err := c.state.validateTransitionTo(newState); err != nil {
		return err
	}
	c.state = newState
	c.logger.Debug("rews.Connection state transitioned", "new_state", newState)
	return nil
}

func (c *Connection[C]) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// IsClosed reports whether frames can not be sent right now. It is true
// while reconnecting as well as after Close.
func (c *Connection[C]) IsClosed() bool {
	if c.State() != StateConnected {
		return true
	}
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.current.IsClosed()
}

// OnReconnect registers h. The returned func unregisters it.
func (c *Connection[C]) OnReconnect(h Hook) (remove func()) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()

	id := c.nextID
	c.nextID++
	c.hooks[id] = h

	return func() {
		c.hooksMu.Lock()
		defer c.hooksMu.Unlock()
		delete(c.hooks, id)
	}
}

// Connect makes the initial connection and starts the reconnection loop.
// A failed initial connection is returned to the caller and not retried.
func (c *Connection[C]) Connect(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}

	c.once.Do(func() {
		c.connCloseCh = make(chan struct{})
		c.reconnLoopCloseCh = make(chan struct{})
		go c.reconnectionLoop()
	})
	return nil
}

func (c *Connection[C]) connect(ctx context.Context) error {
	if err := c.transitionTo(StateConnecting); err != nil {
		return err
	}

	conn, err := c.NewFunc(ctx)
	if err == nil {
		err = conn.Connect(ctx)
	}
	if err != nil {
		if stateErr := c.transitionTo(StateDisconnected); stateErr != nil && c.State() != StateClosing {
			c.logger.Error("BUG: rews.Connection failed to transition to disconnected state", "error", stateErr)
		}
		return fmt.Errorf("rews.Connection failed to connect: %w", err)
	}

	c.connMu.Lock()
	c.current = conn
	c.connMu.Unlock()

	if err := c.transitionTo(StateConnected); err != nil {
		// Close raced with us.
		_ = conn.Close(ctx)
		return err
	}
	return nil
}

func (c *Connection[C]) reconnect(ctx context.Context) error {
	c.connMu.RLock()
	old := c.current
	c.connMu.RUnlock()
	if !isZero(old) {
		_ = old.Close(ctx)
	}

	if err := c.connect(ctx); err != nil {
		return err
	}

	c.hooksMu.Lock()
	hooks := make([]Hook, 0, len(c.hooks))
	for _, h := range c.hooks {
		hooks = append(hooks, h)
	}
	c.hooksMu.Unlock()

	for _, h := range hooks {
		if err := h(ctx); err != nil {
			c.logger.Error("rews.Connection reconnect hook failed", "error", err)
		}
	}
	return nil
}

func (c *Connection[C]) Emit(ctx context.Context, event protocol.Event, payload any) error {
	if c.State() != StateConnected {
		return fmt.Errorf("emit %s: %w", event, constants.ErrNotConnected)
	}
	c.connMu.RLock()
	conn := c.current
	c.connMu.RUnlock()
	return conn.Emit(ctx, event, payload)
}

// Close stops the reconnection loop, then closes the current transport.
func (c *Connection[C]) Close(ctx context.Context) error {
	if err := c.transitionTo(StateClosing); err != nil {
		return fmt.Errorf("rews.Connection is already closing or closed: %w", err)
	}
	defer func() {
		if err := c.transitionTo(StateClosed); err != nil {
			c.logger.Error("BUG: rews.Connection failed to transition to closed state", "error", err)
		}
	}()

	if c.connCloseCh != nil {
		close(c.connCloseCh)
		<-c.reconnLoopCloseCh
	}

	c.connMu.RLock()
	conn := c.current
	c.connMu.RUnlock()

	if isZero(conn) {
		return nil
	}
	return conn.Close(ctx)
}

func isZero[C transport.Transport](conn C) bool {
	var zero C
	return any(conn) == any(zero)
}

func (c *Connection[C]) reconnectionLoop() {
	defer close(c.reconnLoopCloseCh)

	checkInterval := constants.DefaultReconnectInterval
	if c.CheckInterval > 0 {
		checkInterval = c.CheckInterval
	}

	wait := checkInterval
	attempt := 0
	for {
		select {
		case <-c.connCloseCh:
			return
		case <-c.Clock.After(wait):
		}
		wait = checkInterval

		if !c.lost() {
			continue
		}

		c.logger.Info("rews.Connection is attempting to reconnect", "attempt", attempt)
		if err := c.reconnect(context.Background()); err != nil {
			c.logger.Warn("rews.Connection failed to reconnect", "error", err)
			if c.Retryer != nil {
				delay, ok := c.Retryer.NextDelay(attempt, err)
				if !ok {
					c.logger.Error("rews.Connection gave up reconnecting", "attempts", attempt+1)
					return
				}
				wait = delay
			}
			attempt++
			continue
		}

		c.logger.Info("rews.Connection reconnected", "attempts", attempt+1)
		attempt = 0
		if c.Retryer != nil {
			c.Retryer.Reset()
		}
	}
}

// lost reports whether the loop should reconnect.
func (c *Connection[C]) lost() bool {
	switch c.State() {
	case StateDisconnected:
		return true
	case StateConnected:
		c.connMu.RLock()
		defer c.connMu.RUnlock()
		return c.current.IsClosed()
	default:
		return false
	}
}
