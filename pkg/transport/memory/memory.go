// Package memory is an in-process transport that attaches a session
// directly to a relay.Relay, for tests and single-process setups.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/logger"
	"github.com/codesynq/collab.go/pkg/protocol"
	"github.com/codesynq/collab.go/pkg/relay"
	"github.com/codesynq/collab.go/pkg/transport"
)

// DefaultQueueSize is the number of undelivered inbound frames a Transport
// buffers before it starts dropping.
const DefaultQueueSize = 256

type Transport struct {
	cfg    transport.Config
	relay  *relay.Relay
	logger logger.Logger

	mu     sync.Mutex
	client *relay.Client
	queue  chan []byte
	done   chan struct{}
	closed bool

	// queued and handled count frames so Flush can wait for the pump.
	counts  sync.Mutex
	idle    *sync.Cond
	queued  int
	handled int
}

var _ transport.Transport = (*Transport)(nil)

func New(r *relay.Relay, cfg *transport.Config) *Transport {
	t := &Transport{
		cfg:    *cfg,
		relay:  r,
		logger: logger.OrDiscard(cfg.Logger),
	}
	t.idle = sync.NewCond(&t.counts)
	return t
}

func (t *Transport) Connect(ctx context.Context) error {
	if err := t.cfg.Validate(false); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("connect: %w", constants.ErrClosed)
	}
	if t.client != nil {
		return nil
	}

	t.queue = make(chan []byte, DefaultQueueSize)
	t.done = make(chan struct{})

	client, err := t.relay.Attach(ctx, peer{t: t, queue: t.queue, done: t.done})
	if err != nil {
		return err
	}
	t.client = client

	go t.pump(t.queue, t.done)
	return nil
}

func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	client := t.client
	t.client = nil
	done := t.done
	t.mu.Unlock()

	if client == nil {
		return nil
	}

	client.Detach(ctx)
	close(done)
	return nil
}

// Drop simulates a lost link: the relay sees a disconnect and the transport
// reports closed, but unlike Close it may be connected again.
func (t *Transport) Drop(ctx context.Context) {
	t.mu.Lock()
	client := t.client
	t.client = nil
	done := t.done
	t.mu.Unlock()

	if client == nil {
		return
	}
	client.Detach(ctx)
	close(done)
}

func (t *Transport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed || t.client == nil
}

func (t *Transport) Emit(ctx context.Context, event protocol.Event, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	client := t.client
	t.mu.Unlock()

	if client == nil {
		return fmt.Errorf("emit %s: %w", event, constants.ErrNotConnected)
	}

	frame, err := protocol.Encode(t.cfg.Marshaler, event, payload)
	if err != nil {
		return err
	}
	client.Handle(ctx, frame)
	return nil
}

// Flush blocks until every frame queued so far has been dispatched, or ctx
// is done.
func (t *Transport) Flush(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		t.counts.Lock()
		for t.handled < t.queued && ctx.Err() == nil {
			t.idle.Wait()
		}
		t.counts.Unlock()
		close(idle)
	}()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		t.counts.Lock()
		t.idle.Broadcast()
		t.counts.Unlock()
		return ctx.Err()
	}
}

func (t *Transport) pump(queue chan []byte, done chan struct{}) {
	for {
		select {
		case frame := <-queue:
			t.cfg.Deliver(frame)
			t.markHandled(1)
		case <-done:
			// Frames still queued belong to a connection that is gone.
			for {
				select {
				case <-queue:
					t.markHandled(1)
				default:
					return
				}
			}
		}
	}
}

func (t *Transport) markHandled(n int) {
	t.counts.Lock()
	t.handled += n
	t.idle.Broadcast()
	t.counts.Unlock()
}

type peer struct {
	t     *Transport
	queue chan []byte
	done  chan struct{}
}

func (p peer) Send(frame []byte) error {
	select {
	case <-p.done:
		return constants.ErrClosed
	default:
	}

	p.t.counts.Lock()
	p.t.queued++
	p.t.counts.Unlock()

	select {
	case p.queue <- frame:
		return nil
	default:
		p.t.markHandled(1)
		p.t.logger.Warn("Inbound queue full, dropping frame", "size", len(frame))
		return fmt.Errorf("queue full")
	}
}
