// Package bus routes decoded protocol frames to per-event handlers.
//
// A Router holds at most one handler per event name. Handlers are attached
// as a set, in one step, and detached the same way, so a session that joins
// and leaves repeatedly never leaves a listener behind from an earlier room.
package bus

import (
	"fmt"
	"sync"

	"github.com/codesynq/collab.go/internal/codec"
	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/logger"
	"github.com/codesynq/collab.go/pkg/protocol"
)

// Handler receives one frame. It runs on the dispatching goroutine.
type Handler func(env protocol.Envelope)

// Router manages routing of inbound frames by event name.
type Router struct {
	// routes maps event name -> owning binding and handler
	routes   map[protocol.Event]route
	routesMu sync.RWMutex

	logger logger.Logger
}

type route struct {
	binding *Binding
	handler Handler
}

// Binding is a set of handlers attached together.
type Binding struct {
	router *Router
	events []protocol.Event

	mu       sync.Mutex
	detached bool
}

func NewRouter(log logger.Logger) *Router {
	return &Router{
		routes: make(map[protocol.Event]route),
		logger: logger.OrDiscard(log),
	}
}

// Attach registers every handler in handlers, or none of them when any
// event already has a handler.
func (r *Router) Attach(handlers map[protocol.Event]Handler) (*Binding, error) {
	r.routesMu.Lock()
	defer r.routesMu.Unlock()

	for event := range handlers {
		if _, exists := r.routes[event]; exists {
			return nil, fmt.Errorf("%w: %s", constants.ErrEventBound, event)
		}
	}

	b := &Binding{router: r, events: make([]protocol.Event, 0, len(handlers))}
	for event, h := range handlers {
		r.routes[event] = route{binding: b, handler: h}
		b.events = append(b.events, event)
	}

	r.logger.Debug("Attached handlers", "events", len(b.events))
	return b, nil
}

// Detach removes the binding's handlers. It is safe to call more than once.
func (b *Binding) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached {
		return
	}
	b.detached = true

	r := b.router
	r.routesMu.Lock()
	defer r.routesMu.Unlock()

	for _, event := range b.events {
		if rt, ok := r.routes[event]; ok && rt.binding == b {
			delete(r.routes, event)
		}
	}
	r.logger.Debug("Detached handlers", "events", len(b.events))
}

// Active reports whether the binding is still attached.
func (b *Binding) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.detached
}

// Dispatch hands env to its handler. The handler is called without the
// router lock held, so it may attach or detach bindings.
func (r *Router) Dispatch(env protocol.Envelope) bool {
	r.routesMu.RLock()
	rt, ok := r.routes[env.Event]
	r.routesMu.RUnlock()

	if !ok {
		r.logger.Debug("No handler for event", "event", env.Event)
		return false
	}

	rt.handler(env)
	return true
}

// Bound reports whether event has a handler.
func (r *Router) Bound(event protocol.Event) bool {
	r.routesMu.RLock()
	defer r.routesMu.RUnlock()
	_, ok := r.routes[event]
	return ok
}

// Handle adapts a typed callback to a Handler. Payloads that fail to decode
// are logged and dropped.
func Handle[T any](u codec.Unmarshaler, log logger.Logger, fn func(T)) Handler {
	log = logger.OrDiscard(log)
	return func(env protocol.Envelope) {
		var payload T
		if err := env.Bind(u, &payload); err != nil {
			log.Warn("Dropping malformed frame", "event", env.Event, "error", err)
			return
		}
		fn(payload)
	}
}
