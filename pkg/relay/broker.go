package relay

import (
	"context"
	"sync"

	"github.com/codesynq/collab.go/pkg/protocol"
)

// Delivery is one encoded frame addressed to members of a room.
//
// An empty Target addresses every member of Room except Except. A non-empty
// Target addresses that member only.
type Delivery struct {
	Room   string         `json:"room"`
	Target string         `json:"target,omitempty"`
	Except string         `json:"except,omitempty"`
	Event  protocol.Event `json:"event"`
	Data   []byte         `json:"data"`
}

// Matches reports whether a member of room should receive d.
func (d Delivery) Matches(room, memberID string) bool {
	if room == "" || room != d.Room {
		return false
	}
	if d.Target != "" {
		return memberID == d.Target
	}
	return memberID != d.Except
}

// Broker fans deliveries out to every relay instance, including the
// publishing one, in publish order.
type Broker interface {
	Publish(ctx context.Context, d Delivery) error

	// Subscribe registers fn for every delivery. It returns once the
	// subscription is live.
	Subscribe(ctx context.Context, fn func(Delivery)) error

	Close() error
}

// MemoryBroker delivers synchronously to subscribers in the same process.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs []func(Delivery)
}

var _ Broker = (*MemoryBroker)(nil)

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{}
}

func (b *MemoryBroker) Publish(_ context.Context, d Delivery) error {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(d)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, fn func(Delivery)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(append([]func(Delivery){}, b.subs...), fn)
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
	return nil
}
