// Package redisrelay shares relay rooms across processes through Redis.
//
// Store keeps each room as a CBOR value under "<prefix><room id>" and the
// set of live room ids under "<prefix>index". Broker publishes deliveries
// on one pub/sub channel that every relay instance subscribes to, so a
// member connected to any instance receives every event of its room.
//
// Direct replies (room-joined, room-state, sync-error) never go through
// Redis, so they may overtake broadcasts published just before them. Room
// updates are read-modify-write without a cross-instance lock: two
// instances changing the same room at once can lose one of the changes.
package redisrelay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codesynq/collab.go/internal/codec"
	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/logger"
	"github.com/codesynq/collab.go/pkg/relay"
)

const (
	DefaultKeyPrefix = "collab:room:"
	DefaultChannel   = "collab:deliveries"
)

type Options struct {
	// KeyPrefix namespaces room keys. Defaults to DefaultKeyPrefix.
	KeyPrefix string
	// Channel carries deliveries. Defaults to DefaultChannel.
	Channel string

	// TTL expires rooms nobody has touched for that long. Zero keeps them
	// until the last member leaves.
	TTL time.Duration

	Codec  codec.Codec
	Logger logger.Logger
}

func (o Options) withDefaults() Options {
	if o.KeyPrefix == "" {
		o.KeyPrefix = DefaultKeyPrefix
	}
	if o.Channel == "" {
		o.Channel = DefaultChannel
	}
	if o.Codec == nil {
		o.Codec = codec.NewCBOR()
	}
	o.Logger = logger.OrDiscard(o.Logger)
	return o
}

// Store implements relay.Store on Redis.
type Store struct {
	client redis.UniversalClient
	opts   Options
}

var _ relay.Store = (*Store)(nil)

func NewStore(client redis.UniversalClient, opts Options) *Store {
	return &Store{client: client, opts: opts.withDefaults()}
}

func (s *Store) key(id string) string {
	return s.opts.KeyPrefix + id
}

func (s *Store) indexKey() string {
	return s.opts.KeyPrefix + "index"
}

func (s *Store) Get(ctx context.Context, id string) (*relay.Room, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, constants.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", id, err)
	}

	var room relay.Room
	if err := s.opts.Codec.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", id, err)
	}
	return &room, nil
}

func (s *Store) Put(ctx context.Context, room *relay.Room) error {
	data, err := s.opts.Codec.Marshal(room)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", room.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(room.ID), data, s.opts.TTL)
		pipe.SAdd(ctx, s.indexKey(), room.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put room %s: %w", room.ID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		pipe.SRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete room %s: %w", id, err)
	}
	return nil
}

// Count returns the number of indexed rooms. Rooms that expired through
// TTL stay indexed until they are deleted.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("count rooms: %w", err)
	}
	return int(n), nil
}

// Broker implements relay.Broker on Redis pub/sub.
type Broker struct {
	client redis.UniversalClient
	opts   Options

	mu     sync.Mutex
	subs   []*redis.PubSub
	wg     sync.WaitGroup
	closed bool
}

var _ relay.Broker = (*Broker)(nil)

func NewBroker(client redis.UniversalClient, opts Options) *Broker {
	return &Broker{client: client, opts: opts.withDefaults()}
}

func (b *Broker) Publish(ctx context.Context, d relay.Delivery) error {
	data, err := b.opts.Codec.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}
	if err := b.client.Publish(ctx, b.opts.Channel, data).Err(); err != nil {
		return fmt.Errorf("publish delivery: %w", err)
	}
	return nil
}

// Subscribe returns after Redis confirmed the subscription. fn runs on one
// goroutine per subscription, in publish order.
func (b *Broker) Subscribe(ctx context.Context, fn func(relay.Delivery)) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return constants.ErrClosed
	}
	b.mu.Unlock()

	ps := b.client.Subscribe(ctx, b.opts.Channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", b.opts.Channel, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consume(ctx, ps, fn)
	}()
	return nil
}

func (b *Broker) consume(ctx context.Context, ps *redis.PubSub, fn func(relay.Delivery)) {
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = ps.Close()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var d relay.Delivery
			if err := b.opts.Codec.Unmarshal([]byte(msg.Payload), &d); err != nil {
				b.opts.Logger.Warn("Dropping undecodable delivery", "channel", msg.Channel, "error", err)
				continue
			}
			fn(d)
		}
	}
}

// Close ends every subscription and waits for their goroutines. The Redis
// client itself is left open.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	// A subscription whose context ended is already closed; closing it
	// again only reports that.
	for _, ps := range subs {
		_ = ps.Close()
	}
	b.wg.Wait()
	return nil
}
