package redisrelay_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codesynq/collab.go/internal/testenv"
	"github.com/codesynq/collab.go/pkg/bus"
	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/protocol"
	"github.com/codesynq/collab.go/pkg/relay"
	"github.com/codesynq/collab.go/pkg/relay/redisrelay"
	"github.com/codesynq/collab.go/pkg/session"
	"github.com/codesynq/collab.go/pkg/transport"
	"github.com/codesynq/collab.go/pkg/transport/memory"
)

// newOptions isolates each test under its own key prefix and channel.
func newOptions(t *testing.T) (redis.UniversalClient, redisrelay.Options) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: testenv.RedisAddr(t)})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())

	ns := "collabtest:" + uuid.Must(uuid.NewV4()).String() + ":"
	return client, redisrelay.Options{
		KeyPrefix: ns + "room:",
		Channel:   ns + "deliveries",
		Logger:    testenv.Logger(t),
	}
}

func TestStore(t *testing.T) {
	client, opts := newOptions(t)
	store := redisrelay.NewStore(client, opts)
	ctx := context.Background()

	_, err := store.Get(ctx, "ABC123")
	require.ErrorIs(t, err, constants.ErrRoomNotFound)

	room := &relay.Room{
		ID:       "ABC123",
		Code:     "fmt.Println()",
		Language: "go",
		Mode:     protocol.Restricted,
		Host:     "host",
		Members:  []protocol.Member{{ID: "host", Name: "Host", IsHost: true}},
	}
	require.NoError(t, store.Put(ctx, room))

	got, err := store.Get(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, room, got)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.Delete(ctx, "ABC123"))
	_, err = store.Get(ctx, "ABC123")
	require.ErrorIs(t, err, constants.ErrRoomNotFound)
	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBrokerPreservesOrder(t *testing.T) {
	client, opts := newOptions(t)
	broker := redisrelay.NewBroker(client, opts)
	t.Cleanup(func() { _ = broker.Close() })

	var (
		mu  sync.Mutex
		got []string
	)
	require.NoError(t, broker.Subscribe(context.Background(), func(d relay.Delivery) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(d.Data))
	}))

	var want []string
	for i := 0; i < 20; i++ {
		data := string(rune('a' + i))
		want = append(want, data)
		require.NoError(t, broker.Publish(context.Background(), relay.Delivery{
			Room:  "ABC123",
			Event: protocol.CodeUpdated,
			Data:  []byte(data),
		}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(want)
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, got)
}

func TestRelaysShareRooms(t *testing.T) {
	client, opts := newOptions(t)

	newRelay := func() *relay.Relay {
		r := relay.New(relay.Config{
			Store:  redisrelay.NewStore(client, opts),
			Broker: redisrelay.NewBroker(client, opts),
			Logger: testenv.Logger(t),
		})
		t.Cleanup(func() { _ = r.Close() })
		return r
	}
	a, b := newRelay(), newRelay()

	connect := func(r *relay.Relay, id string) (*session.Session, *session.Buffer) {
		router := bus.NewRouter(nil)
		tr := memory.New(r, transport.NewConfig("", router))
		require.NoError(t, tr.Connect(context.Background()))
		t.Cleanup(func() { _ = tr.Close(context.Background()) })

		buf := session.NewBuffer("", "javascript")
		s := session.New(tr, router, buf, session.Config{Identity: &protocol.Identity{UID: id, DisplayName: id}})
		buf.OnChange(func() { _ = s.LocalChange(context.Background()) })
		return s, buf
	}

	host, hostBuf := connect(a, "host")
	hostBuf.SetText("shared")
	roomID, err := host.Create(context.Background(), protocol.Freestyle)
	require.NoError(t, err)

	guest, guestBuf := connect(b, "guest")
	require.Eventually(t, func() bool {
		room, err := b.Room(context.Background(), roomID)
		return err == nil && room.Code == "shared"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, guest.Join(context.Background(), roomID))
	require.Eventually(t, func() bool { return guestBuf.Text() == "shared" }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(host.State().Members) == 2 }, 5*time.Second, 10*time.Millisecond)

	require.True(t, guestBuf.Replace("edited on b"))
	require.Eventually(t, func() bool { return hostBuf.Text() == "edited on b" }, 5*time.Second, 10*time.Millisecond)
}
