package gorillaws_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codesynq/collab.go/internal/codec"
	"github.com/codesynq/collab.go/internal/testenv"
	"github.com/codesynq/collab.go/pkg/bus"
	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/protocol"
	"github.com/codesynq/collab.go/pkg/transport"
	"github.com/codesynq/collab.go/pkg/transport/gorillaws"
)

func TestConnectValidatesConfig(t *testing.T) {
	conn := gorillaws.New(transport.NewConfig("", bus.NewRouter(nil)))
	assert.ErrorIs(t, conn.Connect(context.Background()), constants.ErrNoURL)
	assert.True(t, conn.IsClosed())
}

func TestConnectFailsWithoutRelay(t *testing.T) {
	conn := gorillaws.New(transport.NewConfig("ws://127.0.0.1:1/ws", bus.NewRouter(nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, conn.Connect(ctx))
	assert.True(t, conn.IsClosed())

	err := conn.Emit(ctx, protocol.SyncRequest, protocol.SyncRequestPayload{RoomID: "ABC123"})
	assert.ErrorIs(t, err, constants.ErrNotConnected)
}

func TestJoinRoundTrip(t *testing.T) {
	srv := testenv.StartRelay(t, nil)

	router := bus.NewRouter(nil)
	joined := make(chan protocol.RoomSnapshot, 1)
	_, err := router.Attach(map[protocol.Event]bus.Handler{
		protocol.RoomJoined: bus.Handle(codec.NewCBOR(), nil, func(p protocol.RoomSnapshot) {
			joined <- p
		}),
	})
	require.NoError(t, err)

	conn := testenv.Dial(t, srv, router)
	require.False(t, conn.IsClosed())

	ctx := context.Background()
	require.NoError(t, conn.Emit(ctx, protocol.JoinRoom, protocol.JoinRoomPayload{
		RoomID: "ABC123",
		Member: protocol.Member{ID: "alice", Name: "Alice", IsHost: true},
	}))

	select {
	case snap := <-joined:
		assert.Equal(t, "ABC123", snap.RoomID)
		assert.Equal(t, "alice", snap.Host)
		assert.Equal(t, constants.DefaultLanguage, snap.Language)
		require.Len(t, snap.Users, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("no room-joined")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := testenv.StartRelay(t, nil)
	conn := testenv.Dial(t, srv, bus.NewRouter(nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Close(ctx))
	assert.NoError(t, conn.Close(ctx))

	assert.True(t, conn.IsClosed())
	assert.ErrorIs(t, conn.Err(), constants.ErrClosed)
	select {
	case <-conn.Done():
	default:
		t.Fatal("Done not closed")
	}

	err := conn.Emit(ctx, protocol.SyncRequest, protocol.SyncRequestPayload{RoomID: "ABC123"})
	assert.ErrorIs(t, err, constants.ErrNotConnected)
}
