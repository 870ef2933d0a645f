package protocol_test

import (
	"testing"

	"github.com/codesynq/collab.go/internal/codec"
	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    protocol.Mode
		wantErr bool
	}{
		{in: "freestyle", want: protocol.Freestyle},
		{in: "restricted", want: protocol.Restricted},
		{in: "Restricted", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := protocol.ParseMode(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, constants.ErrInvalidMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModeToggle(t *testing.T) {
	assert.Equal(t, protocol.Restricted, protocol.Freestyle.Toggle())
	assert.Equal(t, protocol.Freestyle, protocol.Restricted.Toggle())
}

func TestWritable(t *testing.T) {
	tests := []struct {
		name          string
		mode          protocol.Mode
		currentEditor string
		self          string
		want          bool
	}{
		{name: "freestyle without holder", mode: protocol.Freestyle, self: "a", want: true},
		{name: "freestyle ignores holder", mode: protocol.Freestyle, currentEditor: "b", self: "a", want: true},
		{name: "restricted holder", mode: protocol.Restricted, currentEditor: "a", self: "a", want: true},
		{name: "restricted other holder", mode: protocol.Restricted, currentEditor: "b", self: "a", want: false},
		{name: "restricted no holder", mode: protocol.Restricted, self: "a", want: false},
		{name: "restricted empty self", mode: protocol.Restricted, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := protocol.Writable(tt.mode, tt.currentEditor, tt.self)
			second := protocol.Writable(tt.mode, tt.currentEditor, tt.self)
			assert.Equal(t, tt.want, first)
			assert.Equal(t, first, second)
		})
	}
}

func TestEventDirection(t *testing.T) {
	assert.True(t, protocol.JoinRoom.FromClient())
	assert.False(t, protocol.JoinRoom.FromServer())
	assert.True(t, protocol.RoomJoined.FromServer())
	assert.False(t, protocol.RoomJoined.FromClient())
	assert.True(t, protocol.CursorPosition.FromClient())
	assert.True(t, protocol.CursorPosition.FromServer())
	assert.False(t, protocol.Event("chat").FromClient())
}

func TestEnvelope(t *testing.T) {
	c := codec.NewCBOR()

	sent := protocol.CodeChangePayload{RoomID: "ABC123", Code: "let x = 1", Language: "javascript"}
	frame, err := protocol.Encode(c, protocol.CodeChange, sent)
	require.NoError(t, err)

	env, err := protocol.Decode(c, frame)
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeChange, env.Event)

	var got protocol.CodeChangePayload
	require.NoError(t, env.Bind(c, &got))
	assert.Equal(t, sent, got)

	t.Run("frames are deterministic", func(t *testing.T) {
		again, err := protocol.Encode(c, protocol.CodeChange, sent)
		require.NoError(t, err)
		assert.Equal(t, frame, again)
	})

	t.Run("missing event name", func(t *testing.T) {
		raw, err := c.Marshal(map[string]any{"payload": []byte{0xa0}})
		require.NoError(t, err)
		_, err = protocol.Decode(c, raw)
		require.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := protocol.Decode(c, []byte{0xff, 0x00})
		require.Error(t, err)
	})

	t.Run("wire keys", func(t *testing.T) {
		raw, err := c.Marshal(protocol.JoinRoomPayload{
			RoomID: "ABC123",
			Member: protocol.Member{ID: "guest-1", Name: "Guest User"},
		})
		require.NoError(t, err)

		var generic map[string]any
		require.NoError(t, c.Unmarshal(raw, &generic))
		assert.Equal(t, "ABC123", generic["roomId"])
		member, ok := generic["member"].(map[any]any)
		require.True(t, ok)
		assert.Equal(t, "guest-1", member["id"])
		assert.Equal(t, false, member["isHost"])
	})
}

func TestIdentityAsMember(t *testing.T) {
	id := protocol.Identity{UID: "u1", DisplayName: "Ada", Photo: "p.png"}
	assert.Equal(t, protocol.Member{ID: "u1", Name: "Ada", Photo: "p.png", IsHost: true}, id.AsMember(true))
}
