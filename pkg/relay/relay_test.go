package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/codesynq/collab.go/internal/codec"
	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPeer keeps every frame the relay sends to it.
type recordingPeer struct {
	mu     sync.Mutex
	frames []protocol.Envelope
	c      *codec.CBOR
	t      *testing.T
}

func (p *recordingPeer) Send(frame []byte) error {
	env, err := protocol.Decode(p.c, frame)
	require.NoError(p.t, err)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, env)
	return nil
}

func (p *recordingPeer) events() []protocol.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.Event, 0, len(p.frames))
	for _, f := range p.frames {
		out = append(out, f.Event)
	}
	return out
}

func (p *recordingPeer) last(event protocol.Event, v any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.frames) - 1; i >= 0; i-- {
		if p.frames[i].Event == event {
			require.NoError(p.t, p.frames[i].Bind(p.c, v))
			return true
		}
	}
	return false
}

func (p *recordingPeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = nil
}

type member struct {
	client *Client
	peer   *recordingPeer
	info   protocol.Member
}

type fixture struct {
	t     *testing.T
	relay *Relay
	c     *codec.CBOR
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r := New(Config{})
	t.Cleanup(func() { _ = r.Close() })
	return &fixture{t: t, relay: r, c: codec.NewCBOR()}
}

func (f *fixture) attach(id string, host bool) *member {
	f.t.Helper()
	p := &recordingPeer{c: f.c, t: f.t}
	c, err := f.relay.Attach(context.Background(), p)
	require.NoError(f.t, err)
	return &member{client: c, peer: p, info: protocol.Member{ID: id, Name: id, IsHost: host}}
}

func (f *fixture) send(m *member, event protocol.Event, payload any) {
	f.t.Helper()
	frame, err := protocol.Encode(f.c, event, payload)
	require.NoError(f.t, err)
	m.client.Handle(context.Background(), frame)
}

func (f *fixture) join(m *member, room string) {
	f.t.Helper()
	f.send(m, protocol.JoinRoom, protocol.JoinRoomPayload{RoomID: room, Member: m.info})
}

func (f *fixture) room(id string) *Room {
	f.t.Helper()
	r, err := f.relay.Room(context.Background(), id)
	require.NoError(f.t, err)
	return r
}

func TestJoin(t *testing.T) {
	f := newFixture(t)
	host := f.attach("host", true)
	guest := f.attach("guest-1", false)

	f.join(host, "ABC123")
	var joined protocol.RoomSnapshot
	require.True(t, host.peer.last(protocol.RoomJoined, &joined))
	assert.Equal(t, constants.DefaultCode, joined.Code)
	assert.Equal(t, constants.DefaultLanguage, joined.Language)
	assert.Equal(t, protocol.Freestyle, joined.Mode)
	assert.Equal(t, "host", joined.Host)
	assert.True(t, joined.Created)

	f.join(guest, "ABC123")
	require.True(t, guest.peer.last(protocol.RoomJoined, &joined))
	assert.Len(t, joined.Users, 2)
	assert.False(t, joined.Created, "room already existed")

	var roster protocol.RosterPayload
	require.True(t, host.peer.last(protocol.UserJoined, &roster))
	assert.Equal(t, "guest-1", roster.Member.ID)
	assert.Len(t, roster.Users, 2)
	assert.NotContains(t, guest.peer.events(), protocol.UserJoined, "joiner is not told about itself")

	t.Run("second host claim is refused", func(t *testing.T) {
		impostor := f.attach("impostor", true)
		f.join(impostor, "ABC123")
		assert.Equal(t, "host", f.room("ABC123").Host)
		require.True(t, impostor.peer.last(protocol.RoomJoined, &joined))
		for _, u := range joined.Users {
			if u.ID == "impostor" {
				assert.False(t, u.IsHost)
			}
		}
	})

	t.Run("rejoin does not duplicate", func(t *testing.T) {
		f.join(guest, "ABC123")
		n := 0
		for _, m := range f.room("ABC123").Members {
			if m.ID == "guest-1" {
				n++
			}
		}
		assert.Equal(t, 1, n)
	})
}

func TestLeaveDeletesEmptyRoom(t *testing.T) {
	f := newFixture(t)
	host := f.attach("host", true)
	guest := f.attach("guest-1", false)
	f.join(host, "ROOM01")
	f.join(guest, "ROOM01")

	f.send(guest, protocol.LeaveRoom, protocol.LeaveRoomPayload{RoomID: "ROOM01", MemberID: "guest-1"})
	var roster protocol.RosterPayload
	require.True(t, host.peer.last(protocol.UserLeft, &roster))
	assert.Equal(t, "guest-1", roster.Member.ID)
	assert.Len(t, roster.Users, 1)

	host.client.Detach(context.Background())
	_, err := f.relay.Room(context.Background(), "ROOM01")
	require.ErrorIs(t, err, constants.ErrRoomNotFound)

	stats, err := f.relay.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Rooms: 0, Clients: 1}, stats)
}

func TestJoinAnotherRoomLeavesPrevious(t *testing.T) {
	f := newFixture(t)
	a := f.attach("a", false)
	b := f.attach("b", false)
	f.join(a, "ONE111")
	f.join(b, "ONE111")
	f.join(b, "TWO222")

	assert.Len(t, f.room("ONE111").Members, 1)
	assert.Len(t, f.room("TWO222").Members, 1)
	assert.Contains(t, a.peer.events(), protocol.UserLeft)
}

func TestCodeChange(t *testing.T) {
	f := newFixture(t)
	host := f.attach("host", true)
	guest := f.attach("guest-1", false)
	f.join(host, "ROOM01")
	f.join(guest, "ROOM01")

	t.Run("freestyle accepts anyone", func(t *testing.T) {
		f.send(guest, protocol.CodeChange, protocol.CodeChangePayload{RoomID: "ROOM01", Code: "x", Language: "python"})

		var update protocol.CodeUpdatedPayload
		require.True(t, host.peer.last(protocol.CodeUpdated, &update))
		assert.Equal(t, protocol.CodeUpdatedPayload{Code: "x", Language: "python"}, update)
		assert.NotContains(t, guest.peer.events(), protocol.CodeUpdated, "sender does not get its own change")
		assert.Equal(t, "x", f.room("ROOM01").Code)
	})

	t.Run("restricted refuses non-holder", func(t *testing.T) {
		f.send(host, protocol.EditModeChange, protocol.EditModeChangePayload{RoomID: "ROOM01", Mode: protocol.Restricted, CurrentEditor: "host"})
		host.peer.reset()

		f.send(guest, protocol.CodeChange, protocol.CodeChangePayload{RoomID: "ROOM01", Code: "stolen"})

		var syncErr protocol.SyncErrorPayload
		require.True(t, guest.peer.last(protocol.SyncError, &syncErr))
		assert.Equal(t, "x", syncErr.Code)
		assert.Equal(t, protocol.Restricted, syncErr.Mode)
		assert.Equal(t, "host", syncErr.CurrentEditor)
		assert.Empty(t, host.peer.events())
		assert.Equal(t, "x", f.room("ROOM01").Code)
	})
}

func TestCursorOnlyInFreestyle(t *testing.T) {
	f := newFixture(t)
	host := f.attach("host", true)
	guest := f.attach("guest-1", false)
	f.join(host, "ROOM01")
	f.join(guest, "ROOM01")

	f.send(guest, protocol.CursorPosition, protocol.CursorPositionPayload{RoomID: "ROOM01", MemberID: "spoofed", Line: 2, Ch: 4})
	var cursor protocol.CursorPositionPayload
	require.True(t, host.peer.last(protocol.CursorPosition, &cursor))
	assert.Equal(t, "guest-1", cursor.MemberID)
	assert.Equal(t, 2, cursor.Line)

	f.send(host, protocol.EditModeChange, protocol.EditModeChangePayload{RoomID: "ROOM01", Mode: protocol.Restricted})
	host.peer.reset()
	f.send(guest, protocol.CursorPosition, protocol.CursorPositionPayload{RoomID: "ROOM01", Line: 9})
	assert.Empty(t, host.peer.events())
}

func TestModeChangeIsHostOnly(t *testing.T) {
	f := newFixture(t)
	host := f.attach("host", true)
	guest := f.attach("guest-1", false)
	f.join(host, "ROOM01")
	f.join(guest, "ROOM01")

	f.send(guest, protocol.EditModeChange, protocol.EditModeChangePayload{RoomID: "ROOM01", Mode: protocol.Restricted, CurrentEditor: "guest-1"})
	assert.Equal(t, protocol.Freestyle, f.room("ROOM01").Mode)

	f.send(host, protocol.EditModeChange, protocol.EditModeChangePayload{RoomID: "ROOM01", Mode: protocol.Restricted})
	room := f.room("ROOM01")
	assert.Equal(t, protocol.Restricted, room.Mode)
	assert.Equal(t, "host", room.CurrentEditor, "restricted without a holder falls back to the host")

	var changed protocol.EditModeChangedPayload
	require.True(t, host.peer.last(protocol.EditModeChanged, &changed), "mode changes go to everyone")
	require.True(t, guest.peer.last(protocol.EditModeChanged, &changed))
	assert.Equal(t, "host", changed.CurrentEditor)

	f.send(host, protocol.EditModeChange, protocol.EditModeChangePayload{RoomID: "ROOM01", Mode: protocol.Freestyle, CurrentEditor: "host"})
	assert.Empty(t, f.room("ROOM01").CurrentEditor)
}

func TestEditRequestFlow(t *testing.T) {
	f := newFixture(t)
	host := f.attach("host", true)
	a := f.attach("a", false)
	b := f.attach("b", false)
	for _, m := range []*member{host, a, b} {
		f.join(m, "ROOM01")
	}
	f.send(host, protocol.EditModeChange, protocol.EditModeChangePayload{RoomID: "ROOM01", Mode: protocol.Restricted, CurrentEditor: "host"})

	f.send(a, protocol.EditRequest, protocol.EditRequestPayload{RoomID: "ROOM01", Member: a.info})
	f.send(b, protocol.EditRequest, protocol.EditRequestPayload{RoomID: "ROOM01", Member: b.info})

	var req protocol.EditRequestPayload
	require.True(t, host.peer.last(protocol.EditRequest, &req))
	assert.Equal(t, "b", req.Member.ID)
	assert.NotContains(t, a.peer.events(), protocol.EditRequest, "requests only reach the holder")

	t.Run("approval from non-holder is refused", func(t *testing.T) {
		f.send(b, protocol.EditApproved, protocol.EditDecisionPayload{RoomID: "ROOM01", MemberID: "b"})
		assert.Equal(t, "host", f.room("ROOM01").CurrentEditor)
	})

	f.send(host, protocol.EditRejected, protocol.EditDecisionPayload{RoomID: "ROOM01", MemberID: "b"})
	assert.Contains(t, b.peer.events(), protocol.EditRejected)
	assert.NotContains(t, a.peer.events(), protocol.EditRejected)

	f.send(host, protocol.EditApproved, protocol.EditDecisionPayload{RoomID: "ROOM01", MemberID: "a", MemberName: "a"})
	assert.Equal(t, "a", f.room("ROOM01").CurrentEditor)
	for _, m := range []*member{host, a, b} {
		var d protocol.EditDecisionPayload
		require.True(t, m.peer.last(protocol.EditApproved, &d))
		assert.Equal(t, "a", d.MemberID)
	}

	t.Run("requests now go to the new holder", func(t *testing.T) {
		f.send(b, protocol.EditRequest, protocol.EditRequestPayload{RoomID: "ROOM01", Member: b.info})
		require.True(t, a.peer.last(protocol.EditRequest, &req))
		assert.Equal(t, "b", req.Member.ID)
	})

	t.Run("host loses write access", func(t *testing.T) {
		host.peer.reset()
		f.send(host, protocol.CodeChange, protocol.CodeChangePayload{RoomID: "ROOM01", Code: "host edit"})
		assert.Contains(t, host.peer.events(), protocol.SyncError)
	})

	t.Run("holder leaving hands authority to host", func(t *testing.T) {
		a.client.Detach(context.Background())
		assert.Equal(t, "host", f.room("ROOM01").CurrentEditor)
		var changed protocol.EditModeChangedPayload
		require.True(t, b.peer.last(protocol.EditModeChanged, &changed))
		assert.Equal(t, "host", changed.CurrentEditor)
	})
}

func TestHostRejoinReclaimsVacantAuthority(t *testing.T) {
	f := newFixture(t)
	host := f.attach("host", true)
	guest := f.attach("guest-1", false)
	f.join(host, "ROOM01")
	f.join(guest, "ROOM01")
	f.send(host, protocol.EditModeChange, protocol.EditModeChangePayload{RoomID: "ROOM01", Mode: protocol.Restricted})

	host.client.Detach(context.Background())
	assert.Empty(t, f.room("ROOM01").CurrentEditor)

	back := f.attach("host", true)
	f.join(back, "ROOM01")
	room := f.room("ROOM01")
	assert.Equal(t, "host", room.Host)
	assert.Equal(t, "host", room.CurrentEditor)
}

func TestSyncRequest(t *testing.T) {
	f := newFixture(t)
	host := f.attach("host", true)
	f.join(host, "ROOM01")
	f.send(host, protocol.SyncRequest, protocol.SyncRequestPayload{RoomID: "ROOM01"})

	var state protocol.RoomSnapshot
	require.True(t, host.peer.last(protocol.RoomState, &state))
	assert.Equal(t, "ROOM01", state.RoomID)
	assert.Equal(t, "host", state.Host)
}

func TestChatMessage(t *testing.T) {
	f := newFixture(t)
	host := f.attach("host", true)
	guest := f.attach("guest-1", false)
	outsider := f.attach("outsider", false)
	f.join(host, "ROOM01")
	f.join(guest, "ROOM01")

	before := time.Now().Add(-time.Second)
	f.send(guest, protocol.ChatMessage, protocol.ChatMessagePayload{RoomID: "ROOM01", Message: "hello there"})

	for _, m := range []*member{host, guest} {
		var msg protocol.NewMessagePayload
		require.True(t, m.peer.last(protocol.NewMessage, &msg), "sender receives its own line too")
		assert.Equal(t, "hello there", msg.Message)
		assert.Equal(t, "guest-1", msg.MemberID)
		assert.Equal(t, "guest-1", msg.User)
		assert.True(t, msg.Timestamp.After(before))
	}

	t.Run("empty and out-of-room messages are dropped", func(t *testing.T) {
		host.peer.reset()
		f.send(guest, protocol.ChatMessage, protocol.ChatMessagePayload{RoomID: "ROOM01"})
		f.send(outsider, protocol.ChatMessage, protocol.ChatMessagePayload{RoomID: "ROOM01", Message: "let me in"})
		assert.NotContains(t, host.peer.events(), protocol.NewMessage)
		assert.Empty(t, outsider.peer.events())
	})
}

func TestFramesBeforeJoinAreIgnored(t *testing.T) {
	f := newFixture(t)
	m := f.attach("a", false)
	f.send(m, protocol.CodeChange, protocol.CodeChangePayload{RoomID: "ROOM01", Code: "x"})
	f.send(m, protocol.Event("room-joined"), protocol.RoomSnapshot{})
	m.client.Handle(context.Background(), []byte{0xff})
	assert.Empty(t, m.peer.events())
}

func TestFailureInjection(t *testing.T) {
	f := newFixture(t)
	host := f.attach("host", true)
	guest := f.attach("guest-1", false)
	f.join(host, "ROOM01")
	f.join(guest, "ROOM01")

	f.relay.SetFailures([]FailureConfig{{Type: FailureDrop, Event: protocol.CodeUpdated, Probability: 1}})
	f.send(guest, protocol.CodeChange, protocol.CodeChangePayload{RoomID: "ROOM01", Code: "lost"})
	assert.NotContains(t, host.peer.events(), protocol.CodeUpdated)
	assert.Equal(t, "lost", f.room("ROOM01").Code, "dropped deliveries still update the room")

	f.relay.SetFailures([]FailureConfig{{Type: FailureDelay, Probability: 1, MinDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond}})
	f.send(guest, protocol.CodeChange, protocol.CodeChangePayload{RoomID: "ROOM01", Code: "late"})
	assert.Eventually(t, func() bool {
		var update protocol.CodeUpdatedPayload
		return host.peer.last(protocol.CodeUpdated, &update) && update.Code == "late"
	}, time.Second, 5*time.Millisecond)
}
