package protocol

type Event string

// Client to relay.
const (
	JoinRoom       Event = "join-room"
	LeaveRoom      Event = "leave-room"
	CodeChange     Event = "code-change"
	EditModeChange Event = "edit-mode-change"
	SyncRequest    Event = "sync-request"
	ChatMessage    Event = "chat-message"
)

// Relay to client.
const (
	RoomJoined      Event = "room-joined"
	RoomState       Event = "room-state"
	UserJoined      Event = "user-joined"
	UserLeft        Event = "user-left"
	CodeUpdated     Event = "code-updated"
	EditModeChanged Event = "edit-mode-changed"
	SyncError       Event = "sync-error"
	NewMessage      Event = "new-message"
)

// Both directions. The relay forwards these under the same name.
const (
	CursorPosition Event = "cursor-position"
	EditRequest    Event = "edit-request"
	EditApproved   Event = "edit-approved"
	EditRejected   Event = "edit-rejected"
)

var clientEvents = map[Event]struct{}{
	JoinRoom:       {},
	LeaveRoom:      {},
	CodeChange:     {},
	CursorPosition: {},
	EditModeChange: {},
	EditRequest:    {},
	EditApproved:   {},
	EditRejected:   {},
	SyncRequest:    {},
	ChatMessage:    {},
}

var serverEvents = map[Event]struct{}{
	RoomJoined:      {},
	RoomState:       {},
	UserJoined:      {},
	UserLeft:        {},
	CodeUpdated:     {},
	CursorPosition:  {},
	EditModeChanged: {},
	EditRequest:     {},
	EditApproved:    {},
	EditRejected:    {},
	SyncError:       {},
	NewMessage:      {},
}

// FromClient reports whether e may be sent by a client.
func (e Event) FromClient() bool {
	_, ok := clientEvents[e]
	return ok
}

// FromServer reports whether e may be sent by the relay.
func (e Event) FromServer() bool {
	_, ok := serverEvents[e]
	return ok
}

func (e Event) String() string {
	return string(e)
}
