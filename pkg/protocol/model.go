package protocol

import "time"

// Identity is who the local user is. A user without one joins as a guest.
type Identity struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	Photo       string `json:"photo,omitempty"`
}

// Member is a participant as it appears in the room roster.
type Member struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Photo  string `json:"photo,omitempty"`
	IsHost bool   `json:"isHost"`
}

// AsMember returns the member form of the identity.
func (i Identity) AsMember(isHost bool) Member {
	return Member{
		ID:     i.UID,
		Name:   i.DisplayName,
		Photo:  i.Photo,
		IsHost: isHost,
	}
}

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	Member Member `json:"member"`
}

type LeaveRoomPayload struct {
	RoomID   string `json:"roomId"`
	MemberID string `json:"memberId"`
}

type CodeChangePayload struct {
	RoomID   string `json:"roomId"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

type CursorPositionPayload struct {
	RoomID     string `json:"roomId"`
	MemberID   string `json:"memberId"`
	MemberName string `json:"memberName"`
	Line       int    `json:"line"`
	Ch         int    `json:"ch"`
}

type EditModeChangePayload struct {
	RoomID        string `json:"roomId"`
	Mode          Mode   `json:"mode"`
	CurrentEditor string `json:"currentEditor,omitempty"`
}

type EditRequestPayload struct {
	RoomID string `json:"roomId"`
	Member Member `json:"member"`
}

// EditDecisionPayload carries both edit-approved and edit-rejected.
type EditDecisionPayload struct {
	RoomID     string `json:"roomId"`
	MemberID   string `json:"memberId"`
	MemberName string `json:"memberName,omitempty"`
}

type SyncRequestPayload struct {
	RoomID string `json:"roomId"`
}

// RoomSnapshot is the authoritative room state, sent as room-joined on join
// and as room-state in answer to sync-request.
type RoomSnapshot struct {
	RoomID        string   `json:"roomId"`
	Code          string   `json:"code"`
	Language      string   `json:"language"`
	Mode          Mode     `json:"mode"`
	Host          string   `json:"host,omitempty"`
	CurrentEditor string   `json:"currentEditor,omitempty"`
	Users         []Member `json:"users"`

	// Created is set on the room-joined that made the room. A member that
	// was already in the room before reconnecting seeds it again from its
	// own copy.
	Created bool `json:"created,omitempty"`
}

// RosterPayload carries user-joined and user-left. Users is the full roster
// after the change, Member the one who joined or left.
type RosterPayload struct {
	Users  []Member `json:"users"`
	Member Member   `json:"member"`
}

type CodeUpdatedPayload struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type EditModeChangedPayload struct {
	Mode          Mode   `json:"mode"`
	CurrentEditor string `json:"currentEditor,omitempty"`
}

// SyncErrorPayload is returned to a member whose code-change was refused,
// with the state it should revert to.
type SyncErrorPayload struct {
	Message       string `json:"message"`
	Code          string `json:"code"`
	Language      string `json:"language"`
	Mode          Mode   `json:"mode"`
	CurrentEditor string `json:"currentEditor,omitempty"`
}

type ChatMessagePayload struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

// NewMessagePayload is a chat line as the relay broadcasts it, stamped
// with the sender and the relay's time.
type NewMessagePayload struct {
	Message   string    `json:"message"`
	MemberID  string    `json:"memberId"`
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
}
