package relay

import (
	"github.com/codesynq/collab.go/pkg/protocol"
)

// Room is the relay's authoritative state for one room.
type Room struct {
	ID            string            `json:"id"`
	Code          string            `json:"code"`
	Language      string            `json:"language"`
	Mode          protocol.Mode     `json:"mode"`
	Host          string            `json:"host,omitempty"`
	CurrentEditor string            `json:"currentEditor,omitempty"`
	Members       []protocol.Member `json:"members"`
}

func newRoom(id, code, language string) *Room {
	return &Room{
		ID:       id,
		Code:     code,
		Language: language,
		Mode:     protocol.Freestyle,
		Members:  []protocol.Member{},
	}
}

// Clone returns a deep copy.
func (r *Room) Clone() *Room {
	c := *r
	c.Members = append([]protocol.Member(nil), r.Members...)
	return &c
}

// Holder is the member allowed to decide edit requests: the current editor,
// or the host while nobody holds authority.
func (r *Room) Holder() string {
	if r.CurrentEditor != "" {
		return r.CurrentEditor
	}
	return r.Host
}

func (r *Room) Has(memberID string) bool {
	return r.indexOf(memberID) >= 0
}

func (r *Room) indexOf(memberID string) int {
	for i, m := range r.Members {
		if m.ID == memberID {
			return i
		}
	}
	return -1
}

// upsert adds m, or replaces the member with the same id in place.
func (r *Room) upsert(m protocol.Member) {
	if i := r.indexOf(m.ID); i >= 0 {
		r.Members[i] = m
		return
	}
	r.Members = append(r.Members, m)
}

func (r *Room) remove(memberID string) bool {
	i := r.indexOf(memberID)
	if i < 0 {
		return false
	}
	r.Members = append(r.Members[:i], r.Members[i+1:]...)
	return true
}

func (r *Room) users() []protocol.Member {
	return append([]protocol.Member{}, r.Members...)
}

func (r *Room) snapshot() protocol.RoomSnapshot {
	return protocol.RoomSnapshot{
		RoomID:        r.ID,
		Code:          r.Code,
		Language:      r.Language,
		Mode:          r.Mode,
		Host:          r.Host,
		CurrentEditor: r.CurrentEditor,
		Users:         r.users(),
	}
}
