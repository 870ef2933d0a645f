package session

import (
	"fmt"

	"github.com/codesynq/collab.go/pkg/protocol"
)

// Phase is the membership state of a Session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseJoining
	PhaseJoined
	PhaseHosting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseJoining:
		return "Joining"
	case PhaseJoined:
		return "Joined"
	case PhaseHosting:
		return "Hosting"
	default:
		return "InvalidPhase"
	}
}

func (p Phase) validateTransitionTo(next Phase) error {
	switch p {
	case PhaseIdle:
		switch next {
		case PhaseJoining, PhaseHosting:
			return nil
		}
	case PhaseJoining:
		switch next {
		case PhaseJoined, PhaseIdle:
			return nil
		}
	case PhaseJoined:
		switch next {
		// Joined to Joined is a rejoin after reconnecting.
		case PhaseJoined, PhaseIdle:
			return nil
		}
	case PhaseHosting:
		switch next {
		case PhaseHosting, PhaseIdle:
			return nil
		}
	}
	return fmt.Errorf("invalid phase transition from %v to %v", p, next)
}

// EditRequest is a pending ask for edit authority, as seen by the holder.
type EditRequest struct {
	RequesterID   string
	RequesterName string
}

// State is one immutable snapshot of the session. Values are never
// modified after they leave Reduce; slices are copied on every change.
type State struct {
	Phase    Phase
	RoomID   string
	Mode     protocol.Mode
	Language string

	// CurrentEditor is the authority holder. It is empty in Freestyle.
	CurrentEditor string
	HostID        string

	Self   protocol.Member
	IsHost bool

	Members []protocol.Member

	// Pending holds requests addressed to the local member while it holds
	// authority.
	Pending []EditRequest

	// AwaitingApproval is set while the local member's own request is
	// outstanding.
	AwaitingApproval bool
}

// Idle returns the neutral, not-collaborating baseline.
func Idle(language string) State {
	return State{Phase: PhaseIdle, Mode: protocol.Freestyle, Language: language}
}

// Collaborating reports whether a room has been created or joined. A
// session still waiting for a transport to join is not collaborating.
func (s State) Collaborating() bool {
	return s.Phase == PhaseJoined || s.Phase == PhaseHosting
}

// Active reports whether the session is in a room or trying to join one.
func (s State) Active() bool {
	return s.Phase != PhaseIdle
}

// Writable reports whether the local editor may be edited. Solo editing is
// always writable.
func (s State) Writable() bool {
	if !s.Collaborating() {
		return true
	}
	return protocol.Writable(s.Mode, s.CurrentEditor, s.Self.ID)
}

// HoldsAuthority reports whether the local member decides edit requests.
func (s State) HoldsAuthority() bool {
	return s.Collaborating() && s.Mode == protocol.Restricted && s.CurrentEditor == s.Self.ID
}

// PendingFrom returns the pending request from id, if any.
func (s State) PendingFrom(id string) (EditRequest, bool) {
	for _, r := range s.Pending {
		if r.RequesterID == id {
			return r, true
		}
	}
	return EditRequest{}, false
}

// Member returns the roster entry for id.
func (s State) Member(id string) (protocol.Member, bool) {
	for _, m := range s.Members {
		if m.ID == id {
			return m, true
		}
	}
	return protocol.Member{}, false
}
