package session

import (
	"github.com/codesynq/collab.go/pkg/protocol"
)

// Action is a state change request handed to Reduce.
type Action interface {
	isAction()
}

// Started begins hosting or joining a room.
type Started struct {
	Phase  Phase
	RoomID string
	Self   protocol.Member
	Mode   protocol.Mode
}

// SnapshotApplied adopts the relay's view of the room, from room-joined or
// room-state.
type SnapshotApplied struct {
	Snapshot protocol.RoomSnapshot
}

// Ended returns to the Idle baseline.
type Ended struct{}

type ModeChanged struct {
	Mode          protocol.Mode
	CurrentEditor string
}

type RosterChanged struct {
	Users []protocol.Member
}

type RequestReceived struct {
	Request EditRequest
}

type RequestSent struct{}

// RequestResolved removes one pending request without changing the holder.
type RequestResolved struct {
	RequesterID string
}

// AuthorityTransferred makes MemberID the holder.
type AuthorityTransferred struct {
	MemberID string
}

type RequestDeclined struct{}

type LanguageChanged struct {
	Language string
}

func (Started) isAction()              {}
func (SnapshotApplied) isAction()      {}
func (Ended) isAction()                {}
func (ModeChanged) isAction()          {}
func (RosterChanged) isAction()        {}
func (RequestReceived) isAction()      {}
func (RequestSent) isAction()          {}
func (RequestResolved) isAction()      {}
func (AuthorityTransferred) isAction() {}
func (RequestDeclined) isAction()      {}
func (LanguageChanged) isAction()      {}

// Reduce is the single update function for State. It never mutates s.
// Actions that would make an invalid phase transition leave s unchanged.
func Reduce(s State, a Action) State {
	next, _ := reduce(s, a)
	return next
}

func reduce(s State, a Action) (State, error) {
	switch a := a.(type) {
	case Started:
		if err := s.Phase.validateTransitionTo(a.Phase); err != nil {
			return s, err
		}
		next := Idle(s.Language)
		next.Phase = a.Phase
		next.RoomID = a.RoomID
		next.Self = a.Self
		next.Mode = a.Mode
		if a.Phase == PhaseHosting {
			next.IsHost = true
			next.Self.IsHost = true
			next.HostID = a.Self.ID
			if a.Mode == protocol.Restricted {
				next.CurrentEditor = a.Self.ID
			}
		}
		next.Members = []protocol.Member{next.Self}
		return next, nil

	case SnapshotApplied:
		target := PhaseJoined
		if s.Phase == PhaseHosting {
			target = PhaseHosting
		}
		if err := s.Phase.validateTransitionTo(target); err != nil {
			return s, err
		}
		snap := a.Snapshot
		next := s
		next.Phase = target
		if snap.RoomID != "" {
			next.RoomID = snap.RoomID
		}
		if snap.Language != "" {
			next.Language = snap.Language
		}
		next.HostID = snap.Host
		next.IsHost = snap.Host != "" && snap.Host == s.Self.ID
		next.Self.IsHost = next.IsHost
		next.Members = copyMembers(snap.Users)
		next = withMode(next, snap.Mode, snap.CurrentEditor)
		if !next.HoldsAuthority() {
			next.Pending = nil
		}
		if next.Mode == protocol.Freestyle || next.CurrentEditor == s.Self.ID {
			next.AwaitingApproval = false
		}
		return next, nil

	case Ended:
		if err := s.Phase.validateTransitionTo(PhaseIdle); err != nil {
			return s, err
		}
		return Idle(s.Language), nil

	case ModeChanged:
		if !s.Active() {
			return s, errNotActive
		}
		next := withMode(s, a.Mode, a.CurrentEditor)
		next.Pending = nil
		next.AwaitingApproval = false
		return next, nil

	case RosterChanged:
		if !s.Active() {
			return s, errNotActive
		}
		next := s
		next.Members = copyMembers(a.Users)
		return next, nil

	case RequestReceived:
		if !s.HoldsAuthority() || a.Request.RequesterID == s.Self.ID {
			return s, nil
		}
		if _, dup := s.PendingFrom(a.Request.RequesterID); dup {
			return s, nil
		}
		next := s
		next.Pending = append(append([]EditRequest(nil), s.Pending...), a.Request)
		return next, nil

	case RequestSent:
		if !s.Collaborating() {
			return s, errNotActive
		}
		next := s
		next.AwaitingApproval = true
		return next, nil

	case RequestResolved:
		next := s
		next.Pending = nil
		for _, r := range s.Pending {
			if r.RequesterID != a.RequesterID {
				next.Pending = append(next.Pending, r)
			}
		}
		return next, nil

	case AuthorityTransferred:
		if !s.Active() {
			return s, errNotActive
		}
		next := s
		if s.Mode == protocol.Restricted {
			next.CurrentEditor = a.MemberID
		}
		next.AwaitingApproval = false
		if !next.HoldsAuthority() {
			next.Pending = nil
		}
		return next, nil

	case RequestDeclined:
		next := s
		next.AwaitingApproval = false
		return next, nil

	case LanguageChanged:
		next := s
		next.Language = a.Language
		return next, nil
	}

	return s, errUnknownAction
}

// withMode applies a mode and holder. Restricted without a holder falls
// back to the host; Freestyle never has one.
func withMode(s State, mode protocol.Mode, editor string) State {
	if !mode.Valid() {
		mode = protocol.Freestyle
	}
	s.Mode = mode
	switch mode {
	case protocol.Restricted:
		s.CurrentEditor = editor
		if s.CurrentEditor == "" {
			s.CurrentEditor = s.HostID
		}
	default:
		s.CurrentEditor = ""
	}
	return s
}

func copyMembers(in []protocol.Member) []protocol.Member {
	if in == nil {
		return []protocol.Member{}
	}
	return append([]protocol.Member(nil), in...)
}
