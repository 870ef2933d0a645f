package session

import (
	"context"
	"fmt"

	"github.com/codesynq/collab.go/pkg/bus"
	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/protocol"
)

// bind attaches the handlers for one room. Caller holds mu.
func (s *Session) bind() error {
	if s.binding != nil {
		s.binding.Detach()
		s.binding = nil
	}

	var b *bus.Binding
	handlers := map[protocol.Event]bus.Handler{
		protocol.RoomJoined:      inbound(s, &b, s.onRoomJoined),
		protocol.RoomState:       inbound(s, &b, s.onRoomState),
		protocol.UserJoined:      inbound(s, &b, s.onUserJoined),
		protocol.UserLeft:        inbound(s, &b, s.onUserLeft),
		protocol.CodeUpdated:     inbound(s, &b, s.onCodeUpdated),
		protocol.CursorPosition:  inbound(s, &b, s.onCursorPosition),
		protocol.EditModeChanged: inbound(s, &b, s.onEditModeChanged),
		protocol.EditRequest:     inbound(s, &b, s.onEditRequest),
		protocol.EditApproved:    inbound(s, &b, s.onEditApproved),
		protocol.EditRejected:    inbound(s, &b, s.onEditRejected),
		protocol.SyncError:       inbound(s, &b, s.onSyncError),
		protocol.NewMessage:      inbound(s, &b, s.onNewMessage),
	}

	attached, err := s.router.Attach(handlers)
	if err != nil {
		return fmt.Errorf("attach session handlers: %w", err)
	}
	b = attached
	s.binding = b
	return nil
}

// inbound decodes a frame and runs fn under the session lock, dropping
// frames that arrive for a binding that has since been detached.
func inbound[T any](s *Session, b **bus.Binding, fn func(T)) bus.Handler {
	return bus.Handle(s.cfg.Unmarshaler, s.logger, func(payload T) {
		s.mu.Lock()
		defer s.unlock()

		if s.binding == nil || s.binding != *b {
			s.logger.Debug("Dropping frame for a previous room")
			return
		}
		fn(payload)
	})
}

func (s *Session) noticeAbout(kind NoticeKind, msg string, m protocol.Member) {
	n := Notice{Kind: kind, Message: msg, MemberID: m.ID, MemberName: m.Name}
	s.notify(func() { s.cfg.Observer.Notice(n) })
}

func (s *Session) onRoomJoined(snap protocol.RoomSnapshot) {
	st := s.store.State()
	if snap.RoomID != "" && snap.RoomID != st.RoomID {
		return
	}
	if s.seedPending {
		s.seedPending = false
		s.onCreated(st, snap)
		return
	}

	joining := st.Phase == PhaseJoining
	reseed := !joining && snap.Created
	restore := st.Phase == PhaseHosting && snap.Host == st.Self.ID && snap.Mode != st.Mode
	if reseed {
		snap.Code = s.editor.Text()
		snap.Language = st.Language
	}
	if restore {
		snap.Mode = st.Mode
		snap.CurrentEditor = ""
		if st.Mode == protocol.Restricted {
			snap.CurrentEditor = st.Self.ID
			if st.CurrentEditor != "" && hasMember(snap.Users, st.CurrentEditor) {
				snap.CurrentEditor = st.CurrentEditor
			}
		}
	}

	next := s.store.Dispatch(SnapshotApplied{Snapshot: snap})
	if reseed {
		s.logger.Info("Seeding recreated room", "room", next.RoomID, "member", next.Self.ID)
		s.emit(context.Background(), protocol.CodeChange, protocol.CodeChangePayload{
			RoomID:   next.RoomID,
			Code:     snap.Code,
			Language: snap.Language,
		})
	} else {
		s.applyRemote(snap.Code)
		if snap.Language != "" {
			s.editor.SetLanguage(snap.Language)
		}
	}
	if restore {
		s.emit(context.Background(), protocol.EditModeChange, protocol.EditModeChangePayload{
			RoomID:        next.RoomID,
			Mode:          snap.Mode,
			CurrentEditor: snap.CurrentEditor,
		})
	}
	if next.Mode != protocol.Freestyle && s.cursors.clear() {
		s.cursorsChanged()
	}
	if s.resyncTimer == nil {
		s.scheduleResync()
	}

	s.logger.Info("Joined room", "room", next.RoomID, "mode", next.Mode, "members", len(next.Members))
	if joining {
		s.notice(NoticeSuccess, fmt.Sprintf("Joined room %s", next.RoomID))
	}
}

// onCreated handles the room-joined answering CreateWithID. The room's
// document and mode come from the local session once the relay has accepted
// the host claim; otherwise the session leaves again.
func (s *Session) onCreated(st State, snap protocol.RoomSnapshot) {
	if snap.Host != st.Self.ID {
		s.logger.Warn("Room is hosted by another member", "room", st.RoomID, "host", snap.Host)
		done := s.createDone
		s.createDone = nil
		s.leave(context.Background(), st)
		s.notice(NoticeError, fmt.Sprintf("Room %s is already hosted by someone else", st.RoomID))
		if done != nil {
			done <- fmt.Errorf("create %s: %w", st.RoomID, constants.ErrRoomTaken)
		}
		return
	}

	snap.Code = s.editor.Text()
	snap.Language = st.Language
	snap.Mode = st.Mode
	snap.CurrentEditor = st.CurrentEditor
	next := s.store.Dispatch(SnapshotApplied{Snapshot: snap})

	ctx := context.Background()
	s.emit(ctx, protocol.CodeChange, protocol.CodeChangePayload{
		RoomID:   next.RoomID,
		Code:     snap.Code,
		Language: snap.Language,
	})
	if next.Mode == protocol.Restricted {
		s.emit(ctx, protocol.EditModeChange, protocol.EditModeChangePayload{
			RoomID:        next.RoomID,
			Mode:          protocol.Restricted,
			CurrentEditor: next.Self.ID,
		})
	}
	if s.resyncTimer == nil {
		s.scheduleResync()
	}

	s.logger.Info("Hosting room", "room", next.RoomID, "mode", next.Mode, "member", next.Self.ID)
	s.notice(NoticeSuccess, fmt.Sprintf("Collaboration started. Room ID: %s", next.RoomID))
	s.confirmCreate(nil)
}

func hasMember(users []protocol.Member, id string) bool {
	for _, u := range users {
		if u.ID == id {
			return true
		}
	}
	return false
}

func (s *Session) onRoomState(snap protocol.RoomSnapshot) {
	st := s.store.State()
	if !st.Collaborating() || (snap.RoomID != "" && snap.RoomID != st.RoomID) {
		return
	}

	if st.Writable() {
		// Local edits may still be in flight; keep the local text.
		snap.Code = s.editor.Text()
		snap.Language = st.Language
	}
	next := s.store.Dispatch(SnapshotApplied{Snapshot: snap})
	if !next.Writable() {
		s.applyRemote(snap.Code)
		if snap.Language != "" {
			s.editor.SetLanguage(snap.Language)
		}
	}
	if next.Mode != protocol.Freestyle && s.cursors.clear() {
		s.cursorsChanged()
	}
}

func (s *Session) onUserJoined(p protocol.RosterPayload) {
	st := s.store.Dispatch(RosterChanged{Users: p.Users})
	if p.Member.ID != "" && p.Member.ID != st.Self.ID {
		s.noticeAbout(NoticeInfo, fmt.Sprintf("%s joined the session", displayName(p.Member.Name)), p.Member)
	}
}

func (s *Session) onUserLeft(p protocol.RosterPayload) {
	st := s.store.Dispatch(RosterChanged{Users: p.Users})
	if s.cursors.remove(p.Member.ID) {
		s.cursorsChanged()
	}
	if _, ok := st.PendingFrom(p.Member.ID); ok {
		s.store.Dispatch(RequestResolved{RequesterID: p.Member.ID})
	}
	if p.Member.ID != "" && p.Member.ID != st.Self.ID {
		s.noticeAbout(NoticeInfo, fmt.Sprintf("%s left the session", displayName(p.Member.Name)), p.Member)
	}
}

// onCodeUpdated applies the room's text regardless of the editing window,
// which only keeps the session from rebroadcasting.
func (s *Session) onCodeUpdated(p protocol.CodeUpdatedPayload) {
	s.applyRemote(p.Code)
	s.applyLanguage(p.Language)
}

func (s *Session) onCursorPosition(p protocol.CursorPositionPayload) {
	st := s.store.State()
	if st.Mode != protocol.Freestyle || p.MemberID == "" || p.MemberID == st.Self.ID {
		return
	}

	id := p.MemberID
	gen, e := s.cursors.put(RemoteCursor{
		MemberID:   id,
		MemberName: p.MemberName,
		Line:       p.Line,
		Ch:         p.Ch,
		Color:      ColorFor(id),
	})
	e.timer = s.clock.AfterFunc(s.cfg.CursorTTL, func() {
		s.mu.Lock()
		defer s.unlock()
		if s.cursors.expire(id, gen) {
			s.cursorsChanged()
		}
	})
	s.cursorsChanged()
}

func (s *Session) onEditModeChanged(p protocol.EditModeChangedPayload) {
	prev := s.store.State()
	if s.cursors.clear() {
		s.cursorsChanged()
	}
	next := s.store.Dispatch(ModeChanged{Mode: p.Mode, CurrentEditor: p.CurrentEditor})

	switch {
	case next.Mode != prev.Mode:
		s.notice(NoticeInfo, modeMessage(next.Mode))
	case next.HoldsAuthority() && !prev.HoldsAuthority():
		s.notice(NoticeSuccess, "You now have edit permission")
	}
}

func (s *Session) onEditRequest(p protocol.EditRequestPayload) {
	st := s.store.State()
	if !st.HoldsAuthority() {
		s.logger.Debug("Ignoring edit request without authority", "from", p.Member.ID)
		return
	}

	next := s.store.Dispatch(RequestReceived{Request: EditRequest{
		RequesterID:   p.Member.ID,
		RequesterName: p.Member.Name,
	}})
	if len(next.Pending) > len(st.Pending) {
		s.noticeAbout(NoticeEditRequest, fmt.Sprintf("%s requests edit permission", displayName(p.Member.Name)), p.Member)
	}
}

func (s *Session) onEditApproved(p protocol.EditDecisionPayload) {
	prev := s.store.State()
	next := s.store.Dispatch(AuthorityTransferred{MemberID: p.MemberID})
	if next.HoldsAuthority() && !prev.HoldsAuthority() {
		s.notice(NoticeSuccess, "You now have edit permission")
	}
}

func (s *Session) onEditRejected(p protocol.EditDecisionPayload) {
	st := s.store.State()
	if p.MemberID != st.Self.ID {
		return
	}
	s.store.Dispatch(RequestDeclined{})
	s.notice(NoticeWarning, "Your edit request was declined")
}

// onSyncError reverts to the room's content after the relay refused a
// change.
func (s *Session) onSyncError(p protocol.SyncErrorPayload) {
	st := s.store.State()
	if !st.Collaborating() {
		return
	}
	s.logger.Warn("Relay refused change", "room", st.RoomID, "reason", p.Message)

	s.store.Dispatch(SnapshotApplied{Snapshot: protocol.RoomSnapshot{
		RoomID:        st.RoomID,
		Code:          p.Code,
		Language:      p.Language,
		Mode:          p.Mode,
		Host:          st.HostID,
		CurrentEditor: p.CurrentEditor,
		Users:         st.Members,
	}})
	s.applyRemote(p.Code)
	if p.Language != "" {
		s.editor.SetLanguage(p.Language)
	}
	s.notice(NoticeWarning, "Your change was reverted: "+p.Message)
}
