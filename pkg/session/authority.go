package session

import (
	"context"
	"fmt"

	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/protocol"
)

// ToggleMode switches the room between Freestyle and Restricted.
func (s *Session) ToggleMode(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()
	return s.setMode(ctx, s.store.State().Mode.Toggle())
}

// SetMode puts the room in mode. Setting the current mode does nothing.
func (s *Session) SetMode(ctx context.Context, mode protocol.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", constants.ErrInvalidMode, mode)
	}
	s.mu.Lock()
	defer s.unlock()
	return s.setMode(ctx, mode)
}

func (s *Session) setMode(ctx context.Context, mode protocol.Mode) error {
	st := s.store.State()
	if !st.Collaborating() {
		return constants.ErrNotCollaborating
	}
	if !st.IsHost {
		return constants.ErrNotHost
	}
	if st.Mode == mode {
		return nil
	}

	editor := ""
	if mode == protocol.Restricted {
		editor = st.Self.ID
	}
	if s.cursors.clear() {
		s.cursorsChanged()
	}
	st = s.store.Dispatch(ModeChanged{Mode: mode, CurrentEditor: editor})

	s.emit(ctx, protocol.EditModeChange, protocol.EditModeChangePayload{
		RoomID:        st.RoomID,
		Mode:          mode,
		CurrentEditor: editor,
	})
	s.logger.Info("Changed edit mode", "room", st.RoomID, "mode", mode)
	s.notice(NoticeInfo, modeMessage(mode))
	return nil
}

func modeMessage(mode protocol.Mode) string {
	if mode == protocol.Restricted {
		return "Restricted mode: only the current editor can edit"
	}
	return "Freestyle mode: everyone can edit"
}

// RequestEdit asks the authority holder for edit permission. It does
// nothing in Freestyle, for the holder itself, or while a request is
// already outstanding.
func (s *Session) RequestEdit(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()

	st := s.store.State()
	if !st.Collaborating() {
		return constants.ErrNotCollaborating
	}
	if st.Mode != protocol.Restricted || st.CurrentEditor == st.Self.ID || st.AwaitingApproval {
		return nil
	}

	st = s.store.Dispatch(RequestSent{})
	s.emit(ctx, protocol.EditRequest, protocol.EditRequestPayload{RoomID: st.RoomID, Member: st.Self})
	s.notice(NoticeInfo, "Edit request sent")
	return nil
}

// Approve hands edit authority to memberID and rejects every other pending
// request. The caller stops being able to edit.
func (s *Session) Approve(ctx context.Context, memberID string) error {
	s.mu.Lock()
	defer s.unlock()

	st, err := s.decidable()
	if err != nil {
		return err
	}
	req, ok := st.PendingFrom(memberID)
	if !ok {
		return fmt.Errorf("%w: %s", constants.ErrNoPendingRequest, memberID)
	}

	for _, other := range st.Pending {
		if other.RequesterID == memberID {
			continue
		}
		s.emit(ctx, protocol.EditRejected, protocol.EditDecisionPayload{
			RoomID:     st.RoomID,
			MemberID:   other.RequesterID,
			MemberName: other.RequesterName,
		})
	}

	st = s.store.Dispatch(AuthorityTransferred{MemberID: memberID})
	s.emit(ctx, protocol.EditApproved, protocol.EditDecisionPayload{
		RoomID:     st.RoomID,
		MemberID:   req.RequesterID,
		MemberName: req.RequesterName,
	})

	s.logger.Info("Approved edit request", "room", st.RoomID, "member", memberID)
	s.notice(NoticeSuccess, fmt.Sprintf("%s can now edit", displayName(req.RequesterName)))
	return nil
}

// Reject declines the pending request from memberID.
func (s *Session) Reject(ctx context.Context, memberID string) error {
	s.mu.Lock()
	defer s.unlock()

	st, err := s.decidable()
	if err != nil {
		return err
	}
	req, ok := st.PendingFrom(memberID)
	if !ok {
		return fmt.Errorf("%w: %s", constants.ErrNoPendingRequest, memberID)
	}

	st = s.store.Dispatch(RequestResolved{RequesterID: memberID})
	s.emit(ctx, protocol.EditRejected, protocol.EditDecisionPayload{
		RoomID:     st.RoomID,
		MemberID:   req.RequesterID,
		MemberName: req.RequesterName,
	})
	s.logger.Info("Rejected edit request", "room", st.RoomID, "member", memberID)
	return nil
}

// decidable returns the state when the local member may decide requests.
func (s *Session) decidable() (State, error) {
	st := s.store.State()
	switch {
	case !st.Collaborating():
		return st, constants.ErrNotCollaborating
	case st.Mode != protocol.Restricted:
		return st, constants.ErrNotRestricted
	case st.CurrentEditor != st.Self.ID:
		return st, constants.ErrNotAuthorityHolder
	}
	return st, nil
}

func displayName(name string) string {
	if name == "" {
		return "A member"
	}
	return name
}
