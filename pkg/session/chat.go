package session

import (
	"context"
	"strings"

	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/protocol"
)

// SendChat posts a chat line to the room. The relay echoes it to every
// member, the sender included, so the local copy arrives as a NoticeChat
// like everyone else's.
func (s *Session) SendChat(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return constants.ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.unlock()

	st := s.store.State()
	if !st.Collaborating() {
		return constants.ErrNotCollaborating
	}
	return s.transport.Emit(ctx, protocol.ChatMessage, protocol.ChatMessagePayload{RoomID: st.RoomID, Message: text})
}

func (s *Session) onNewMessage(p protocol.NewMessagePayload) {
	if !s.store.State().Collaborating() {
		return
	}
	s.noticeAbout(NoticeChat, p.Message, protocol.Member{ID: p.MemberID, Name: displayName(p.User)})
}
