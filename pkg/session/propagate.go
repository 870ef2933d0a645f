package session

import (
	"context"

	"github.com/codesynq/collab.go/pkg/protocol"
)

// LocalChange ships the editor's full text to the room. Call it from the
// editor's change event. Changes the session itself made while applying a
// remote update are ignored, and so are changes while not writable.
func (s *Session) LocalChange(ctx context.Context) error {
	// Checked before locking: SetText fires the change event while the
	// session lock is held.
	if s.applyingRemote.Load() {
		return nil
	}

	s.mu.Lock()
	defer s.unlock()

	st := s.store.State()
	if !st.Collaborating() || s.seedPending {
		// A room being created is seeded from the buffer once confirmed.
		return nil
	}
	if !st.Writable() {
		s.logger.Debug("Dropping change without edit permission", "room", st.RoomID)
		return nil
	}

	s.markEditing()
	s.emit(ctx, protocol.CodeChange, protocol.CodeChangePayload{
		RoomID:   st.RoomID,
		Code:     s.editor.Text(),
		Language: st.Language,
	})
	return nil
}

// markEditing opens the echo window reported by Editing. Caller holds mu.
func (s *Session) markEditing() {
	s.editing = true
	if s.echoTimer != nil {
		s.echoTimer.Stop()
	}
	s.echoGen++
	gen := s.echoGen
	s.echoTimer = s.clock.AfterFunc(s.cfg.EchoWindow, func() {
		s.mu.Lock()
		defer s.unlock()
		if s.echoGen == gen {
			s.editing = false
			s.echoTimer = nil
		}
	})
}

// LocalCursor shares the local caret. Only Freestyle rooms show cursors.
func (s *Session) LocalCursor(ctx context.Context, pos Position) error {
	s.mu.Lock()
	defer s.unlock()

	st := s.store.State()
	if !st.Collaborating() || s.seedPending || st.Mode != protocol.Freestyle {
		return nil
	}
	s.emit(ctx, protocol.CursorPosition, protocol.CursorPositionPayload{
		RoomID:     st.RoomID,
		MemberID:   st.Self.ID,
		MemberName: st.Self.Name,
		Line:       pos.Line,
		Ch:         pos.Ch,
	})
	return nil
}

// SetLanguage changes the editor language and, when the local member may
// write, the room's.
func (s *Session) SetLanguage(ctx context.Context, lang string) error {
	s.mu.Lock()
	defer s.unlock()

	s.editor.SetLanguage(lang)
	st := s.store.Dispatch(LanguageChanged{Language: lang})
	if !st.Collaborating() || s.seedPending || !st.Writable() {
		return nil
	}
	s.emit(ctx, protocol.CodeChange, protocol.CodeChangePayload{
		RoomID:   st.RoomID,
		Code:     s.editor.Text(),
		Language: lang,
	})
	return nil
}

// applyRemote replaces the editor text, keeping the caret where it was.
// Caller holds mu.
func (s *Session) applyRemote(text string) {
	if s.editor.Text() == text {
		return
	}
	pos := s.editor.Cursor()

	s.applyingRemote.Store(true)
	s.editor.SetText(text)
	s.applyingRemote.Store(false)

	s.editor.SetCursor(Clamp(text, pos))
}

func (s *Session) applyLanguage(lang string) {
	if lang == "" || lang == s.store.State().Language {
		return
	}
	s.editor.SetLanguage(lang)
	s.store.Dispatch(LanguageChanged{Language: lang})
}
