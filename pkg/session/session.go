// Package session implements the client side of a collaborative editing
// session: room membership, the edit-authority state machine and change
// propagation between the local editor and the relay.
//
// All session state lives in an immutable State held by a Store and is only
// changed through Reduce. Inbound relay events reach the session through a
// bus.Binding that is attached when a room is created or joined and detached
// when it is left, so handlers never outlive the room they were bound for.
//
// A Session is safe for concurrent use. Its methods and its inbound handlers
// are serialized by one lock; Observer callbacks run after that lock is
// released.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/codesynq/collab.go/internal/rand"
	"github.com/codesynq/collab.go/pkg/bus"
	"github.com/codesynq/collab.go/pkg/clock"
	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/logger"
	"github.com/codesynq/collab.go/pkg/protocol"
	"github.com/codesynq/collab.go/pkg/retry"
	"github.com/codesynq/collab.go/pkg/transport"
)

type Session struct {
	cfg       Config
	transport transport.Transport
	router    *bus.Router
	editor    Editor
	store     *Store
	logger    logger.Logger
	clock     clock.Clock

	mu sync.Mutex

	binding *bus.Binding
	guest   *protocol.Identity

	// seedPending is set between creating a room and its first room-joined,
	// which carries the relay's default text rather than the host's.
	// createDone receives the outcome of that room-joined.
	seedPending bool
	createDone  chan error

	editing     bool
	echoGen     uint64
	echoTimer   clock.Timer
	resyncTimer clock.Timer
	cursors     *cursorSet

	joinCancel context.CancelFunc
	joinGen    uint64

	// applyingRemote is set while inbound text is written to the editor, so
	// the change event the editor fires for it is not sent back out.
	applyingRemote atomic.Bool

	// outbox holds observer calls queued under mu.
	outbox []func()
}

func New(t transport.Transport, router *bus.Router, editor Editor, cfg Config) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:       cfg,
		transport: t,
		router:    router,
		editor:    editor,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
		cursors:   newCursorSet(),
	}

	language := editor.Language()
	if language == "" {
		language = constants.DefaultLanguage
	}
	s.store = NewStore(Idle(language), cfg.Logger)
	s.store.Subscribe(s.stateChanged)
	editor.SetReadOnly(false)
	return s
}

// State returns the current snapshot.
func (s *Session) State() State {
	return s.store.State()
}

// Cursors returns the remote cursors currently shown.
func (s *Session) Cursors() []RemoteCursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors.list()
}

// Editing reports whether a local change was sent within the echo window.
// It is informational only: remote updates are applied whether or not the
// window is open.
func (s *Session) Editing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editing
}

// Identity returns the identity the session announces: the configured one,
// or the session's guest identity.
func (s *Session) Identity() protocol.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity()
}

func (s *Session) identity() protocol.Identity {
	if s.cfg.Identity != nil && s.cfg.Identity.UID != "" {
		return *s.cfg.Identity
	}
	if s.guest == nil {
		g := GuestIdentity(s.clock.Now())
		s.guest = &g
		s.logger.Info("Using guest identity", "uid", g.UID)
	}
	return *s.guest
}

// stateChanged is the one place the editor's read-only flag is derived.
// It runs under mu, from Store.Dispatch.
func (s *Session) stateChanged(_, next State) {
	s.editor.SetReadOnly(!next.Writable())
	s.notify(func() { s.cfg.Observer.StateChanged(next) })
}

func (s *Session) notify(fn func()) {
	s.outbox = append(s.outbox, fn)
}

func (s *Session) notice(kind NoticeKind, msg string) {
	n := Notice{Kind: kind, Message: msg}
	s.notify(func() { s.cfg.Observer.Notice(n) })
}

func (s *Session) cursorsChanged() {
	list := s.cursors.list()
	s.notify(func() { s.cfg.Observer.CursorsChanged(list) })
}

// unlock releases mu, then delivers queued observer calls.
func (s *Session) unlock() {
	pending := s.outbox
	s.outbox = nil
	s.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

// emit sends one frame and logs failures. Transport errors never abort a
// session operation.
func (s *Session) emit(ctx context.Context, event protocol.Event, payload any) bool {
	if err := s.transport.Emit(ctx, event, payload); err != nil {
		s.logger.Warn("Failed to emit", "event", event, "error", err)
		return false
	}
	return true
}

// Create starts hosting a new room with a random id.
func (s *Session) Create(ctx context.Context, mode protocol.Mode) (string, error) {
	roomID := rand.NewRoomID(constants.RoomIDLength)
	if err := s.CreateWithID(ctx, roomID, mode); err != nil {
		return "", err
	}
	return roomID, nil
}

// CreateWithID starts hosting roomID. It returns once the relay has
// confirmed the local member as the room's host, and fails with
// constants.ErrRoomTaken when the room already has another host. Without a
// deadline on ctx it waits at most constants.DefaultCreateTimeout.
func (s *Session) CreateWithID(ctx context.Context, roomID string, mode protocol.Mode) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return constants.ErrInvalidRoomID
	}
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", constants.ErrInvalidMode, mode)
	}

	s.mu.Lock()
	if s.store.State().Active() {
		s.unlock()
		return constants.ErrAlreadyCollaborating
	}
	if s.transport.IsClosed() {
		s.unlock()
		return constants.ErrNotConnected
	}
	if err := s.bind(); err != nil {
		s.unlock()
		return err
	}

	self := s.identity().AsMember(true)
	st := s.store.Dispatch(Started{Phase: PhaseHosting, RoomID: roomID, Self: self, Mode: mode})
	s.seedPending = true
	done := make(chan error, 1)
	s.createDone = done

	if !s.emit(ctx, protocol.JoinRoom, protocol.JoinRoomPayload{RoomID: roomID, Member: st.Self}) {
		s.createDone = nil
		s.teardown()
		s.unlock()
		return fmt.Errorf("create %s: %w", roomID, constants.ErrNotConnected)
	}
	s.unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, constants.DefaultCreateTimeout)
		defer cancel()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	s.mu.Lock()
	defer s.unlock()

	if s.createDone != done {
		// Confirmed or torn down while giving up.
		return <-done
	}
	s.createDone = nil
	s.logger.Warn("No confirmation from relay", "room", roomID, "error", ctx.Err())
	s.leave(context.Background(), s.store.State())
	return fmt.Errorf("create %s: %w", roomID, ctx.Err())
}

// confirmCreate settles a pending CreateWithID. Caller holds mu.
func (s *Session) confirmCreate(err error) {
	if s.createDone == nil {
		return
	}
	s.createDone <- err
	s.createDone = nil
}

// Join joins roomID as a participant, waiting for the transport to become
// ready with the configured JoinRetryer. It returns once join-room has been
// sent; the room's state arrives with room-joined.
func (s *Session) Join(ctx context.Context, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return constants.ErrInvalidRoomID
	}

	s.mu.Lock()
	if s.store.State().Active() {
		s.unlock()
		return constants.ErrAlreadyCollaborating
	}
	if err := s.bind(); err != nil {
		s.unlock()
		return err
	}

	self := s.identity().AsMember(false)
	s.store.Dispatch(Started{Phase: PhaseJoining, RoomID: roomID, Self: self, Mode: protocol.Freestyle})

	joinCtx, cancel := context.WithCancel(ctx)
	s.joinCancel = cancel
	s.joinGen++
	gen := s.joinGen
	s.unlock()

	defer cancel()

	attempt := func(ctx context.Context) error {
		s.mu.Lock()
		defer s.unlock()

		if gen != s.joinGen || s.store.State().Phase != PhaseJoining {
			return retry.Permanent(context.Canceled)
		}
		if s.transport.IsClosed() {
			s.logger.Debug("Transport not ready, retrying join", "room", roomID)
			return constants.ErrNotConnected
		}
		if err := s.transport.Emit(ctx, protocol.JoinRoom, protocol.JoinRoomPayload{RoomID: roomID, Member: self}); err != nil {
			s.logger.Warn("Failed to emit join", "room", roomID, "error", err)
			return err
		}
		return nil
	}

	err := retry.Do(joinCtx, s.clock, s.cfg.JoinRetryer, attempt)
	if err == nil {
		s.logger.Info("Joining room", "room", roomID, "member", self.ID)
		return nil
	}

	s.mu.Lock()
	defer s.unlock()

	if gen != s.joinGen {
		// Exit or End already tore the attempt down.
		return context.Canceled
	}
	s.joinCancel = nil
	s.teardown()

	if errors.Is(err, retry.ErrExhausted) {
		s.logger.Error("Giving up joining room", "room", roomID, "error", err)
		s.notice(NoticeError, JoinFailedMessage)
		return fmt.Errorf("join %s: %w", roomID, constants.ErrJoinRetriesExhausted)
	}
	return err
}

// End closes the room for the host.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()

	st := s.store.State()
	if !st.Active() {
		return constants.ErrNotCollaborating
	}
	if !st.IsHost {
		return constants.ErrNotHost
	}
	s.leave(ctx, st)
	s.notice(NoticeInfo, "Collaboration session ended")
	return nil
}

// Exit leaves the room as a participant. It also cancels a join that is
// still waiting for the transport.
func (s *Session) Exit(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()

	st := s.store.State()
	if !st.Active() {
		return constants.ErrNotCollaborating
	}
	if st.IsHost {
		return constants.ErrIsHost
	}
	s.leave(ctx, st)
	s.notice(NoticeInfo, "Left the collaboration session")
	return nil
}

func (s *Session) leave(ctx context.Context, st State) {
	if st.Phase != PhaseJoining && !s.transport.IsClosed() {
		s.emit(ctx, protocol.LeaveRoom, protocol.LeaveRoomPayload{RoomID: st.RoomID, MemberID: st.Self.ID})
	}
	s.teardown()
	s.logger.Info("Left room", "room", st.RoomID, "member", st.Self.ID)
}

// teardown cancels everything tied to the current room and returns to Idle.
// Caller holds mu.
func (s *Session) teardown() {
	if s.joinCancel != nil {
		s.joinCancel()
		s.joinCancel = nil
	}
	s.joinGen++

	if s.binding != nil {
		s.binding.Detach()
		s.binding = nil
	}
	if s.echoTimer != nil {
		s.echoTimer.Stop()
		s.echoTimer = nil
	}
	s.echoGen++
	s.editing = false
	if s.resyncTimer != nil {
		s.resyncTimer.Stop()
		s.resyncTimer = nil
	}
	if s.cursors.clear() {
		s.cursorsChanged()
	}
	s.seedPending = false
	s.confirmCreate(context.Canceled)
	s.store.Dispatch(Ended{})
}

// Resync re-announces the local member to its room, after which the relay's
// room-joined snapshot replaces the local view. When the relay no longer
// had the room, the local copy seeds it again, and a host restores its
// mode. It is meant to run after the transport reconnects.
func (s *Session) Resync(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()

	st := s.store.State()
	if !st.Collaborating() {
		return nil
	}
	s.logger.Info("Rejoining room", "room", st.RoomID, "member", st.Self.ID)
	if !s.emit(ctx, protocol.JoinRoom, protocol.JoinRoomPayload{RoomID: st.RoomID, Member: st.Self}) {
		return constants.ErrNotConnected
	}
	return nil
}

func (s *Session) scheduleResync() {
	if s.cfg.ResyncInterval <= 0 {
		return
	}
	if s.resyncTimer != nil {
		s.resyncTimer.Stop()
	}
	gen := s.joinGen
	s.resyncTimer = s.clock.AfterFunc(s.cfg.ResyncInterval, func() { s.resyncTick(gen) })
}

func (s *Session) resyncTick(gen uint64) {
	s.mu.Lock()
	defer s.unlock()

	if gen != s.joinGen {
		return
	}
	s.resyncTimer = nil
	st := s.store.State()
	if !st.Collaborating() {
		return
	}
	if !s.transport.IsClosed() {
		s.emit(context.Background(), protocol.SyncRequest, protocol.SyncRequestPayload{RoomID: st.RoomID})
	}
	s.scheduleResync()
}
