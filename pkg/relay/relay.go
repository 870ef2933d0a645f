// Package relay implements the authoritative room relay that collaboration
// clients connect to.
//
// The relay owns per-room state (document text, language, edit mode, host,
// current editor and roster) and rebroadcasts events to room members. It
// does not merge edits: a code change replaces the room's text when the
// sender is allowed to write, and is refused with sync-error otherwise.
//
// Rooms live in a Store and outbound frames go through a Broker, so several
// relay instances can share rooms through Redis (see package redisrelay).
// Front ends attach a Peer per connection and feed inbound frames to
// Client.Handle (see package server and the memory transport).
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/codesynq/collab.go/internal/codec"
	"github.com/codesynq/collab.go/pkg/constants"
	"github.com/codesynq/collab.go/pkg/logger"
	"github.com/codesynq/collab.go/pkg/protocol"
)

// Peer is the relay's handle on one connected client. Send must not block
// for long: it is called while room state is locked.
type Peer interface {
	Send(frame []byte) error
}

type Config struct {
	Store  Store
	Broker Broker
	Logger logger.Logger

	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler

	// DefaultCode and DefaultLanguage seed new rooms.
	DefaultCode     string
	DefaultLanguage string
}

type Relay struct {
	cfg    Config
	logger logger.Logger

	// roomMu serializes every room mutation together with the deliveries
	// it produces, so members observe changes in the order they happened.
	roomMu sync.Mutex

	clientsMu sync.RWMutex
	clients   map[string]*Client

	failuresMu sync.RWMutex
	failures   []FailureConfig

	startOnce sync.Once
	startErr  error
	cancel    context.CancelFunc
}

// Client is one attached connection.
type Client struct {
	id    string
	relay *Relay
	peer  Peer

	mu     sync.Mutex
	room   string
	member protocol.Member
}

type Stats struct {
	Rooms   int `json:"rooms"`
	Clients int `json:"clients"`
}

func New(cfg Config) *Relay {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Broker == nil {
		cfg.Broker = NewMemoryBroker()
	}
	if cfg.Marshaler == nil || cfg.Unmarshaler == nil {
		c := codec.NewCBOR()
		cfg.Marshaler, cfg.Unmarshaler = c, c
	}
	if cfg.DefaultCode == "" {
		cfg.DefaultCode = constants.DefaultCode
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = constants.DefaultLanguage
	}

	return &Relay{
		cfg:     cfg,
		logger:  logger.OrDiscard(cfg.Logger),
		clients: make(map[string]*Client),
	}
}

// Start subscribes the relay to its broker. Attach calls Start implicitly.
func (r *Relay) Start(ctx context.Context) error {
	r.startOnce.Do(func() {
		var subCtx context.Context
		subCtx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
		r.startErr = r.cfg.Broker.Subscribe(subCtx, r.deliver)
	})
	return r.startErr
}

// Close stops the broker subscription. Attached clients are left as they
// are; front ends close their own connections.
func (r *Relay) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	return r.cfg.Broker.Close()
}

// SetFailures replaces the failure injection rules.
func (r *Relay) SetFailures(failures []FailureConfig) {
	r.failuresMu.Lock()
	defer r.failuresMu.Unlock()
	r.failures = append([]FailureConfig(nil), failures...)
}

func (r *Relay) Stats(ctx context.Context) (Stats, error) {
	rooms, err := r.cfg.Store.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	r.clientsMu.RLock()
	defer r.clientsMu.RUnlock()
	return Stats{Rooms: rooms, Clients: len(r.clients)}, nil
}

// Room returns a copy of the room's current state.
func (r *Relay) Room(ctx context.Context, id string) (*Room, error) {
	return r.cfg.Store.Get(ctx, id)
}

// Attach registers a new connection.
func (r *Relay) Attach(ctx context.Context, p Peer) (*Client, error) {
	if err := r.Start(ctx); err != nil {
		return nil, fmt.Errorf("start relay: %w", err)
	}

	c := &Client{
		id:    uuid.Must(uuid.NewV4()).String(),
		relay: r,
		peer:  p,
	}

	r.clientsMu.Lock()
	r.clients[c.id] = c
	r.clientsMu.Unlock()

	r.logger.Debug("Client attached", "client", c.id)
	return c, nil
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) location() (string, protocol.Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.member
}

func (c *Client) setLocation(room string, m protocol.Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = room
	c.member = m
}

// Detach removes the connection, leaving its room as if it sent leave-room.
func (c *Client) Detach(ctx context.Context) {
	r := c.relay

	r.roomMu.Lock()
	r.leave(ctx, c)
	r.roomMu.Unlock()

	r.clientsMu.Lock()
	delete(r.clients, c.id)
	r.clientsMu.Unlock()

	r.logger.Debug("Client detached", "client", c.id)
}

// Handle processes one inbound frame from the client.
func (c *Client) Handle(ctx context.Context, frame []byte) {
	r := c.relay

	env, err := protocol.Decode(r.cfg.Unmarshaler, frame)
	if err != nil {
		r.logger.Warn("Dropping undecodable frame", "client", c.id, "error", err)
		return
	}
	if !env.Event.FromClient() {
		r.logger.Warn("Dropping frame", "client", c.id, "event", env.Event, "error", constants.ErrUnknownEvent)
		return
	}

	r.roomMu.Lock()
	defer r.roomMu.Unlock()

	if err := r.route(ctx, c, env); err != nil {
		r.logger.Warn("Failed to handle frame", "client", c.id, "event", env.Event, "error", err)
	}
}

var errNotInRoom = errors.New("client has not joined the room")

func (r *Relay) route(ctx context.Context, c *Client, env protocol.Envelope) error {
	switch env.Event {
	case protocol.JoinRoom:
		var p protocol.JoinRoomPayload
		if err := env.Bind(r.cfg.Unmarshaler, &p); err != nil {
			return err
		}
		return r.join(ctx, c, p)
	case protocol.LeaveRoom:
		r.leave(ctx, c)
		return nil
	}

	roomID, member := c.location()
	if roomID == "" {
		return errNotInRoom
	}
	room, err := r.cfg.Store.Get(ctx, roomID)
	if err != nil {
		return fmt.Errorf("load room %s: %w", roomID, err)
	}

	switch env.Event {
	case protocol.CodeChange:
		var p protocol.CodeChangePayload
		if err := env.Bind(r.cfg.Unmarshaler, &p); err != nil {
			return err
		}
		return r.codeChange(ctx, c, room, member, p)

	case protocol.CursorPosition:
		var p protocol.CursorPositionPayload
		if err := env.Bind(r.cfg.Unmarshaler, &p); err != nil {
			return err
		}
		if room.Mode != protocol.Freestyle {
			return nil
		}
		p.RoomID, p.MemberID, p.MemberName = room.ID, member.ID, member.Name
		return r.publish(ctx, Delivery{Room: room.ID, Except: member.ID}, protocol.CursorPosition, p)

	case protocol.EditModeChange:
		var p protocol.EditModeChangePayload
		if err := env.Bind(r.cfg.Unmarshaler, &p); err != nil {
			return err
		}
		return r.modeChange(ctx, room, member, p)

	case protocol.EditRequest:
		if room.Mode != protocol.Restricted {
			return nil
		}
		holder := room.Holder()
		if holder == "" || holder == member.ID {
			return nil
		}
		p := protocol.EditRequestPayload{RoomID: room.ID, Member: member}
		return r.publish(ctx, Delivery{Room: room.ID, Target: holder}, protocol.EditRequest, p)

	case protocol.EditApproved:
		var p protocol.EditDecisionPayload
		if err := env.Bind(r.cfg.Unmarshaler, &p); err != nil {
			return err
		}
		return r.approve(ctx, room, member, p)

	case protocol.EditRejected:
		var p protocol.EditDecisionPayload
		if err := env.Bind(r.cfg.Unmarshaler, &p); err != nil {
			return err
		}
		if room.Mode != protocol.Restricted || room.Holder() != member.ID {
			return fmt.Errorf("%w: reject from %s", constants.ErrNotAuthorityHolder, member.ID)
		}
		p.RoomID = room.ID
		return r.publish(ctx, Delivery{Room: room.ID, Target: p.MemberID}, protocol.EditRejected, p)

	case protocol.SyncRequest:
		return r.reply(c, protocol.RoomState, room.snapshot())

	case protocol.ChatMessage:
		var p protocol.ChatMessagePayload
		if err := env.Bind(r.cfg.Unmarshaler, &p); err != nil {
			return err
		}
		if p.Message == "" {
			return nil
		}
		msg := protocol.NewMessagePayload{
			Message:   p.Message,
			MemberID:  member.ID,
			User:      member.Name,
			Timestamp: time.Now().UTC(),
		}
		return r.publish(ctx, Delivery{Room: room.ID}, protocol.NewMessage, msg)
	}

	return fmt.Errorf("%w: %s", constants.ErrUnknownEvent, env.Event)
}

func (r *Relay) join(ctx context.Context, c *Client, p protocol.JoinRoomPayload) error {
	if p.RoomID == "" || p.Member.ID == "" {
		return constants.ErrInvalidRoomID
	}

	if prev, _ := c.location(); prev != "" && prev != p.RoomID {
		r.leave(ctx, c)
	}

	created := false
	room, err := r.cfg.Store.Get(ctx, p.RoomID)
	switch {
	case errors.Is(err, constants.ErrRoomNotFound):
		room = newRoom(p.RoomID, r.cfg.DefaultCode, r.cfg.DefaultLanguage)
		created = true
	case err != nil:
		return fmt.Errorf("load room %s: %w", p.RoomID, err)
	}

	member := p.Member
	if member.IsHost {
		if room.Host == "" || room.Host == member.ID {
			room.Host = member.ID
			// A returning host takes authority back only when nobody
			// present holds it.
			if room.Mode == protocol.Restricted && (room.CurrentEditor == "" || !room.Has(room.CurrentEditor)) {
				room.CurrentEditor = member.ID
			}
		} else {
			r.logger.Warn("Refusing host claim", "room", room.ID, "member", member.ID, "host", room.Host)
			member.IsHost = false
		}
	}
	room.upsert(member)

	if err := r.cfg.Store.Put(ctx, room); err != nil {
		return fmt.Errorf("save room %s: %w", room.ID, err)
	}
	c.setLocation(room.ID, member)

	r.logger.Info("Member joined", "room", room.ID, "member", member.ID, "host", member.IsHost, "members", len(room.Members))

	snap := room.snapshot()
	snap.Created = created
	if err := r.reply(c, protocol.RoomJoined, snap); err != nil {
		return err
	}
	roster := protocol.RosterPayload{Users: room.users(), Member: member}
	return r.publish(ctx, Delivery{Room: room.ID, Except: member.ID}, protocol.UserJoined, roster)
}

// leave removes the client's member from its room. Caller holds roomMu.
func (r *Relay) leave(ctx context.Context, c *Client) {
	roomID, member := c.location()
	if roomID == "" {
		return
	}
	c.setLocation("", protocol.Member{})

	room, err := r.cfg.Store.Get(ctx, roomID)
	if err != nil {
		r.logger.Warn("Failed to load room on leave", "room", roomID, "error", err)
		return
	}
	if !room.remove(member.ID) {
		return
	}

	r.logger.Info("Member left", "room", room.ID, "member", member.ID, "members", len(room.Members))

	if len(room.Members) == 0 {
		if err := r.cfg.Store.Delete(ctx, room.ID); err != nil {
			r.logger.Warn("Failed to delete empty room", "room", room.ID, "error", err)
		}
		return
	}

	handover := false
	if room.Mode == protocol.Restricted && room.CurrentEditor == member.ID {
		room.CurrentEditor = ""
		if room.Has(room.Host) {
			room.CurrentEditor = room.Host
		}
		handover = true
	}

	if err := r.cfg.Store.Put(ctx, room); err != nil {
		r.logger.Warn("Failed to save room on leave", "room", room.ID, "error", err)
		return
	}

	roster := protocol.RosterPayload{Users: room.users(), Member: member}
	if err := r.publish(ctx, Delivery{Room: room.ID}, protocol.UserLeft, roster); err != nil {
		r.logger.Warn("Failed to announce departure", "room", room.ID, "error", err)
	}
	if handover {
		changed := protocol.EditModeChangedPayload{Mode: room.Mode, CurrentEditor: room.CurrentEditor}
		if err := r.publish(ctx, Delivery{Room: room.ID}, protocol.EditModeChanged, changed); err != nil {
			r.logger.Warn("Failed to announce authority handover", "room", room.ID, "error", err)
		}
	}
}

func (r *Relay) codeChange(ctx context.Context, c *Client, room *Room, member protocol.Member, p protocol.CodeChangePayload) error {
	if !protocol.Writable(room.Mode, room.CurrentEditor, member.ID) {
		r.logger.Info("Refusing code change", "room", room.ID, "member", member.ID, "editor", room.CurrentEditor)
		return r.reply(c, protocol.SyncError, protocol.SyncErrorPayload{
			Message:       "you do not have edit permission",
			Code:          room.Code,
			Language:      room.Language,
			Mode:          room.Mode,
			CurrentEditor: room.CurrentEditor,
		})
	}

	room.Code = p.Code
	if p.Language != "" {
		room.Language = p.Language
	}
	if err := r.cfg.Store.Put(ctx, room); err != nil {
		return fmt.Errorf("save room %s: %w", room.ID, err)
	}

	update := protocol.CodeUpdatedPayload{Code: room.Code, Language: room.Language}
	return r.publish(ctx, Delivery{Room: room.ID, Except: member.ID}, protocol.CodeUpdated, update)
}

func (r *Relay) modeChange(ctx context.Context, room *Room, member protocol.Member, p protocol.EditModeChangePayload) error {
	if room.Host != member.ID {
		return fmt.Errorf("%w: mode change from %s", constants.ErrNotHost, member.ID)
	}
	if !p.Mode.Valid() {
		return fmt.Errorf("%w: %q", constants.ErrInvalidMode, p.Mode)
	}

	room.Mode = p.Mode
	room.CurrentEditor = ""
	if p.Mode == protocol.Restricted {
		room.CurrentEditor = p.CurrentEditor
		if room.CurrentEditor == "" || !room.Has(room.CurrentEditor) {
			room.CurrentEditor = room.Host
		}
	}
	if err := r.cfg.Store.Put(ctx, room); err != nil {
		return fmt.Errorf("save room %s: %w", room.ID, err)
	}

	r.logger.Info("Mode changed", "room", room.ID, "mode", room.Mode, "editor", room.CurrentEditor)

	changed := protocol.EditModeChangedPayload{Mode: room.Mode, CurrentEditor: room.CurrentEditor}
	return r.publish(ctx, Delivery{Room: room.ID}, protocol.EditModeChanged, changed)
}

func (r *Relay) approve(ctx context.Context, room *Room, member protocol.Member, p protocol.EditDecisionPayload) error {
	if room.Mode != protocol.Restricted || room.Holder() != member.ID {
		return fmt.Errorf("%w: approval from %s", constants.ErrNotAuthorityHolder, member.ID)
	}
	if !room.Has(p.MemberID) {
		return fmt.Errorf("%w: %s is not in room %s", constants.ErrNoPendingRequest, p.MemberID, room.ID)
	}

	room.CurrentEditor = p.MemberID
	if err := r.cfg.Store.Put(ctx, room); err != nil {
		return fmt.Errorf("save room %s: %w", room.ID, err)
	}

	r.logger.Info("Authority transferred", "room", room.ID, "from", member.ID, "to", p.MemberID)

	p.RoomID = room.ID
	return r.publish(ctx, Delivery{Room: room.ID}, protocol.EditApproved, p)
}

// reply sends directly to the requesting client, bypassing the broker.
func (r *Relay) reply(c *Client, event protocol.Event, payload any) error {
	frame, err := protocol.Encode(r.cfg.Marshaler, event, payload)
	if err != nil {
		return err
	}
	r.send(c, event, frame)
	return nil
}

func (r *Relay) publish(ctx context.Context, d Delivery, event protocol.Event, payload any) error {
	frame, err := protocol.Encode(r.cfg.Marshaler, event, payload)
	if err != nil {
		return err
	}
	d.Event, d.Data = event, frame
	if err := r.cfg.Broker.Publish(ctx, d); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}

// deliver hands a broker delivery to every matching local client.
func (r *Relay) deliver(d Delivery) {
	r.clientsMu.RLock()
	var targets []*Client
	for _, c := range r.clients {
		room, member := c.location()
		if d.Matches(room, member.ID) {
			targets = append(targets, c)
		}
	}
	r.clientsMu.RUnlock()

	for _, c := range targets {
		r.send(c, d.Event, d.Data)
	}
}

func (r *Relay) send(c *Client, event protocol.Event, frame []byte) {
	r.failuresMu.RLock()
	failures := r.failures
	r.failuresMu.RUnlock()

	for _, f := range failures {
		if !f.applies(event) {
			continue
		}
		switch f.Type {
		case FailureDrop:
			r.logger.Debug("Injected drop", "client", c.id, "event", event)
			return
		case FailureDelay:
			d := randomDuration(f.MinDelay, f.MaxDelay)
			r.logger.Debug("Injected delay", "client", c.id, "event", event, "delay", d)
			time.AfterFunc(d, func() { r.write(c, event, frame) })
			return
		}
	}

	r.write(c, event, frame)
}

func (r *Relay) write(c *Client, event protocol.Event, frame []byte) {
	if err := c.peer.Send(frame); err != nil {
		r.logger.Warn("Failed to send", "client", c.id, "event", event, "error", err)
	}
}
