package constants

import "errors"

// Session errors
var (
	ErrNotCollaborating     = errors.New("not in a collaboration session")
	ErrAlreadyCollaborating = errors.New("already in a collaboration session")
	ErrNotHost              = errors.New("operation requires the session host")
	ErrIsHost               = errors.New("operation is not available to the session host")
	ErrNotAuthorityHolder   = errors.New("operation requires edit authority")
	ErrNotRestricted        = errors.New("operation requires restricted mode")
	ErrNoPendingRequest     = errors.New("no pending edit request from member")
	ErrInvalidRoomID        = errors.New("invalid room id")
	ErrInvalidMode          = errors.New("invalid edit mode")
	ErrJoinRetriesExhausted = errors.New("transport not ready after all join attempts")
	ErrSolo                 = errors.New("collaboration unavailable in solo mode")
	ErrRoomTaken            = errors.New("room is hosted by another member")
	ErrEmptyMessage         = errors.New("chat message is empty")
)

// Transport errors
var (
	ErrNotConnected  = errors.New("transport is not connected")
	ErrClosed        = errors.New("transport is closed")
	ErrTimeout       = errors.New("timeout")
	ErrNoURL         = errors.New("url not set")
	ErrNoMarshaler   = errors.New("marshaler is not set")
	ErrNoUnmarshaler = errors.New("unmarshaler is not set")
	ErrNoRouter      = errors.New("router is not set")
	ErrUnknownEvent  = errors.New("unknown event")
	ErrEventBound    = errors.New("event already has a handler")
	ErrRoomNotFound  = errors.New("room not found")
)
