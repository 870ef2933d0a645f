package protocol

import (
	"fmt"

	"github.com/codesynq/collab.go/internal/codec"
)

// Envelope is one frame on the wire.
type Envelope struct {
	Event   Event  `json:"event"`
	Payload []byte `json:"payload"`
}

// Encode marshals payload and wraps it in an envelope frame.
func Encode(m codec.Marshaler, event Event, payload any) ([]byte, error) {
	raw, err := m.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	frame, err := m.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return frame, nil
}

// Decode unwraps a frame. The payload stays encoded until Bind.
func Decode(u codec.Unmarshaler, frame []byte) (Envelope, error) {
	var env Envelope
	if err := u.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("unmarshal envelope: missing event name")
	}
	return env, nil
}

// Bind decodes the payload into v.
func (e Envelope) Bind(u codec.Unmarshaler, v any) error {
	if err := u.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", e.Event, err)
	}
	return nil
}
