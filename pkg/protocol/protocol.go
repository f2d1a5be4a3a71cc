// Package protocol defines the realtime frame format and event names.
//
// Every WebSocket text message carries one JSON frame:
//
//	{"event": "incomingCall", "payload": {...}}
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxFrameSize is the largest frame accepted in either direction (64KB).
const MaxFrameSize = 65536

// Events consumed by the client.
const (
	EventReceiveMessage = "receiveMessage"
	EventIncomingCall   = "incomingCall"
	EventCallEnded      = "callEnded"
)

// Events emitted by the client.
const (
	EventJoin         = "join"
	EventCallAccepted = "callAccepted"
	EventCallRejected = "callRejected"
	EventSendMessage  = "sendMessage"
	EventCallUser     = "callUser"
	EventEndCall      = "endCall"
)

var (
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	ErrMissingEvent  = errors.New("protocol: frame has no event name")
)

// Frame is one realtime message.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame marshals payload into a frame for event.
func NewFrame(event string, payload any) (*Frame, error) {
	if event == "" {
		return nil, ErrMissingEvent
	}
	f := &Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s payload: %w", event, err)
		}
		f.Payload = data
	}
	return f, nil
}

// Decode unmarshals the payload into v.
func (f *Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("protocol: %s frame has no payload", f.Event)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("protocol: decode %s payload: %w", f.Event, err)
	}
	return nil
}

// Marshal encodes a frame, enforcing MaxFrameSize.
func Marshal(f *Frame) ([]byte, error) {
	if f.Event == "" {
		return nil, ErrMissingEvent
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal: %w", err)
	}
	if len(data) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	return data, nil
}

// Unmarshal decodes a frame received from the wire.
func Unmarshal(data []byte) (*Frame, error) {
	if len(data) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	f := &Frame{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal: %w", err)
	}
	if f.Event == "" {
		return nil, ErrMissingEvent
	}
	return f, nil
}
