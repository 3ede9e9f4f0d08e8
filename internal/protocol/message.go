package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jpalmerr/airboard/telemetry"
)

// Type is the envelope tag.
type Type string

const (
	TypeIdentify     Type = "identify"
	TypeData         Type = "data"
	TypeDeviceActive Type = "device_active"
	TypeKeepAlive    Type = "keep_alive"
)

// ErrUnknownType is returned when decoding an envelope with an unrecognised tag.
var ErrUnknownType = errors.New("unknown message type")

// Message is a single protocol envelope. Exactly one payload field is set,
// matching Type; keep_alive carries none.
type Message struct {
	Type   Type
	Scope  telemetry.Scope
	Data   telemetry.ReceivedEvent
	Active telemetry.ActiveEvent
}

// Identify builds the handshake message a viewer sends first.
func Identify(scope telemetry.Scope) Message {
	return Message{Type: TypeIdentify, Scope: scope}
}

// Data wraps a received reading for delivery to a viewer.
func Data(ev telemetry.ReceivedEvent) Message {
	return Message{Type: TypeData, Data: ev}
}

// DeviceActive wraps a status change for delivery to a viewer.
func DeviceActive(ev telemetry.ActiveEvent) Message {
	return Message{Type: TypeDeviceActive, Active: ev}
}

// KeepAlive builds the periodic liveness message.
func KeepAlive() Message {
	return Message{Type: TypeKeepAlive}
}

type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON encodes the message as {"type": ..., "data": ...}.
func (m Message) MarshalJSON() ([]byte, error) {
	var payload any
	switch m.Type {
	case TypeIdentify:
		payload = m.Scope
	case TypeData:
		payload = m.Data
	case TypeDeviceActive:
		payload = m.Active
	case TypeKeepAlive:
		return json.Marshal(envelope{Type: m.Type})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", m.Type, err)
	}
	return json.Marshal(envelope{Type: m.Type, Data: data})
}

// UnmarshalJSON decodes an envelope. An identify payload is validated as a
// [telemetry.Scope].
func (m *Message) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}

	out := Message{Type: env.Type}
	switch env.Type {
	case TypeIdentify:
		if err := decodePayload(env, &out.Scope); err != nil {
			return err
		}
		if err := out.Scope.Validate(); err != nil {
			return fmt.Errorf("identify: %w", err)
		}
	case TypeData:
		if err := decodePayload(env, &out.Data); err != nil {
			return err
		}
	case TypeDeviceActive:
		if err := decodePayload(env, &out.Active); err != nil {
			return err
		}
	case TypeKeepAlive:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	*m = out
	return nil
}

func decodePayload(env envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: missing data", env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%s: %w", env.Type, err)
	}
	return nil
}

// Decode parses a single inbound frame.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}
