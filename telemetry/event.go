package telemetry

import (
	"errors"
	"fmt"
)

// ReceivedEvent is produced once for every valid frame ingested from a
// known device.
//
// The reading's fields are flattened next to the device id when encoded:
//
//	{"id":"D1","co":1,"co2":2,...}
type ReceivedEvent struct {
	DeviceID string `json:"id"`
	Reading
}

// ActiveEvent is produced once for every detected change of a device's
// online status.
type ActiveEvent struct {
	DeviceID string `json:"id"`
	Active   bool   `json:"active"`
}

// ScopeKind selects which devices a viewer is subscribed to.
type ScopeKind string

const (
	// ScopeAll subscribes to events from every device.
	ScopeAll ScopeKind = "main"

	// ScopeDevice subscribes to events from a single device.
	ScopeDevice ScopeKind = "child"
)

// Scope is a viewer's subscription selector.
//
// The zero value is invalid; use [AllDevices] or [SingleDevice].
type Scope struct {
	Kind     ScopeKind `json:"type"`
	DeviceID string    `json:"id,omitempty"`
}

// AllDevices returns a scope matching every device.
func AllDevices() Scope {
	return Scope{Kind: ScopeAll}
}

// SingleDevice returns a scope matching only the given device.
func SingleDevice(id string) Scope {
	return Scope{Kind: ScopeDevice, DeviceID: id}
}

// Matches reports whether events for deviceID belong to this scope.
func (s Scope) Matches(deviceID string) bool {
	switch s.Kind {
	case ScopeAll:
		return true
	case ScopeDevice:
		return s.DeviceID == deviceID
	default:
		return false
	}
}

// Validate checks that the scope is one of the two known forms.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeAll:
		if s.DeviceID != "" {
			return errors.New("scope main must not name a device")
		}
		return nil
	case ScopeDevice:
		if s.DeviceID == "" {
			return errors.New("scope child requires a device id")
		}
		return nil
	default:
		return fmt.Errorf("unknown scope type %q", s.Kind)
	}
}

// String returns a short form suitable for logs.
func (s Scope) String() string {
	if s.Kind == ScopeDevice {
		return "device:" + s.DeviceID
	}
	return "all"
}
