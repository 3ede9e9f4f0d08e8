package airboard

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/airboard/internal/hub"
	"github.com/jpalmerr/airboard/internal/metrics"
	"github.com/jpalmerr/airboard/telemetry"
)

// EventKind distinguishes the two kinds of [Event].
type EventKind string

const (
	// EventData is an accepted device reading.
	EventData EventKind = "data"

	// EventActive is a device going online or offline.
	EventActive EventKind = "active"
)

// Event is what [WithEventCallback] callbacks receive.
type Event struct {
	Kind     EventKind
	DeviceID string

	// Reading is set for [EventData].
	Reading telemetry.Reading

	// Active is the new status for [EventActive].
	Active bool

	// Delivered and Dropped count the viewer sessions that received or
	// missed the event.
	Delivered int
	Dropped   int

	At time.Time
}

// eventSink receives every event after the hub. Implemented by the MQTT relay.
type eventSink interface {
	PublishData(ev telemetry.ReceivedEvent)
	PublishActive(ev telemetry.ActiveEvent)
	Close()
}

// dispatcher is the single path from producers (ingest relay goroutine,
// liveness monitor) to consumers (hub, sink, callbacks).
type dispatcher struct {
	hub       *hub.Hub
	metrics   *metrics.Metrics
	sink      eventSink
	callbacks []func(Event)
	logger    *slog.Logger
	now       func() time.Time

	// serializes callbacks across the two producers
	mu sync.Mutex
}

// run forwards ingest events until events is closed.
func (d *dispatcher) run(events <-chan telemetry.ReceivedEvent) {
	for ev := range events {
		d.PublishData(ev)
	}
}

func (d *dispatcher) PublishData(ev telemetry.ReceivedEvent) {
	res := d.hub.PublishData(ev)
	d.metrics.Published(metrics.KindData, res.Delivered, res.Dropped)
	if res.Dropped > 0 {
		d.logger.Debug("reading dropped for slow viewers", "device_id", ev.DeviceID, "dropped", res.Dropped)
	}
	if d.sink != nil {
		d.sink.PublishData(ev)
	}
	d.notify(Event{
		Kind:      EventData,
		DeviceID:  ev.DeviceID,
		Reading:   ev.Reading,
		Delivered: res.Delivered,
		Dropped:   res.Dropped,
		At:        d.now(),
	})
}

func (d *dispatcher) PublishActive(ev telemetry.ActiveEvent) {
	res := d.hub.PublishActive(ev)
	d.metrics.Published(metrics.KindActive, res.Delivered, res.Dropped)
	if d.sink != nil {
		d.sink.PublishActive(ev)
	}
	d.notify(Event{
		Kind:      EventActive,
		DeviceID:  ev.DeviceID,
		Active:    ev.Active,
		Delivered: res.Delivered,
		Dropped:   res.Dropped,
		At:        d.now(),
	})
}

func (d *dispatcher) notify(ev Event) {
	if len(d.callbacks) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cb := range d.callbacks {
		d.invokeSafe(cb, ev)
	}
}

// invokeSafe calls cb with panic recovery. A panic is logged with its stack
// and a correlation id and does not stop later callbacks.
func (d *dispatcher) invokeSafe(cb func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event callback panicked",
				"correlation_id", uuid.NewString(),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
				"device_id", ev.DeviceID,
				"kind", string(ev.Kind),
			)
		}
	}()
	cb(ev)
}
