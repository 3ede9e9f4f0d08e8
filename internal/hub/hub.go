package hub

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"sync"

	"github.com/jpalmerr/airboard/telemetry"
)

const (
	// DataBuffer is the capacity of a session's data channel.
	DataBuffer = 1

	// ActiveBuffer is the capacity of a session's status channel.
	ActiveBuffer = 2
)

// ErrDuplicateSession is returned by [Hub.Register] when the id is already
// registered.
var ErrDuplicateSession = errors.New("session already registered")

// Session is one viewer connection's entry in the [Hub].
//
// Data and Active are closed by the hub when the session is unregistered.
type Session struct {
	ID     uint64
	Scope  telemetry.Scope
	data   chan telemetry.ReceivedEvent
	active chan telemetry.ActiveEvent
}

// NewSession allocates a session with a random id and empty delivery channels.
func NewSession(scope telemetry.Scope) *Session {
	return &Session{
		ID:     rand.Uint64(),
		Scope:  scope,
		data:   make(chan telemetry.ReceivedEvent, DataBuffer),
		active: make(chan telemetry.ActiveEvent, ActiveBuffer),
	}
}

// Data returns the channel receiving readings in scope.
func (s *Session) Data() <-chan telemetry.ReceivedEvent { return s.data }

// Active returns the channel receiving status changes in scope.
func (s *Session) Active() <-chan telemetry.ActiveEvent { return s.active }

// Key formats the id for logs.
func (s *Session) Key() string { return strconv.FormatUint(s.ID, 16) }

// Result counts the outcome of a single publish.
type Result struct {
	Delivered int
	Dropped   int
}

// Hub is the session registry.
//
// All methods are safe for concurrent use. The lock is held only for map
// access and non-blocking sends.
type Hub struct {
	mu       sync.Mutex
	sessions map[uint64]*Session
}

// New creates an empty [Hub].
func New() *Hub {
	return &Hub{sessions: make(map[uint64]*Session)}
}

// Register adds a session. A session whose id is already present is rejected
// with [ErrDuplicateSession].
func (h *Hub) Register(s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sessions[s.ID]; exists {
		return ErrDuplicateSession
	}
	h.sessions[s.ID] = s
	return nil
}

// Unregister removes a session and closes its channels.
//
// Safe to call multiple times or with an unknown id.
func (h *Hub) Unregister(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return
	}
	delete(h.sessions, id)
	close(s.data)
	close(s.active)
}

// PublishData offers ev to every session whose scope matches its device.
func (h *Hub) PublishData(ev telemetry.ReceivedEvent) Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	var res Result
	for _, s := range h.sessions {
		if !s.Scope.Matches(ev.DeviceID) {
			continue
		}
		select {
		case s.data <- ev:
			res.Delivered++
		default:
			// viewer is behind, drop for this session only
			res.Dropped++
		}
	}
	return res
}

// PublishActive offers ev to every session whose scope matches its device.
func (h *Hub) PublishActive(ev telemetry.ActiveEvent) Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	var res Result
	for _, s := range h.sessions {
		if !s.Scope.Matches(ev.DeviceID) {
			continue
		}
		select {
		case s.active <- ev:
			res.Delivered++
		default:
			res.Dropped++
		}
	}
	return res
}

// Len returns the number of registered sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close unregisters every session. Handlers observe their channels closing
// and exit.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, s := range h.sessions {
		delete(h.sessions, id)
		close(s.data)
		close(s.active)
	}
}
