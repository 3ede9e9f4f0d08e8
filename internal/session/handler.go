package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jpalmerr/airboard/internal/hub"
	"github.com/jpalmerr/airboard/internal/metrics"
	"github.com/jpalmerr/airboard/internal/protocol"
	"github.com/jpalmerr/airboard/storage"
	"github.com/jpalmerr/airboard/telemetry"
)

const (
	DefaultKeepAlive       = 5 * time.Second
	DefaultIdentifyTimeout = 30 * time.Second

	// DefaultWriteTimeout bounds a single write to a slow or vanished viewer.
	DefaultWriteTimeout = 5 * time.Second

	closeWriteTimeout = time.Second
)

var (
	errNotIdentify   = errors.New("first message must be identify")
	errUnknownDevice = errors.New("device does not exist")
)

// Config tunes a [Handler]. Zero fields take the package defaults.
type Config struct {
	KeepAlive       time.Duration
	IdentifyTimeout time.Duration
	WriteTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.IdentifyTimeout <= 0 {
		c.IdentifyTimeout = DefaultIdentifyTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// Handler serves upgraded viewer connections.
type Handler struct {
	hub     *hub.Hub
	backend storage.Backend
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler creates a [Handler]. m may be nil.
func NewHandler(h *hub.Hub, backend storage.Backend, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:     h,
		backend: backend,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: m,
	}
}

// Serve runs the session to completion and closes conn.
//
// Serve blocks until the viewer disconnects, a write fails, the session is
// unregistered from the hub, or ctx is cancelled.
func (h *Handler) Serve(ctx context.Context, conn *websocket.Conn) {
	sess := hub.NewSession(telemetry.Scope{})
	logger := h.logger.With("session_id", sess.Key(), "addr", conn.RemoteAddr().String())

	// armed on entry: the first keep_alive goes out one interval after connect
	ticker := time.NewTicker(h.cfg.KeepAlive)
	defer ticker.Stop()

	defer conn.Close()

	scope, err := h.awaitIdentify(ctx, conn)
	if err != nil {
		logger.Warn("viewer handshake failed", "error", err)
		if errors.Is(err, errNotIdentify) || errors.Is(err, errUnknownDevice) || errors.Is(err, protocol.ErrUnknownType) {
			h.metrics.Handshake(metrics.HandshakeRejected)
		} else {
			h.metrics.Handshake(metrics.HandshakeFailed)
		}
		return
	}
	sess.Scope = scope
	logger = logger.With("scope", scope.String())

	if err := h.hub.Register(sess); err != nil {
		logger.Error("failed to register session", "error", err)
		h.metrics.Handshake(metrics.HandshakeFailed)
		return
	}
	defer h.hub.Unregister(sess.ID)

	h.metrics.Handshake(metrics.HandshakeAccepted)
	h.metrics.SessionOpened()
	defer h.metrics.SessionClosed()
	logger.Info("viewer session started")

	disconnected := h.drainInbound(conn)

	reason := h.loop(ctx, conn, sess, ticker.C, disconnected)
	logger.Info("viewer session ended", "reason", reason)

	if ctx.Err() != nil {
		h.writeClose(conn, websocket.CloseGoingAway, "server shutting down")
	}
}

// awaitIdentify reads exactly one message and resolves it to a scope.
func (h *Handler) awaitIdentify(ctx context.Context, conn *websocket.Conn) (telemetry.Scope, error) {
	if err := conn.SetReadDeadline(time.Now().Add(h.cfg.IdentifyTimeout)); err != nil {
		return telemetry.Scope{}, err
	}
	// unblock the read on shutdown
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	mt, data, err := conn.ReadMessage()
	if err != nil {
		return telemetry.Scope{}, fmt.Errorf("read identify: %w", err)
	}
	if mt != websocket.TextMessage {
		return telemetry.Scope{}, fmt.Errorf("%w: got non-text frame", errNotIdentify)
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		return telemetry.Scope{}, fmt.Errorf("%w: %w", errNotIdentify, err)
	}
	if msg.Type != protocol.TypeIdentify {
		return telemetry.Scope{}, fmt.Errorf("%w: got %q", errNotIdentify, msg.Type)
	}

	if msg.Scope.Kind == telemetry.ScopeDevice {
		if err := h.checkDevice(ctx, msg.Scope.DeviceID); err != nil {
			return telemetry.Scope{}, err
		}
	}

	// inbound reads after identify only watch for disconnects
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return telemetry.Scope{}, err
	}
	return msg.Scope, nil
}

func (h *Handler) checkDevice(ctx context.Context, id string) error {
	sc, err := h.backend.Acquire(ctx)
	if err != nil {
		h.metrics.StorageError("acquire")
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer sc.Release()

	exists, err := sc.DeviceExists(ctx, id)
	if err != nil {
		h.metrics.StorageError("device_exists")
		return fmt.Errorf("check device %q: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("%w: %q", errUnknownDevice, id)
	}
	return nil
}

// drainInbound discards viewer messages and closes the returned channel when
// the connection fails or the viewer closes it.
func (h *Handler) drainInbound(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}

// loop forwards events until the session ends and returns why it ended.
func (h *Handler) loop(ctx context.Context, conn *websocket.Conn, sess *hub.Session, ticks <-chan time.Time, disconnected <-chan struct{}) string {
	for {
		var msg protocol.Message

		select {
		case <-ctx.Done():
			return "shutdown"
		case <-disconnected:
			return "viewer disconnected"
		case <-ticks:
			msg = protocol.KeepAlive()
		case ev, ok := <-sess.Data():
			if !ok {
				return "unregistered"
			}
			msg = protocol.Data(ev)
		case ev, ok := <-sess.Active():
			if !ok {
				return "unregistered"
			}
			msg = protocol.DeviceActive(ev)
		}

		if err := h.send(conn, msg); err != nil {
			return "write failed: " + err.Error()
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Handler) writeClose(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
}
