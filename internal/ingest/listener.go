package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jpalmerr/airboard/internal/frame"
	"github.com/jpalmerr/airboard/internal/metrics"
	"github.com/jpalmerr/airboard/storage"
	"github.com/jpalmerr/airboard/telemetry"
)

const (
	// DefaultReadTimeout bounds how long a device may take to send its frame
	// and close.
	DefaultReadTimeout = 5 * time.Second

	// DefaultMaxFrameSize is far above a real frame (~200 bytes) and stops a
	// misbehaving peer from growing the read buffer without bound.
	DefaultMaxFrameSize = 4096

	// DefaultMaxConnections caps concurrently handled connections.
	DefaultMaxConnections = 256

	// DefaultEventBuffer is the capacity of the Events channel.
	DefaultEventBuffer = 64

	acceptBackoff = 50 * time.Millisecond
)

// Config tunes a [Listener]. Zero fields take the package defaults.
type Config struct {
	ReadTimeout    time.Duration
	MaxFrameSize   int64
	MaxConnections int
	EventBuffer    int
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	return c
}

// Listener is the device-facing TCP server.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Listener struct {
	addr    string
	backend storage.Backend
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	events chan telemetry.ReceivedEvent
	tokens chan struct{}
	ln     net.Listener
	wg     sync.WaitGroup

	mu        sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewListener creates a [Listener] for addr (e.g. ":2442").
//
// The listener is not bound until [Listener.Start] is called. m may be nil.
func NewListener(addr string, backend storage.Backend, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Listener {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		addr:    addr,
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		events:  make(chan telemetry.ReceivedEvent, cfg.EventBuffer),
		tokens:  make(chan struct{}, cfg.MaxConnections),
	}
}

// Events returns the stream of accepted readings.
//
// The channel is closed by [Listener.Stop] once every in-flight connection
// has finished.
func (l *Listener) Events() <-chan telemetry.ReceivedEvent {
	return l.events
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Start binds the TCP port and begins accepting in a background goroutine.
//
// Returns an error if the port cannot be bound; this is the only fatal
// condition. Cancelling ctx has the same effect as [Listener.Stop] minus the
// wait. Start is idempotent.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started || l.stopped {
		return nil
	}

	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to bind ingest listener on %s: %w", l.addr, err)
	}
	l.ln = ln
	l.started = true

	ctx, l.cancel = context.WithCancel(ctx)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		<-ctx.Done()
		_ = ln.Close()
	}()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.acceptLoop(ctx, ln)
	}()

	l.logger.Info("ingest listener started", "addr", ln.Addr().String())
	return nil
}

// Stop closes the socket, waits for in-flight connections and closes
// [Listener.Events]. Safe to call multiple times, and before Start.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.stopped {
		l.stopped = true
		if l.cancel != nil {
			l.cancel()
		}
	}
	l.mu.Unlock()

	l.wg.Wait()
	l.closeOnce.Do(func() { close(l.events) })
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("accept failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(acceptBackoff):
			}
			continue
		}

		// wait briefly for a free slot, then give up on the connection
		select {
		case l.tokens <- struct{}{}:
		case <-time.After(l.cfg.ReadTimeout):
			l.logger.Warn("connection limit reached", "addr", conn.RemoteAddr().String())
			l.metrics.Frame(metrics.FrameRejected)
			_ = conn.Close()
			continue
		case <-ctx.Done():
			_ = conn.Close()
			return
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer func() { <-l.tokens }()
			l.handle(ctx, conn)
		}()
	}
}

// handle processes the single frame carried by conn.
func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	addr := conn.RemoteAddr().String()

	raw, err := l.readFrame(conn)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			l.logger.Warn("frame read timed out", "addr", addr, "error", err)
			l.metrics.Frame(metrics.FrameTimeout)
		} else {
			l.logger.Warn("frame read failed", "addr", addr, "error", err)
			l.metrics.Frame(metrics.FrameReadError)
		}
		return
	}

	text := string(bytes.TrimSpace(raw))
	deviceID, reading, err := frame.Parse(text)
	if err != nil {
		var fce *frame.FieldCountError
		count := 0
		if errors.As(err, &fce) {
			count = fce.Count
		}
		l.logger.Warn("rejected malformed frame", "addr", addr, "frame", text, "field_count", count)
		l.metrics.Frame(metrics.FrameMalformed)
		return
	}

	sc, err := l.backend.Acquire(ctx)
	if err != nil {
		l.logger.Error("storage acquire failed", "addr", addr, "device_id", deviceID, "error", err)
		l.metrics.Frame(metrics.FrameStorageError)
		l.metrics.StorageError("acquire")
		return
	}
	defer sc.Release()

	exists, err := sc.DeviceExists(ctx, deviceID)
	if err != nil {
		l.logger.Error("device lookup failed", "addr", addr, "device_id", deviceID, "error", err)
		l.metrics.Frame(metrics.FrameStorageError)
		l.metrics.StorageError("device_exists")
		return
	}
	if !exists {
		l.logger.Warn("frame from unknown device", "addr", addr, "device_id", deviceID)
		l.metrics.Frame(metrics.FrameUnknownDevice)
		return
	}

	l.publish(telemetry.ReceivedEvent{DeviceID: deviceID, Reading: reading})
	l.metrics.Frame(metrics.FrameAccepted)

	// persistence failures do not retract the published event
	if err := sc.UpsertLatestReading(ctx, deviceID, reading, l.now()); err != nil {
		l.logger.Error("failed to record reading", "device_id", deviceID, "error", err)
		l.metrics.StorageError("upsert")
	}
}

// readFrame reads until EOF, the deadline, or the size limit.
func (l *Listener) readFrame(conn net.Conn) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout)); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(io.LimitReader(conn, l.cfg.MaxFrameSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > l.cfg.MaxFrameSize {
		return nil, fmt.Errorf("frame exceeds %d bytes", l.cfg.MaxFrameSize)
	}
	return raw, nil
}

// publish hands ev to the relay without blocking.
func (l *Listener) publish(ev telemetry.ReceivedEvent) {
	select {
	case l.events <- ev:
	default:
		l.logger.Warn("event buffer full, dropping reading", "device_id", ev.DeviceID)
		l.metrics.Dropped(metrics.KindData)
	}
}
