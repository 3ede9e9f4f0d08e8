package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/airboard/storage"
	"github.com/jpalmerr/airboard/storage/memory"
	"github.com/jpalmerr/airboard/telemetry"
)

const validFrame = "D1;1;2;3;4;5;6;7;8;9;10;11;12;13;14"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMemoryWithDevice(t *testing.T, ids ...string) *memory.Store {
	t.Helper()
	st := memory.New()
	for _, id := range ids {
		if _, err := st.CreateDevice(context.Background(), storage.NewDevice{ID: id}); err != nil {
			t.Fatalf("CreateDevice() error = %v", err)
		}
	}
	return st
}

func startListener(t *testing.T, backend storage.Backend, cfg Config) *Listener {
	t.Helper()
	l := NewListener("127.0.0.1:0", backend, cfg, testLogger(), nil)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(l.Stop)
	return l
}

// send writes payload and half-closes, as a device does.
func send(t *testing.T, l *Listener, payload string) {
	t.Helper()
	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(payload)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := conn.(*net.TCPConn).CloseWrite(); err != nil {
		t.Fatalf("CloseWrite() error = %v", err)
	}
	// wait for the server to close its side
	_, _ = io.Copy(io.Discard, conn)
}

func expectNoEvent(t *testing.T, l *Listener) {
	t.Helper()
	select {
	case ev := <-l.Events():
		t.Fatalf("unexpected event for %q", ev.DeviceID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListener_AcceptsValidFrame(t *testing.T) {
	st := newMemoryWithDevice(t, "D1")
	l := startListener(t, st, Config{})

	send(t, l, validFrame+"\n")

	select {
	case ev := <-l.Events():
		if ev.DeviceID != "D1" {
			t.Errorf("DeviceID = %q, want D1", ev.DeviceID)
		}
		if ev.CO != 1 || ev.PMParticles100 != 14 {
			t.Errorf("reading = %+v", ev.Reading)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	// the connection is closed only after the upsert
	rec, err := st.LatestReading(context.Background(), "D1")
	if err != nil {
		t.Fatalf("LatestReading() error = %v", err)
	}
	if rec.CO2 != 2 {
		t.Errorf("stored co2 = %v, want 2", rec.CO2)
	}
	conn, _ := st.Acquire(context.Background())
	if active, _ := conn.GetActive(context.Background(), "D1"); !active {
		t.Error("device not marked active")
	}
}

func TestListener_RejectsMalformedFrame(t *testing.T) {
	st := newMemoryWithDevice(t, "D1")
	l := startListener(t, st, Config{})

	send(t, l, "D1;1;2;3")

	expectNoEvent(t, l)
	if _, err := st.LatestReading(context.Background(), "D1"); !errors.Is(err, storage.ErrNoReading) {
		t.Errorf("LatestReading() error = %v, want ErrNoReading", err)
	}
}

func TestListener_IgnoresUnknownDevice(t *testing.T) {
	st := newMemoryWithDevice(t, "D1")
	l := startListener(t, st, Config{})

	send(t, l, "D2;1;2;3;4;5;6;7;8;9;10;11;12;13;14")

	expectNoEvent(t, l)
	recs, _ := st.LatestReadings(context.Background())
	if len(recs) != 0 {
		t.Errorf("LatestReadings() = %d records, want 0", len(recs))
	}
}

func TestListener_ReadTimeout(t *testing.T) {
	st := newMemoryWithDevice(t, "D1")
	l := startListener(t, st, Config{ReadTimeout: 100 * time.Millisecond})

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	// write a full frame but never close: the server must give up
	if _, err := conn.Write([]byte(validFrame)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.Copy(io.Discard, conn); err != nil {
		t.Fatalf("server did not close the connection: %v", err)
	}
	expectNoEvent(t, l)

	// listener keeps accepting after a timeout
	send(t, l, validFrame)
	select {
	case <-l.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event after a timed-out connection")
	}
}

func TestListener_OversizedFrame(t *testing.T) {
	st := newMemoryWithDevice(t, "D1")
	l := startListener(t, st, Config{MaxFrameSize: 16})

	send(t, l, validFrame)
	expectNoEvent(t, l)
}

func TestListener_FullBufferDropsButPersists(t *testing.T) {
	st := newMemoryWithDevice(t, "D1", "D2")
	l := startListener(t, st, Config{EventBuffer: 1})

	send(t, l, validFrame)
	send(t, l, "D2;9;2;3;4;5;6;7;8;9;10;11;12;13;14")

	ev := <-l.Events()
	if ev.DeviceID != "D1" {
		t.Errorf("first event = %q, want D1", ev.DeviceID)
	}
	expectNoEvent(t, l)

	rec, err := st.LatestReading(context.Background(), "D2")
	if err != nil {
		t.Fatalf("dropped event was not persisted: %v", err)
	}
	if rec.CO != 9 {
		t.Errorf("stored co = %v, want 9", rec.CO)
	}
}

// failingBackend counts upsert attempts and fails them.
type failingBackend struct {
	acquireErr error
	upserts    atomic.Int32
}

func (f *failingBackend) Acquire(context.Context) (storage.Conn, error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	return &failingConn{b: f}, nil
}

type failingConn struct {
	storage.Conn
	b *failingBackend
}

func (c *failingConn) DeviceExists(context.Context, string) (bool, error) { return true, nil }

func (c *failingConn) UpsertLatestReading(context.Context, string, telemetry.Reading, time.Time) error {
	c.b.upserts.Add(1)
	return errors.New("disk full")
}

func (c *failingConn) Release() {}

func TestListener_PersistFailureStillPublishes(t *testing.T) {
	backend := &failingBackend{}
	l := startListener(t, backend, Config{})

	send(t, l, validFrame)

	select {
	case ev := <-l.Events():
		if ev.DeviceID != "D1" {
			t.Errorf("DeviceID = %q, want D1", ev.DeviceID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	if backend.upserts.Load() != 1 {
		t.Errorf("upserts = %d, want 1", backend.upserts.Load())
	}
}

func TestListener_AcquireFailureDropsFrame(t *testing.T) {
	l := startListener(t, &failingBackend{acquireErr: errors.New("pool exhausted")}, Config{})

	send(t, l, validFrame)
	expectNoEvent(t, l)
}

func TestListener_BindFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer occupied.Close()

	l := NewListener(occupied.Addr().String(), memory.New(), Config{}, testLogger(), nil)
	if err := l.Start(context.Background()); err == nil {
		l.Stop()
		t.Fatal("Start() on an occupied port succeeded")
	}
}

func TestListener_StopClosesEvents(t *testing.T) {
	l := NewListener("127.0.0.1:0", memory.New(), Config{}, testLogger(), nil)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	l.Stop()
	l.Stop()

	if _, ok := <-l.Events(); ok {
		t.Error("Events() still open after Stop")
	}
	if _, err := net.Dial("tcp", l.Addr().String()); err == nil {
		t.Error("listener still accepting after Stop")
	}
}

func TestListener_StopBeforeStart(t *testing.T) {
	l := NewListener("127.0.0.1:0", memory.New(), Config{}, testLogger(), nil)
	l.Stop()

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() after Stop error = %v", err)
	}
	if l.Addr() != nil {
		t.Error("Start() after Stop bound a socket")
	}
}
