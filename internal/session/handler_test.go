package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jpalmerr/airboard/internal/hub"
	"github.com/jpalmerr/airboard/internal/protocol"
	"github.com/jpalmerr/airboard/storage"
	"github.com/jpalmerr/airboard/storage/memory"
	"github.com/jpalmerr/airboard/telemetry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	hub    *hub.Hub
	store  *memory.Store
	server *httptest.Server
}

func newFixture(t *testing.T, cfg Config, backend storage.Backend) *fixture {
	t.Helper()
	st := memory.New()
	if _, err := st.CreateDevice(context.Background(), storage.NewDevice{ID: "D1"}); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	if backend == nil {
		backend = st
	}

	h := hub.New()
	handler := NewHandler(h, backend, cfg, testLogger(), nil)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler.Serve(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)

	return &fixture{hub: h, store: st, server: srv}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (f *fixture) waitSessions(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub.Len() = %d, want %d", f.hub.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func identify(t *testing.T, conn *websocket.Conn, scope telemetry.Scope) {
	t.Helper()
	data, err := json.Marshal(protocol.Identify(scope))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Decode(%s) error = %v", data, err)
	}
	return msg
}

func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("connection still open, want closed")
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		t.Fatal("timed out waiting for the server to close the connection")
	}
}

func TestHandler_MainScopeReceivesAllDevices(t *testing.T) {
	f := newFixture(t, Config{KeepAlive: time.Hour}, nil)
	conn := f.dial(t)

	identify(t, conn, telemetry.AllDevices())
	f.waitSessions(t, 1)

	f.hub.PublishData(telemetry.ReceivedEvent{DeviceID: "D7", Reading: telemetry.NewReading([telemetry.FieldCount]float32{3})})
	msg := readMessage(t, conn)
	if msg.Type != protocol.TypeData || msg.Data.DeviceID != "D7" || msg.Data.CO != 3 {
		t.Errorf("message = %+v, want data for D7", msg)
	}

	f.hub.PublishActive(telemetry.ActiveEvent{DeviceID: "D8", Active: true})
	msg = readMessage(t, conn)
	if msg.Type != protocol.TypeDeviceActive || msg.Active != (telemetry.ActiveEvent{DeviceID: "D8", Active: true}) {
		t.Errorf("message = %+v, want device_active for D8", msg)
	}
}

func TestHandler_DeviceScopeFilters(t *testing.T) {
	f := newFixture(t, Config{KeepAlive: time.Hour}, nil)
	conn := f.dial(t)

	identify(t, conn, telemetry.SingleDevice("D1"))
	f.waitSessions(t, 1)

	f.hub.PublishData(telemetry.ReceivedEvent{DeviceID: "D2"})
	f.hub.PublishActive(telemetry.ActiveEvent{DeviceID: "D1", Active: false})

	msg := readMessage(t, conn)
	if msg.Type != protocol.TypeDeviceActive || msg.Active.DeviceID != "D1" {
		t.Errorf("message = %+v, want only D1 events", msg)
	}
}

func TestHandler_KeepAlive(t *testing.T) {
	f := newFixture(t, Config{KeepAlive: 50 * time.Millisecond}, nil)
	conn := f.dial(t)

	start := time.Now()
	identify(t, conn, telemetry.AllDevices())

	msg := readMessage(t, conn)
	if msg.Type != protocol.TypeKeepAlive {
		t.Errorf("message type = %q, want keep_alive", msg.Type)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("first keep_alive after %v, want about one interval", elapsed)
	}
}

func TestHandler_RejectsBadHandshake(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "hello"},
		{"wrong type", `{"type":"keep_alive"}`},
		{"unknown type", `{"type":"subscribe","data":{}}`},
		{"unknown device", `{"type":"identify","data":{"type":"child","id":"nope"}}`},
		{"child without id", `{"type":"identify","data":{"type":"child"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{}, nil)
			conn := f.dial(t)

			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.payload)); err != nil {
				t.Fatalf("WriteMessage() error = %v", err)
			}
			expectClosed(t, conn)
			if f.hub.Len() != 0 {
				t.Errorf("hub.Len() = %d, want 0", f.hub.Len())
			}
		})
	}
}

func TestHandler_IdentifyTimeout(t *testing.T) {
	f := newFixture(t, Config{IdentifyTimeout: 50 * time.Millisecond}, nil)
	conn := f.dial(t)

	expectClosed(t, conn)
	if f.hub.Len() != 0 {
		t.Errorf("hub.Len() = %d, want 0", f.hub.Len())
	}
}

// brokenBackend fails every acquire.
type brokenBackend struct{}

func (brokenBackend) Acquire(context.Context) (storage.Conn, error) {
	return nil, errors.New("database down")
}

func TestHandler_StorageErrorIsFatalForDeviceScope(t *testing.T) {
	f := newFixture(t, Config{}, brokenBackend{})
	conn := f.dial(t)

	identify(t, conn, telemetry.SingleDevice("D1"))
	expectClosed(t, conn)
	if f.hub.Len() != 0 {
		t.Errorf("hub.Len() = %d, want 0", f.hub.Len())
	}
}

func TestHandler_MainScopeSkipsStorage(t *testing.T) {
	f := newFixture(t, Config{KeepAlive: time.Hour}, brokenBackend{})
	conn := f.dial(t)

	identify(t, conn, telemetry.AllDevices())
	f.waitSessions(t, 1)
}

func TestHandler_DisconnectUnregisters(t *testing.T) {
	f := newFixture(t, Config{KeepAlive: time.Hour}, nil)
	conn := f.dial(t)

	identify(t, conn, telemetry.AllDevices())
	f.waitSessions(t, 1)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	f.waitSessions(t, 0)
}

func TestHandler_UnregisterEndsSession(t *testing.T) {
	f := newFixture(t, Config{KeepAlive: time.Hour}, nil)
	conn := f.dial(t)

	identify(t, conn, telemetry.AllDevices())
	f.waitSessions(t, 1)

	f.hub.Close()
	expectClosed(t, conn)
}

func TestHandler_InboundAfterIdentifyIsIgnored(t *testing.T) {
	f := newFixture(t, Config{KeepAlive: time.Hour}, nil)
	conn := f.dial(t)

	identify(t, conn, telemetry.AllDevices())
	f.waitSessions(t, 1)

	// a second identify is not a re-handshake; the session keeps its scope
	identify(t, conn, telemetry.SingleDevice("D1"))
	f.hub.PublishData(telemetry.ReceivedEvent{DeviceID: "D2"})

	msg := readMessage(t, conn)
	if msg.Type != protocol.TypeData || msg.Data.DeviceID != "D2" {
		t.Errorf("message = %+v, want data for D2", msg)
	}
	if f.hub.Len() != 1 {
		t.Errorf("hub.Len() = %d, want 1", f.hub.Len())
	}
}
