// Package airboard ingests air-quality telemetry from field devices and
// streams it to live viewers.
//
// Devices open a TCP connection to the ingest port, write one frame of the
// form
//
//	<device id>;<co>;<co2>;<temperature>;...;<pm_particles_100>
//
// and close. Every accepted frame is persisted and fanned out to the viewer
// sessions whose scope matches the device. A liveness monitor flips devices
// offline when they stop reporting and publishes the change the same way.
// Viewers connect over WebSocket on the viewer port, identify themselves
// with a scope, and then receive data, device_active and keep_alive
// messages.
//
// # Quick Start
//
//	store := memory.New()
//	ab, err := airboard.New(airboard.WithStorage(store))
//	if err != nil {
//	    slog.Error("failed to create airboard", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	ab.Start(ctx) // blocks until ctx is cancelled
//
// # Configuration
//
// Everything else is optional and configured with functional options:
//
//	ab, err := airboard.New(
//	    airboard.WithStorage(store),
//	    airboard.WithIngestPort(2442),
//	    airboard.WithViewerPort(2443),
//	    airboard.WithMQTTRelay("tcp://localhost:1883", "airboard", "airboard"),
//	    airboard.WithEventCallback(func(ev airboard.Event) { ... }),
//	)
//
// # Architecture
//
//   - internal/ingest: TCP listener and frame handling
//   - internal/hub: session registry and non-blocking fan-out
//   - internal/session: per-viewer WebSocket state machine
//   - internal/liveness: online/offline detection
//   - internal/server: viewer port (WebSocket, query API, metrics, dashboard)
//   - internal/relay: optional MQTT forwarding
//   - storage and its subpackages: persistence backends
//
// The internal packages are not part of the public API.
package airboard
