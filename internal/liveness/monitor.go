package liveness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpalmerr/airboard/internal/metrics"
	"github.com/jpalmerr/airboard/storage"
	"github.com/jpalmerr/airboard/telemetry"
)

const (
	DefaultInterval   = 5 * time.Second
	DefaultThreshold  = 10 * time.Second
	DefaultRetryDelay = 10 * time.Second
)

// Publisher receives detected transitions.
type Publisher interface {
	PublishActive(ev telemetry.ActiveEvent)
}

// PublisherFunc adapts a function to [Publisher].
type PublisherFunc func(ev telemetry.ActiveEvent)

func (f PublisherFunc) PublishActive(ev telemetry.ActiveEvent) { f(ev) }

// Config tunes a [Monitor]. Zero fields take the package defaults.
type Config struct {
	// Interval is the pause after a completed pass.
	Interval time.Duration

	// Threshold is the maximum age of a device's last write for it to
	// count as active.
	Threshold time.Duration

	// RetryDelay is the pause after a pass that could not reach storage.
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// Monitor is the periodic status checker.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Monitor struct {
	backend storage.Backend
	pub     Publisher
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
}

// NewMonitor creates a [Monitor]. m may be nil.
func NewMonitor(backend storage.Backend, pub Publisher, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		backend: backend,
		pub:     pub,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Start runs a pass immediately and then one after every pause, in a
// background goroutine, until ctx is cancelled or [Monitor.Stop] is called.
// Start is idempotent; Start after Stop is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.run(ctx)
	}()
}

// Stop cancels the loop and waits for the current pass to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.stopped {
		m.stopped = true
		if m.cancel != nil {
			m.cancel()
		}
	}
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		pause := m.cfg.Interval
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("liveness check failed", "error", err, "retry_in", m.cfg.RetryDelay.String())
			pause = m.cfg.RetryDelay
		}
		timer.Reset(pause)
	}
}

// Tick performs a single pass over every device.
//
// It returns an error only when storage could not be reached or the device
// list could not be read; per-device failures are logged and skipped.
func (m *Monitor) Tick(ctx context.Context) error {
	conn, err := m.backend.Acquire(ctx)
	if err != nil {
		m.metrics.StorageError("acquire")
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	updates, err := conn.ListLastUpdateTimes(ctx)
	if err != nil {
		m.metrics.StorageError("list_last_updates")
		return fmt.Errorf("list last update times: %w", err)
	}

	now := m.now()
	for _, u := range updates {
		active := now.Sub(u.At) < m.cfg.Threshold

		stored, err := conn.GetActive(ctx, u.DeviceID)
		if err != nil {
			m.logger.Error("failed to read device status", "device_id", u.DeviceID, "error", err)
			m.metrics.StorageError("get_active")
			continue
		}
		if stored == active {
			continue
		}

		if err := conn.SetActive(ctx, u.DeviceID, active); err != nil {
			m.logger.Error("failed to store device status", "device_id", u.DeviceID, "active", active, "error", err)
			m.metrics.StorageError("set_active")
		}

		m.logger.Info("device status changed", "device_id", u.DeviceID, "active", active)
		m.metrics.Transition(active)
		m.pub.PublishActive(telemetry.ActiveEvent{DeviceID: u.DeviceID, Active: active})
	}
	return nil
}
