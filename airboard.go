package airboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpalmerr/airboard/dashboard"
	"github.com/jpalmerr/airboard/internal/hub"
	"github.com/jpalmerr/airboard/internal/ingest"
	"github.com/jpalmerr/airboard/internal/liveness"
	"github.com/jpalmerr/airboard/internal/metrics"
	"github.com/jpalmerr/airboard/internal/relay"
	"github.com/jpalmerr/airboard/internal/server"
	"github.com/jpalmerr/airboard/internal/session"
	"github.com/jpalmerr/airboard/storage"
)

const (
	DefaultIngestPort        = 2442
	DefaultViewerPort        = 2443
	DefaultPollInterval      = 5 * time.Second
	DefaultLivenessThreshold = 10 * time.Second
	DefaultRetryDelay        = 10 * time.Second
	DefaultReadTimeout       = 5 * time.Second
	DefaultKeepAlive         = 5 * time.Second
	DefaultIdentifyTimeout   = 30 * time.Second
	DefaultMaxConnections    = 256
)

// Airboard wires the ingest listener, fan-out hub, liveness monitor and
// viewer server around one storage backend.
//
// The typical lifecycle is:
//
//	ab, err := airboard.New(airboard.WithStorage(store))
//	if err != nil {
//	    return err
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	ab.Start(ctx) // blocks until ctx is cancelled
type Airboard struct {
	cfg    abConfig
	logger *slog.Logger

	dialRelay func(broker, clientID, prefix string, logger *slog.Logger) (eventSink, error)
}

// New creates an [Airboard] with the given options.
//
// [WithStorage] is required. Returns an error if any option is invalid or
// the liveness threshold does not fit the poll interval.
func New(opts ...Option) (*Airboard, error) {
	cfg := abConfig{
		ingestPort:        DefaultIngestPort,
		viewerPort:        DefaultViewerPort,
		pollInterval:      DefaultPollInterval,
		livenessThreshold: DefaultLivenessThreshold,
		retryDelay:        DefaultRetryDelay,
		readTimeout:       DefaultReadTimeout,
		keepAlive:         DefaultKeepAlive,
		identifyTimeout:   DefaultIdentifyTimeout,
		maxConnections:    DefaultMaxConnections,
	}

	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if cfg.store == nil {
		return nil, errors.New("storage is required")
	}
	if cfg.ingestPort == cfg.viewerPort {
		return nil, fmt.Errorf("ingest and viewer ports must differ, both are %d", cfg.ingestPort)
	}
	if err := ValidateLiveness(cfg.pollInterval, cfg.livenessThreshold); err != nil {
		return nil, err
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Airboard{
		cfg:       cfg,
		logger:    logger,
		dialRelay: dialMQTT,
	}, nil
}

// ValidateLiveness checks that threshold is greater than interval and at most
// twice interval, so a single late poll never marks a device offline and a
// silent device is noticed within two passes.
func ValidateLiveness(interval, threshold time.Duration) error {
	if threshold <= interval {
		return fmt.Errorf("liveness threshold (%s) must be greater than poll interval (%s)", threshold, interval)
	}
	if threshold > 2*interval {
		return fmt.Errorf("liveness threshold (%s) must be at most twice the poll interval (%s)", threshold, interval)
	}
	return nil
}

// Start runs every component and blocks until ctx is cancelled.
//
// On start:
//   - the ingest listener binds the ingest port
//   - the liveness monitor runs a first pass immediately
//   - the viewer server binds the viewer port
//
// Returns nil on graceful shutdown. Returns an error if either port cannot
// be bound; nothing else is fatal.
func (ab *Airboard) Start(ctx context.Context) error {
	ab.logger.Info("airboard starting",
		"ingest_port", ab.cfg.ingestPort,
		"viewer_port", ab.cfg.viewerPort,
		"poll_interval", ab.cfg.pollInterval.String(),
		"liveness_threshold", ab.cfg.livenessThreshold.String(),
	)

	if ctx.Err() != nil {
		return nil
	}

	var m *metrics.Metrics
	if !ab.cfg.disableMetrics {
		m = metrics.New()
	}

	h := hub.New()
	d := &dispatcher{
		hub:       h,
		metrics:   m,
		callbacks: ab.cfg.callbacks,
		logger:    ab.logger,
		now:       time.Now,
	}

	if mc := ab.cfg.mqtt; mc != nil {
		sink, err := ab.dialRelay(mc.broker, mc.clientID, mc.prefix, ab.logger)
		if err != nil {
			ab.logger.Warn("mqtt relay disabled", "broker", mc.broker, "error", err)
		} else {
			d.sink = sink
			defer sink.Close()
			ab.logger.Info("mqtt relay connected", "broker", mc.broker)
		}
	}

	listener := ingest.NewListener(
		fmt.Sprintf(":%d", ab.cfg.ingestPort),
		ab.cfg.store,
		ingest.Config{
			ReadTimeout:    ab.cfg.readTimeout,
			MaxConnections: ab.cfg.maxConnections,
		},
		ab.logger,
		m,
	)
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("failed to start ingest listener: %w", err)
	}

	// relay goroutine: ingest -> hub
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.run(listener.Events())
	}()

	monitor := liveness.NewMonitor(ab.cfg.store, d, liveness.Config{
		Interval:   ab.cfg.pollInterval,
		Threshold:  ab.cfg.livenessThreshold,
		RetryDelay: ab.cfg.retryDelay,
	}, ab.logger, m)
	monitor.Start(ctx)

	// stops producers first so the hub sees no publish after Close
	cleanup := func() {
		listener.Stop()
		wg.Wait()
		monitor.Stop()
		h.Close()
	}

	sessions := session.NewHandler(h, ab.cfg.store, session.Config{
		KeepAlive:       ab.cfg.keepAlive,
		IdentifyTimeout: ab.cfg.identifyTimeout,
	}, ab.logger, m)

	srv := server.New(server.Config{
		Addr:           fmt.Sprintf(":%d", ab.cfg.viewerPort),
		Title:          ab.cfg.title,
		AllowedOrigins: ab.cfg.allowedOrigins,
		Assets:         dashboard.Assets,
	}, sessions, ab.cfg.store, m, ab.logger)
	if err := srv.Start(ctx); err != nil {
		cleanup()
		return fmt.Errorf("failed to start viewer server: %w", err)
	}

	<-ctx.Done()
	cleanup()
	ab.logger.Info("airboard stopped")
	return nil
}

// IngestPort returns the configured device port.
func (ab *Airboard) IngestPort() int {
	return ab.cfg.ingestPort
}

// ViewerPort returns the configured viewer port.
func (ab *Airboard) ViewerPort() int {
	return ab.cfg.viewerPort
}

// PollInterval returns the liveness monitor interval.
func (ab *Airboard) PollInterval() time.Duration {
	return ab.cfg.pollInterval
}

// LivenessThreshold returns the silence after which a device is offline.
func (ab *Airboard) LivenessThreshold() time.Duration {
	return ab.cfg.livenessThreshold
}

// Storage returns the configured backend.
func (ab *Airboard) Storage() storage.Store {
	return ab.cfg.store
}

func dialMQTT(broker, clientID, prefix string, logger *slog.Logger) (eventSink, error) {
	r, err := relay.Dial(broker, clientID, prefix, logger)
	if err != nil {
		return nil, err
	}
	return r, nil
}
