package airboard

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jpalmerr/airboard/storage"
)

// abConfig holds mutable state during Airboard construction.
type abConfig struct {
	store             storage.Store
	title             string
	ingestPort        int
	viewerPort        int
	pollInterval      time.Duration
	livenessThreshold time.Duration
	retryDelay        time.Duration
	readTimeout       time.Duration
	keepAlive         time.Duration
	identifyTimeout   time.Duration
	maxConnections    int
	allowedOrigins    []string
	logger            *slog.Logger
	callbacks         []func(Event)
	mqtt              *mqttConfig
	disableMetrics    bool
}

type mqttConfig struct {
	broker   string
	clientID string
	prefix   string
}

// Option configures an [Airboard] instance during construction.
//
// Options return an error if validation fails.
type Option func(*abConfig) error

// WithStorage sets the persistence backend. Required.
//
// Airboard does not close the store; the caller owns it.
func WithStorage(s storage.Store) Option {
	return func(cfg *abConfig) error {
		if s == nil {
			return errors.New("storage cannot be nil")
		}
		cfg.store = s
		return nil
	}
}

// WithIngestPort sets the TCP port devices connect to. Defaults to 2442.
func WithIngestPort(port int) Option {
	return func(cfg *abConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("ingest port must be between 1 and 65535")
		}
		cfg.ingestPort = port
		return nil
	}
}

// WithViewerPort sets the HTTP port serving WebSocket sessions, the query
// API and the dashboard. Defaults to 2443.
func WithViewerPort(port int) Option {
	return func(cfg *abConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("viewer port must be between 1 and 65535")
		}
		cfg.viewerPort = port
		return nil
	}
}

// WithPollInterval sets how often the liveness monitor runs. Defaults to 5s.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *abConfig) error {
		if d <= 0 {
			return errors.New("poll interval must be positive")
		}
		cfg.pollInterval = d
		return nil
	}
}

// WithLivenessThreshold sets how long a device may stay silent before it is
// reported offline. Defaults to 10s.
//
// [New] rejects a threshold that is not greater than the poll interval or
// that exceeds twice the poll interval.
func WithLivenessThreshold(d time.Duration) Option {
	return func(cfg *abConfig) error {
		if d <= 0 {
			return errors.New("liveness threshold must be positive")
		}
		cfg.livenessThreshold = d
		return nil
	}
}

// WithRetryDelay sets the monitor's pause after a storage failure.
// Defaults to 10s.
func WithRetryDelay(d time.Duration) Option {
	return func(cfg *abConfig) error {
		if d <= 0 {
			return errors.New("retry delay must be positive")
		}
		cfg.retryDelay = d
		return nil
	}
}

// WithReadTimeout bounds how long a device connection may take to deliver
// its frame. Defaults to 5s.
func WithReadTimeout(d time.Duration) Option {
	return func(cfg *abConfig) error {
		if d <= 0 {
			return errors.New("read timeout must be positive")
		}
		cfg.readTimeout = d
		return nil
	}
}

// WithKeepAliveInterval sets the keep_alive period of viewer sessions.
// Defaults to 5s.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(cfg *abConfig) error {
		if d <= 0 {
			return errors.New("keepalive interval must be positive")
		}
		cfg.keepAlive = d
		return nil
	}
}

// WithIdentifyTimeout bounds how long a viewer may take to identify.
// Defaults to 30s.
func WithIdentifyTimeout(d time.Duration) Option {
	return func(cfg *abConfig) error {
		if d <= 0 {
			return errors.New("identify timeout must be positive")
		}
		cfg.identifyTimeout = d
		return nil
	}
}

// WithMaxConnections caps concurrent device connections. Defaults to 256.
func WithMaxConnections(n int) Option {
	return func(cfg *abConfig) error {
		if n <= 0 {
			return errors.New("max connections must be positive")
		}
		cfg.maxConnections = n
		return nil
	}
}

// WithAllowedOrigins restricts browser origins for CORS and WebSocket
// upgrades. With no origins configured any origin is accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(cfg *abConfig) error {
		for _, o := range origins {
			if o == "" {
				return errors.New("allowed origin cannot be empty")
			}
		}
		cfg.allowedOrigins = append(cfg.allowedOrigins, origins...)
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *abConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithEventCallback registers a function called for every accepted reading
// and every liveness transition, after the event has been handed to the
// viewer sessions.
//
// Multiple callbacks run in registration order. Callbacks are serialized and
// must not block: a slow callback delays the next event. Panics are
// recovered and logged with a correlation id.
//
// Nil callbacks are silently ignored.
func WithEventCallback(cb func(Event)) Option {
	return func(cfg *abConfig) error {
		if cb == nil {
			return nil
		}
		cfg.callbacks = append(cfg.callbacks, cb)
		return nil
	}
}

// WithMQTTRelay forwards every event to an MQTT broker, e.g.
// "tcp://localhost:1883". An empty prefix publishes under "airboard".
//
// The broker is dialled by [Airboard.Start]. If it is unreachable the
// failure is logged and Airboard runs without the relay.
func WithMQTTRelay(broker, clientID, prefix string) Option {
	return func(cfg *abConfig) error {
		if broker == "" {
			return errors.New("mqtt broker cannot be empty")
		}
		if clientID == "" {
			return errors.New("mqtt client id cannot be empty")
		}
		cfg.mqtt = &mqttConfig{broker: broker, clientID: clientID, prefix: prefix}
		return nil
	}
}

// WithTitle sets the dashboard title. Defaults to "Airboard".
func WithTitle(title string) Option {
	return func(cfg *abConfig) error {
		cfg.title = title
		return nil
	}
}

// WithoutMetrics disables the Prometheus registry and the /metrics route.
func WithoutMetrics() Option {
	return func(cfg *abConfig) error {
		cfg.disableMetrics = true
		return nil
	}
}
