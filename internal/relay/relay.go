// Package relay forwards telemetry events to an MQTT broker.
//
// This package is internal to Airboard. Readings are published to
// "<prefix>/data/<device id>" and status changes to
// "<prefix>/active/<device id>" as JSON, QoS 0, not retained. Publishing is
// fire-and-forget: the relay never waits on the broker, and failures that
// are already known when Publish returns are logged.
package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jpalmerr/airboard/telemetry"
)

const (
	DefaultTopicPrefix = "airboard"

	connectTimeout  = 10 * time.Second
	disconnectQuiet = 250 // milliseconds
)

// publisher is the subset of mqtt.Client used by the relay.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Relay publishes events to MQTT.
type Relay struct {
	client publisher
	prefix string
	logger *slog.Logger
}

// Dial connects to broker (e.g. "tcp://localhost:1883") and returns a relay
// publishing under prefix. An empty prefix uses [DefaultTopicPrefix].
func Dial(broker, clientID, prefix string, logger *slog.Logger) (*Relay, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}

	return newRelay(client, prefix, logger), nil
}

func newRelay(client publisher, prefix string, logger *slog.Logger) *Relay {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{client: client, prefix: prefix, logger: logger}
}

// DataTopic returns the topic readings of id are published to.
func (r *Relay) DataTopic(id string) string {
	return r.prefix + "/data/" + id
}

// ActiveTopic returns the topic status changes of id are published to.
func (r *Relay) ActiveTopic(id string) string {
	return r.prefix + "/active/" + id
}

func (r *Relay) PublishData(ev telemetry.ReceivedEvent) {
	r.publish(r.DataTopic(ev.DeviceID), ev)
}

func (r *Relay) PublishActive(ev telemetry.ActiveEvent) {
	r.publish(r.ActiveTopic(ev.DeviceID), ev)
}

// Close disconnects from the broker.
func (r *Relay) Close() {
	r.client.Disconnect(disconnectQuiet)
}

func (r *Relay) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("mqtt payload encode failed", "topic", topic, "error", err)
		return
	}

	// no Wait: a slow broker must not hold up the caller
	token := r.client.Publish(topic, 0, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			r.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
		}
	default:
	}
}
