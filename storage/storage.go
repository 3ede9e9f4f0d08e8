package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/airboard/telemetry"
)

// HistoryInterval is the minimum spacing between two history rows of the
// same device. Readings arriving sooner only replace the latest record.
const HistoryInterval = 30 * time.Minute

var (
	// ErrDeviceNotFound is returned when a device id is not registered.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrNoReading is returned when a registered device has never reported.
	ErrNoReading = errors.New("no reading recorded")

	// ErrDeviceExists is returned when provisioning an id that is taken.
	ErrDeviceExists = errors.New("device already exists")
)

// Device is a registered field device.
type Device struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Box    string  `json:"box"`
	Lat    float32 `json:"lat"`
	Long   float32 `json:"long"`
	Active bool    `json:"active"`
}

// NewDevice describes a device to provision. An empty ID is generated.
type NewDevice struct {
	ID   string
	Name string
	Box  string
	Lat  float32
	Long float32
}

// Record is a stored reading with the time it was written.
type Record struct {
	DeviceID string `json:"id"`
	telemetry.Reading
	At time.Time `json:"at"`
}

// LastUpdate is a device's most recent write time.
type LastUpdate struct {
	DeviceID string
	At       time.Time
}

// Backend hands out connections.
type Backend interface {
	// Acquire returns a connection that must be released after use.
	Acquire(ctx context.Context) (Conn, error)
}

// Conn is a unit of access to the store used by ingestion and the
// liveness monitor.
type Conn interface {
	DeviceExists(ctx context.Context, id string) (bool, error)

	// UpsertLatestReading replaces the device's latest record with r,
	// marks the device active, and appends a history row when the newest
	// one is older than [HistoryInterval]. All three happen atomically.
	UpsertLatestReading(ctx context.Context, id string, r telemetry.Reading, at time.Time) error

	SetActive(ctx context.Context, id string, active bool) error
	GetActive(ctx context.Context, id string) (bool, error)

	// ListLastUpdateTimes returns one entry per device that has a latest record.
	ListLastUpdateTimes(ctx context.Context) ([]LastUpdate, error)

	// Release returns the connection. Safe to call more than once.
	Release()
}

// Querier serves the read-only query API.
type Querier interface {
	ListDevices(ctx context.Context) ([]Device, error)

	// GetDevice returns [ErrDeviceNotFound] for unknown ids.
	GetDevice(ctx context.Context, id string) (Device, error)

	// LatestReading returns [ErrNoReading] when the device never reported.
	LatestReading(ctx context.Context, id string) (Record, error)

	// ReadingsSince returns history rows at or after since, oldest first.
	ReadingsSince(ctx context.Context, id string, since time.Time) ([]Record, error)

	// LatestReadings returns the latest record of every device that has one.
	LatestReadings(ctx context.Context) ([]Record, error)
}

// Provisioner registers new devices.
type Provisioner interface {
	CreateDevice(ctx context.Context, d NewDevice) (string, error)
}

// Store is the full surface implemented by every storage backend.
type Store interface {
	Backend
	Querier
	Provisioner
	Close()
}

// NewDeviceID generates an id for a device provisioned without one.
func NewDeviceID() string {
	return uuid.NewString()
}
