// Package memory is an in-process implementation of [storage.Store].
//
// It keeps the same semantics as the PostgreSQL backend (atomic upserts,
// half-hourly history rows) and is used by tests, the example simulator, and
// `airboard serve` when database_url is "memory://".
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jpalmerr/airboard/storage"
	"github.com/jpalmerr/airboard/telemetry"
)

// Store is a thread-safe in-memory [storage.Store].
type Store struct {
	mu      sync.RWMutex
	devices map[string]storage.Device
	latest  map[string]storage.Record
	history map[string][]storage.Record
}

var _ storage.Store = (*Store)(nil)

// New creates an empty [Store].
func New() *Store {
	return &Store{
		devices: make(map[string]storage.Device),
		latest:  make(map[string]storage.Record),
		history: make(map[string][]storage.Record),
	}
}

// Acquire returns a connection view of the store. It never fails unless ctx
// is already done.
func (s *Store) Acquire(ctx context.Context) (storage.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return conn{s}, nil
}

// Close is a no-op.
func (s *Store) Close() {}

// CreateDevice registers a device, generating an id when none is given.
func (s *Store) CreateDevice(_ context.Context, d storage.NewDevice) (string, error) {
	id := d.ID
	if id == "" {
		id = storage.NewDeviceID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.devices[id]; exists {
		return "", fmt.Errorf("%w: %q", storage.ErrDeviceExists, id)
	}
	s.devices[id] = storage.Device{
		ID:   id,
		Name: d.Name,
		Box:  d.Box,
		Lat:  d.Lat,
		Long: d.Long,
	}
	return id, nil
}

func (s *Store) ListDevices(_ context.Context) ([]storage.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]storage.Device, 0, len(s.devices))
	for _, d := range s.devices {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

func (s *Store) GetDevice(_ context.Context, id string) (storage.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[id]
	if !ok {
		return storage.Device{}, storage.ErrDeviceNotFound
	}
	return d, nil
}

func (s *Store) LatestReading(_ context.Context, id string) (storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.devices[id]; !ok {
		return storage.Record{}, storage.ErrDeviceNotFound
	}
	rec, ok := s.latest[id]
	if !ok {
		return storage.Record{}, storage.ErrNoReading
	}
	return rec, nil
}

func (s *Store) ReadingsSince(_ context.Context, id string, since time.Time) ([]storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.devices[id]; !ok {
		return nil, storage.ErrDeviceNotFound
	}

	records := make([]storage.Record, 0)
	for _, rec := range s.history[id] {
		if !rec.At.Before(since) {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (s *Store) LatestReadings(_ context.Context) ([]storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]storage.Record, 0, len(s.latest))
	for _, rec := range s.latest {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].DeviceID < records[j].DeviceID })
	return records, nil
}

// conn implements [storage.Conn] directly on the shared maps.
type conn struct {
	s *Store
}

func (c conn) DeviceExists(_ context.Context, id string) (bool, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	_, ok := c.s.devices[id]
	return ok, nil
}

func (c conn) UpsertLatestReading(_ context.Context, id string, r telemetry.Reading, at time.Time) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	d, ok := c.s.devices[id]
	if !ok {
		return storage.ErrDeviceNotFound
	}

	rec := storage.Record{DeviceID: id, Reading: r, At: at}
	c.s.latest[id] = rec
	d.Active = true
	c.s.devices[id] = d

	hist := c.s.history[id]
	if len(hist) == 0 || at.Sub(hist[len(hist)-1].At) > storage.HistoryInterval {
		c.s.history[id] = append(hist, rec)
	}
	return nil
}

func (c conn) SetActive(_ context.Context, id string, active bool) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	d, ok := c.s.devices[id]
	if !ok {
		return storage.ErrDeviceNotFound
	}
	d.Active = active
	c.s.devices[id] = d
	return nil
}

func (c conn) GetActive(_ context.Context, id string) (bool, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	d, ok := c.s.devices[id]
	if !ok {
		return false, storage.ErrDeviceNotFound
	}
	return d.Active, nil
}

func (c conn) ListLastUpdateTimes(_ context.Context) ([]storage.LastUpdate, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	updates := make([]storage.LastUpdate, 0, len(c.s.latest))
	for id, rec := range c.s.latest {
		updates = append(updates, storage.LastUpdate{DeviceID: id, At: rec.At})
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].DeviceID < updates[j].DeviceID })
	return updates, nil
}

func (c conn) Release() {}
