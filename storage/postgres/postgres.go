// Package postgres implements [storage.Store] on PostgreSQL using pgxpool.
//
// Tables:
//
//   - devices: registered devices and their stored active flag
//   - last_record: one row per device holding the latest reading
//   - hour_records: history, at most one row per device per half hour
//
// Call [Store.Migrate] once to create them.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jpalmerr/airboard/storage"
	"github.com/jpalmerr/airboard/telemetry"
)

//go:embed schema.sql
var schema string

// uniqueViolation is the SQLSTATE of a duplicate primary key.
const uniqueViolation = "23505"

// readingColumns lists reading columns in telemetry.FieldNames order.
var readingColumns = strings.Join(telemetry.FieldNames[:], ", ")

// Store is a PostgreSQL-backed [storage.Store].
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// Open connects to url and verifies the connection with a ping.
func Open(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Acquire takes a connection from the pool.
func (s *Store) Acquire(ctx context.Context) (storage.Conn, error) {
	c, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &conn{c: c}, nil
}

func (s *Store) CreateDevice(ctx context.Context, d storage.NewDevice) (string, error) {
	id := d.ID
	if id == "" {
		id = storage.NewDeviceID()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO devices (id, name, box, lat, long, active) VALUES ($1, $2, $3, $4, $5, FALSE)`,
		id, d.Name, d.Box, d.Lat, d.Long)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", fmt.Errorf("%w: %q", storage.ErrDeviceExists, id)
		}
		return "", fmt.Errorf("insert device: %w", err)
	}
	return id, nil
}

func (s *Store) ListDevices(ctx context.Context) ([]storage.Device, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, box, lat, long, active FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	devices := make([]storage.Device, 0)
	for rows.Next() {
		var d storage.Device
		if err := rows.Scan(&d.ID, &d.Name, &d.Box, &d.Lat, &d.Long, &d.Active); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *Store) GetDevice(ctx context.Context, id string) (storage.Device, error) {
	var d storage.Device
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, box, lat, long, active FROM devices WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.Box, &d.Lat, &d.Long, &d.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Device{}, storage.ErrDeviceNotFound
	}
	if err != nil {
		return storage.Device{}, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

func (s *Store) LatestReading(ctx context.Context, id string) (storage.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT fk_device_id, `+readingColumns+`, updated_at FROM last_record WHERE fk_device_id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, derr := s.GetDevice(ctx, id); derr != nil {
			return storage.Record{}, derr
		}
		return storage.Record{}, storage.ErrNoReading
	}
	if err != nil {
		return storage.Record{}, fmt.Errorf("latest reading: %w", err)
	}
	return rec, nil
}

func (s *Store) ReadingsSince(ctx context.Context, id string, since time.Time) ([]storage.Record, error) {
	if _, err := s.GetDevice(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT fk_device_id, `+readingColumns+`, created_at FROM hour_records
		 WHERE fk_device_id = $1 AND created_at >= $2
		 ORDER BY created_at ASC`, id, since)
	if err != nil {
		return nil, fmt.Errorf("readings since: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (s *Store) LatestReadings(ctx context.Context) ([]storage.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fk_device_id, `+readingColumns+`, updated_at FROM last_record ORDER BY fk_device_id`)
	if err != nil {
		return nil, fmt.Errorf("latest readings: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]storage.Record, error) {
	records := make([]storage.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// scanRecord reads id, the reading columns and a timestamp.
func scanRecord(row pgx.Row) (storage.Record, error) {
	var (
		rec    storage.Record
		values [telemetry.FieldCount]float32
	)
	dest := make([]any, 0, telemetry.FieldCount+2)
	dest = append(dest, &rec.DeviceID)
	for i := range values {
		dest = append(dest, &values[i])
	}
	dest = append(dest, &rec.At)

	if err := row.Scan(dest...); err != nil {
		return storage.Record{}, err
	}
	rec.Reading = telemetry.NewReading(values)
	return rec, nil
}
