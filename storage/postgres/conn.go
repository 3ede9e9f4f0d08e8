package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jpalmerr/airboard/storage"
	"github.com/jpalmerr/airboard/telemetry"
)

var (
	upsertLastRecord = `INSERT INTO last_record (fk_device_id, ` + readingColumns + `, updated_at)
		VALUES (` + placeholders(1, telemetry.FieldCount+2) + `)
		ON CONFLICT (fk_device_id) DO UPDATE SET ` + excludedAssignments() + `, updated_at = EXCLUDED.updated_at`

	insertHourRecord = `INSERT INTO hour_records (fk_device_id, ` + readingColumns + `, created_at)
		VALUES (` + placeholders(1, telemetry.FieldCount+2) + `)`
)

// conn wraps one pooled connection.
type conn struct {
	c    *pgxpool.Conn
	once sync.Once
}

func (c *conn) DeviceExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := c.c.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM devices WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("device exists: %w", err)
	}
	return exists, nil
}

func (c *conn) UpsertLatestReading(ctx context.Context, id string, r telemetry.Reading, at time.Time) error {
	tx, err := c.c.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	args := recordArgs(id, r, at)

	if _, err := tx.Exec(ctx, upsertLastRecord, args...); err != nil {
		return fmt.Errorf("upsert last record: %w", err)
	}

	tag, err := tx.Exec(ctx, `UPDATE devices SET active = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrDeviceNotFound
	}

	var newest *time.Time
	err = tx.QueryRow(ctx,
		`SELECT MAX(created_at) FROM hour_records WHERE fk_device_id = $1`, id).Scan(&newest)
	if err != nil {
		return fmt.Errorf("newest hour record: %w", err)
	}
	if newest == nil || at.Sub(*newest) > storage.HistoryInterval {
		if _, err := tx.Exec(ctx, insertHourRecord, args...); err != nil {
			return fmt.Errorf("insert hour record: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (c *conn) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := c.c.Exec(ctx, `UPDATE devices SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrDeviceNotFound
	}
	return nil
}

func (c *conn) GetActive(ctx context.Context, id string) (bool, error) {
	var active bool
	err := c.c.QueryRow(ctx, `SELECT active FROM devices WHERE id = $1`, id).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, storage.ErrDeviceNotFound
	}
	if err != nil {
		return false, fmt.Errorf("get active: %w", err)
	}
	return active, nil
}

func (c *conn) ListLastUpdateTimes(ctx context.Context) ([]storage.LastUpdate, error) {
	rows, err := c.c.Query(ctx, `SELECT fk_device_id, updated_at FROM last_record ORDER BY fk_device_id`)
	if err != nil {
		return nil, fmt.Errorf("list last updates: %w", err)
	}
	defer rows.Close()

	updates := make([]storage.LastUpdate, 0)
	for rows.Next() {
		var u storage.LastUpdate
		if err := rows.Scan(&u.DeviceID, &u.At); err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

func (c *conn) Release() {
	c.once.Do(c.c.Release)
}

func recordArgs(id string, r telemetry.Reading, at time.Time) []any {
	args := make([]any, 0, telemetry.FieldCount+2)
	args = append(args, id)
	for _, v := range r.Values() {
		args = append(args, v)
	}
	return append(args, at)
}

// placeholders returns "$from, ..., $(from+n-1)".
func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

func excludedAssignments() string {
	parts := make([]string, len(telemetry.FieldNames))
	for i, name := range telemetry.FieldNames {
		parts[i] = name + " = EXCLUDED." + name
	}
	return strings.Join(parts, ", ")
}
