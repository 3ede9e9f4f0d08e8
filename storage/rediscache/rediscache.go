// Package rediscache mirrors latest readings into Redis in front of another
// [storage.Store].
//
// Every successful upsert is copied to key "device:last:<id>" as JSON with a
// TTL, and [Cache.LatestReading] is served from Redis when the key is
// present. Everything else passes through to the wrapped store. Redis
// failures are logged and never fail the caller: the wrapped store is the
// source of truth.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jpalmerr/airboard/storage"
	"github.com/jpalmerr/airboard/telemetry"
)

// DefaultTTL expires cached readings of devices that stopped reporting.
const DefaultTTL = 24 * time.Hour

// KeyPrefix namespaces cached latest readings.
const KeyPrefix = "device:last:"

// client is the subset of *redis.Client used by the cache.
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Cache decorates a [storage.Store] with a Redis copy of latest readings.
type Cache struct {
	storage.Store
	rdb    client
	ttl    time.Duration
	logger *slog.Logger
}

var _ storage.Store = (*Cache)(nil)

// Dial connects to Redis at addr and verifies it with a ping.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}
	return rdb, nil
}

// New wraps store. A ttl of zero uses [DefaultTTL].
func New(store storage.Store, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	return newCache(store, rdb, ttl, logger)
}

func newCache(store storage.Store, rdb client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{Store: store, rdb: rdb, ttl: ttl, logger: logger}
}

// Key returns the Redis key holding id's latest reading.
func Key(id string) string {
	return KeyPrefix + id
}

// Acquire wraps the underlying connection so upserts are mirrored.
func (c *Cache) Acquire(ctx context.Context) (storage.Conn, error) {
	inner, err := c.Store.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &conn{Conn: inner, cache: c}, nil
}

// LatestReading tries Redis first and falls back to the wrapped store.
func (c *Cache) LatestReading(ctx context.Context, id string) (storage.Record, error) {
	data, err := c.rdb.Get(ctx, Key(id)).Bytes()
	switch {
	case err == nil:
		var rec storage.Record
		jerr := json.Unmarshal(data, &rec)
		if jerr == nil {
			return rec, nil
		}
		c.logger.Warn("discarding unreadable cached reading", "device_id", id, "error", jerr)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("redis get failed", "device_id", id, "error", err)
	}

	rec, err := c.Store.LatestReading(ctx, id)
	if err != nil {
		return storage.Record{}, err
	}
	c.put(ctx, rec)
	return rec, nil
}

// Close closes the Redis client and the wrapped store.
func (c *Cache) Close() {
	if err := c.rdb.Close(); err != nil {
		c.logger.Warn("redis close failed", "error", err)
	}
	c.Store.Close()
}

func (c *Cache) put(ctx context.Context, rec storage.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		c.logger.Warn("encode cached reading failed", "device_id", rec.DeviceID, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, Key(rec.DeviceID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("redis set failed", "device_id", rec.DeviceID, "error", err)
	}
}

type conn struct {
	storage.Conn
	cache *Cache
}

func (c *conn) UpsertLatestReading(ctx context.Context, id string, r telemetry.Reading, at time.Time) error {
	if err := c.Conn.UpsertLatestReading(ctx, id, r, at); err != nil {
		return err
	}
	c.cache.put(ctx, storage.Record{DeviceID: id, Reading: r, At: at})
	return nil
}
