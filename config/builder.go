package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jpalmerr/airboard"
	"github.com/jpalmerr/airboard/storage"
	"github.com/jpalmerr/airboard/storage/memory"
	"github.com/jpalmerr/airboard/storage/postgres"
	"github.com/jpalmerr/airboard/storage/rediscache"
)

// BuildOptions converts parsed configuration into SDK options.
//
// Storage and logging are not included; see [OpenStorage].
func BuildOptions(cfg *Config) []airboard.Option {
	opts := []airboard.Option{
		airboard.WithIngestPort(cfg.IngestPort),
		airboard.WithViewerPort(cfg.ViewerPort),
		airboard.WithPollInterval(cfg.PollInterval.Duration()),
		airboard.WithLivenessThreshold(cfg.LivenessThreshold.Duration()),
		airboard.WithRetryDelay(cfg.RetryDelay.Duration()),
		airboard.WithReadTimeout(cfg.ReadTimeout.Duration()),
		airboard.WithKeepAliveInterval(cfg.KeepAlive.Duration()),
		airboard.WithIdentifyTimeout(cfg.IdentifyTimeout.Duration()),
		airboard.WithMaxConnections(cfg.MaxConnections),
	}

	if cfg.Title != "" {
		opts = append(opts, airboard.WithTitle(cfg.Title))
	}
	if len(cfg.AllowedOrigins) > 0 {
		opts = append(opts, airboard.WithAllowedOrigins(cfg.AllowedOrigins...))
	}
	if cfg.MQTT.Broker != "" {
		opts = append(opts, airboard.WithMQTTRelay(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.TopicPrefix))
	}

	return opts
}

// OpenStorage connects the backend selected by database_url, migrating the
// PostgreSQL schema, and wraps it with the Redis cache when redis.addr is
// set. An unreachable Redis is logged and the store is returned uncached.
// The caller closes the returned store.
func OpenStorage(ctx context.Context, cfg *Config, logger *slog.Logger) (storage.Store, error) {
	var store storage.Store

	if cfg.UsesMemory() {
		logger.Warn("using in-memory storage, data is lost on restart")
		store = memory.New()
	} else {
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		store = pg
	}

	if cfg.Redis.Addr == "" {
		return store, nil
	}

	rdb, err := rediscache.Dial(ctx, cfg.Redis.Addr)
	if err != nil {
		logger.Warn("redis cache disabled", "addr", cfg.Redis.Addr, "error", err)
		return store, nil
	}
	logger.Info("redis cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL.Duration().String())
	return rediscache.New(store, rdb, cfg.Redis.TTL.Duration(), logger), nil
}

// ProvisionDevices creates the configured devices that do not exist yet and
// returns how many were created.
func ProvisionDevices(ctx context.Context, store storage.Provisioner, cfg *Config, logger *slog.Logger) (int, error) {
	created := 0
	for _, d := range cfg.Devices {
		_, err := store.CreateDevice(ctx, storage.NewDevice{
			ID:   d.ID,
			Name: d.Name,
			Box:  d.Box,
			Lat:  d.Lat,
			Long: d.Long,
		})
		if errors.Is(err, storage.ErrDeviceExists) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("provision device %q: %w", d.ID, err)
		}
		logger.Info("device provisioned", "device_id", d.ID, "name", d.Name)
		created++
	}
	return created, nil
}
