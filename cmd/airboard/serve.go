package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/airboard"
	"github.com/jpalmerr/airboard/config"
)

const (
	shutdownTimeout = 10 * time.Second
	connectTimeout  = 15 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start ingest, liveness monitoring and the viewer server",
	Long: `Start Airboard.

The server will:
  - Load configuration from the specified YAML file
  - Connect to storage (and Redis / MQTT when configured)
  - Accept device frames on the ingest port
  - Serve WebSocket sessions, the query API and the dashboard on the viewer port

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  airboard serve -c config.yaml
  airboard serve --config /etc/airboard/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Level())
	logger.Info("config loaded",
		"ingest_port", cfg.IngestPort,
		"viewer_port", cfg.ViewerPort,
		"redis", cfg.Redis.Addr != "",
		"mqtt", cfg.MQTT.Broker != "",
	)

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	store, err := config.OpenStorage(connectCtx, cfg, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	if _, err := config.ProvisionDevices(ctx, store, cfg, logger); err != nil {
		return fmt.Errorf("failed to provision devices: %w", err)
	}

	opts := append(config.BuildOptions(cfg),
		airboard.WithStorage(store),
		airboard.WithLogger(logger),
	)
	ab, err := airboard.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create Airboard: %w", err)
	}

	// start server - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- ab.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
