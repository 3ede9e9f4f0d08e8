package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/airboard"
	"github.com/jpalmerr/airboard/storage"
	"github.com/jpalmerr/airboard/storage/memory"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := memory.New()
	devices := []storage.NewDevice{
		{ID: "hallway", Name: "Hallway", Box: "B-01", Lat: 45.8150, Long: 15.9819},
		{ID: "kitchen", Name: "Kitchen", Box: "B-02", Lat: 45.8152, Long: 15.9822},
		{ID: "lab", Name: "Lab", Box: "B-03", Lat: 45.8149, Long: 15.9815},
		{ID: "roof", Name: "Roof", Box: "B-04", Lat: 45.8151, Long: 15.9820},
	}
	for _, d := range devices {
		if _, err := store.CreateDevice(ctx, d); err != nil {
			slog.Error("failed to create device", "device_id", d.ID, "error", err)
			os.Exit(1)
		}
	}

	ab, err := airboard.New(
		airboard.WithStorage(store),
		airboard.WithTitle("Airboard Demo"),
		airboard.WithEventCallback(func(ev airboard.Event) {
			if ev.Kind == airboard.EventActive {
				slog.Info("device status changed", "device_id", ev.DeviceID, "active", ev.Active)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create airboard", "error", err)
		os.Exit(1)
	}

	ingestAddr := fmt.Sprintf("127.0.0.1:%d", ab.IngestPort())
	for _, d := range devices {
		go simulateDevice(ctx, ingestAddr, d.ID, 2*time.Second)
	}

	fmt.Println()
	fmt.Println("  Airboard Demo")
	fmt.Println()
	fmt.Printf("  Dashboard:  http://localhost:%d\n", ab.ViewerPort())
	fmt.Printf("  API:        http://localhost:%d/devices\n", ab.ViewerPort())
	fmt.Printf("  Ingest:     tcp://localhost:%d\n", ab.IngestPort())
	fmt.Println()
	fmt.Println("  4 simulated devices, each going silent now and then.")
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	if err := ab.Start(ctx); err != nil {
		slog.Error("airboard error", "error", err)
		os.Exit(1)
	}
}
