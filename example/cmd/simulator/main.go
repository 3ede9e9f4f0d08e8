// Standalone device simulator for testing the CLI.
//
// Usage:
//
//	go run ./cmd/airboard serve -c example/config.yaml
//
// Then in another terminal:
//
//	go run ./example/cmd/simulator -addr localhost:2442 hallway lab
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

func main() {
	addr := flag.String("addr", "localhost:2442", "ingest address")
	period := flag.Duration("period", 2*time.Second, "time between frames per device")
	flag.Parse()

	ids := flag.Args()
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "usage: simulator [-addr host:port] [-period 2s] <device id>...")
		os.Exit(2)
	}

	fmt.Printf("Sending frames for %d device(s) to %s every %s\n", len(ids), *addr, *period)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	ticker := time.NewTicker(*period)
	defer ticker.Stop()

	for range ticker.C {
		for _, id := range ids {
			frame := randomFrame(id)
			if err := send(*addr, frame); err != nil {
				slog.Warn("send failed", "device_id", id, "error", err)
				continue
			}
			slog.Debug("frame sent", "frame", frame)
		}
	}
}

func randomFrame(id string) string {
	base := []float64{0.4, 420, 21.5, 45, 38, 12, 8, 15, 1200, 350, 60, 8, 2, 1}
	parts := []string{id}
	for _, b := range base {
		v := b * (0.9 + rand.Float64()*0.2)
		parts = append(parts, strconv.FormatFloat(v, 'f', 2, 32))
	}
	return strings.Join(parts, ";")
}

func send(addr, frame string) error {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write([]byte(frame))
	return err
}
