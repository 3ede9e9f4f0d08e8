package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"
)

// baseline values per field, in frame order
var baseline = [14]float64{0.4, 420, 21.5, 45, 38, 12, 8, 15, 1200, 350, 60, 8, 2, 1}

// simulateDevice sends one frame every period until ctx is cancelled.
// Every 40-90 seconds the device goes silent for 15-25 seconds so the
// liveness monitor has something to report.
func simulateDevice(ctx context.Context, addr, id string, period time.Duration) {
	values := baseline
	silentUntil := time.Time{}
	nextSilence := time.Now().Add(time.Duration(40+rand.Intn(51)) * time.Second)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Before(silentUntil) {
				continue
			}
			if now.After(nextSilence) {
				silentUntil = now.Add(time.Duration(15+rand.Intn(11)) * time.Second)
				nextSilence = silentUntil.Add(time.Duration(40+rand.Intn(51)) * time.Second)
				slog.Info("device going silent", "device_id", id, "until", silentUntil.Format(time.TimeOnly))
				continue
			}

			for i := range values {
				// random walk around the baseline
				values[i] += (rand.Float64() - 0.5) * baseline[i] * 0.05
				values[i] += (baseline[i] - values[i]) * 0.1
			}
			if err := sendFrame(addr, buildFrame(id, values)); err != nil {
				slog.Warn("send failed", "device_id", id, "error", err)
			}
		}
	}
}

// buildFrame renders "<id>;<v1>;...;<v14>". One reading in twenty carries a
// broken sensor field.
func buildFrame(id string, values [14]float64) string {
	parts := make([]string, 0, len(values)+1)
	parts = append(parts, id)
	broken := -1
	if rand.Intn(20) == 0 {
		broken = rand.Intn(len(values))
	}
	for i, v := range values {
		if i == broken {
			parts = append(parts, "ERR")
			continue
		}
		parts = append(parts, strconv.FormatFloat(v, 'f', 2, 32))
	}
	return strings.Join(parts, ";")
}

func sendFrame(addr, frame string) error {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := fmt.Fprint(conn, frame); err != nil {
		return err
	}
	return nil
}
