// Package main is the entry point for the airboard CLI.
//
// Usage:
//
//	airboard serve -c config.yaml                  # Run ingest, liveness and viewer server
//	airboard validate -c config.yaml               # Validate configuration
//	airboard device create -c config.yaml --name X # Register a device
//	airboard version                               # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd only displays help; functionality lives in subcommands.
var rootCmd = &cobra.Command{
	Use:   "airboard",
	Short: "Air-quality telemetry ingest and live viewer",
	Long: `Airboard ingests air-quality readings from field devices over TCP,
tracks which devices are online, and streams readings and status changes
to WebSocket viewers.

Quick start:
  1. Create a config file (airboard.yaml) with database_url: memory://
  2. Register a device: airboard device create -c airboard.yaml --name hallway
  3. Run: airboard serve -c airboard.yaml
  4. Open http://localhost:2443 in your browser

Devices send one frame per connection to port 2442:
  <device id>;<co>;<co2>;<temperature>;<humidity>;<noise>;<pm_10>;<pm_25>;<pm_100>;
  <pm_particles_03>;<pm_particles_05>;<pm_particles_10>;<pm_particles_25>;
  <pm_particles_50>;<pm_particles_100>`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this airboard binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("airboard %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
