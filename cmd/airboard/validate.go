package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/airboard/config"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate an Airboard configuration file without starting the server.

This command parses the YAML, expands environment variables, and validates
all fields. It does not connect to the database, Redis or the MQTT broker.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  airboard validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	storage := "postgres"
	if cfg.UsesMemory() {
		storage = "memory"
	}
	if cfg.Redis.Addr != "" {
		storage += " + redis " + cfg.Redis.Addr
	}
	relay := "disabled"
	if cfg.MQTT.Broker != "" {
		relay = cfg.MQTT.Broker
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Ingest port:        %d\n", cfg.IngestPort)
	fmt.Printf("  Viewer port:        %d\n", cfg.ViewerPort)
	fmt.Printf("  Poll interval:      %s\n", cfg.PollInterval.Duration())
	fmt.Printf("  Liveness threshold: %s\n", cfg.LivenessThreshold.Duration())
	fmt.Printf("  Storage:            %s\n", storage)
	fmt.Printf("  MQTT relay:         %s\n", relay)

	return nil
}
