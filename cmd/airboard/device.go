package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/airboard/config"
	"github.com/jpalmerr/airboard/storage"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage registered devices",
}

var deviceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a device and print its id",
	Long: `Register a device in the configured storage and print its id.

Frames from unregistered devices are rejected, so every device must be
created before it starts reporting. Without --id a random id is generated.

Example:
  airboard device create -c config.yaml --name hallway --box B-12 --lat 45.81 --long 15.98`,
	RunE: runDeviceCreate,
}

func init() {
	rootCmd.AddCommand(deviceCmd)
	deviceCmd.AddCommand(deviceCreateCmd)

	f := deviceCreateCmd.Flags()
	f.StringP("config", "c", "", "path to config file (required)")
	f.String("id", "", "device id (generated when empty)")
	f.String("name", "", "display name (required)")
	f.String("box", "", "enclosure or hardware label")
	f.Float32("lat", 0, "latitude")
	f.Float32("long", 0, "longitude")
	_ = deviceCreateCmd.MarkFlagRequired("config")
	_ = deviceCreateCmd.MarkFlagRequired("name")
}

func runDeviceCreate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	f := cmd.Flags()
	d := storage.NewDevice{}
	d.ID, _ = f.GetString("id")
	d.Name, _ = f.GetString("name")
	d.Box, _ = f.GetString("box")
	d.Lat, _ = f.GetFloat32("lat")
	d.Long, _ = f.GetFloat32("long")

	if d.Name == "" {
		return errors.New("--name cannot be empty")
	}
	if d.Lat < -90 || d.Lat > 90 {
		return fmt.Errorf("--lat must be between -90 and 90, got %v", d.Lat)
	}
	if d.Long < -180 || d.Long > 180 {
		return fmt.Errorf("--long must be between -180 and 180, got %v", d.Long)
	}

	logger := newLogger(cfg.Level())

	ctx, cancel := context.WithTimeout(cmd.Context(), connectTimeout)
	defer cancel()

	store, err := config.OpenStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	id, err := store.CreateDevice(ctx, d)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}

	logger.Info("device created", "device_id", id, "name", d.Name)
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
