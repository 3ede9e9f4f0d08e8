package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_MinimalConfig(t *testing.T) {
	yaml := `
database_url: memory://
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// check defaults applied
	if cfg.IngestPort != 2442 {
		t.Errorf("IngestPort = %d, want 2442", cfg.IngestPort)
	}
	if cfg.ViewerPort != 2443 {
		t.Errorf("ViewerPort = %d, want 2443", cfg.ViewerPort)
	}
	if cfg.PollInterval.Duration() != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.PollInterval.Duration())
	}
	if cfg.LivenessThreshold.Duration() != 10*time.Second {
		t.Errorf("LivenessThreshold = %v, want 10s", cfg.LivenessThreshold.Duration())
	}
	if cfg.RetryDelay.Duration() != 10*time.Second {
		t.Errorf("RetryDelay = %v, want 10s", cfg.RetryDelay.Duration())
	}
	if cfg.ReadTimeout.Duration() != 5*time.Second {
		t.Errorf("ReadTimeout = %v, want 5s", cfg.ReadTimeout.Duration())
	}
	if cfg.KeepAlive.Duration() != 5*time.Second {
		t.Errorf("KeepAlive = %v, want 5s", cfg.KeepAlive.Duration())
	}
	if cfg.IdentifyTimeout.Duration() != 30*time.Second {
		t.Errorf("IdentifyTimeout = %v, want 30s", cfg.IdentifyTimeout.Duration())
	}
	if cfg.MaxConnections != 256 {
		t.Errorf("MaxConnections = %d, want 256", cfg.MaxConnections)
	}
	if cfg.Redis.TTL.Duration() != 24*time.Hour {
		t.Errorf("Redis.TTL = %v, want 24h", cfg.Redis.TTL.Duration())
	}
	if cfg.MQTT.ClientID != "airboard" {
		t.Errorf("MQTT.ClientID = %q, want airboard", cfg.MQTT.ClientID)
	}
	if cfg.Level() != slog.LevelInfo {
		t.Errorf("Level() = %v, want info", cfg.Level())
	}
	if !cfg.UsesMemory() {
		t.Error("UsesMemory() = false, want true")
	}
}

func TestParse_FullConfig(t *testing.T) {
	yaml := `
title: Office Air
ingest_port: 3442
viewer_port: 3443
poll_interval: 2s
liveness_threshold: 3s
retry_delay: 20s
read_timeout: 1s
keepalive: 10s
identify_timeout: 1m
max_connections: 32
database_url: postgres://airboard:secret@db:5432/airboard
redis:
  addr: cache:6379
  ttl: 1h
mqtt:
  broker: tcp://broker:1883
  client_id: ab-office
  topic_prefix: office
allowed_origins:
  - https://dash.example.com
log_level: debug
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Title != "Office Air" {
		t.Errorf("Title = %q", cfg.Title)
	}
	if cfg.IngestPort != 3442 || cfg.ViewerPort != 3443 {
		t.Errorf("ports = %d/%d", cfg.IngestPort, cfg.ViewerPort)
	}
	if cfg.PollInterval.Duration() != 2*time.Second || cfg.LivenessThreshold.Duration() != 3*time.Second {
		t.Errorf("poll/threshold = %v/%v", cfg.PollInterval.Duration(), cfg.LivenessThreshold.Duration())
	}
	if cfg.RetryDelay.Duration() != 20*time.Second {
		t.Errorf("RetryDelay = %v", cfg.RetryDelay.Duration())
	}
	if cfg.ReadTimeout.Duration() != time.Second || cfg.KeepAlive.Duration() != 10*time.Second {
		t.Errorf("read/keepalive = %v/%v", cfg.ReadTimeout.Duration(), cfg.KeepAlive.Duration())
	}
	if cfg.IdentifyTimeout.Duration() != time.Minute {
		t.Errorf("IdentifyTimeout = %v", cfg.IdentifyTimeout.Duration())
	}
	if cfg.MaxConnections != 32 {
		t.Errorf("MaxConnections = %d", cfg.MaxConnections)
	}
	if cfg.UsesMemory() {
		t.Error("UsesMemory() = true, want false")
	}
	if cfg.Redis.Addr != "cache:6379" || cfg.Redis.TTL.Duration() != time.Hour {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.MQTT.Broker != "tcp://broker:1883" || cfg.MQTT.ClientID != "ab-office" || cfg.MQTT.TopicPrefix != "office" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://dash.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("Level() = %v, want debug", cfg.Level())
	}
}

func TestParse_EnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_HOST", "db.internal")
	t.Setenv("TEST_REDIS", "redis.internal:6379")
	t.Setenv("TEST_BROKER", "tcp://mqtt.internal:1883")
	t.Setenv("TEST_ORIGIN", "https://air.example.com")

	yaml := `
database_url: postgres://airboard@${TEST_DB_HOST}:5432/airboard
redis:
  addr: ${TEST_REDIS}
mqtt:
  broker: ${TEST_BROKER}
allowed_origins:
  - ${TEST_ORIGIN}
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.DatabaseURL != "postgres://airboard@db.internal:5432/airboard" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if cfg.MQTT.Broker != "tcp://mqtt.internal:1883" {
		t.Errorf("MQTT.Broker = %q", cfg.MQTT.Broker)
	}
	if cfg.AllowedOrigins[0] != "https://air.example.com" {
		t.Errorf("AllowedOrigins[0] = %q", cfg.AllowedOrigins[0])
	}
}

func TestParse_EnvVarDefault(t *testing.T) {
	yaml := `
database_url: ${UNSET_DATABASE_URL:-memory://}
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !cfg.UsesMemory() {
		t.Errorf("DatabaseURL = %q, want memory://", cfg.DatabaseURL)
	}
}

func TestParse_EnvVarMissing(t *testing.T) {
	// MISSING_VAR is expected to not exist in the environment
	yaml := `
database_url: postgres://${MISSING_VAR}/airboard
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("Parse() expected error for missing env var, got nil")
	}
	if !strings.Contains(err.Error(), "MISSING_VAR") {
		t.Errorf("error should mention MISSING_VAR: %v", err)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing database_url",
			yaml:    `ingest_port: 2442`,
			wantErr: "database_url is required",
		},
		{
			name:    "unsupported database scheme",
			yaml:    `database_url: mysql://localhost/airboard`,
			wantErr: "database_url scheme",
		},
		{
			name: "ingest port out of range",
			yaml: `
database_url: memory://
ingest_port: 70000`,
			wantErr: "ingest_port must be between",
		},
		{
			name: "viewer port negative",
			yaml: `
database_url: memory://
viewer_port: -1`,
			wantErr: "viewer_port must be between",
		},
		{
			name: "same ports",
			yaml: `
database_url: memory://
ingest_port: 9000
viewer_port: 9000`,
			wantErr: "must differ",
		},
		{
			name: "poll interval too short",
			yaml: `
database_url: memory://
poll_interval: 500ms
liveness_threshold: 800ms`,
			wantErr: "poll_interval must be at least",
		},
		{
			name: "threshold not above interval",
			yaml: `
database_url: memory://
poll_interval: 5s
liveness_threshold: 5s`,
			wantErr: "greater than poll interval",
		},
		{
			name: "threshold above twice interval",
			yaml: `
database_url: memory://
poll_interval: 5s
liveness_threshold: 11s`,
			wantErr: "at most twice",
		},
		{
			name: "negative retry delay",
			yaml: `
database_url: memory://
retry_delay: -1s`,
			wantErr: "retry_delay must be positive",
		},
		{
			name: "negative max connections",
			yaml: `
database_url: memory://
max_connections: -4`,
			wantErr: "max_connections must be positive",
		},
		{
			name: "mqtt bad scheme",
			yaml: `
database_url: memory://
mqtt:
  broker: http://broker:1883`,
			wantErr: "mqtt.broker scheme",
		},
		{
			name: "mqtt wildcard prefix",
			yaml: `
database_url: memory://
mqtt:
  broker: tcp://broker:1883
  topic_prefix: office/#`,
			wantErr: "wildcards",
		},
		{
			name: "origin without scheme",
			yaml: `
database_url: memory://
allowed_origins:
  - https://ok.example.com
  - dash.example.com`,
			wantErr: "allowed_origins[1]",
		},
		{
			name: "device without id",
			yaml: `
database_url: memory://
devices:
  - name: Hall`,
			wantErr: "devices[0]: id is required",
		},
		{
			name: "duplicate device id",
			yaml: `
database_url: memory://
devices:
  - id: hall
    name: Hall
  - id: hall
    name: Hall again`,
			wantErr: "devices[1] (hall): duplicate id",
		},
		{
			name: "device latitude out of range",
			yaml: `
database_url: memory://
devices:
  - id: hall
    name: Hall
    lat: 120`,
			wantErr: "lat must be between",
		},
		{
			name: "unknown log level",
			yaml: `
database_url: memory://
log_level: verbose`,
			wantErr: "log_level must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParse_Devices(t *testing.T) {
	yaml := `
database_url: memory://
devices:
  - id: hall
    name: Hall
    box: B-01
    lat: 45.81
    long: 15.98
  - id: lab
    name: Lab
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(cfg.Devices) != 2 {
		t.Fatalf("len(Devices) = %d, want 2", len(cfg.Devices))
	}
	d := cfg.Devices[0]
	if d.ID != "hall" || d.Name != "Hall" || d.Box != "B-01" || d.Lat != 45.81 || d.Long != 15.98 {
		t.Errorf("Devices[0] = %+v", d)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("database_url: [unclosed"))
	if err == nil {
		t.Fatal("Parse() expected error for invalid YAML, got nil")
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"seconds", "10s", 10 * time.Second, false},
		{"milliseconds", "1500ms", 1500 * time.Millisecond, false},
		{"minutes", "2m", 2 * time.Minute, false},
		{"combined", "1m30s", 90 * time.Second, false},
		{"invalid", "not-a-duration", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yaml := "database_url: memory://\nidentify_timeout: " + tt.input

			cfg, err := Parse([]byte(yaml))
			if tt.wantErr {
				if err == nil {
					t.Fatal("Parse() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if cfg.IdentifyTimeout.Duration() != tt.want {
				t.Errorf("IdentifyTimeout = %v, want %v", cfg.IdentifyTimeout.Duration(), tt.want)
			}
		})
	}
}

func TestParse_LogLevels(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cfg, err := Parse([]byte("database_url: memory://\nlog_level: " + tt.in))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if cfg.Level() != tt.want {
				t.Errorf("Level() = %v, want %v", cfg.Level(), tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "airboard.yaml")
	if err := os.WriteFile(path, []byte("database_url: memory://\ntitle: Lab\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Title != "Lab" {
		t.Errorf("Title = %q, want Lab", cfg.Title)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Load() error = %v, want read failure", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "value")
	t.Setenv("EMPTY_VAR", "") // set but empty

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"no vars", "plain text", "plain text", false},
		{"simple var", "${TEST_VAR}", "value", false},
		{"var in text", "prefix ${TEST_VAR} suffix", "prefix value suffix", false},
		{"multiple vars", "${TEST_VAR}-${TEST_VAR}", "value-value", false},
		{"with default (var set)", "${TEST_VAR:-default}", "value", false},
		{"with default (var unset)", "${UNSET:-default}", "default", false},
		{"missing required", "${MISSING}", "", true},
		{"empty default (var unset)", "${UNSET:-}", "", false},
		{"set but empty var", "${EMPTY_VAR}", "", false},
		{"set but empty with default", "${EMPTY_VAR:-fallback}", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandEnvVars(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expandEnvVars() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("expandEnvVars() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("expandEnvVars() = %q, want %q", got, tt.want)
			}
		})
	}
}
