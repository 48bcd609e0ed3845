package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const baseConfig = `
lightmesh:
  node:
    name: "stage-left"
    address: "02:00:00:00:00:01"
  mesh:
    nodes:
      - "02:00:00:00:00:00"
      - "02:00:00:00:00:01"
      - "02:00:00:00:00:02"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

func TestLoadValidConfig(t *testing.T) {
	configPath := writeConfig(t, baseConfig+`
  engine:
    tick: "50ms"
    ping_every_ticks: 20
    catalog: "/tmp/patterns.json"
  control:
    pid_file: "/tmp/test.pid"
    socket: "/tmp/test.sock"
  log:
    level: "debug"
    format: "text"
  metrics:
    enabled: false
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Node.Name != "stage-left" {
		t.Errorf("Expected node name stage-left, got %s", cfg.Node.Name)
	}
	if cfg.Control.PIDFile != "/tmp/test.pid" {
		t.Errorf("Expected PIDFile /tmp/test.pid, got %s", cfg.Control.PIDFile)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Expected debug/text logging, got %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled")
	}
	if got := cfg.Engine.TicksPerSecond(); got != 20 {
		t.Errorf("Expected 20 ticks per second, got %d", got)
	}
	if cfg.Engine.PingEveryTicks != 20 {
		t.Errorf("Expected ping every 20 ticks, got %d", cfg.Engine.PingEveryTicks)
	}

	dir, err := cfg.Directory()
	if err != nil {
		t.Fatalf("Directory: %v", err)
	}
	slot, err := dir.ResolveOwnSlot(cfg.SelfAddress())
	if err != nil || slot != 1 {
		t.Errorf("Expected own slot 1, got %d (%v)", slot, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Transport.Type != "udp" || cfg.Transport.Group != "239.77.77.77:4777" || !cfg.Transport.Loopback {
		t.Errorf("Unexpected transport defaults: %+v", cfg.Transport)
	}
	if cfg.Engine.TickInterval() != 100*time.Millisecond || cfg.Engine.TicksPerSecond() != 10 {
		t.Errorf("Unexpected engine tick: %s", cfg.Engine.Tick)
	}
	if got := cfg.Device.InactivityTicks(); got != 600 {
		t.Errorf("Expected 600 inactivity ticks, got %d", got)
	}
	if cfg.Device.LivenessIntervalDuration() != time.Second {
		t.Errorf("Expected 1s liveness interval, got %s", cfg.Device.LivenessInterval)
	}
	if cfg.Engine.AckTTLDuration() != 30*time.Second {
		t.Errorf("Expected 30s ack ttl, got %s", cfg.Engine.AckTTL)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log defaults: %+v", cfg.Log)
	}
	if cfg.Strip.Type != "log" {
		t.Errorf("Expected log strip, got %s", cfg.Strip.Type)
	}
	if cfg.CommandChannel.Enabled {
		t.Error("Expected command channel disabled by default")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("LIGHTMESH_NODE_ADDRESS", "02:00:00:00:00:02")
	t.Setenv("LIGHTMESH_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Node.Address != "02:00:00:00:00:02" {
		t.Errorf("Expected env address override, got %s", cfg.Node.Address)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected env log level override, got %s", cfg.Log.Level)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"log level", baseConfig + "  log:\n    level: \"loud\"\n", "invalid log level"},
		{"log format", baseConfig + "  log:\n    format: \"xml\"\n", "invalid log format"},
		{"transport", baseConfig + "  transport:\n    type: \"serial\"\n", "transport.type"},
		{"engine tick", baseConfig + "  engine:\n    tick: \"2s\"\n", "engine.tick"},
		{"engine tick parse", baseConfig + "  engine:\n    tick: \"soon\"\n", "engine.tick"},
		{"ping interval", baseConfig + "  engine:\n    ping_every_ticks: 0\n", "ping_every_ticks"},
		{"inactivity", baseConfig + "  device:\n    inactivity_timeout: \"10ms\"\n", "inactivity_timeout"},
		{"strip", baseConfig + "  strip:\n    type: \"neon\"\n", "strip.type"},
		{"kafka brokers", baseConfig + "  command_channel:\n    enabled: true\n    kafka:\n      topic: \"t\"\n", "brokers"},
		{"kafka topic", baseConfig + "  command_channel:\n    enabled: true\n    kafka:\n      brokers: [\"k:9092\"]\n", "topic"},
		{"missing address", `
lightmesh:
  mesh:
    nodes: ["02:00:00:00:00:00"]
`, "node.address"},
		{"bad address", `
lightmesh:
  node:
    address: "nope"
  mesh:
    nodes: ["02:00:00:00:00:00"]
`, "node.address"},
		{"empty mesh", `
lightmesh:
  node:
    address: "02:00:00:00:00:00"
`, "mesh"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCommandChannelGroupIDDefault(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig+`
  command_channel:
    enabled: true
    kafka:
      brokers: ["localhost:9092"]
      topic: "lightmesh-commands"
`))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.CommandChannel.Kafka.GroupID != "lightmesh-stage-left" {
		t.Errorf("Expected derived group id, got %s", cfg.CommandChannel.Kafka.GroupID)
	}
	if cfg.CommandChannel.CommandTTLDuration() != 5*time.Minute {
		t.Errorf("Expected 5m command ttl, got %s", cfg.CommandChannel.CommandTTL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestTicksPerSecond(t *testing.T) {
	tests := []struct {
		tick time.Duration
		want int
	}{
		{100 * time.Millisecond, 10},
		{time.Second, 1},
		{3 * time.Second, 1},
		{30 * time.Millisecond, 33},
		{0, 1},
	}
	for _, tt := range tests {
		if got := TicksPerSecond(tt.tick); got != tt.want {
			t.Errorf("TicksPerSecond(%s) = %d, want %d", tt.tick, got, tt.want)
		}
	}
}
