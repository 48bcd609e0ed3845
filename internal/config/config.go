// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/lightmesh/internal/directory"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `lightmesh:` root key in YAML.
type GlobalConfig struct {
	Node           NodeConfig           `mapstructure:"node"`
	Mesh           MeshConfig           `mapstructure:"mesh"`
	Transport      TransportConfig      `mapstructure:"transport"`
	Engine         EngineConfig         `mapstructure:"engine"`
	Device         DeviceConfig         `mapstructure:"device"`
	Strip          StripConfig          `mapstructure:"strip"`
	Credentials    CredentialsConfig    `mapstructure:"credentials"`
	Control        ControlConfig        `mapstructure:"control"`
	CommandChannel CommandChannelConfig `mapstructure:"command_channel"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Log            LogConfig            `mapstructure:"log"`
}

// ─── Node Identity ───

// NodeConfig identifies the running device.
type NodeConfig struct {
	Name    string `mapstructure:"name"`    // Empty = os.Hostname()
	Address string `mapstructure:"address"` // Link address, AA:BB:CC:DD:EE:FF
}

// ─── Mesh ───

// MeshConfig is the fixed slot table. Entry 0 is the controller.
type MeshConfig struct {
	Nodes     []string `mapstructure:"nodes"`
	Broadcast string   `mapstructure:"broadcast"`
}

// ─── Transport ───

// TransportConfig configures the radio emulation.
type TransportConfig struct {
	Type      string `mapstructure:"type"`      // "udp"
	Group     string `mapstructure:"group"`     // multicast host:port
	Interface string `mapstructure:"interface"` // empty = system default
	TTL       int    `mapstructure:"ttl"`
	Loopback  bool   `mapstructure:"loopback"`
}

// ─── Engine (controller) ───

// EngineConfig configures the pattern engine.
type EngineConfig struct {
	Tick           string `mapstructure:"tick"` // e.g. "100ms"
	PingEveryTicks int    `mapstructure:"ping_every_ticks"`
	Catalog        string `mapstructure:"catalog"`
	AckTTL         string `mapstructure:"ack_ttl"`
}

// ─── Device (node) ───

// DeviceConfig configures the node state machine.
type DeviceConfig struct {
	Tick              string `mapstructure:"tick"`
	InactivityTimeout string `mapstructure:"inactivity_timeout"`
	LivenessInterval  string `mapstructure:"liveness_interval"`
}

// ─── Strip ───

// StripConfig selects the LED strip rendition.
type StripConfig struct {
	Type string `mapstructure:"type"` // log | memory
}

// ─── Credentials ───

// CredentialsConfig locates the credential file.
type CredentialsConfig struct {
	Path string `mapstructure:"path"`
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// ─── Command Channel ───

// CommandChannelConfig configures the remote provisioning channel.
type CommandChannelConfig struct {
	Enabled    bool               `mapstructure:"enabled"`
	Type       string             `mapstructure:"type"` // "kafka"
	Kafka      CommandKafkaConfig `mapstructure:"kafka"`
	CommandTTL string             `mapstructure:"command_ttl"` // Default "5m"
}

// CommandKafkaConfig contains Kafka-specific command channel settings.
type CommandKafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	Topic           string   `mapstructure:"topic"`
	GroupID         string   `mapstructure:"group_id"`
	AutoOffsetReset string   `mapstructure:"auto_offset_reset"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text / pattern
	Pattern string           `mapstructure:"pattern"`
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains log output destinations besides stdout.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `lightmesh: ...`.
type configRoot struct {
	Lightmesh GlobalConfig `mapstructure:"lightmesh"`
}

// Load loads configuration from file.
// The YAML file uses `lightmesh:` as root key; env vars use the LIGHTMESH_ prefix (e.g., LIGHTMESH_NODE_ADDRESS).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// The `lightmesh.` key prefix maps to `LIGHTMESH_` through the key replacer
	// (e.g., key "lightmesh.log.level" → env "LIGHTMESH_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Lightmesh

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "lightmesh." prefix to match the YAML root wrapper. Keys
// without a useful default are still registered so env overrides reach them.
func setDefaults(v *viper.Viper) {
	// Node defaults
	v.SetDefault("lightmesh.node.name", "")
	v.SetDefault("lightmesh.node.address", "")

	// Mesh defaults
	v.SetDefault("lightmesh.mesh.broadcast", "FF:FF:FF:FF:FF:FF")

	// Transport defaults
	v.SetDefault("lightmesh.transport.type", "udp")
	v.SetDefault("lightmesh.transport.group", "239.77.77.77:4777")
	v.SetDefault("lightmesh.transport.interface", "")
	v.SetDefault("lightmesh.transport.ttl", 1)
	v.SetDefault("lightmesh.transport.loopback", true)

	// Engine defaults
	v.SetDefault("lightmesh.engine.tick", "100ms")
	v.SetDefault("lightmesh.engine.ping_every_ticks", 50)
	v.SetDefault("lightmesh.engine.catalog", "/etc/lightmesh/patterns.json")
	v.SetDefault("lightmesh.engine.ack_ttl", "30s")

	// Device defaults
	v.SetDefault("lightmesh.device.tick", "100ms")
	v.SetDefault("lightmesh.device.inactivity_timeout", "60s")
	v.SetDefault("lightmesh.device.liveness_interval", "1s")

	v.SetDefault("lightmesh.strip.type", "log")
	v.SetDefault("lightmesh.credentials.path", "/var/lib/lightmesh/credentials.json")

	// Control defaults
	v.SetDefault("lightmesh.control.pid_file", "/var/run/lightmesh.pid")
	v.SetDefault("lightmesh.control.socket", "/var/run/lightmesh.sock")

	// Log defaults
	v.SetDefault("lightmesh.log.level", "info")
	v.SetDefault("lightmesh.log.format", "json")
	v.SetDefault("lightmesh.log.pattern", "")
	v.SetDefault("lightmesh.log.outputs.file.enabled", false)
	v.SetDefault("lightmesh.log.outputs.file.path", "/var/log/lightmesh/lightmesh.log")
	v.SetDefault("lightmesh.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("lightmesh.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("lightmesh.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("lightmesh.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("lightmesh.metrics.enabled", true)
	v.SetDefault("lightmesh.metrics.listen", ":9091")
	v.SetDefault("lightmesh.metrics.path", "/metrics")

	// Command channel defaults
	v.SetDefault("lightmesh.command_channel.enabled", false)
	v.SetDefault("lightmesh.command_channel.type", "kafka")
	v.SetDefault("lightmesh.command_channel.kafka.auto_offset_reset", "latest")
	v.SetDefault("lightmesh.command_channel.command_ttl", "5m")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text", "pattern":
	default:
		return fmt.Errorf("invalid log format: %s (must be json/text/pattern)", cfg.Log.Format)
	}

	// ── Node identity ──
	if cfg.Node.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Name = hostname
	}
	if cfg.Node.Address == "" {
		return fmt.Errorf("node.address is required (set LIGHTMESH_NODE_ADDRESS or lightmesh.node.address)")
	}
	if _, err := directory.ParseAddress(cfg.Node.Address); err != nil {
		return fmt.Errorf("node.address: %w", err)
	}

	// ── Mesh table ──
	if _, err := cfg.Directory(); err != nil {
		return err
	}

	// ── Transport ──
	if cfg.Transport.Type != "udp" {
		return fmt.Errorf("unsupported transport.type: %s (only 'udp' supported)", cfg.Transport.Type)
	}

	// ── Timing ──
	engineTick, err := positiveDuration("engine.tick", cfg.Engine.Tick)
	if err != nil {
		return err
	}
	if engineTick > time.Second {
		return fmt.Errorf("engine.tick must not exceed 1s, got %s", engineTick)
	}
	if cfg.Engine.PingEveryTicks < 1 {
		return fmt.Errorf("engine.ping_every_ticks must be at least 1, got %d", cfg.Engine.PingEveryTicks)
	}
	if _, err := positiveDuration("engine.ack_ttl", cfg.Engine.AckTTL); err != nil {
		return err
	}
	deviceTick, err := positiveDuration("device.tick", cfg.Device.Tick)
	if err != nil {
		return err
	}
	inactivity, err := positiveDuration("device.inactivity_timeout", cfg.Device.InactivityTimeout)
	if err != nil {
		return err
	}
	if inactivity < deviceTick {
		return fmt.Errorf("device.inactivity_timeout %s is shorter than device.tick %s", inactivity, deviceTick)
	}
	if _, err := positiveDuration("device.liveness_interval", cfg.Device.LivenessInterval); err != nil {
		return err
	}

	// ── Strip ──
	if cfg.Strip.Type != "log" && cfg.Strip.Type != "memory" {
		return fmt.Errorf("invalid strip.type: %s (must be log/memory)", cfg.Strip.Type)
	}

	// ── Command channel validation ──
	if cfg.CommandChannel.Enabled {
		if cfg.CommandChannel.Type != "kafka" {
			return fmt.Errorf("unsupported command_channel.type: %s (only 'kafka' supported)", cfg.CommandChannel.Type)
		}
		if len(cfg.CommandChannel.Kafka.Brokers) == 0 {
			return fmt.Errorf("command_channel.kafka.brokers is required when command_channel.enabled=true")
		}
		if cfg.CommandChannel.Kafka.Topic == "" {
			return fmt.Errorf("command_channel.kafka.topic is required when command_channel.enabled=true")
		}
		if cfg.CommandChannel.Kafka.GroupID == "" {
			cfg.CommandChannel.Kafka.GroupID = "lightmesh-" + cfg.Node.Name
		}
		if _, err := positiveDuration("command_channel.command_ttl", cfg.CommandChannel.CommandTTL); err != nil {
			return err
		}
	}

	return nil
}

func positiveDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}

// ─── Derived values (valid after ValidateAndApplyDefaults) ───

// Directory builds the slot table from mesh.nodes.
func (cfg *GlobalConfig) Directory() (*directory.Directory, error) {
	dir, err := directory.Parse(cfg.Mesh.Nodes, cfg.Mesh.Broadcast)
	if err != nil {
		return nil, fmt.Errorf("mesh: %w", err)
	}
	return dir, nil
}

// SelfAddress returns the parsed node.address.
func (cfg *GlobalConfig) SelfAddress() directory.Address {
	a, _ := directory.ParseAddress(cfg.Node.Address)
	return a
}

func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// TickInterval is the engine tick period.
func (e EngineConfig) TickInterval() time.Duration { return mustDuration(e.Tick) }

// TicksPerSecond is how many engine ticks make one second.
func (e EngineConfig) TicksPerSecond() int { return TicksPerSecond(e.TickInterval()) }

// AckTTLDuration is how long a liveness ack stays in the status view.
func (e EngineConfig) AckTTLDuration() time.Duration { return mustDuration(e.AckTTL) }

// TickInterval is the node tick period.
func (d DeviceConfig) TickInterval() time.Duration { return mustDuration(d.Tick) }

// InactivityTicks converts the inactivity timeout into node ticks.
func (d DeviceConfig) InactivityTicks() int {
	tick := d.TickInterval()
	if tick <= 0 {
		return 1
	}
	return max(int(mustDuration(d.InactivityTimeout)/tick), 1)
}

// LivenessIntervalDuration is the ack reply job period.
func (d DeviceConfig) LivenessIntervalDuration() time.Duration {
	return mustDuration(d.LivenessInterval)
}

// CommandTTLDuration is the maximum age of an accepted remote command.
func (c CommandChannelConfig) CommandTTLDuration() time.Duration {
	return mustDuration(c.CommandTTL)
}

// TicksPerSecond returns how many ticks of length tick fit in one second,
// never less than one.
func TicksPerSecond(tick time.Duration) int {
	if tick <= 0 {
		return 1
	}
	return max(int(time.Second/tick), 1)
}
