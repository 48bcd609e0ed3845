// Package daemon implements the device process lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/lightmesh/internal/catalog"
	"firestige.xyz/lightmesh/internal/command"
	"firestige.xyz/lightmesh/internal/config"
	"firestige.xyz/lightmesh/internal/credentials"
	"firestige.xyz/lightmesh/internal/device"
	"firestige.xyz/lightmesh/internal/directory"
	"firestige.xyz/lightmesh/internal/engine"
	"firestige.xyz/lightmesh/internal/led"
	logpkg "firestige.xyz/lightmesh/internal/log"
	"firestige.xyz/lightmesh/internal/mesh"
	"firestige.xyz/lightmesh/internal/metrics"
	"firestige.xyz/lightmesh/internal/scheduler"
	"firestige.xyz/lightmesh/internal/transport"
)

// Option customises a Daemon before Start.
type Option func(*Daemon)

// WithTransport replaces the configured transport.
func WithTransport(tr transport.Transport) Option {
	return func(d *Daemon) { d.transport = tr }
}

// WithStrip replaces the configured LED strip.
func WithStrip(s led.Strip) Option {
	return func(d *Daemon) { d.strip = s }
}

// Daemon manages one lightmesh device: controller or node, decided by the
// device's own slot in the mesh table.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string
	pidWritten bool

	// Mesh
	transport  transport.Transport
	strip      led.Strip
	dispatcher *mesh.Dispatcher
	engine     *engine.Engine  // controller only
	machine    *device.Machine // node only
	sched      *scheduler.Scheduler

	// Control plane
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	kafkaConsumer *command.KafkaCommandConsumer // nil if command channel disabled
	metricsServer *metrics.Server               // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	stopOnce     sync.Once
}

// New loads the configuration. Empty socketPath or pidFile fall back to the
// control section of the file.
func New(configPath, socketPath, pidFile string, opts ...Option) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if socketPath == "" {
		socketPath = globalConfig.Control.Socket
	}
	if pidFile == "" {
		pidFile = globalConfig.Control.PIDFile
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start brings the device up. A device whose address is missing from the
// mesh table fails with directory.ErrNotProvisioned.
func (d *Daemon) Start() (err error) {
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting lightmesh daemon",
		"version", command.Version,
		"name", d.config.Node.Name,
		"address", d.config.Node.Address,
		"config", d.configPath,
		"socket", d.socketPath,
	)

	// Undo partial startup.
	defer func() {
		if err != nil {
			d.Stop()
		}
	}()

	if err := d.startMesh(); err != nil {
		return err
	}

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	d.cmdHandler = command.NewCommandHandler(d.openCredentials(), d)
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon_shutdown command")
		d.TriggerShutdown()
	})
	d.cmdHandler.SetLogLevelFunc(logpkg.Level)
	d.cmdHandler.SetMeshInfo(d.meshInfo())
	if d.engine != nil {
		d.cmdHandler.SetPatterns(d.engine)
	}
	if d.machine != nil {
		d.cmdHandler.SetNodeState(d.machine)
	}

	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	if err := d.udsServer.Listen(); err != nil {
		return fmt.Errorf("failed to start uds server: %w", err)
	}
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("uds server failed", "error", err)
		}
	}()

	if d.config.CommandChannel.Enabled && d.config.CommandChannel.Type == "kafka" {
		if err := d.startKafkaConsumer(); err != nil {
			// Non-fatal: the device stays controllable over UDS.
			slog.Error("failed to start kafka consumer", "error", err)
		}
	}

	if d.engine != nil {
		d.engine.Start()
	}
	d.sched.Start(d.ctx)

	slog.Info("daemon started", "role", d.dispatcher.Role().String(), "slot", int(d.dispatcher.Slot()))
	return nil
}

// startMesh builds the transport, dispatcher and the role's jobs.
func (d *Daemon) startMesh() error {
	dir, err := d.config.Directory()
	if err != nil {
		return err
	}
	self := d.config.SelfAddress()

	// Resolve before touching the network.
	if _, err := dir.ResolveOwnSlot(self); err != nil {
		return fmt.Errorf("address %s: %w", self, err)
	}

	if d.strip == nil {
		d.strip = newStrip(d.config.Strip.Type, d.config.Node.Name)
	}
	if d.transport == nil {
		tr, err := transport.NewUDP(self, transport.UDPConfig{
			Group:     d.config.Transport.Group,
			Interface: d.config.Transport.Interface,
			TTL:       d.config.Transport.TTL,
			Loopback:  d.config.Transport.Loopback,
			Broadcast: dir.Broadcast(),
		})
		if err != nil {
			return fmt.Errorf("failed to open transport: %w", err)
		}
		d.transport = tr
	}

	d.dispatcher, err = mesh.New(dir, self, d.transport, d.strip)
	if err != nil {
		return err
	}

	d.sched = scheduler.New()
	switch d.dispatcher.Role() {
	case mesh.RoleController:
		return d.startController()
	default:
		return d.startNode()
	}
}

func (d *Daemon) startController() error {
	cat, err := catalog.Load(d.config.Engine.Catalog)
	if err != nil {
		return fmt.Errorf("failed to load pattern catalog: %w", err)
	}
	d.engine = engine.New(cat, d.dispatcher, engine.Config{
		TicksPerSecond: d.config.Engine.TicksPerSecond(),
		PingEveryTicks: d.config.Engine.PingEveryTicks,
		AckLog:         engine.AckLogConfig{TTL: d.config.Engine.AckTTLDuration()},
	})
	d.dispatcher.SetAckSink(d.engine)

	if _, err := d.sched.AddJob("engine", d.config.Engine.TickInterval(), d.engine.Tick); err != nil {
		return err
	}
	return nil
}

func (d *Daemon) startNode() error {
	d.machine = device.New(d.strip, d.dispatcher, device.Config{
		InactivityTicks: d.config.Device.InactivityTicks(),
	})
	d.dispatcher.SetCommandSink(d.machine)

	if _, err := d.sched.AddJob("device", d.config.Device.TickInterval(), d.machine.Tick); err != nil {
		return err
	}
	if _, err := d.sched.AddJob("liveness", d.config.Device.LivenessIntervalDuration(), d.machine.LivenessTick); err != nil {
		return err
	}
	return nil
}

// openCredentials opens the credential file. A device whose state directory
// is unusable keeps running with credentials held in memory only.
func (d *Daemon) openCredentials() credentials.Store {
	store, err := credentials.NewFileStore(d.config.Credentials.Path)
	if err != nil {
		slog.Warn("credential file unavailable, credentials will not persist",
			"path", d.config.Credentials.Path, "error", err)
		return credentials.NewMemoryStore()
	}
	return store
}

func newStrip(kind, name string) led.Strip {
	if kind == "memory" {
		return led.NewMemoryStrip()
	}
	return led.NewLogStrip(name)
}

func (d *Daemon) meshInfo() command.MeshInfo {
	dir := d.dispatcher.Directory()
	nodes := make([]string, 0, dir.Len())
	for _, a := range dir.Addresses() {
		nodes = append(nodes, a.String())
	}
	return command.MeshInfo{
		Name:      d.config.Node.Name,
		Role:      d.dispatcher.Role().String(),
		Slot:      int(d.dispatcher.Slot()),
		Address:   d.dispatcher.Self().String(),
		Broadcast: dir.Broadcast().String(),
		Nodes:     nodes,
	}
}

// Stop performs graceful shutdown of all daemon components. It is safe to
// call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// 1. No new remote commands.
	if d.kafkaConsumer != nil {
		if err := d.kafkaConsumer.Stop(); err != nil {
			slog.Error("error stopping kafka consumer", "error", err)
		}
	}

	// 2. Stop ticking.
	if d.sched != nil {
		d.sched.Stop()
	}

	// 3. No new CLI commands.
	if d.udsServer != nil {
		d.udsServer.Stop()
	}

	// 4. Leave the mesh.
	if d.transport != nil {
		if err := d.transport.Close(); err != nil {
			slog.Error("error closing transport", "error", err)
		}
	}

	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")
}

// Run blocks until shutdown is triggered by SIGTERM/SIGINT, by the
// daemon_shutdown command or by cancellation. SIGHUP reloads the config.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the configuration file. Only the log level is applied
// live; every other change is reported as requiring a restart.
// Implements command.ConfigReloader.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}
	if newConfig.Log.Level != d.config.Log.Level {
		if err := logpkg.SetLevel(newConfig.Log.Level); err != nil {
			return err
		}
		d.config.Log.Level = newConfig.Log.Level
		hotReloaded = append(hotReloaded, "log.level")
	}

	requiresRestart := []string{}
	if newConfig.Log.Format != d.config.Log.Format {
		requiresRestart = append(requiresRestart, "log.format")
	}
	if newConfig.Node.Address != d.config.Node.Address {
		requiresRestart = append(requiresRestart, "node.address")
	}
	if !equalStrings(newConfig.Mesh.Nodes, d.config.Mesh.Nodes) {
		requiresRestart = append(requiresRestart, "mesh.nodes")
	}
	if newConfig.Engine != d.config.Engine {
		requiresRestart = append(requiresRestart, "engine")
	}
	if newConfig.Device != d.config.Device {
		requiresRestart = append(requiresRestart, "device")
	}
	if newConfig.Metrics.Listen != d.config.Metrics.Listen {
		requiresRestart = append(requiresRestart, "metrics.listen")
	}

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)
	return nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TriggerShutdown asks Run to stop. Extra calls are no-ops.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// Slot returns the device's own slot. Valid after Start.
func (d *Daemon) Slot() directory.Slot { return d.dispatcher.Slot() }

// Role returns the device's role. Valid after Start.
func (d *Daemon) Role() mesh.Role { return d.dispatcher.Role() }

func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

func (d *Daemon) startKafkaConsumer() error {
	consumer, err := command.NewKafkaCommandConsumer(
		d.config.CommandChannel,
		d.config.Node.Name,
		d.config.Node.Address,
		d.cmdHandler,
	)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	d.kafkaConsumer = consumer

	go func() {
		if err := consumer.Start(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("kafka consumer stopped with error", "error", err)
		}
	}()
	return nil
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		d.metricsServer = nil
		return err
	}
	return nil
}

func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}
	d.pidWritten = true
	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

func (d *Daemon) removePIDFile() error {
	if !d.pidWritten {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}
