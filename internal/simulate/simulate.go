// Package simulate runs a whole mesh in one process over a transport.Medium.
// Every device ticks in lock step, so a run is reproducible for a seed.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"firestige.xyz/lightmesh/internal/catalog"
	"firestige.xyz/lightmesh/internal/codec"
	"firestige.xyz/lightmesh/internal/device"
	"firestige.xyz/lightmesh/internal/directory"
	"firestige.xyz/lightmesh/internal/engine"
	"firestige.xyz/lightmesh/internal/mesh"
	"firestige.xyz/lightmesh/internal/transport"
)

var ErrBadSize = errors.New("simulate: devices must be between 1 and 17")

// Config describes one run.
type Config struct {
	Devices         int // controller included
	Catalog         *catalog.Catalog
	Pattern         int
	Ticks           int
	TicksPerSecond  int
	PingEveryTicks  int
	InactivityTicks int
	Loss            float64
	Seed            uint64
}

// Change is a strip colour change at a tick.
type Change struct {
	Tick   int          `json:"tick"`
	Colour codec.Colour `json:"colour"`
}

// DeviceReport is the observed behaviour of one device.
type DeviceReport struct {
	Slot     int      `json:"slot"`
	Role     string   `json:"role"`
	Address  string   `json:"address"`
	Changes  []Change `json:"changes"`
	AcksSent uint64   `json:"acks_sent,omitempty"`
}

// Report is the outcome of a run.
type Report struct {
	Pattern   string             `json:"pattern"`
	Ticks     int                `json:"ticks"`
	Delivered uint64             `json:"delivered"`
	Dropped   uint64             `json:"dropped"`
	Devices   []DeviceReport     `json:"devices"`
	Acks      []engine.AckRecord `json:"acks"`
}

// AddressFor is the link address the simulation gives slot.
func AddressFor(slot int) directory.Address {
	return directory.Address{0x02, 0x4C, 0x4D, 0x00, 0x00, byte(slot)}
}

// timelineStrip records colour changes against the current tick.
type timelineStrip struct {
	mu      sync.Mutex
	tick    *int
	pending codec.Colour
	shown   codec.Colour
	lit     bool
	changes []Change
}

func (s *timelineStrip) SetAll(c codec.Colour) {
	s.mu.Lock()
	s.pending = c
	s.mu.Unlock()
}

func (s *timelineStrip) Show() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lit && s.pending == s.shown {
		return
	}
	s.lit, s.shown = true, s.pending
	s.changes = append(s.changes, Change{Tick: *s.tick, Colour: s.pending})
}

func (s *timelineStrip) snapshot() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Change(nil), s.changes...)
}

type node struct {
	slot    int
	disp    *mesh.Dispatcher
	machine *device.Machine
	strip   *timelineStrip
}

// Run activates cfg.Pattern on the controller and ticks every device
// cfg.Ticks times.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	if cfg.Devices < 1 || cfg.Devices > directory.MaxNodes {
		return nil, ErrBadSize
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Empty()
	}
	pat, ok := cfg.Catalog.Get(cfg.Pattern)
	if !ok {
		return nil, fmt.Errorf("%w: %d of %d", engine.ErrPatternOutOfRange, cfg.Pattern, cfg.Catalog.Len())
	}

	addrs := make([]directory.Address, cfg.Devices)
	for i := range addrs {
		addrs[i] = AddressFor(i)
	}
	dir, err := directory.New(addrs, directory.BroadcastAddress)
	if err != nil {
		return nil, err
	}

	medium := transport.NewMedium(dir.Broadcast(), cfg.Seed)
	medium.SetLoss(cfg.Loss)

	tick := 0
	strips := make([]*timelineStrip, cfg.Devices)
	disps := make([]*mesh.Dispatcher, cfg.Devices)
	for i := range strips {
		strips[i] = &timelineStrip{tick: &tick}
		ep := medium.Attach(addrs[i])
		defer ep.Close()
		if disps[i], err = mesh.New(dir, addrs[i], ep, strips[i]); err != nil {
			return nil, err
		}
	}

	eng := engine.New(cfg.Catalog, disps[0], engine.Config{
		TicksPerSecond: cfg.TicksPerSecond,
		PingEveryTicks: cfg.PingEveryTicks,
	})
	disps[0].SetAckSink(eng)

	nodes := make([]node, 0, cfg.Devices-1)
	for i := 1; i < cfg.Devices; i++ {
		m := device.New(strips[i], disps[i], device.Config{InactivityTicks: cfg.InactivityTicks})
		disps[i].SetCommandSink(m)
		nodes = append(nodes, node{slot: i, disp: disps[i], machine: m, strip: strips[i]})
	}

	if err := eng.RequestActivation(cfg.Pattern, true); err != nil {
		return nil, err
	}
	slog.Info("simulation started", "devices", cfg.Devices, "pattern", pat.Name, "ticks", cfg.Ticks, "loss", cfg.Loss)

	for tick = 0; tick < cfg.Ticks; tick++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		eng.Tick()
		for _, n := range nodes {
			n.machine.Tick()
			n.machine.LivenessTick()
		}
	}

	delivered, dropped := medium.Stats()
	report := &Report{
		Pattern:   pat.Name,
		Ticks:     cfg.Ticks,
		Delivered: delivered,
		Dropped:   dropped,
		Acks:      eng.Acks(),
	}
	report.Devices = append(report.Devices, DeviceReport{
		Slot:    0,
		Role:    mesh.RoleController.String(),
		Address: addrs[0].String(),
		Changes: strips[0].snapshot(),
	})
	for _, n := range nodes {
		report.Devices = append(report.Devices, DeviceReport{
			Slot:     n.slot,
			Role:     n.disp.Role().String(),
			Address:  addrs[n.slot].String(),
			Changes:  n.strip.snapshot(),
			AcksSent: n.machine.Status().AcksSent,
		})
	}
	return report, nil
}
