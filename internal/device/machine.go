// Package device is the node side of the mesh: it applies received commands
// to the strip, answers liveness pings and turns the strip off after a
// period without commands.
package device

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"firestige.xyz/lightmesh/internal/codec"
	"firestige.xyz/lightmesh/internal/led"
	"firestige.xyz/lightmesh/internal/metrics"
)

// AckSender transmits this node's liveness acknowledgement.
type AckSender interface {
	SendAck() error
}

// Config holds the node timing in ticks.
type Config struct {
	// InactivityTicks is how many consecutive ticks may pass without a command.
	// The strip turns off on the tick that exceeds it; the tick that applies a
	// command does not count.
	InactivityTicks int
}

// Machine is the node command state machine. Deliver and SchedulePingReply
// are called from the receive path; Tick and LivenessTick from their jobs.
type Machine struct {
	strip led.Strip
	acks  AckSender
	cfg   Config

	mailMu     sync.Mutex
	mail       codec.Command
	overwrites uint64

	mu        sync.Mutex
	counter   int
	colour    codec.Colour
	applied   uint64
	fallbacks uint64

	pingPending atomic.Bool
	acksSent    atomic.Uint64
}

func New(strip led.Strip, acks AckSender, cfg Config) *Machine {
	if cfg.InactivityTicks < 1 {
		cfg.InactivityTicks = 1
	}
	return &Machine{strip: strip, acks: acks, cfg: cfg}
}

// Deliver stores cmd for the next tick, replacing any command not yet applied.
func (m *Machine) Deliver(cmd codec.Command) {
	m.mailMu.Lock()
	if m.mail != nil {
		m.overwrites++
		metrics.MailboxOverwritesTotal.Inc()
		slog.Debug("mailbox overwrite", "dropped", m.mail.Kind().String(), "kept", cmd.Kind().String())
	}
	m.mail = cmd
	m.mailMu.Unlock()
}

func (m *Machine) take() codec.Command {
	m.mailMu.Lock()
	defer m.mailMu.Unlock()
	cmd := m.mail
	m.mail = nil
	return cmd
}

// Tick applies the pending command, if any, and runs the inactivity check.
func (m *Machine) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counter++
	if cmd := m.take(); cmd != nil {
		m.dispatch(cmd)
		m.counter = 0
	}
	if m.counter > m.cfg.InactivityTicks {
		m.fill(codec.Off)
		m.counter = 0
		m.fallbacks++
		metrics.DeviceFallbacksTotal.Inc()
		slog.Info("no commands received, strip turned off")
	}
}

func (m *Machine) dispatch(cmd codec.Command) {
	m.applied++
	switch c := cmd.(type) {
	case codec.ClearStrip:
		m.fill(codec.Off)
	case codec.FillStrip:
		m.fill(c.Colour)
	case codec.RestartNode, codec.PerformPattern, codec.PerformSelfComplete:
		slog.Debug("reserved command ignored", "kind", cmd.Kind().String())
	default:
		slog.Warn("unhandled command", "kind", cmd.Kind().String())
	}
}

func (m *Machine) fill(c codec.Colour) {
	led.Fill(m.strip, c)
	m.colour = c
}

// SchedulePingReply marks a liveness acknowledgement as owed.
func (m *Machine) SchedulePingReply() {
	m.pingPending.Store(true)
}

// LivenessTick sends an owed acknowledgement.
func (m *Machine) LivenessTick() {
	if !m.pingPending.CompareAndSwap(true, false) {
		return
	}
	if err := m.acks.SendAck(); err != nil {
		slog.Warn("liveness ack failed", "error", err)
		return
	}
	m.acksSent.Add(1)
}

// Status is a point-in-time view of the machine.
type Status struct {
	Colour      string `json:"colour"`
	IdleTicks   int    `json:"idle_ticks"`
	Applied     uint64 `json:"applied"`
	Overwrites  uint64 `json:"overwrites"`
	Fallbacks   uint64 `json:"fallbacks"`
	AcksSent    uint64 `json:"acks_sent"`
	PingPending bool   `json:"ping_pending"`
}

func (m *Machine) Status() Status {
	m.mu.Lock()
	s := Status{
		Colour:    m.colour.String(),
		IdleTicks: m.counter,
		Applied:   m.applied,
		Fallbacks: m.fallbacks,
	}
	m.mu.Unlock()

	m.mailMu.Lock()
	s.Overwrites = m.overwrites
	m.mailMu.Unlock()

	s.AcksSent = m.acksSent.Load()
	s.PingPending = m.pingPending.Load()
	return s
}
