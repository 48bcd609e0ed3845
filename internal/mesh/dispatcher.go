// Package mesh maps logical slots onto the transport: it encodes outbound
// commands, picks unicast or broadcast, and routes inbound frames to the
// controller's ack log or the node's command state machine.
package mesh

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"firestige.xyz/lightmesh/internal/codec"
	"firestige.xyz/lightmesh/internal/directory"
	"firestige.xyz/lightmesh/internal/led"
	"firestige.xyz/lightmesh/internal/metrics"
	"firestige.xyz/lightmesh/internal/transport"
)

// Role is what a device does in the star.
type Role int

const (
	RoleController Role = iota
	RoleNode
)

func (r Role) String() string {
	if r == RoleController {
		return "controller"
	}
	return "node"
}

// RoleFor returns the role implied by an own slot.
func RoleFor(slot directory.Slot) Role {
	if slot == directory.Controller {
		return RoleController
	}
	return RoleNode
}

// ErrWrongRole is returned when an operation is not available in the
// dispatcher's role.
var ErrWrongRole = errors.New("mesh: operation not available in this role")

// AckSink receives liveness acknowledgements on the controller.
type AckSink interface {
	RecordAck(slot uint8, src directory.Address)
}

// CommandSink receives decoded commands on a node.
type CommandSink interface {
	Deliver(cmd codec.Command)
	SchedulePingReply()
}

// Dispatcher is one device's view of the mesh.
type Dispatcher struct {
	dir   *directory.Directory
	self  directory.Address
	slot  directory.Slot
	role  Role
	tr    transport.Transport
	strip led.Strip

	mu       sync.RWMutex
	acks     AckSink
	commands CommandSink
}

// New resolves the device's own slot and registers the receive path with tr.
// It fails with directory.ErrNotProvisioned when self is not in dir.
func New(dir *directory.Directory, self directory.Address, tr transport.Transport, strip led.Strip) (*Dispatcher, error) {
	slot, err := dir.ResolveOwnSlot(self)
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		dir:   dir,
		self:  self,
		slot:  slot,
		role:  RoleFor(slot),
		tr:    tr,
		strip: strip,
	}
	tr.SetReceiveHandler(d.OnReceive)
	slog.Info("mesh dispatcher ready", "slot", int(slot), "role", d.role.String(), "address", self.String(), "nodes", dir.Len())
	return d, nil
}

func (d *Dispatcher) Slot() directory.Slot           { return d.slot }
func (d *Dispatcher) Role() Role                     { return d.role }
func (d *Dispatcher) Self() directory.Address        { return d.self }
func (d *Dispatcher) Directory() *directory.Directory { return d.dir }

// SetAckSink installs the controller's ack log.
func (d *Dispatcher) SetAckSink(s AckSink) {
	d.mu.Lock()
	d.acks = s
	d.mu.Unlock()
}

// SetCommandSink installs the node's state machine.
func (d *Dispatcher) SetCommandSink(s CommandSink) {
	d.mu.Lock()
	d.commands = s
	d.mu.Unlock()
}

// Send encodes cmd for slot. directory.All broadcasts. On the controller,
// slot 0 is the device itself and the command is applied to the local strip
// without touching the transport.
func (d *Dispatcher) Send(slot directory.Slot, cmd codec.Command) error {
	if slot == directory.Controller && d.role == RoleController {
		d.applyLocal(cmd)
		return nil
	}
	addr, err := d.dir.AddressOf(slot)
	if err != nil {
		return fmt.Errorf("mesh: send %s: %w", cmd.Kind(), err)
	}
	return d.transmit(addr, cmd)
}

// Broadcast sends cmd to every slot.
func (d *Dispatcher) Broadcast(cmd codec.Command) error {
	return d.Send(directory.All, cmd)
}

// SendAck transmits the liveness acknowledgement for this node to slot 0.
func (d *Dispatcher) SendAck() error {
	if d.role != RoleNode {
		return ErrWrongRole
	}
	addr, err := d.dir.AddressOf(directory.Controller)
	if err != nil {
		return err
	}
	if err := d.tr.Send(addr, codec.EncodeAck(uint8(d.slot))); err != nil {
		metrics.SendErrorsTotal.Inc()
		slog.Warn("liveness ack send failed", "error", err)
		return wrapSend(err)
	}
	metrics.LivenessAcksTotal.WithLabelValues(metrics.AckSent).Inc()
	return nil
}

func (d *Dispatcher) transmit(addr directory.Address, cmd codec.Command) error {
	frame := codec.Encode(cmd)
	if err := d.tr.Send(addr, frame); err != nil {
		metrics.SendErrorsTotal.Inc()
		slog.Warn("frame send failed", "kind", cmd.Kind().String(), "dst", addr.String(), "error", err)
		return wrapSend(err)
	}
	metrics.FramesSentTotal.WithLabelValues(cmd.Kind().String()).Inc()
	slog.Debug("frame sent", "kind", cmd.Kind().String(), "dst", addr.String(), "bytes", len(frame))
	return nil
}

func wrapSend(err error) error {
	if errors.Is(err, transport.ErrSendFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", transport.ErrSendFailed, err)
}

func (d *Dispatcher) applyLocal(cmd codec.Command) {
	switch c := cmd.(type) {
	case codec.ClearStrip:
		led.Fill(d.strip, codec.Off)
	case codec.FillStrip:
		led.Fill(d.strip, c.Colour)
	default:
		return
	}
	metrics.LocalAppliesTotal.Inc()
}

// OnReceive is the transport receive handler.
func (d *Dispatcher) OnReceive(data []byte, src directory.Address) {
	if src == d.self {
		return
	}
	if d.role == RoleController {
		d.receiveController(data, src)
		return
	}
	d.receiveNode(data, src)
}

func (d *Dispatcher) receiveController(data []byte, src directory.Address) {
	if slot, ok := codec.ParseAck(data); ok {
		metrics.LivenessAcksTotal.WithLabelValues(metrics.AckReceived).Inc()
		d.mu.RLock()
		sink := d.acks
		d.mu.RUnlock()
		if sink != nil {
			sink.RecordAck(slot, src)
		}
		return
	}

	cmd, err := codec.Decode(data)
	if err != nil {
		d.dropped(err, src, len(data))
		return
	}
	metrics.FramesReceivedTotal.WithLabelValues(cmd.Kind().String()).Inc()
	slog.Debug("controller ignoring inbound command", "kind", cmd.Kind().String(), "src", src.String())
}

func (d *Dispatcher) receiveNode(data []byte, src directory.Address) {
	cmd, err := codec.Decode(data)
	if err != nil {
		d.dropped(err, src, len(data))
		return
	}
	metrics.FramesReceivedTotal.WithLabelValues(cmd.Kind().String()).Inc()

	d.mu.RLock()
	sink := d.commands
	d.mu.RUnlock()
	if sink == nil {
		return
	}
	if _, ok := cmd.(codec.PingRequest); ok {
		sink.SchedulePingReply()
		return
	}
	sink.Deliver(cmd)
}

func (d *Dispatcher) dropped(err error, src directory.Address, n int) {
	metrics.DecodeErrorsTotal.WithLabelValues(codec.Reason(err)).Inc()
	slog.Debug("dropping undecodable frame", "src", src.String(), "bytes", n, "error", err)
}
