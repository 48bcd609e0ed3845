// Package directory maps logical node slots onto link addresses.
package directory

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// MaxNodes is the largest mesh: one controller plus sixteen nodes.
const MaxNodes = 17

// AddressSize is the length of a link address.
const AddressSize = 6

// Slot is a logical node identity. Slot 0 is the controller.
type Slot int

const (
	// Controller is the slot of the device driving patterns.
	Controller Slot = 0
	// All addresses every slot at once.
	All Slot = -1
)

var (
	// ErrNotProvisioned means the device's own address is not in the table.
	ErrNotProvisioned = errors.New("device not provisioned")
	// ErrUnknownSlot means a slot outside the table was requested.
	ErrUnknownSlot = errors.New("unknown slot")
)

// Address is a six byte link address.
type Address [AddressSize]byte

// BroadcastAddress reaches every device on the link.
var BroadcastAddress = Address{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// ParseAddress parses the colon separated form "AA:BB:CC:DD:EE:FF".
func ParseAddress(s string) (Address, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(hw) != AddressSize {
		return Address{}, fmt.Errorf("invalid address %q: want %d bytes, got %d", s, AddressSize, len(hw))
	}
	var a Address
	copy(a[:], hw)
	return a, nil
}

func (a Address) String() string {
	return net.HardwareAddr(a[:]).String()
}

// Directory is the fixed slot table. It is never mutated after New.
type Directory struct {
	addrs     []Address
	broadcast Address
}

// New builds a directory from an ordered address table.
func New(addrs []Address, broadcast Address) (*Directory, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("directory: at least one address is required")
	}
	if len(addrs) > MaxNodes {
		return nil, fmt.Errorf("directory: %d addresses exceeds maximum %d", len(addrs), MaxNodes)
	}
	seen := make(map[Address]Slot, len(addrs))
	for i, a := range addrs {
		if a == broadcast {
			return nil, fmt.Errorf("directory: slot %d uses the broadcast address", i)
		}
		if prev, ok := seen[a]; ok {
			return nil, fmt.Errorf("directory: address %s used by slots %d and %d", a, prev, i)
		}
		seen[a] = Slot(i)
	}
	table := make([]Address, len(addrs))
	copy(table, addrs)
	return &Directory{addrs: table, broadcast: broadcast}, nil
}

// Parse builds a directory from textual addresses.
func Parse(addrs []string, broadcast string) (*Directory, error) {
	table := make([]Address, 0, len(addrs))
	for i, s := range addrs {
		a, err := ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("directory: slot %d: %w", i, err)
		}
		table = append(table, a)
	}
	bcast := BroadcastAddress
	if broadcast != "" {
		a, err := ParseAddress(broadcast)
		if err != nil {
			return nil, fmt.Errorf("directory: broadcast: %w", err)
		}
		bcast = a
	}
	return New(table, bcast)
}

// ResolveOwnSlot finds the slot whose address equals self.
func (d *Directory) ResolveOwnSlot(self Address) (Slot, error) {
	for i, a := range d.addrs {
		if a == self {
			return Slot(i), nil
		}
	}
	return 0, fmt.Errorf("%w: address %s is not in the mesh table", ErrNotProvisioned, self)
}

// SlotOf is the reverse lookup used to attribute inbound traffic.
func (d *Directory) SlotOf(addr Address) (Slot, bool) {
	for i, a := range d.addrs {
		if a == addr {
			return Slot(i), true
		}
	}
	return 0, false
}

// AddressOf returns the address of slot, or the broadcast address for All.
func (d *Directory) AddressOf(slot Slot) (Address, error) {
	if slot == All {
		return d.broadcast, nil
	}
	if slot < 0 || int(slot) >= len(d.addrs) {
		return Address{}, fmt.Errorf("%w: %d (table has %d)", ErrUnknownSlot, slot, len(d.addrs))
	}
	return d.addrs[slot], nil
}

// Broadcast returns the broadcast address.
func (d *Directory) Broadcast() Address { return d.broadcast }

// Len returns the number of slots.
func (d *Directory) Len() int { return len(d.addrs) }

// Addresses returns a copy of the table in slot order.
func (d *Directory) Addresses() []Address {
	out := make([]Address, len(d.addrs))
	copy(out, d.addrs)
	return out
}
