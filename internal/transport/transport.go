// Package transport moves opaque frames between link addresses. Delivery is
// best effort: no acknowledgement, no retransmission, no ordering.
package transport

import (
	"errors"

	"firestige.xyz/lightmesh/internal/directory"
)

var (
	// ErrSendFailed wraps every transmit failure.
	ErrSendFailed = errors.New("transport: send failed")
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport: closed")
)

// ReceiveHandler is invoked for every inbound frame addressed to this device.
// It runs on the transport's receive goroutine and must not block.
type ReceiveHandler func(data []byte, src directory.Address)

// Transport is a best-effort link to the mesh.
type Transport interface {
	// Send transmits data to dst, which may be the broadcast address.
	Send(dst directory.Address, data []byte) error
	// SetReceiveHandler installs the inbound callback, replacing any previous one.
	SetReceiveHandler(h ReceiveHandler)
	Close() error
}

// LinkHeaderSize is the dst|src prefix carried by every emulated radio datagram.
const LinkHeaderSize = 2 * directory.AddressSize

// AppendLinkFrame appends the link header and payload to b.
func AppendLinkFrame(b []byte, dst, src directory.Address, payload []byte) []byte {
	b = append(b, dst[:]...)
	b = append(b, src[:]...)
	return append(b, payload...)
}

// ParseLinkFrame splits a datagram into its header addresses and payload.
// The payload aliases b.
func ParseLinkFrame(b []byte) (dst, src directory.Address, payload []byte, ok bool) {
	if len(b) < LinkHeaderSize {
		return dst, src, nil, false
	}
	copy(dst[:], b[:directory.AddressSize])
	copy(src[:], b[directory.AddressSize:LinkHeaderSize])
	return dst, src, b[LinkHeaderSize:], true
}

// accepts reports whether a datagram for dst is meant for self.
func accepts(self, broadcast, dst directory.Address) bool {
	return dst == self || dst == broadcast
}
