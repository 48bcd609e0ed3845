// Package inspect decodes captured mesh traffic offline.
package inspect

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/lightmesh/internal/codec"
	"firestige.xyz/lightmesh/internal/directory"
	"firestige.xyz/lightmesh/internal/transport"
)

// DefaultPort is the UDP port of transport.DefaultGroup.
const DefaultPort = 4777

// ErrNoLinkHeader is returned for datagrams shorter than the link header.
var ErrNoLinkHeader = errors.New("inspect: datagram shorter than link header")

// Record is one decoded mesh frame.
type Record struct {
	Index     int
	Timestamp time.Time
	HasLink   bool
	Dst       directory.Address
	Src       directory.Address
	Raw       []byte

	Ack     bool
	AckSlot uint8
	Nonce   uint16
	Command codec.Command
	Err     error
}

// String renders r on one line.
func (r Record) String() string {
	var b strings.Builder
	if !r.Timestamp.IsZero() {
		b.WriteString(r.Timestamp.Format("15:04:05.000000 "))
	}
	if r.HasLink {
		dst := r.Dst.String()
		if r.Dst == directory.BroadcastAddress {
			dst = "broadcast"
		}
		fmt.Fprintf(&b, "%s > %s ", r.Src, dst)
	}
	switch {
	case r.Err != nil:
		fmt.Fprintf(&b, "invalid (%s): %v [% x]", codec.Reason(r.Err), r.Err, r.Raw)
	case r.Ack:
		fmt.Fprintf(&b, "ack slot=%d", r.AckSlot)
	default:
		fmt.Fprintf(&b, "%s nonce=0x%04x %+v", r.Command.Kind(), r.Nonce, r.Command)
	}
	return b.String()
}

// DecodeFrame decodes a mesh frame or liveness ack without link header.
func DecodeFrame(data []byte) Record {
	r := Record{Raw: append([]byte(nil), data...)}
	if slot, ok := codec.ParseAck(data); ok {
		r.Ack, r.AckSlot = true, slot
		return r
	}
	if len(data) >= codec.NonceSize {
		r.Nonce = binary.BigEndian.Uint16(data)
	}
	r.Command, r.Err = codec.Decode(data)
	return r
}

// DecodeDatagram decodes one radio emulation datagram: link header followed
// by a frame.
func DecodeDatagram(data []byte) (Record, error) {
	dst, src, payload, ok := transport.ParseLinkFrame(data)
	if !ok {
		return Record{}, ErrNoLinkHeader
	}
	r := DecodeFrame(payload)
	r.HasLink, r.Dst, r.Src = true, dst, src
	return r, nil
}

// DecodeHex decodes a hex dump of one frame. Spaces, colons and a 0x
// prefix are ignored. With link set the dump starts with the link header.
func DecodeHex(s string, link bool) (Record, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return Record{}, fmt.Errorf("inspect: bad hex: %w", err)
	}
	if link {
		return DecodeDatagram(data)
	}
	return DecodeFrame(data), nil
}

// Options filter a capture.
type Options struct {
	// Port selects UDP datagrams to or from this port. Zero keeps all.
	Port uint16
}

// Summary counts what ReadPcap saw.
type Summary struct {
	Packets   int
	Datagrams int
	Frames    int
	Acks      int
	Invalid   int
}

// ReadPcap decodes every mesh datagram in a pcap stream and calls fn for
// each one in capture order.
func ReadPcap(r io.Reader, opts Options, fn func(Record)) (Summary, error) {
	var sum Summary

	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return sum, fmt.Errorf("inspect: read pcap header: %w", err)
	}

	var first gopacket.LayerType
	switch reader.LinkType() {
	case layers.LinkTypeEthernet:
		first = layers.LayerTypeEthernet
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		first = layers.LayerTypeIPv4
	case layers.LinkTypeLinuxSLL:
		first = layers.LayerTypeLinuxSLL
	default:
		return sum, fmt.Errorf("inspect: unsupported link type %s", reader.LinkType())
	}

	var (
		eth     layers.Ethernet
		sll     layers.LinuxSLL
		ip4     layers.IPv4
		udp     layers.UDP
		payload gopacket.Payload
		decoded []gopacket.LayerType
	)
	parser := gopacket.NewDecodingLayerParser(first, &eth, &sll, &ip4, &udp, &payload)
	parser.IgnoreUnsupported = true

	for {
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return sum, nil
		}
		if err != nil {
			return sum, fmt.Errorf("inspect: read packet %d: %w", sum.Packets+1, err)
		}
		sum.Packets++

		decoded = decoded[:0]
		if err := parser.DecodeLayers(data, &decoded); err != nil {
			continue
		}
		if !hasLayer(decoded, layers.LayerTypeUDP) {
			continue
		}
		if opts.Port != 0 && uint16(udp.DstPort) != opts.Port && uint16(udp.SrcPort) != opts.Port {
			continue
		}
		sum.Datagrams++

		rec, err := DecodeDatagram(udp.Payload)
		if err != nil {
			sum.Invalid++
			continue
		}
		rec.Index = sum.Packets
		rec.Timestamp = ci.Timestamp
		switch {
		case rec.Err != nil:
			sum.Invalid++
		case rec.Ack:
			sum.Acks++
		default:
			sum.Frames++
		}
		if fn != nil {
			fn(rec)
		}
	}
}

func hasLayer(decoded []gopacket.LayerType, t gopacket.LayerType) bool {
	for _, d := range decoded {
		if d == t {
			return true
		}
	}
	return false
}
