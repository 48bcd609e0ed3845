package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"firestige.xyz/lightmesh/internal/directory"
)

// DefaultGroup is the multicast group the radio emulation uses.
const DefaultGroup = "239.77.77.77:4777"

const maxDatagram = 1500

// Read error backoff bounds.
const (
	minReadBackoff = 10 * time.Millisecond
	maxReadBackoff = time.Second
)

// packetReader is the receive side of *ipv4.PacketConn.
type packetReader interface {
	ReadFrom(b []byte) (n int, cm *ipv4.ControlMessage, src net.Addr, err error)
}

// UDPConfig configures the multicast radio emulation.
type UDPConfig struct {
	Group     string // host:port of the IPv4 multicast group
	Interface string // empty selects the system default
	TTL       int
	Loopback  bool // required when several devices share one host
	Broadcast directory.Address
}

// UDP emulates a shared radio channel over an IPv4 multicast group. Every
// datagram carries a dst|src link header; receivers keep only datagrams
// addressed to themselves or to the broadcast address.
type UDP struct {
	self      directory.Address
	broadcast directory.Address
	group     *net.UDPAddr

	conn   net.PacketConn
	pc     *ipv4.PacketConn
	ifi    *net.Interface // nil selects the system default
	reader packetReader
	done   chan struct{}

	handler atomic.Pointer[ReceiveHandler]
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// NewUDP joins the group and starts the receive loop.
func NewUDP(self directory.Address, cfg UDPConfig) (*UDP, error) {
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	group, err := net.ResolveUDPAddr("udp4", cfg.Group)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve group %q: %w", cfg.Group, err)
	}
	if !group.IP.IsMulticast() {
		return nil, fmt.Errorf("transport: %s is not a multicast address", group.IP)
	}

	var ifi *net.Interface
	if cfg.Interface != "" {
		ifi, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("transport: interface %q: %w", cfg.Interface, err)
		}
	}

	lc := net.ListenConfig{Control: reuseAddr}
	conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", group.Port))
	if err != nil {
		return nil, fmt.Errorf("transport: listen on port %d: %w", group.Port, err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: group.IP}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: join group %s: %w", group.IP, err)
	}
	if ifi != nil {
		if err := pc.SetMulticastInterface(ifi); err != nil {
			conn.Close()
			return nil, fmt.Errorf("transport: set multicast interface: %w", err)
		}
	}
	if err := pc.SetMulticastLoopback(cfg.Loopback); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: set multicast loopback: %w", err)
	}
	if cfg.TTL > 0 {
		if err := pc.SetMulticastTTL(cfg.TTL); err != nil {
			conn.Close()
			return nil, fmt.Errorf("transport: set multicast ttl: %w", err)
		}
	}

	u := &UDP{
		self:      self,
		broadcast: cfg.Broadcast,
		group:     group,
		conn:      conn,
		pc:        pc,
		ifi:       ifi,
		reader:    pc,
		done:      make(chan struct{}),
	}
	u.wg.Add(1)
	go u.readLoop()

	slog.Info("udp radio transport started", "group", group.String(), "self", self.String(), "loopback", cfg.Loopback)
	return u, nil
}

func (u *UDP) Send(dst directory.Address, data []byte) error {
	if u.closed.Load() {
		return fmt.Errorf("%w: %w", ErrSendFailed, ErrClosed)
	}
	buf := AppendLinkFrame(make([]byte, 0, LinkHeaderSize+len(data)), dst, u.self, data)
	if _, err := u.pc.WriteTo(buf, nil, u.group); err != nil {
		return fmt.Errorf("%w: to %s: %w", ErrSendFailed, dst, err)
	}
	return nil
}

func (u *UDP) SetReceiveHandler(h ReceiveHandler) {
	u.handler.Store(&h)
}

func (u *UDP) Close() error {
	if !u.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(u.done)
	if err := u.pc.LeaveGroup(u.ifi, &net.UDPAddr{IP: u.group.IP}); err != nil {
		slog.Debug("udp radio leave group failed", "error", err)
	}
	err := u.conn.Close()
	u.wg.Wait()
	return err
}

func (u *UDP) readLoop() {
	defer u.wg.Done()

	buf := make([]byte, maxDatagram)
	backoff := minReadBackoff
	for {
		n, _, _, err := u.reader.ReadFrom(buf)
		if err != nil {
			if u.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("udp radio read failed", "error", err, "retry_in", backoff)
			select {
			case <-u.done:
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxReadBackoff)
			continue
		}
		backoff = minReadBackoff

		dst, src, payload, ok := ParseLinkFrame(buf[:n])
		if !ok || !accepts(u.self, u.broadcast, dst) {
			continue
		}
		h := u.handler.Load()
		if h == nil || *h == nil {
			continue
		}
		data := make([]byte, len(payload))
		copy(data, payload)
		(*h)(data, src)
	}
}

var _ Transport = (*UDP)(nil)
