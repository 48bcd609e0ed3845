package transport

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"

	"firestige.xyz/lightmesh/internal/directory"
)

// Medium is an in-process shared channel. Endpoints attached to it exchange
// frames synchronously: Send returns after every recipient handler ran.
type Medium struct {
	broadcast directory.Address

	mu        sync.RWMutex
	endpoints map[directory.Address]*Endpoint
	loss      float64
	rng       *rand.Rand

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewMedium creates an empty medium. seed makes frame loss reproducible.
func NewMedium(broadcast directory.Address, seed uint64) *Medium {
	return &Medium{
		broadcast: broadcast,
		endpoints: make(map[directory.Address]*Endpoint),
		rng:       rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
	}
}

// SetLoss sets the probability in [0, 1] that a single delivery is dropped.
func (m *Medium) SetLoss(p float64) {
	m.mu.Lock()
	m.loss = min(max(p, 0), 1)
	m.mu.Unlock()
}

// Attach adds a device at addr. Attaching the same address twice replaces
// the previous endpoint.
func (m *Medium) Attach(addr directory.Address) *Endpoint {
	ep := &Endpoint{medium: m, addr: addr}
	m.mu.Lock()
	m.endpoints[addr] = ep
	m.mu.Unlock()
	return ep
}

// Stats returns delivered and dropped delivery counts.
func (m *Medium) Stats() (delivered, dropped uint64) {
	return m.delivered.Load(), m.dropped.Load()
}

func (m *Medium) detach(ep *Endpoint) {
	m.mu.Lock()
	if m.endpoints[ep.addr] == ep {
		delete(m.endpoints, ep.addr)
	}
	m.mu.Unlock()
}

func (m *Medium) transmit(src, dst directory.Address, data []byte) {
	m.mu.Lock()
	var targets []*Endpoint
	for addr, ep := range m.endpoints {
		if addr == src || !accepts(addr, m.broadcast, dst) {
			continue
		}
		targets = append(targets, ep)
	}
	// Address order keeps loss reproducible for a seed.
	slices.SortFunc(targets, func(a, b *Endpoint) int { return bytes.Compare(a.addr[:], b.addr[:]) })
	kept := targets[:0]
	for _, ep := range targets {
		if m.loss > 0 && m.rng.Float64() < m.loss {
			m.dropped.Add(1)
			continue
		}
		kept = append(kept, ep)
	}
	m.mu.Unlock()

	for _, ep := range kept {
		if ep.deliver(data, src) {
			m.delivered.Add(1)
		}
	}
}

// Endpoint is one device's Transport on a Medium.
type Endpoint struct {
	medium *Medium
	addr   directory.Address

	handler atomic.Pointer[ReceiveHandler]
	closed  atomic.Bool
}

// Address returns the endpoint's link address.
func (e *Endpoint) Address() directory.Address { return e.addr }

func (e *Endpoint) Send(dst directory.Address, data []byte) error {
	if e.closed.Load() {
		return fmt.Errorf("%w: %w", ErrSendFailed, ErrClosed)
	}
	e.medium.transmit(e.addr, dst, data)
	return nil
}

func (e *Endpoint) SetReceiveHandler(h ReceiveHandler) {
	e.handler.Store(&h)
}

func (e *Endpoint) Close() error {
	if e.closed.CompareAndSwap(false, true) {
		e.medium.detach(e)
	}
	return nil
}

func (e *Endpoint) deliver(data []byte, src directory.Address) bool {
	if e.closed.Load() {
		return false
	}
	h := e.handler.Load()
	if h == nil || *h == nil {
		return false
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	(*h)(frame, src)
	return true
}

var _ Transport = (*Endpoint)(nil)
