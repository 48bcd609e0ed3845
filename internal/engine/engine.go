// Package engine runs patterns on the controller. Each tick it applies the
// latest activation request or steps one runner per node, and periodically
// broadcasts a liveness ping.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"firestige.xyz/lightmesh/internal/catalog"
	"firestige.xyz/lightmesh/internal/codec"
	"firestige.xyz/lightmesh/internal/directory"
	"firestige.xyz/lightmesh/internal/metrics"
)

var (
	ErrPatternOutOfRange = errors.New("pattern index out of range")
	ErrNoCatalog         = errors.New("pattern catalog is empty")
)

// Sender delivers commands to slots; directory.All broadcasts.
type Sender interface {
	Send(slot directory.Slot, cmd codec.Command) error
}

// Config holds the engine timing.
type Config struct {
	TicksPerSecond int
	PingEveryTicks int
	AckLog         AckLogConfig
}

// Runner is the execution state of one node within the active pattern.
type Runner struct {
	Slot      directory.Slot
	Colour    codec.Colour
	Countdown int
	Next      int
}

type activation struct {
	index   int
	running bool
}

// Engine is owned by the daemon; one per process.
type Engine struct {
	cat *catalog.Catalog
	out Sender
	cfg Config

	pendingMu sync.Mutex
	pending   *activation

	mu      sync.Mutex
	active  int
	running bool
	runners []Runner
	scan    int
	ticks   uint64

	acks *AckLog
}

// New creates a stopped engine over cat.
func New(cat *catalog.Catalog, out Sender, cfg Config) *Engine {
	if cat == nil {
		cat = catalog.Empty()
	}
	if cfg.TicksPerSecond < 1 {
		cfg.TicksPerSecond = 1
	}
	if cfg.PingEveryTicks < 1 {
		cfg.PingEveryTicks = 1
	}
	metrics.PatternActive.Set(-1)
	return &Engine{
		cat:    cat,
		out:    out,
		cfg:    cfg,
		active: -1,
		acks:   NewAckLog(cfg.AckLog),
	}
}

// Catalog returns the loaded catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.cat }

// RequestActivation queues an activation for the next tick. A later request
// replaces an unapplied one.
func (e *Engine) RequestActivation(index int, running bool) error {
	if running {
		if err := e.checkIndex(index); err != nil {
			return err
		}
	}
	e.pendingMu.Lock()
	e.pending = &activation{index: index, running: running}
	e.pendingMu.Unlock()
	slog.Info("pattern activation requested", "index", index, "running", running)
	return nil
}

// Stop queues a deactivation.
func (e *Engine) Stop() error {
	return e.RequestActivation(-1, false)
}

func (e *Engine) checkIndex(index int) error {
	if e.cat.Len() == 0 {
		return ErrNoCatalog
	}
	if index < 0 || index >= e.cat.Len() {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrPatternOutOfRange, index, e.cat.Len())
	}
	return nil
}

func (e *Engine) takePending() *activation {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	req := e.pending
	e.pending = nil
	return req
}

// Start resets every strip in the mesh. Nodes may still show the last colour
// of a previous run; call it once before the first Tick.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.send(directory.All, codec.ClearStrip{})
	e.send(directory.Controller, codec.ClearStrip{})
	slog.Info("engine started, cleared all nodes", "patterns", e.cat.Len())
}

// Tick advances the engine by one tick.
func (e *Engine) Tick() {
	metrics.EngineTicksTotal.Inc()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.ticks++

	if req := e.takePending(); req != nil {
		e.activate(*req)
	} else if e.running {
		e.step()
	}

	e.scan++
	if e.scan%e.cfg.PingEveryTicks == 0 {
		e.scan = 0
		e.send(directory.All, codec.PingRequest{})
	}
}

func (e *Engine) activate(req activation) {
	e.send(directory.All, codec.ClearStrip{})

	if req.running {
		if err := e.checkIndex(req.index); err != nil {
			slog.Warn("activation rejected", "index", req.index, "error", err)
			req.running = false
		}
	}
	if !req.running {
		e.send(directory.Controller, codec.ClearStrip{})
		e.running = false
		e.active = -1
		e.runners = nil
		metrics.PatternActive.Set(-1)
		slog.Info("pattern stopped")
		return
	}

	p, _ := e.cat.Get(req.index)
	nodes := p.NodeCount()
	phases := len(p.Phases)
	runners := make([]Runner, nodes)
	for i := range runners {
		a := p.Phases[0].Actions[i]
		runners[i] = Runner{
			Slot:      directory.Slot(i),
			Colour:    a.Colour,
			Countdown: a.Secs * e.cfg.TicksPerSecond,
			Next:      1 % phases,
		}
		e.apply(&runners[i])
	}

	e.active = req.index
	e.running = true
	e.runners = runners
	metrics.PatternActive.Set(float64(req.index))
	slog.Info("pattern activated", "index", req.index, "pattern", p.Name, "nodes", nodes, "phases", phases)
}

func (e *Engine) step() {
	p, ok := e.cat.Get(e.active)
	if !ok {
		return
	}
	phases := len(p.Phases)
	for i := range e.runners {
		r := &e.runners[i]
		r.Countdown--
		if r.Countdown > 0 {
			continue
		}
		a := p.Phases[r.Next].Actions[i]
		r.Colour = a.Colour
		r.Countdown = a.Secs * e.cfg.TicksPerSecond
		e.apply(r)
		r.Next = (r.Next + 1) % phases
	}
}

func (e *Engine) apply(r *Runner) {
	e.send(r.Slot, codec.NewFill(r.Colour))
}

func (e *Engine) send(slot directory.Slot, cmd codec.Command) {
	if err := e.out.Send(slot, cmd); err != nil {
		slog.Warn("engine send failed", "slot", int(slot), "kind", cmd.Kind().String(), "error", err)
	}
}

// RecordAck logs a liveness acknowledgement.
func (e *Engine) RecordAck(slot uint8, src directory.Address) {
	e.acks.Record(slot, src)
}

// Acks returns the unexpired liveness log ordered by slot.
func (e *Engine) Acks() []AckRecord {
	return e.acks.Snapshot()
}

// RunnerStatus is a runner snapshot for display.
type RunnerStatus struct {
	Slot      int    `json:"slot"`
	Colour    string `json:"colour"`
	Countdown int    `json:"countdown"`
	NextPhase int    `json:"next_phase"`
}

// Status is a point-in-time view of the engine.
type Status struct {
	Active   int            `json:"active"`
	Running  bool           `json:"running"`
	Pattern  string         `json:"pattern,omitempty"`
	Patterns int            `json:"patterns"`
	Ticks    uint64         `json:"ticks"`
	Runners  []RunnerStatus `json:"runners,omitempty"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		Active:   e.active,
		Running:  e.running,
		Patterns: e.cat.Len(),
		Ticks:    e.ticks,
	}
	if p, ok := e.cat.Get(e.active); ok && e.running {
		s.Pattern = p.Name
	}
	for _, r := range e.runners {
		s.Runners = append(s.Runners, RunnerStatus{
			Slot:      int(r.Slot),
			Colour:    r.Colour.String(),
			Countdown: r.Countdown,
			NextPhase: r.Next,
		})
	}
	return s
}
