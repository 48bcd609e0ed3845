// Package led holds the strip contract the mesh drives and host renditions of it.
package led

import (
	"log/slog"
	"sync"

	"firestige.xyz/lightmesh/internal/codec"
)

// Strip is a physical LED strip: a pixel buffer filled with one colour and
// pushed to the hardware on Show.
type Strip interface {
	SetAll(c codec.Colour)
	Show()
}

// Fill sets every pixel of s to c and shows it.
func Fill(s Strip, c codec.Colour) {
	s.SetAll(c)
	s.Show()
}

// LogStrip stands in for hardware on a host by logging every shown colour.
type LogStrip struct {
	name    string
	mu      sync.Mutex
	pending codec.Colour
	shown   codec.Colour
}

// NewLogStrip creates a strip that logs under name.
func NewLogStrip(name string) *LogStrip {
	return &LogStrip{name: name}
}

func (s *LogStrip) SetAll(c codec.Colour) {
	s.mu.Lock()
	s.pending = c
	s.mu.Unlock()
}

func (s *LogStrip) Show() {
	s.mu.Lock()
	changed := s.pending != s.shown
	s.shown = s.pending
	c := s.shown
	s.mu.Unlock()

	if changed {
		slog.Info("strip colour", "strip", s.name, "colour", c.String())
	} else {
		slog.Debug("strip colour unchanged", "strip", s.name, "colour", c.String())
	}
}

// Colour returns the colour currently shown.
func (s *LogStrip) Colour() codec.Colour {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shown
}

// MemoryStrip records every shown colour. Safe for concurrent use.
type MemoryStrip struct {
	mu      sync.Mutex
	pending codec.Colour
	history []codec.Colour
}

// NewMemoryStrip creates an empty recording strip.
func NewMemoryStrip() *MemoryStrip {
	return &MemoryStrip{}
}

func (s *MemoryStrip) SetAll(c codec.Colour) {
	s.mu.Lock()
	s.pending = c
	s.mu.Unlock()
}

func (s *MemoryStrip) Show() {
	s.mu.Lock()
	s.history = append(s.history, s.pending)
	s.mu.Unlock()
}

// History returns a copy of every shown colour, oldest first.
func (s *MemoryStrip) History() []codec.Colour {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]codec.Colour, len(s.history))
	copy(out, s.history)
	return out
}

// Last returns the most recently shown colour.
func (s *MemoryStrip) Last() (codec.Colour, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return codec.Colour{}, false
	}
	return s.history[len(s.history)-1], true
}

// Reset forgets the recorded history.
func (s *MemoryStrip) Reset() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}
