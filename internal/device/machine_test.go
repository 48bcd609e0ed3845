package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/lightmesh/internal/codec"
	"firestige.xyz/lightmesh/internal/led"
)

type countingAcks struct {
	n   int
	err error
}

func (c *countingAcks) SendAck() error {
	c.n++
	return c.err
}

func newMachine(inactivity int) (*Machine, *led.MemoryStrip, *countingAcks) {
	strip := led.NewMemoryStrip()
	acks := &countingAcks{}
	return New(strip, acks, Config{InactivityTicks: inactivity}), strip, acks
}

func TestAppliesCommandsOnTick(t *testing.T) {
	m, strip, _ := newMachine(100)
	red := codec.Colour{R: 0xFF}

	m.Deliver(codec.FillStrip{Colour: red})
	assert.Empty(t, strip.History(), "nothing is applied before the tick")
	m.Tick()
	assert.Equal(t, []codec.Colour{red}, strip.History())

	m.Deliver(codec.ClearStrip{})
	m.Tick()
	assert.Equal(t, []codec.Colour{red, codec.Off}, strip.History())

	m.Tick()
	assert.Len(t, strip.History(), 2, "empty mailbox applies nothing")
}

func TestLatestCommandOverwritesUnread(t *testing.T) {
	m, strip, _ := newMachine(100)
	blue := codec.Colour{B: 0xFF}

	m.Deliver(codec.FillStrip{Colour: codec.Colour{R: 1}})
	m.Deliver(codec.ClearStrip{})
	m.Deliver(codec.FillStrip{Colour: blue})
	m.Tick()

	assert.Equal(t, []codec.Colour{blue}, strip.History())
	assert.Equal(t, uint64(2), m.Status().Overwrites)
}

func TestReservedCommandsAreNoOps(t *testing.T) {
	m, strip, _ := newMachine(3)
	for _, cmd := range []codec.Command{codec.RestartNode{}, codec.PerformPattern{}, codec.PerformSelfComplete{}} {
		m.Deliver(cmd)
		m.Tick()
	}
	assert.Empty(t, strip.History())
	assert.Equal(t, uint64(3), m.Status().Applied)
	assert.Equal(t, 0, m.Status().IdleTicks, "reserved commands still count as activity")
}

func TestInactivityFallback(t *testing.T) {
	m, strip, _ := newMachine(5)

	for i := 1; i <= 5; i++ {
		m.Tick()
	}
	assert.Empty(t, strip.History(), "reaching the threshold is still within the limit")
	assert.Equal(t, 5, m.Status().IdleTicks)

	m.Tick()
	assert.Equal(t, []codec.Colour{codec.Off}, strip.History(), "fires once on exceeding the threshold")
	assert.Equal(t, 0, m.Status().IdleTicks)

	for i := 1; i <= 5; i++ {
		m.Tick()
	}
	assert.Len(t, strip.History(), 1, "counter restarts from zero")
	m.Tick()
	assert.Len(t, strip.History(), 2)
	assert.Equal(t, uint64(2), m.Status().Fallbacks)
}

func TestCommandResetsInactivity(t *testing.T) {
	m, strip, _ := newMachine(5)
	green := codec.Colour{G: 0x80}

	for i := 0; i < 4; i++ {
		m.Tick()
	}
	m.Deliver(codec.FillStrip{Colour: green})
	m.Tick()
	for i := 0; i < 5; i++ {
		m.Tick()
	}
	assert.Equal(t, []codec.Colour{green}, strip.History())
	m.Tick()
	assert.Equal(t, []codec.Colour{green, codec.Off}, strip.History())
}

func TestPingReply(t *testing.T) {
	m, _, acks := newMachine(100)

	m.LivenessTick()
	assert.Zero(t, acks.n, "no ack owed")

	m.SchedulePingReply()
	m.SchedulePingReply()
	assert.True(t, m.Status().PingPending)
	m.LivenessTick()
	m.LivenessTick()
	assert.Equal(t, 1, acks.n)
	assert.Equal(t, uint64(1), m.Status().AcksSent)
	assert.False(t, m.Status().PingPending)
}

func TestPingReplyFailureIsNotRetried(t *testing.T) {
	m, _, acks := newMachine(100)
	acks.err = errors.New("radio down")

	m.SchedulePingReply()
	m.LivenessTick()
	m.LivenessTick()
	require.Equal(t, 1, acks.n)
	assert.Zero(t, m.Status().AcksSent)
}
