package simulate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/lightmesh/internal/catalog"
	"firestige.xyz/lightmesh/internal/codec"
)

const twoNodeJSON = `{
  "Alternate": {
    "duration": 4,
    "phases": [
      {"phase": 0, "nodes": [{"node": 1, "color": "red", "secs": 1}, {"node": 2, "color": "green", "secs": 2}]},
      {"phase": 1, "nodes": [{"node": 1, "color": "blue", "secs": 1}, {"node": 2, "color": "yellow", "secs": 1}]}
    ]
  }
}`

func colour(t *testing.T, name string) codec.Colour {
	t.Helper()
	c, ok := catalog.ColourByName(name)
	require.True(t, ok, name)
	return c
}

func baseConfig(t *testing.T) Config {
	t.Helper()
	cat, err := catalog.Parse([]byte(twoNodeJSON))
	require.NoError(t, err)
	return Config{
		Devices:         2,
		Catalog:         cat,
		Ticks:           35,
		TicksPerSecond:  10,
		PingEveryTicks:  5,
		InactivityTicks: 1000,
		Seed:            1,
	}
}

func TestRunSteppingAcrossTheMesh(t *testing.T) {
	report, err := Run(context.Background(), baseConfig(t))
	require.NoError(t, err)
	require.Len(t, report.Devices, 2)

	assert.Equal(t, "Alternate", report.Pattern)
	assert.Equal(t, []Change{
		{0, colour(t, "red")}, {10, colour(t, "blue")}, {20, colour(t, "red")}, {30, colour(t, "blue")},
	}, report.Devices[0].Changes)
	assert.Equal(t, []Change{
		{0, colour(t, "green")}, {20, colour(t, "yellow")}, {30, colour(t, "green")},
	}, report.Devices[1].Changes)

	assert.Equal(t, "controller", report.Devices[0].Role)
	assert.Equal(t, "node", report.Devices[1].Role)
	// Pings at ticks 4, 9, ... 34.
	assert.Equal(t, uint64(7), report.Devices[1].AcksSent)
	require.Len(t, report.Acks, 1)
	assert.Equal(t, 1, report.Acks[0].Slot)
	assert.Zero(t, report.Dropped)
}

func TestRunTotalLossFallsBack(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Loss = 1
	cfg.InactivityTicks = 10

	report, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Zero(t, report.Delivered)
	assert.NotZero(t, report.Dropped)
	assert.Equal(t, []Change{{10, codec.Off}}, report.Devices[1].Changes)
	assert.Len(t, report.Devices[0].Changes, 4, "controller drives its own strip without the radio")
	assert.Empty(t, report.Acks)
}

func TestRunIsReproducible(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Devices = 5
	cfg.Loss = 0.3
	cfg.Seed = 7

	a, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	b, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, a.Devices, b.Devices)
	assert.Equal(t, a.Dropped, b.Dropped)
	assert.Equal(t, a.Delivered, b.Delivered)
}

func TestRunValidation(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Devices = 0
	_, err := Run(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrBadSize)

	cfg = baseConfig(t)
	cfg.Pattern = 3
	_, err = Run(context.Background(), cfg)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, baseConfig(t))
	assert.ErrorIs(t, err, context.Canceled)
}
