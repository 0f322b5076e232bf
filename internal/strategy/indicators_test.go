package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}

	got := SMA(values, 3)
	require.Len(t, got, 5)
	assert.Zero(t, got[0])
	assert.Zero(t, got[1])
	assert.InDelta(t, 2, got[2], 1e-9)
	assert.InDelta(t, 3, got[3], 1e-9)
	assert.InDelta(t, 4, got[4], 1e-9)
}

func TestSMAShortInput(t *testing.T) {
	got := SMA([]float64{1, 2}, 3)
	assert.Equal(t, []float64{0, 0}, got)

	got = SMA([]float64{1, 2, 3}, 0)
	assert.Equal(t, []float64{0, 0, 0}, got)
}

func TestRSI(t *testing.T) {
	// Deltas: +1, -1, +1. Seed over the first two: gain 0.5, loss 0.5.
	values := []float64{10, 11, 10, 11}

	got := RSI(values, 2)
	require.Len(t, got, 4)
	assert.Zero(t, got[0])
	assert.Zero(t, got[1])
	assert.InDelta(t, 50, got[2], 1e-9)
	// Wilder fold: gain (0.5+1)/2, loss 0.5/2, rs=3.
	assert.InDelta(t, 75, got[3], 1e-9)
}

func TestRSIExtremes(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5}
	got := RSI(rising, 3)
	assert.InDelta(t, 100, got[3], 1e-9)
	assert.InDelta(t, 100, got[4], 1e-9)

	falling := []float64{5, 4, 3, 2, 1}
	got = RSI(falling, 3)
	assert.InDelta(t, 0, got[3], 1e-9)
	assert.InDelta(t, 0, got[4], 1e-9)
}

func TestRSIShortInput(t *testing.T) {
	got := RSI([]float64{1, 2, 3}, 3)
	assert.Equal(t, []float64{0, 0, 0}, got)
}
