package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneSlice(t *testing.T) {
	src := []float64{0.1, 0.2, 0.3}

	clone := CloneSlice(src, 0)
	assert.Equal(t, src, clone)

	clone[0] = 9
	assert.InDelta(t, 0.1, src[0], 0)

	assert.Equal(t, []float64{0.1, 0.2}, CloneSlice(src, 2))
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0}, CloneSlice(src, 4))
}

func TestRoundTo(t *testing.T) {
	assert.InDelta(t, 1.2346, RoundTo(1.23456, 4), 0)
	assert.InDelta(t, 1.1, RoundTo(1.1000000000000001, 6), 0)
	assert.InDelta(t, -0.52, RoundTo(-0.5249, 2), 1e-12)
	assert.InDelta(t, 2, RoundTo(1.6, -1), 0)
}

func TestClamp(t *testing.T) {
	assert.InDelta(t, 0.005, Clamp(0.05, 0, 0.005), 0)
	assert.InDelta(t, 0.002, Clamp(0, 0.002, 5.15), 0)
	assert.InDelta(t, 1.0, Clamp(1.0, 0, 5.15), 0)
}

func TestIsFinite(t *testing.T) {
	assert.True(t, IsFinite(0.02))
	assert.False(t, IsFinite(math.NaN()))
	assert.False(t, IsFinite(math.Inf(-1)))
}
