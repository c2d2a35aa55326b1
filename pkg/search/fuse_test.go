package search

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSpansZeroToOne(t *testing.T) {
	out := Normalize([]float64{0.2, 0.8, 0.5})

	lo, hi := out[0], out[0]
	for _, v := range out {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	assert.InDelta(t, 0.0, lo, 1e-9)
	assert.InDelta(t, 1.0, hi, 1e-9)
	assert.InDelta(t, 0.5, out[2], 1e-9)
}

func TestNormalizeDegenerateSet(t *testing.T) {
	for _, scores := range [][]float64{
		{0.7, 0.7, 0.7},
		{0.0},
		{1.0, 1.0 + 1e-12},
	} {
		out := Normalize(scores)
		for _, v := range out {
			assert.Equal(t, 0.5, v)
		}
	}
}

func TestNormalizeEmpty(t *testing.T) {
	assert.Nil(t, Normalize(nil))
}

func TestFuseIsLinear(t *testing.T) {
	w := Weights{Alpha: 0.6, Beta: 0.4}
	assert.InDelta(t, 0.6*0.3+0.4*0.9, Fuse(w, 0.3, 0.9), 1e-9)
	assert.InDelta(t, 0.0, Fuse(w, 0, 0), 1e-9)
	assert.InDelta(t, 1.0, Fuse(w, 1, 1), 1e-9)
}
