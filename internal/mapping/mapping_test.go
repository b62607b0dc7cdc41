package mapping

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVolume_FullSignedRange(t *testing.T) {
	assert.Equal(t, 0.0, Volume(-32768, -32768, 32767, 0, 1))
	assert.Equal(t, 1.0, Volume(32767, -32768, 32767, 0, 1))
	assert.InDelta(t, 0.5, Volume(0, -32768, 32767, 0, 1), 0.001)
}

func TestVolume_InvertedVolumeRange(t *testing.T) {
	assert.Equal(t, 1.0, Volume(-32768, -32768, 32767, 1, 0))
	assert.Equal(t, 0.0, Volume(32767, -32768, 32767, 1, 0))
	assert.InDelta(t, 0.5, Volume(0, -32768, 32767, 1, 0), 0.001)
}

func TestVolume_InvertedAxisRange(t *testing.T) {
	// axisMin is numerically larger: axisMin must still map to volMin.
	assert.Equal(t, 0.2, Volume(1000, 1000, 0, 0.2, 0.8))
	assert.Equal(t, 0.8, Volume(0, 1000, 0, 0.2, 0.8))
	assert.InDelta(t, 0.35, Volume(750, 1000, 0, 0.2, 0.8), 1e-9)
}

func TestVolume_BoundaryExactness(t *testing.T) {
	cases := []struct {
		name             string
		axisMin, axisMax int32
		volMin, volMax   float64
	}{
		{"unit", 0, 255, 0, 1},
		{"partial", 0, 1023, 0.1, 0.7},
		{"inverted volume", -512, 511, 0.9, 0.3},
		{"inverted axis", 65535, 0, 0.15, 0.85},
		{"both inverted", 200, -200, 0.6, 0.05},
		{"narrow", 10, 11, 0.33, 0.34},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.volMin, Volume(tc.axisMin, tc.axisMin, tc.axisMax, tc.volMin, tc.volMax))
			assert.Equal(t, tc.volMax, Volume(tc.axisMax, tc.axisMin, tc.axisMax, tc.volMin, tc.volMax))
		})
	}
}

func TestVolume_ClampsOutOfRangeSamples(t *testing.T) {
	lo, hi := int32(-100), int32(100)
	atLo := Volume(lo, lo, hi, 0.25, 0.75)
	atHi := Volume(hi, lo, hi, 0.25, 0.75)

	for _, raw := range []int32{-101, -1000, math.MinInt32} {
		assert.Equal(t, atLo, Volume(raw, lo, hi, 0.25, 0.75), "raw=%d", raw)
	}
	for _, raw := range []int32{101, 1000, math.MaxInt32} {
		assert.Equal(t, atHi, Volume(raw, lo, hi, 0.25, 0.75), "raw=%d", raw)
	}

	// Inverted axis clamps against the numeric bounds, not the configured order.
	assert.Equal(t, Volume(100, 100, -100, 0, 1), Volume(5000, 100, -100, 0, 1))
	assert.Equal(t, Volume(-100, 100, -100, 0, 1), Volume(-5000, 100, -100, 0, 1))
}

func TestVolume_Monotonic(t *testing.T) {
	cases := []struct {
		name             string
		axisMin, axisMax int32
		volMin, volMax   float64
	}{
		{"rising", -32768, 32767, 0, 1},
		{"falling volume", -32768, 32767, 1, 0},
		{"falling axis", 32767, -32768, 0, 1},
		{"both falling", 1023, 0, 0.9, 0.1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lo, hi := tc.axisMin, tc.axisMax
			if lo > hi {
				lo, hi = hi, lo
			}
			// Walking raw upward moves from one bound toward the other.
			// Rising iff (volMax-volMin) and (axisMax-axisMin) share a sign.
			rising := (tc.volMax-tc.volMin > 0) == (tc.axisMax > tc.axisMin)

			step := (int64(hi) - int64(lo)) / 997
			if step == 0 {
				step = 1
			}
			prev := Volume(lo, tc.axisMin, tc.axisMax, tc.volMin, tc.volMax)
			for raw := int64(lo) + step; raw <= int64(hi); raw += step {
				v := Volume(int32(raw), tc.axisMin, tc.axisMax, tc.volMin, tc.volMax)
				if rising {
					assert.GreaterOrEqual(t, v, prev, "raw=%d", raw)
				} else {
					assert.LessOrEqual(t, v, prev, "raw=%d", raw)
				}
				prev = v
			}
		})
	}
}

func TestVolume_StaysWithinUnitAndVolumeRange(t *testing.T) {
	for raw := int32(-300); raw <= 300; raw += 7 {
		v := Volume(raw, -256, 255, 0.8, 0.2)
		assert.GreaterOrEqual(t, v, 0.2)
		assert.LessOrEqual(t, v, 0.8)
	}
}

func TestPosition_DegenerateRange(t *testing.T) {
	assert.Equal(t, 0.0, Position(42, 7, 7))
	assert.Equal(t, 0.5, Volume(42, 7, 7, 0.5, 0.9))
}
