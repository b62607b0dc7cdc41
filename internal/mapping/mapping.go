// Package mapping converts raw axis samples into output volumes.
package mapping

// Volume maps a raw axis sample onto the configured volume range.
//
// axisMin corresponds to volMin and axisMax to volMax, whichever of each pair
// is numerically larger. Samples outside the axis range are clamped, never
// extrapolated. The result always lies within both [volMin, volMax] (in
// either order) and [0, 1].
//
// Volume has no failure mode: ranges are validated when a binding is created.
// A degenerate axis range (axisMin == axisMax) yields volMin.
func Volume(raw, axisMin, axisMax int32, volMin, volMax float64) float64 {
	t := Position(raw, axisMin, axisMax)

	var v float64
	switch {
	case t <= 0:
		v = volMin
	case t >= 1:
		v = volMax
	default:
		v = volMin + t*(volMax-volMin)
	}

	lo, hi := volMin, volMax
	if lo > hi {
		lo, hi = hi, lo
	}
	v = clamp(v, lo, hi)
	return clamp(v, 0, 1)
}

// Position returns where raw lies between axisMin (0) and axisMax (1),
// clamped to [0, 1]. The direction follows the configured bounds, so an
// inverted axis range (axisMax < axisMin) still maps axisMin to 0.
func Position(raw, axisMin, axisMax int32) float64 {
	if axisMin == axisMax {
		return 0
	}

	lo, hi := axisMin, axisMax
	if lo > hi {
		lo, hi = hi, lo
	}

	// int64 keeps hi-lo from overflowing for the full int32 range.
	t := float64(int64(raw)-int64(lo)) / float64(int64(hi)-int64(lo))
	t = clamp(t, 0, 1)

	if axisMax < axisMin {
		t = 1 - t
	}
	return t
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
