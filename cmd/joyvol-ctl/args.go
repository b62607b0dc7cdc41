package main

import (
	"fmt"
	"strconv"
	"strings"

	"joyvol/internal/binding"
)

// parseBinding reads the seven positional fields of a binding:
//
//	<device> <axis> <axis-min> <axis-max> <vol-min> <vol-max> <target>
//
// Volumes are fractions in [0,1] or percentages with a trailing '%'.
// The result is validated locally so obvious mistakes never reach the daemon.
func parseBinding(args []string) (binding.Binding, error) {
	if len(args) != 7 {
		return binding.Binding{}, fmt.Errorf("expected 7 arguments (device axis axis-min axis-max vol-min vol-max target), got %d", len(args))
	}

	axis, err := binding.ParseAxis(args[1])
	if err != nil {
		return binding.Binding{}, err
	}
	amin, err := parseInt32(args[2], "axis-min")
	if err != nil {
		return binding.Binding{}, err
	}
	amax, err := parseInt32(args[3], "axis-max")
	if err != nil {
		return binding.Binding{}, err
	}
	vmin, err := parseVolume(args[4], "vol-min")
	if err != nil {
		return binding.Binding{}, err
	}
	vmax, err := parseVolume(args[5], "vol-max")
	if err != nil {
		return binding.Binding{}, err
	}

	b := binding.Binding{
		DeviceRef: args[0],
		Axis:      axis,
		AxisMin:   amin,
		AxisMax:   amax,
		VolMin:    vmin,
		VolMax:    vmax,
		TargetRef: args[6],
	}
	if err := b.Validate(); err != nil {
		return binding.Binding{}, err
	}
	return b, nil
}

func parseInt32(s, name string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return int32(v), nil
}

func parseVolume(s, name string) (float64, error) {
	scale := 1.0
	if p, ok := strings.CutSuffix(s, "%"); ok {
		s, scale = p, 100
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return v / scale, nil
}

func parseIndex(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid index %q: must be a non-negative integer", s)
	}
	return i, nil
}
