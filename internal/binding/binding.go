// Package binding holds the axis-to-volume bindings the daemon polls.
//
// A Binding is a plain value: once accepted by a Store it is never mutated,
// only replaced as a whole. Range invariants are enforced in Validate and
// nowhere else.
package binding

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Binding errors.
var (
	ErrInvalidRange       = errors.New("invalid range")
	ErrUnknownAxis        = errors.New("unknown axis")
	ErrIndexOutOfRange    = errors.New("binding index out of range")
	ErrPersistenceCorrupt = errors.New("persisted binding is corrupt")
)

// Axis identifies one of the eight analog channels a controller reports.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
	AxisRx
	AxisRy
	AxisRz
	AxisSlider0
	AxisSlider1

	// NumAxes is the number of channels in a device sample.
	NumAxes = 8
)

var axisNames = [NumAxes]string{"X", "Y", "Z", "Rx", "Ry", "Rz", "Slider0", "Slider1"}

// Axes returns every channel in sample order.
func Axes() []Axis {
	return []Axis{AxisX, AxisY, AxisZ, AxisRx, AxisRy, AxisRz, AxisSlider0, AxisSlider1}
}

// Valid reports whether a is one of the eight known channels.
func (a Axis) Valid() bool { return a >= 0 && a < NumAxes }

func (a Axis) String() string {
	if !a.Valid() {
		return fmt.Sprintf("Axis(%d)", int(a))
	}
	return axisNames[a]
}

// ParseAxis parses a channel name. Matching is case-insensitive.
func ParseAxis(s string) (Axis, error) {
	for i, name := range axisNames {
		if strings.EqualFold(s, name) {
			return Axis(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q (must be one of %s)", ErrUnknownAxis, s, strings.Join(axisNames[:], ", "))
}

// MarshalText encodes the axis by name (used by both JSON and YAML).
func (a Axis) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAxis, int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText decodes an axis name.
func (a *Axis) UnmarshalText(b []byte) error {
	v, err := ParseAxis(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Binding maps one device axis range onto one audio target's volume range.
//
// DeviceRef and TargetRef are opaque stable identifiers, resolved each time
// they are used; they are never positions in an enumerated list.
type Binding struct {
	DeviceRef string  `json:"device" yaml:"device"`
	Axis      Axis    `json:"axis" yaml:"axis"`
	AxisMin   int32   `json:"axis_min" yaml:"axis_min"`
	AxisMax   int32   `json:"axis_max" yaml:"axis_max"`
	VolMin    float64 `json:"vol_min" yaml:"vol_min"`
	VolMax    float64 `json:"vol_max" yaml:"vol_max"`
	TargetRef string  `json:"target" yaml:"target"`
}

// Validate checks the binding invariants. Range violations wrap ErrInvalidRange.
func (b Binding) Validate() error {
	if strings.TrimSpace(b.DeviceRef) == "" {
		return errors.New("device must not be empty")
	}
	if strings.TrimSpace(b.TargetRef) == "" {
		return errors.New("target must not be empty")
	}
	if !b.Axis.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownAxis, int(b.Axis))
	}
	if b.AxisMin == b.AxisMax {
		return fmt.Errorf("%w: axis_min and axis_max are both %d", ErrInvalidRange, b.AxisMin)
	}
	for _, v := range []float64{b.VolMin, b.VolMax} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: volume bound %v outside [0,1]", ErrInvalidRange, v)
		}
	}
	if b.VolMin == b.VolMax {
		return fmt.Errorf("%w: vol_min and vol_max are both %v", ErrInvalidRange, b.VolMin)
	}
	return nil
}

func (b Binding) String() string {
	return fmt.Sprintf("%s/%s [%d..%d] -> %s [%.3f..%.3f]",
		b.DeviceRef, b.Axis, b.AxisMin, b.AxisMax, b.TargetRef, b.VolMin, b.VolMax)
}

// Set is an ordered sequence of bindings. Order matters: when several
// bindings drive the same target, the last one applied in a tick wins.
type Set []Binding

// Clone returns an independent copy of s.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	copy(out, s)
	return out
}
