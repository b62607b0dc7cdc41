// Package device defines how the daemon reads analog axes from input devices.
//
// Devices are addressed by stable identifiers and acquired for the duration
// of a single sample; nothing here holds a device open across polls.
package device

import (
	"context"
	"errors"

	"joyvol/internal/binding"
)

// ErrDeviceUnavailable is returned when a device cannot be acquired or
// sampled (unplugged, permission denied, not an input device).
var ErrDeviceUnavailable = errors.New("device unavailable")

// Info describes one attached device.
type Info struct {
	ID   string     `json:"id"`   // stable identifier, usable as a binding's device ref
	Name string     `json:"name"` // human-readable product name
	Axes []AxisInfo `json:"axes,omitempty"`
}

// AxisInfo is the range a device reports for one of its channels.
type AxisInfo struct {
	Axis binding.Axis `json:"axis"`
	Min  int32        `json:"min"`
	Max  int32        `json:"max"`
}

// Sample is the state of all eight channels at one instant.
// Channels the device does not have are zero and not Supported.
type Sample struct {
	Values    [binding.NumAxes]int32
	Supported [binding.NumAxes]bool
}

// Value returns the reading for a and whether the device reports that channel.
func (s Sample) Value(a binding.Axis) (int32, bool) {
	if !a.Valid() {
		return 0, false
	}
	return s.Values[a], s.Supported[a]
}

// Handle is an acquired device. Close releases it.
type Handle interface {
	Sample() (Sample, error)
	Close() error
}

// Sampler acquires devices by stable identifier.
type Sampler interface {
	Acquire(ctx context.Context, id string) (Handle, error)
}

// Enumerator lists the currently attached devices. Every call walks the
// devices again; results are not incremental.
type Enumerator interface {
	Devices(ctx context.Context) ([]Info, error)
}
