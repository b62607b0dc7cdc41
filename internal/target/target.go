// Package target defines the audio outputs whose volume the daemon drives.
package target

import (
	"context"
	"errors"
)

// System is the sentinel target ref for the system output.
const System = "system"

// ErrTargetNotFound is returned when a target ref does not resolve to a
// live audio output (the process exited, the output went away).
var ErrTargetNotFound = errors.New("target not found")

// Info describes one audio target that can be bound.
type Info struct {
	ID   string `json:"id"`   // stable identifier, usable as a binding's target ref
	Name string `json:"name"` // human-readable label
}

// Handle is a resolved target. Apply sets its volume in [0,1]; Close
// releases whatever Resolve acquired.
type Handle interface {
	Apply(volume float64) error
	Close() error
}

// Sink resolves target refs into handles.
type Sink interface {
	Resolve(ctx context.Context, ref string) (Handle, error)
}

// Enumerator lists the targets currently available.
type Enumerator interface {
	Targets(ctx context.Context) ([]Info, error)
}

// SystemInfo is the enumeration entry for the system output sentinel.
func SystemInfo() Info {
	return Info{ID: System, Name: "System output"}
}
