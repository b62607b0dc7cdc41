package target

import (
	"context"
	"fmt"
)

// Backend is a sink that can also enumerate what it serves.
type Backend interface {
	Sink
	Enumerator
}

// Router sends the system sentinel to one sink and every other ref to
// another. Either side may be nil, in which case its refs are not found.
type Router struct {
	System Sink    // serves the System ref
	Apps   Backend // serves per-application refs
}

// Resolve implements Sink.
func (r *Router) Resolve(ctx context.Context, ref string) (Handle, error) {
	if ref == System {
		if r.System == nil {
			return nil, fmt.Errorf("%w: no system output configured", ErrTargetNotFound)
		}
		return r.System.Resolve(ctx, ref)
	}
	if r.Apps == nil {
		return nil, fmt.Errorf("%w: %s: no application backend configured", ErrTargetNotFound, ref)
	}
	return r.Apps.Resolve(ctx, ref)
}

// Targets implements Enumerator. The system sentinel always comes first.
func (r *Router) Targets(ctx context.Context) ([]Info, error) {
	out := []Info{SystemInfo()}
	if r.Apps == nil {
		return out, nil
	}

	apps, err := r.Apps.Targets(ctx)
	if err != nil {
		return out, err
	}
	for _, t := range apps {
		if t.ID == System {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
