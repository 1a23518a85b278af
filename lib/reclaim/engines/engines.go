// Package engines selects a reclamation engine implementation by name.
package engines

import (
	"fmt"
	"github.com/ValentinKolb/lfmm/lib/reclaim"
	"github.com/ValentinKolb/lfmm/lib/reclaim/engines/hazard"
	"github.com/ValentinKolb/lfmm/lib/reclaim/engines/refcount"
	"strings"
)

// Implementations lists all available engines
var Implementations = []reclaim.Implementation{
	reclaim.ImplRefCount,
	reclaim.ImplHazard,
}

// Parse converts an engine name to an Implementation
func Parse(name string) (reclaim.Implementation, error) {
	impl := reclaim.Implementation(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Implementations {
		if impl == known {
			return impl, nil
		}
	}
	return "", fmt.Errorf("%w: unknown engine %q (must be one of refcount, hazard)", reclaim.ErrInvalidConfig, name)
}

// New creates the engine impl sized by cfg
func New[T any](impl reclaim.Implementation, cfg reclaim.Config) (reclaim.Engine[T], error) {
	switch impl {
	case reclaim.ImplRefCount, "":
		return refcount.New[T](cfg)
	case reclaim.ImplHazard:
		return hazard.New[T](cfg)
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", reclaim.ErrInvalidConfig, impl)
	}
}
