package strategy

import (
	"fmt"
	"sort"

	"trading-tools/internal/model"
)

// factories maps strategy name → constructor. Strategies carry per-run
// precomputed state, so every engine cycle gets a fresh instance.
var factories = map[string]func() Strategy{
	"breakout":           func() Strategy { return &Breakout{} },
	"support_resistance": func() Strategy { return &SupportResistance{} },
}

// New instantiates a strategy by name.
func New(name string) (Strategy, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q", model.ErrBadInput, name)
	}
	return factory(), nil
}

// Known reports whether the name maps to a registered strategy.
func Known(name string) bool {
	_, ok := factories[name]
	return ok
}

// Descriptor is the catalog entry for one registered strategy.
type Descriptor struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  []ParamDef `json:"parameters"`
}

// List returns metadata for all registered strategies, sorted by name.
func List() []Descriptor {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		s := factories[name]()
		out = append(out, Descriptor{
			Name:        s.Name(),
			Description: s.Description(),
			Parameters:  s.Parameters(),
		})
	}
	return out
}
