// loader.go implements the Strategy Loader: a build-time registration
// table in place of an import-and-instantiate plug-in directory scan.
// Strategies are registered explicitly at startup; activation
// validates requested parameters against the registered schema
// instead of trusting dynamically loaded code.
package strategy

import (
	"fmt"
	"sync"
)

// Loader is the compiled strategy registry. Register every strategy
// constructor once, at startup, before any Engine.ActivateStrategy
// call names it.
type Loader struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	schemas      map[string]map[string]ParamSpec
}

// NewLoader constructs an empty registration table.
func NewLoader() *Loader {
	return &Loader{
		constructors: make(map[string]Constructor),
		schemas:      make(map[string]map[string]ParamSpec),
	}
}

// Register adds a strategy constructor under name. schema describes
// the parameters Construct will validate against; calling Register
// twice for the same name replaces the prior entry.
func (l *Loader) Register(name string, schema map[string]ParamSpec, ctor Constructor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.constructors[name] = ctor
	l.schemas[name] = schema
}

// Names returns every registered strategy name.
func (l *Loader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.constructors))
	for name := range l.constructors {
		out = append(out, name)
	}
	return out
}

// Construct validates params against the named strategy's schema
// (filling in declared defaults for omitted entries, rejecting
// unknown params and out-of-range numeric values) and builds an
// instance.
func (l *Loader) Construct(name string, params map[string]any) (Strategy, error) {
	l.mu.RLock()
	ctor, ok := l.constructors[name]
	schema := l.schemas[name]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy loader: unknown strategy %q", name)
	}

	validated, err := validateParams(schema, params)
	if err != nil {
		return nil, fmt.Errorf("strategy loader: %s: %w", name, err)
	}
	return ctor(validated)
}

// validateParams merges caller-supplied params over the schema's
// declared defaults, rejecting names not in the schema and numeric
// values outside [Min, Max].
func validateParams(schema map[string]ParamSpec, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(schema))
	for name, spec := range schema {
		out[name] = spec.Default
	}
	for name, value := range params {
		spec, ok := schema[name]
		if !ok {
			return nil, fmt.Errorf("unknown parameter %q", name)
		}
		if err := checkRange(spec, value); err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		out[name] = value
	}
	return out, nil
}

func checkRange(spec ParamSpec, value any) error {
	if spec.Min == nil && spec.Max == nil {
		return nil
	}
	f, ok := asFloat(value)
	if !ok {
		return nil
	}
	if spec.Min != nil && f < *spec.Min {
		return fmt.Errorf("value %v below minimum %v", value, *spec.Min)
	}
	if spec.Max != nil && f > *spec.Max {
		return fmt.Errorf("value %v above maximum %v", value, *spec.Max)
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
