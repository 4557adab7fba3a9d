package sink

import "fmt"

// Constructor builds a Sink from its target and type-specific options.
type Constructor func(target string, options map[string]string) (Sink, error)

var registry = map[string]Constructor{}

// Register adds a sink constructor under the given type name. Concrete
// sink packages call this from init; the assembly layer imports them for
// side effect.
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// Get returns the constructor for the given sink type.
func Get(name string) (Constructor, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown sink type: %s", name)
	}
	return ctor, nil
}

// Types returns the names of all registered sink types.
func Types() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
