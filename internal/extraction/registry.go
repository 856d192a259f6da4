package extraction

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownParser is returned when a parser name is not registered
var ErrUnknownParser = errors.New("unknown parser")

// Registry selects a parser by name
type Registry struct {
	parsers  map[string]Parser
	fallback string
}

// NewRegistry creates a registry. fallback names the parser used when a request
// does not select one and must be among parsers.
func NewRegistry(fallback string, parsers ...Parser) (*Registry, error) {
	r := &Registry{
		parsers:  make(map[string]Parser, len(parsers)),
		fallback: fallback,
	}
	for _, p := range parsers {
		if _, dup := r.parsers[p.Name()]; dup {
			return nil, fmt.Errorf("parser %q registered twice", p.Name())
		}
		r.parsers[p.Name()] = p
	}
	if _, ok := r.parsers[fallback]; !ok {
		return nil, fmt.Errorf("default parser %q: %w", fallback, ErrUnknownParser)
	}
	return r, nil
}

// Get returns the named parser, or the default one when name is empty
func (r *Registry) Get(name string) (Parser, error) {
	if name == "" {
		name = r.fallback
	}
	p, ok := r.parsers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParser, name)
	}
	return p, nil
}

// Names lists registered parser names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.parsers))
	for name := range r.parsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
