// Package resolver walks dotted property paths over the per-request bag of
// data sources. The first path segment selects a source, the remaining
// segments descend object fields.
package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wildfire-lending/guardrail/internal/engine/value"
)

var (
	// ErrUnknownSource marks a path whose first segment names no source in
	// the bag.
	ErrUnknownSource = errors.New("unknown data source")
	// ErrMissingField marks a path segment absent from the walked object.
	ErrMissingField = errors.New("missing field")
)

// Bag is the per-request set of fetched data-source payloads keyed by source
// name.
type Bag map[string]value.Value

// Resolver resolves property paths against a bag. It carries no other state.
type Resolver struct {
	bag Bag
}

// New wraps the supplied bag.
func New(bag Bag) *Resolver {
	if bag == nil {
		bag = Bag{}
	}
	return &Resolver{bag: bag}
}

// Resolved pairs a path with the value it produced. ResolveMany returns these
// in descriptor order; multi-value operators depend on that ordering.
type Resolved struct {
	Path  string
	Value value.Value
}

// DecodeDescriptor parses the wire form of a property-path descriptor: a
// JSON-encoded array of one or more dotted path strings.
func DecodeDescriptor(raw string) ([]string, error) {
	var paths []string
	if err := json.Unmarshal([]byte(raw), &paths); err != nil {
		return nil, fmt.Errorf("resolver: descriptor %q is not a JSON string array: %w", raw, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("resolver: descriptor %q holds no paths", raw)
	}
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("resolver: descriptor %q holds an empty path", raw)
		}
	}
	return paths, nil
}

// ResolveSingle resolves a one-path descriptor to its scalar or tree value.
func (r *Resolver) ResolveSingle(paths []string) (value.Value, error) {
	if len(paths) != 1 {
		return value.Null(), fmt.Errorf("resolver: expected exactly one path, got %d", len(paths))
	}
	return r.Resolve(paths[0])
}

// ResolveMany resolves a multi-path descriptor, preserving descriptor order.
func (r *Resolver) ResolveMany(paths []string) ([]Resolved, error) {
	if len(paths) < 2 {
		return nil, fmt.Errorf("resolver: expected at least two paths, got %d", len(paths))
	}
	out := make([]Resolved, 0, len(paths))
	for _, p := range paths {
		v, err := r.Resolve(p)
		if err != nil {
			return nil, err
		}
		out = append(out, Resolved{Path: p, Value: v})
	}
	return out, nil
}

// Resolve walks a single dotted path.
func (r *Resolver) Resolve(path string) (value.Value, error) {
	segments := strings.Split(path, ".")
	source, ok := r.bag[segments[0]]
	if !ok {
		return value.Null(), fmt.Errorf("resolver: path %q: %w %q", path, ErrUnknownSource, segments[0])
	}
	current := source
	for _, segment := range segments[1:] {
		next, ok := current.Field(segment)
		if !ok {
			return value.Null(), fmt.Errorf("resolver: path %q: %w %q", path, ErrMissingField, segment)
		}
		current = next
	}
	return current, nil
}
