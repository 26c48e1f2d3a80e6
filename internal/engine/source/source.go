// Package source implements the pluggable data sources whose payloads rules
// evaluate against. Each source yields a named property tree; the union of
// fetched trees forms the per-request resolver bag.
package source

import (
	"context"
	"fmt"

	"github.com/wildfire-lending/guardrail/internal/engine/resolver"
	"github.com/wildfire-lending/guardrail/internal/engine/value"
)

// DataSource produces a named property tree. Instances are per-request;
// fetched payloads may be cached across requests by the concrete source.
type DataSource interface {
	Name() string
	Fetch(ctx context.Context) (value.Value, error)
}

// UnavailableError marks a source whose backing store returned nothing or
// malformed data.
type UnavailableError struct {
	Source string
	Reason string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %s", e.Source, e.Reason)
}

// Static is a fixed-payload source, used for testing-mode datasets supplied
// inline with the request envelope.
type Static struct {
	name    string
	payload value.Value
}

// NewStatic wraps an already-shaped payload under the given source name.
func NewStatic(name string, payload value.Value) *Static {
	return &Static{name: name, payload: payload}
}

func (s *Static) Name() string { return s.name }

func (s *Static) Fetch(context.Context) (value.Value, error) { return s.payload, nil }

// BuildBag fetches every supplied source and keys the payloads by source
// name. A single source failure aborts the whole assembly.
func BuildBag(ctx context.Context, sources []DataSource) (resolver.Bag, error) {
	bag := make(resolver.Bag, len(sources))
	for _, src := range sources {
		payload, err := src.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		bag[src.Name()] = payload
	}
	return bag, nil
}
