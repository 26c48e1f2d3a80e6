package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/wildfire-lending/guardrail/internal/engine/operator"
	"github.com/wildfire-lending/guardrail/internal/engine/resolver"
	"github.com/wildfire-lending/guardrail/internal/engine/value"
)

// criteriaElem is one element of an array-form criteria: either a literal
// bound or a property path resolved at evaluation time.
type criteriaElem struct {
	lit  value.Value
	path string
}

// Criteria is the load-time parsed comparand of a rule. The stringly-typed
// row column is parsed once, keyed by what the chosen operator expects, so
// malformed criteria surface as configuration errors before any evaluation
// runs.
type Criteria struct {
	present bool
	lit     value.Value
	elems   []criteriaElem
	re      *regexp.Regexp
}

// Present reports whether the rule row carried a criteria at all.
func (c Criteria) Present() bool { return c.present }

// Resolve produces the operator-facing comparand, resolving any property-path
// elements against the per-request bag.
func (c Criteria) Resolve(res *resolver.Resolver) (operator.Criteria, error) {
	if c.elems == nil {
		return operator.Criteria{Value: c.lit, Regex: c.re}, nil
	}
	items := make([]value.Value, 0, len(c.elems))
	for _, elem := range c.elems {
		if elem.path == "" {
			items = append(items, elem.lit)
			continue
		}
		resolved, err := res.Resolve(elem.path)
		if err != nil {
			return operator.Criteria{}, err
		}
		items = append(items, resolved)
	}
	return operator.Criteria{Value: value.Array(items...)}, nil
}

// Describe renders the criteria for outcome records: paths stay visible as
// strings rather than their resolved values.
func (c Criteria) Describe() any {
	if !c.present {
		return nil
	}
	if c.elems == nil {
		return c.lit.Interface()
	}
	items := make([]any, 0, len(c.elems))
	for _, elem := range c.elems {
		if elem.path != "" {
			items = append(items, elem.path)
			continue
		}
		items = append(items, elem.lit.Interface())
	}
	return items
}

// Paths lists the property paths the criteria resolves at evaluation time.
func (c Criteria) Paths() []string {
	var paths []string
	for _, elem := range c.elems {
		if elem.path != "" {
			paths = append(paths, elem.path)
		}
	}
	return paths
}

// ParseCriteria interprets the raw criteria column for the given operator.
// raw is the column text as stored: a JSON scalar, JSON array, JSON object,
// or a bare string.
func ParseCriteria(op operator.Operator, raw *string) (Criteria, error) {
	switch op.ID {
	case operator.IDExists, operator.IDIsTrue, operator.IDIsFalse:
		// Criteria is ignored for these predicates.
		return Criteria{}, nil
	}

	if raw == nil || strings.TrimSpace(*raw) == "" {
		return Criteria{}, fmt.Errorf("rules: operator %s requires a criteria", op.Name)
	}
	text := strings.TrimSpace(*raw)

	switch op.ID {
	case operator.IDRegex:
		pattern := strings.Trim(text, `"`)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Criteria{}, fmt.Errorf("rules: invalid regex criteria %q: %w", pattern, err)
		}
		return Criteria{present: true, lit: value.String(pattern), re: re}, nil

	case operator.IDNumGT, operator.IDNumGTE, operator.IDNumLT, operator.IDNumLTE, operator.IDNumEQ, operator.IDNumNEQ:
		v, err := decodeJSONValue(text)
		if err != nil {
			v = value.String(text)
		}
		if _, ok := v.Number(); !ok {
			return Criteria{}, fmt.Errorf("rules: operator %s requires a numeric criteria, got %q", op.Name, text)
		}
		return Criteria{present: true, lit: v}, nil

	case operator.IDStrEQ, operator.IDStrNEQ:
		if v, err := decodeJSONValue(text); err == nil && v.Kind() == value.KindString {
			return Criteria{present: true, lit: v}, nil
		}
		return Criteria{present: true, lit: value.String(text)}, nil

	case operator.IDInSet, operator.IDNotInSet:
		v, err := decodeJSONValue(text)
		if err != nil || v.Kind() != value.KindArray {
			return Criteria{}, fmt.Errorf("rules: operator %s requires a JSON array criteria, got %q", op.Name, text)
		}
		return Criteria{present: true, lit: v}, nil

	case operator.IDBetween:
		v, err := decodeJSONValue(text)
		if err != nil || v.Kind() != value.KindObject {
			return Criteria{}, fmt.Errorf("rules: operator %s requires a {from, to} object criteria, got %q", op.Name, text)
		}
		for _, bound := range []string{"from", "to"} {
			field, ok := v.Field(bound)
			if !ok {
				return Criteria{}, fmt.Errorf("rules: between criteria missing %s bound", bound)
			}
			if _, ok := field.Number(); !ok {
				return Criteria{}, fmt.Errorf("rules: between %s bound %v is not numeric", bound, field.Interface())
			}
		}
		return Criteria{present: true, lit: v}, nil

	case operator.IDDateTolerance:
		return parseDateToleranceCriteria(text)

	default:
		return Criteria{}, fmt.Errorf("rules: no criteria form defined for operator %s", op.Name)
	}
}

// parseDateToleranceCriteria accepts the array form ([min] or [min, max],
// elements numeric or property paths) plus the {"min": …, "max": …} object
// form that rule authors write, which normalizes to the array.
func parseDateToleranceCriteria(text string) (Criteria, error) {
	v, err := decodeJSONValue(text)
	if err != nil {
		return Criteria{}, fmt.Errorf("rules: date_tolerance criteria %q is not valid JSON: %w", text, err)
	}

	var items []value.Value
	switch v.Kind() {
	case value.KindArray:
		items = v.Items()
	case value.KindObject:
		min, ok := v.Field("min")
		if !ok {
			return Criteria{}, fmt.Errorf("rules: date_tolerance criteria object missing min")
		}
		items = []value.Value{min}
		if max, ok := v.Field("max"); ok {
			items = append(items, max)
		}
	default:
		return Criteria{}, fmt.Errorf("rules: date_tolerance criteria must be an array or {min, max} object, got %s", v.Kind())
	}

	if len(items) == 0 || len(items) > 2 {
		return Criteria{}, fmt.Errorf("rules: date_tolerance criteria must hold one or two bounds, got %d", len(items))
	}

	elems := make([]criteriaElem, 0, len(items))
	for _, item := range items {
		if _, ok := item.Number(); ok {
			elems = append(elems, criteriaElem{lit: item})
			continue
		}
		if text, ok := item.Text(); ok && strings.Contains(text, ".") {
			elems = append(elems, criteriaElem{path: text})
			continue
		}
		return Criteria{}, fmt.Errorf("rules: date_tolerance bound %v is neither numeric nor a property path", item.Interface())
	}
	return Criteria{present: true, elems: elems}, nil
}

func decodeJSONValue(text string) (value.Value, error) {
	if !json.Valid([]byte(text)) {
		return value.Null(), fmt.Errorf("not valid JSON")
	}
	return value.FromJSON([]byte(text))
}
